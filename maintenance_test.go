package thumb_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/thumb"
	thumbtest "github.com/zoobzio/thumb/testing"
)

func shardedFixture(t *testing.T) *fixture {
	t.Helper()
	p := avatarPreset()
	p.Sharding = thumb.ShardHashPrefix
	return newFixtureWith(t, thumb.NewPresets(p))
}

func TestPurge_DeletesOnlyDerivedFiles(t *testing.T) {
	f := shardedFixture(t)
	ctx := context.Background()
	for _, name := range []string{"a", "b", "c"} {
		src := thumb.Source{Disk: "public", Path: "originals/" + name + ".jpg"}
		f.disk.Seed(src.Path, thumbtest.JPEG(40, 30))
		if _, err := f.resolver.URL(ctx, src, "avatar", ""); err != nil {
			t.Fatalf("URL(%s) failed: %v", name, err)
		}
	}
	f.disk.Seed("thumbs/avatar/logo.png", thumbtest.PNG(4, 4))

	var (
		mu     sync.Mutex
		counts []int
	)
	l := capitan.Hook(thumb.PurgeCompleted, func(_ context.Context, e *capitan.Event) {
		if thumb.FieldPreset.ExtractFromFields(e.Fields()) != "avatar" {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		counts = append(counts, thumb.FieldCount.ExtractFromFields(e.Fields()))
	})

	n, err := f.resolver.Maintainer().Purge(ctx, "avatar")
	if err != nil {
		t.Fatalf("Purge failed: %v", err)
	}
	l.Drain(ctx)
	l.Close()

	if n != 3 {
		t.Errorf("expected 3 purged, got %d", n)
	}
	remaining, _ := f.disk.List(ctx, "thumbs/", 0)
	if len(remaining) != 1 || remaining[0].Key != "thumbs/avatar/logo.png" {
		t.Errorf("unexpected remaining files %v", remaining)
	}
	if dirs, _ := f.disk.Directories(ctx, "thumbs/avatar"); len(dirs) != 0 {
		t.Errorf("empty shard directories left behind: %v", dirs)
	}
	if keys, _ := f.cache.List(ctx, "thumb:url:avatar:", 0); len(keys) != 0 {
		t.Errorf("cache entries survived purge: %v", keys)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(counts) != 1 || counts[0] != 3 {
		t.Errorf("unexpected purge events %v", counts)
	}
}

func TestPurge_KeepsDirectoriesWhenDisabled(t *testing.T) {
	f := shardedFixture(t)
	ctx := context.Background()
	if _, err := f.resolver.URL(ctx, cat, "avatar", ""); err != nil {
		t.Fatal(err)
	}
	m := f.resolver.Maintainer()
	m.CleanEmptyDirs = false
	if _, err := m.Purge(ctx, "avatar"); err != nil {
		t.Fatal(err)
	}
	if dirs, _ := f.disk.Directories(ctx, "thumbs/avatar"); len(dirs) == 0 {
		t.Fatal("expected shard directories to remain")
	}

	removed, err := m.CleanEmptyDirectories(ctx, "avatar")
	if err != nil {
		t.Fatalf("CleanEmptyDirectories failed: %v", err)
	}
	if removed != 2 {
		t.Errorf("expected both shard levels removed, got %d", removed)
	}
	if !f.disk.HasDirectory("thumbs/avatar") {
		t.Error("base path must be kept")
	}
}

func TestPurge_CoversVariantDestinations(t *testing.T) {
	p := avatarPreset()
	p.Variants["small"] = thumb.VariantOverride{Size: &thumb.Size{Width: 16, Height: 16}, BasePath: "thumbs/avatar-small"}
	f := newFixtureWith(t, thumb.NewPresets(p))
	ctx := context.Background()

	_, _ = f.resolver.URL(ctx, cat, "avatar", "")
	_, _ = f.resolver.URL(ctx, cat, "avatar", "small")

	n, err := f.resolver.Maintainer().Purge(ctx, "avatar")
	if err != nil {
		t.Fatalf("Purge failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected main and variant purged, got %d", n)
	}
}

func TestPurge_UnknownPreset(t *testing.T) {
	f := newFixture(t)
	if _, err := f.resolver.Maintainer().Purge(context.Background(), "nope"); !errors.Is(err, thumb.ErrConfigNotFound) {
		t.Errorf("expected ErrConfigNotFound, got %v", err)
	}
}

func TestPurgeAll(t *testing.T) {
	cover := thumb.Preset{Name: "cover", Size: thumb.Size{Width: 48, Height: 16}, Disk: "public", BasePath: "thumbs/cover", Sharding: thumb.ShardNone}
	ghost := thumb.Preset{Name: "ghost", Size: thumb.Size{Width: 8, Height: 8}, Disk: "missing", BasePath: "x"}
	f := newFixtureWith(t, thumb.NewPresets(avatarPreset(), cover, ghost))
	ctx := context.Background()

	_, _ = f.resolver.URL(ctx, cat, "avatar", "")
	_, _ = f.resolver.URL(ctx, cat, "cover", "")
	_ = f.cache.Set(ctx, "other:key", []byte("1"), 0)

	if n := f.resolver.Maintainer().PurgeAll(ctx); n != 2 {
		t.Errorf("expected 2 purged, got %d", n)
	}
	if keys, _ := f.cache.List(ctx, "thumb:", 0); len(keys) != 0 {
		t.Errorf("thumb cache entries survived: %v", keys)
	}
	if ok, _ := f.cache.Exists(ctx, "other:key"); !ok {
		t.Error("PurgeAll removed a foreign cache key")
	}
}

func TestFindDuplicatesAndOptimize(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	same := thumbtest.JPEG(32, 32)
	f.disk.Seed("thumbs/avatar/x_32_32.jpg", same)
	f.disk.Seed("thumbs/avatar/y_32_32.jpg", same)
	f.disk.Seed("thumbs/avatar/z_32_32.jpg", thumbtest.JPEG(31, 32))

	m := f.resolver.Maintainer()
	dups, err := m.FindDuplicates(ctx, "avatar")
	if err != nil {
		t.Fatalf("FindDuplicates failed: %v", err)
	}
	if len(dups) != 1 || dups[0].Key != "thumbs/avatar/y_32_32.jpg" {
		t.Fatalf("unexpected duplicates %v", dups)
	}

	res := m.Optimize(ctx)
	if res.DuplicatesRemoved != 1 || res.BytesFreed != int64(len(same)) {
		t.Errorf("unexpected optimize result %+v", res)
	}
	if ok, _ := f.disk.Exists(ctx, "thumbs/avatar/x_32_32.jpg"); !ok {
		t.Error("the first copy must be kept")
	}
	if ok, _ := f.disk.Exists(ctx, "thumbs/avatar/y_32_32.jpg"); ok {
		t.Error("the duplicate should be gone")
	}
}

func TestFindDuplicates_AcrossVariantDestinations(t *testing.T) {
	p := avatarPreset()
	p.Variants["small"] = thumb.VariantOverride{BasePath: "thumbs/avatar-small"}
	f := newFixtureWith(t, thumb.NewPresets(p))
	ctx := context.Background()
	same := thumbtest.JPEG(32, 32)
	f.disk.Seed("thumbs/avatar/x_32_32.jpg", same)
	f.disk.Seed("thumbs/avatar-small/x_32_32.jpg", same)

	dups, err := f.resolver.Maintainer().FindDuplicates(ctx, "avatar")
	if err != nil {
		t.Fatalf("FindDuplicates failed: %v", err)
	}
	if len(dups) != 1 || dups[0].Key != "thumbs/avatar-small/x_32_32.jpg" {
		t.Errorf("unexpected duplicates %v", dups)
	}
}

func TestMaintenance_RefusesDestinationWithoutBasePath(t *testing.T) {
	p := avatarPreset()
	p.BasePath = ""
	f := newFixtureWith(t, thumb.NewPresets(p))
	ctx := context.Background()
	const original = "originals/IMG_20240101_123456.jpg"
	f.disk.Seed(original, thumbtest.JPEG(8, 8))

	m := f.resolver.Maintainer()
	if _, err := m.Purge(ctx, "avatar"); !errors.Is(err, thumb.ErrInvalidKey) {
		t.Errorf("Purge: expected ErrInvalidKey, got %v", err)
	}
	if _, err := m.FindDuplicates(ctx, "avatar"); !errors.Is(err, thumb.ErrInvalidKey) {
		t.Errorf("FindDuplicates: expected ErrInvalidKey, got %v", err)
	}
	if n := m.PurgeAll(ctx); n != 0 {
		t.Errorf("PurgeAll deleted %d files", n)
	}
	if ok, _ := f.disk.Exists(ctx, original); !ok {
		t.Error("source original was deleted")
	}
	if ok, _ := f.disk.Exists(ctx, catPath); !ok {
		t.Error("source original was deleted")
	}
}

func TestAnalyzeDistribution(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.disk.Seed("thumbs/avatar/a/one_32_32.jpg", make([]byte, 10))
	f.disk.Seed("thumbs/avatar/a/two_32_32.jpg", make([]byte, 20))
	f.disk.Seed("thumbs/avatar/b/three_32_32.png", make([]byte, 5))
	f.disk.Seed("thumbs/avatar/b/notes.txt", make([]byte, 100))

	d, err := f.resolver.Maintainer().AnalyzeDistribution(ctx, "avatar")
	if err != nil {
		t.Fatalf("AnalyzeDistribution failed: %v", err)
	}
	if d.TotalFiles != 3 || d.TotalBytes != 35 || d.Directories != 2 || d.AveragePerDirectory != 1.5 {
		t.Errorf("unexpected totals %+v", d)
	}
	if d.ByFormat["jpg"].Files != 2 || d.ByFormat["png"].Bytes != 5 {
		t.Errorf("unexpected formats %v", d.ByFormat)
	}
	if len(d.Largest) != 2 || d.Largest[0].Directory != "thumbs/avatar/a" {
		t.Errorf("unexpected ranking %v", d.Largest)
	}
	if d.Strategy != thumb.ShardNone {
		t.Errorf("unexpected strategy %s", d.Strategy)
	}
}

func TestSystemStats(t *testing.T) {
	cover := thumb.Preset{Name: "cover", Size: thumb.Size{Width: 48, Height: 16}, Disk: "public", BasePath: "thumbs/cover"}
	ghost := thumb.Preset{Name: "ghost", Size: thumb.Size{Width: 8, Height: 8}, Disk: "missing", BasePath: "x"}
	f := newFixtureWith(t, thumb.NewPresets(avatarPreset(), cover, ghost))
	ctx := context.Background()
	f.disk.Seed("thumbs/avatar/a_32_32.jpg", make([]byte, 7))
	f.disk.Seed("thumbs/cover/1/a_48_16.jpg", make([]byte, 3))
	f.disk.Seed("thumbs/cover/2/b_48_16.jpg", make([]byte, 3))

	stats := f.resolver.Maintainer().SystemStats(ctx)
	if stats.TotalFiles != 3 || stats.TotalBytes != 13 {
		t.Errorf("unexpected totals %+v", stats)
	}
	if _, ok := stats.Presets["ghost"]; ok {
		t.Error("a preset on a missing disk should be skipped")
	}
	du := stats.Disks["public"]
	if du.Files != 3 || len(du.Presets) != 2 {
		t.Errorf("unexpected disk usage %+v", du)
	}
}

func TestIsThumbnailFile(t *testing.T) {
	tests := map[string]bool{
		"thumbs/a/b/cat_130_130.jpg":      true,
		"cat_16_16_small.webp":            true,
		"CAT_1_2.PNG":                     true,
		"thumbs/photo_final_2_3_x.gif":    true,
		"originals/cat.jpg":               false,
		"thumbs/cat_130.jpg":              false,
		"thumbs/cat_130_130.txt":          false,
		"thumbs/cat_130_130_big-one.jpeg": false,
	}
	for key, want := range tests {
		if got := thumb.IsThumbnailFile(key); got != want {
			t.Errorf("IsThumbnailFile(%q): expected %v, got %v", key, want, got)
		}
	}
}

func TestShardPreview(t *testing.T) {
	preview := thumb.ShardPreview("Holiday Photo.jpg", func() time.Time {
		return time.Date(2023, 12, 31, 23, 0, 0, 0, time.UTC)
	})
	if len(preview) != len(thumb.ShardStrategies) {
		t.Fatalf("expected every strategy, got %v", preview)
	}
	if preview[thumb.ShardFilenamePrefix] != "h/o/" {
		t.Errorf("unexpected filename prefix %q", preview[thumb.ShardFilenamePrefix])
	}
	if preview[thumb.ShardDateBased] != "2023/12/31/" {
		t.Errorf("unexpected date shard %q", preview[thumb.ShardDateBased])
	}
	if preview[thumb.ShardNone] != "" {
		t.Errorf("expected no shard, got %q", preview[thumb.ShardNone])
	}
}
