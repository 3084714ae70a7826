// Package disk provides shared contract tests for thumb DiskProvider
// implementations.
package disk

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/zoobzio/thumb"
	thumbtest "github.com/zoobzio/thumb/testing"
)

// TestContext holds shared test resources for a provider.
type TestContext struct {
	Provider thumb.DiskProvider
	Cleanup  func() // optional cleanup function
}

// RunCRUDTests runs the core file test suite against the given context.
func RunCRUDTests(t *testing.T, tc *TestContext) {
	t.Run("GetNotFound", func(t *testing.T) { testGetNotFound(t, tc) })
	t.Run("PutAndGet", func(t *testing.T) { testPutAndGet(t, tc) })
	t.Run("PutOverwrite", func(t *testing.T) { testPutOverwrite(t, tc) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, tc) })
	t.Run("DeleteNotFound", func(t *testing.T) { testDeleteNotFound(t, tc) })
	t.Run("Exists", func(t *testing.T) { testExists(t, tc) })
	t.Run("Stat", func(t *testing.T) { testStat(t, tc) })
}

// RunListTests runs the recursive listing test suite.
func RunListTests(t *testing.T, tc *TestContext) {
	t.Run("ListRecursive", func(t *testing.T) { testListRecursive(t, tc) })
	t.Run("ListWithLimit", func(t *testing.T) { testListWithLimit(t, tc) })
}

// RunGenerationTests resolves a real image through a Resolver backed by
// the provider for both source and destination.
func RunGenerationTests(t *testing.T, tc *TestContext) {
	t.Run("ResolveGenerates", func(t *testing.T) { testResolveGenerates(t, tc) })
	t.Run("PurgeRemovesDerived", func(t *testing.T) { testPurgeRemovesDerived(t, tc) })
}

func testGetNotFound(t *testing.T, tc *TestContext) {
	_, _, err := tc.Provider.Get(context.Background(), "contract/missing.jpg")
	if !errors.Is(err, thumb.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func testPutAndGet(t *testing.T, tc *TestContext) {
	ctx := context.Background()
	data := thumbtest.JPEG(8, 8)
	info := &thumb.ObjectInfo{ContentType: "image/jpeg"}

	if err := tc.Provider.Put(ctx, "contract/put/a.jpg", data, info); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	got, meta, err := tc.Provider.Get(ctx, "contract/put/a.jpg")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(got) != len(data) {
		t.Errorf("expected %d bytes, got %d", len(data), len(got))
	}
	if meta == nil || meta.Size != int64(len(data)) {
		t.Errorf("unexpected info: %+v", meta)
	}
}

func testPutOverwrite(t *testing.T, tc *TestContext) {
	ctx := context.Background()
	_ = tc.Provider.Put(ctx, "contract/overwrite.jpg", []byte("first"), nil)
	if err := tc.Provider.Put(ctx, "contract/overwrite.jpg", []byte("second!"), nil); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	got, _, err := tc.Provider.Get(ctx, "contract/overwrite.jpg")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != "second!" {
		t.Errorf("got %q, want second!", got)
	}
}

func testDelete(t *testing.T, tc *TestContext) {
	ctx := context.Background()
	_ = tc.Provider.Put(ctx, "contract/delete.jpg", []byte("x"), nil)
	if err := tc.Provider.Delete(ctx, "contract/delete.jpg"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if ok, _ := tc.Provider.Exists(ctx, "contract/delete.jpg"); ok {
		t.Error("expected file gone after delete")
	}
}

func testDeleteNotFound(t *testing.T, tc *TestContext) {
	err := tc.Provider.Delete(context.Background(), "contract/never-existed.jpg")
	if !errors.Is(err, thumb.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func testExists(t *testing.T, tc *TestContext) {
	ctx := context.Background()
	_ = tc.Provider.Put(ctx, "contract/exists.jpg", []byte("x"), nil)
	if ok, err := tc.Provider.Exists(ctx, "contract/exists.jpg"); err != nil || !ok {
		t.Errorf("Exists: got %v, %v", ok, err)
	}
	if ok, err := tc.Provider.Exists(ctx, "contract/absent.jpg"); err != nil || ok {
		t.Errorf("Exists absent: got %v, %v", ok, err)
	}
}

func testStat(t *testing.T, tc *TestContext) {
	ctx := context.Background()
	_ = tc.Provider.Put(ctx, "contract/stat.jpg", []byte("12345"), nil)
	info, err := tc.Provider.Stat(ctx, "contract/stat.jpg")
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if info.Size != 5 {
		t.Errorf("size: got %d, want 5", info.Size)
	}
	if info.LastModified.IsZero() {
		t.Error("expected last modified time")
	}
	if _, err := tc.Provider.Stat(ctx, "contract/absent.jpg"); !errors.Is(err, thumb.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func testListRecursive(t *testing.T, tc *TestContext) {
	ctx := context.Background()
	for _, key := range []string{"contract/list/a/1.jpg", "contract/list/b/c/2.jpg", "contract/list/3.jpg"} {
		if err := tc.Provider.Put(ctx, key, []byte("x"), nil); err != nil {
			t.Fatalf("Put(%s) failed: %v", key, err)
		}
	}
	got, err := tc.Provider.List(ctx, "contract/list/", 0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(got) != 3 {
		t.Errorf("expected 3 files, got %d", len(got))
	}
	for _, o := range got {
		if !strings.HasPrefix(o.Key, "contract/list/") {
			t.Errorf("unexpected key %q", o.Key)
		}
	}
}

func testListWithLimit(t *testing.T, tc *TestContext) {
	ctx := context.Background()
	for _, key := range []string{"contract/limit/1.jpg", "contract/limit/2.jpg", "contract/limit/3.jpg"} {
		_ = tc.Provider.Put(ctx, key, []byte("x"), nil)
	}
	got, err := tc.Provider.List(ctx, "contract/limit/", 2)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("expected 2 files, got %d", len(got))
	}
}

func newResolver(tc *TestContext) *thumb.Resolver {
	disks := thumb.NewDisks()
	disks.Register("media", tc.Provider)
	presets := thumb.NewPresets(thumb.Preset{
		Name:      "contract",
		Size:      thumb.Size{Width: 32, Height: 32},
		Format:    "jpg",
		Disk:      "media",
		BasePath:  "contract/thumbnails",
		SmartCrop: true,
		Sharding:  thumb.ShardHashPrefix,
	})
	return thumb.NewResolver(presets, disks, thumbtest.NewMockCache())
}

func testResolveGenerates(t *testing.T, tc *TestContext) {
	ctx := context.Background()
	if err := tc.Provider.Put(ctx, "contract/originals/photo.jpg", thumbtest.JPEG(64, 128), nil); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	r := newResolver(tc)
	src := thumb.Source{Disk: "media", Path: "contract/originals/photo.jpg"}

	url, err := r.URL(ctx, src, "contract", "")
	if err != nil {
		t.Fatalf("URL failed: %v", err)
	}
	loc, _ := r.Locate(src, "contract", "")
	if url != tc.Provider.URL(loc.Path) {
		t.Errorf("url: got %q, want %q", url, tc.Provider.URL(loc.Path))
	}
	data, _, err := tc.Provider.Get(ctx, loc.Path)
	if err != nil {
		t.Fatalf("derived file missing: %v", err)
	}
	img, err := thumb.DecodeImage(data)
	if err != nil {
		t.Fatalf("decode derived: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 32 || b.Dy() != 32 {
		t.Errorf("derived size: got %dx%d, want 32x32", b.Dx(), b.Dy())
	}
}

func testPurgeRemovesDerived(t *testing.T, tc *TestContext) {
	ctx := context.Background()
	_ = tc.Provider.Put(ctx, "contract/originals/purge.jpg", thumbtest.JPEG(40, 40), nil)
	r := newResolver(tc)
	src := thumb.Source{Disk: "media", Path: "contract/originals/purge.jpg"}
	if _, err := r.URL(ctx, src, "contract", ""); err != nil {
		t.Fatalf("URL failed: %v", err)
	}

	n, err := r.Maintainer().Purge(ctx, "contract")
	if err != nil {
		t.Fatalf("Purge failed: %v", err)
	}
	if n < 1 {
		t.Errorf("expected at least one file purged, got %d", n)
	}
	if ok, _ := tc.Provider.Exists(ctx, "contract/originals/purge.jpg"); !ok {
		t.Error("purge must not touch source images")
	}
}
