package thumb_test

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/zoobzio/thumb"
)

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather failed: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	metrics:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue metrics
				}
			}
			if m.GetCounter() != nil {
				return m.GetCounter().GetValue()
			}
			return float64(m.GetHistogram().GetSampleCount())
		}
	}
	return 0
}

func TestWithMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	f := newFixture(t, thumb.WithMetrics(thumb.NewMetrics(reg)))
	ctx := context.Background()
	missing := thumb.Source{Disk: "public", Path: "originals/dog.jpg"}

	_, _ = f.resolver.URL(ctx, cat, "avatar", "")
	_, _ = f.resolver.URL(ctx, cat, "avatar", "")
	_ = f.resolver.URLSafe(ctx, missing, "avatar", "")
	_, _ = f.resolver.URL(ctx, missing, "avatar", "")
	_, _ = f.resolver.Maintainer().Purge(ctx, "avatar")

	for outcome, want := range map[string]float64{
		thumb.OutcomeGenerated: 1,
		thumb.OutcomeCacheHit:  1,
		thumb.OutcomeFallback:  1,
		thumb.OutcomeError:     1,
	} {
		got := counterValue(t, reg, "thumb_resolves_total", map[string]string{"preset": "avatar", "outcome": outcome})
		if got != want {
			t.Errorf("%s: expected %v, got %v", outcome, want, got)
		}
	}
	if got := counterValue(t, reg, "thumb_generation_duration_seconds", map[string]string{"kind": "ok"}); got != 1 {
		t.Errorf("expected 1 successful generation, got %v", got)
	}
	if got := counterValue(t, reg, "thumb_generation_duration_seconds", map[string]string{"kind": string(thumb.KindSourceNotFound)}); got != 2 {
		t.Errorf("expected 2 failed generations, got %v", got)
	}
	if got := counterValue(t, reg, "thumb_purged_files_total", map[string]string{"preset": "avatar"}); got != 1 {
		t.Errorf("expected 1 purged file, got %v", got)
	}
}

func TestNewMetrics_Unregistered(t *testing.T) {
	if thumb.NewMetrics(nil) == nil {
		t.Fatal("expected collectors without a registry")
	}
	f := newFixture(t, thumb.WithMetrics(nil))
	if _, err := f.resolver.URL(context.Background(), cat, "avatar", ""); err != nil {
		t.Fatalf("nil metrics must be usable: %v", err)
	}
}

func TestWithTTL(t *testing.T) {
	f := newFixture(t, thumb.WithTTL(thumb.TTL{URL: 42 * time.Minute}))
	ctx := context.Background()
	_, _ = f.resolver.URL(ctx, cat, "avatar", "")

	if ttl := f.cache.TTL(thumb.URLKey("avatar", cat, "")); ttl != 42*time.Minute {
		t.Errorf("expected configured URL ttl, got %v", ttl)
	}
	loc, _ := f.resolver.Locate(cat, "avatar", "")
	if ttl := f.cache.TTL(loc.ExistsKey); ttl != thumb.DefaultExistsTTL {
		t.Errorf("unset ttl should keep its default, got %v", ttl)
	}
	if got := f.resolver.Lookup().TTL().Fallback; got != thumb.DefaultFallbackTTL {
		t.Errorf("unexpected fallback ttl %v", got)
	}
}

func TestWithClock(t *testing.T) {
	p := avatarPreset()
	p.Sharding = thumb.ShardDateBased
	f := newFixtureWith(t, thumb.NewPresets(p), thumb.WithClock(func() time.Time {
		return time.Date(2022, 7, 4, 12, 0, 0, 0, time.UTC)
	}))
	loc, err := f.resolver.Locate(cat, "avatar", "")
	if err != nil {
		t.Fatal(err)
	}
	if loc.Path != "thumbs/avatar/2022/07/04/cat_32_32.jpg" {
		t.Errorf("unexpected path %q", loc.Path)
	}
}

func TestResolver_Accessors(t *testing.T) {
	f := newFixture(t)
	if f.resolver.Disks() != f.disks {
		t.Error("Disks should return the registry")
	}
	if len(f.resolver.Presets()) != 1 {
		t.Error("Presets should return the configured presets")
	}
	if f.resolver.Generator() == nil || f.resolver.Lookup() == nil || f.resolver.Maintainer() == nil {
		t.Error("accessors should not be nil")
	}
	if thumb.Strict.String() != "strict" || thumb.Silent.String() != "silent" || thumb.ModeDefault.String() != "default" {
		t.Error("unexpected mode names")
	}
}
