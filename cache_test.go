package thumb

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type manualClock struct{ now time.Time }

func (c *manualClock) Now() time.Time          { return c.now }
func (c *manualClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestLookup(provider CacheProvider, clock *manualClock) *Lookup {
	return NewLookup(provider, TTL{URL: time.Hour, Exists: 10 * time.Minute, Fallback: time.Minute}, clock.Now, zerolog.Nop())
}

func TestTTL_Defaults(t *testing.T) {
	got := TTL{Exists: time.Second}.withDefaults()
	if got.URL != DefaultURLTTL || got.Exists != time.Second || got.Fallback != DefaultFallbackTTL {
		t.Errorf("unexpected ttl %+v", got)
	}
	l := NewLookup(newMockCacheProvider(), TTL{}, nil, zerolog.Nop())
	if l.TTL() != DefaultTTL() {
		t.Errorf("expected defaults, got %+v", l.TTL())
	}
}

func TestLookup_URL(t *testing.T) {
	ctx := context.Background()
	clock := &manualClock{now: fixedNow}
	provider := newMockCacheProvider()
	l := newTestLookup(provider, clock)

	if l.URL(ctx, "k") != nil {
		t.Fatal("expected miss on empty cache")
	}
	l.PutURL(ctx, "k", "/storage/a.jpg", "a.jpg", false)
	if provider.ttls["k"] != time.Hour {
		t.Errorf("expected URL ttl, got %v", provider.ttls["k"])
	}

	entry := l.URL(ctx, "k")
	if entry == nil || entry.URL != "/storage/a.jpg" || entry.Path != "a.jpg" || entry.Fallback {
		t.Fatalf("unexpected entry %+v", entry)
	}

	clock.Advance(time.Hour)
	if l.URL(ctx, "k") != nil {
		t.Error("entry should expire at its deadline even if the provider keeps it")
	}
}

func TestLookup_FallbackTTL(t *testing.T) {
	ctx := context.Background()
	clock := &manualClock{now: fixedNow}
	provider := newMockCacheProvider()
	l := newTestLookup(provider, clock)

	l.PutURL(ctx, "k", "/images/no-image.png", "", true)
	if provider.ttls["k"] != time.Minute {
		t.Errorf("expected fallback ttl, got %v", provider.ttls["k"])
	}
	if e := l.URL(ctx, "k"); e == nil || !e.Fallback {
		t.Fatalf("expected fallback entry, got %+v", e)
	}
	clock.Advance(2 * time.Minute)
	if l.URL(ctx, "k") != nil {
		t.Error("fallback entry should have expired")
	}
}

func TestLookup_Exists(t *testing.T) {
	ctx := context.Background()
	clock := &manualClock{now: fixedNow}
	l := newTestLookup(newMockCacheProvider(), clock)

	if _, found := l.Exists(ctx, "e"); found {
		t.Fatal("expected miss")
	}
	l.PutExists(ctx, "e", false)
	if exists, found := l.Exists(ctx, "e"); !found || exists {
		t.Errorf("expected cached negative, got %v %v", exists, found)
	}
	l.PutExists(ctx, "e", true)
	if exists, found := l.Exists(ctx, "e"); !found || !exists {
		t.Errorf("expected cached positive, got %v %v", exists, found)
	}
	clock.Advance(10 * time.Minute)
	if _, found := l.Exists(ctx, "e"); found {
		t.Error("existence entry should have expired")
	}
}

func TestLookup_ProviderFailuresAreSilent(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("cache down")
	provider := newMockCacheProvider()
	provider.getErr = boom
	provider.setErr = boom
	provider.deleteErr = boom
	provider.listErr = boom
	l := newTestLookup(provider, &manualClock{now: fixedNow})

	l.PutURL(ctx, "k", "/a", "a", false)
	l.PutExists(ctx, "e", true)
	if l.URL(ctx, "k") != nil {
		t.Error("expected miss when the cache is down")
	}
	if _, found := l.Exists(ctx, "e"); found {
		t.Error("expected miss when the cache is down")
	}
	l.Forget(ctx, "k")
	if n := l.Flush(ctx, ""); n != 0 {
		t.Errorf("expected nothing flushed, got %d", n)
	}
}

func TestLookup_ForgetAndFlush(t *testing.T) {
	ctx := context.Background()
	provider := newMockCacheProvider()
	l := newTestLookup(provider, &manualClock{now: fixedNow})
	src := Source{Disk: "public", Path: "cat.jpg"}

	l.PutURL(ctx, URLKey("avatar", src, ""), "/a", "a", false)
	l.PutURL(ctx, URLKey("avatar", src, "small"), "/b", "b", false)
	l.PutExists(ctx, ExistsKey("avatar", "public", "a"), true)
	l.PutURL(ctx, URLKey("cover", src, ""), "/c", "c", false)
	_ = provider.Set(ctx, "unrelated", []byte("x"), 0)
	lease := LeaseKey("public", "thumbs/avatar/a_32_32.jpg")
	_ = provider.Set(ctx, lease, []byte("token"), 0)

	l.Forget(ctx, URLKey("avatar", src, "small"), "never-set")
	if l.URL(ctx, URLKey("avatar", src, "small")) != nil {
		t.Error("forgotten key still cached")
	}

	if n := l.Flush(ctx, "avatar"); n != 2 {
		t.Errorf("expected 2 avatar entries flushed, got %d", n)
	}
	if l.URL(ctx, URLKey("cover", src, "")) == nil {
		t.Error("flush of avatar removed cover")
	}
	if n := l.Flush(ctx, ""); n != 1 {
		t.Errorf("expected 1 remaining entry flushed, got %d", n)
	}
	if _, ok := provider.data["unrelated"]; !ok {
		t.Error("flush removed a key outside the thumb namespace")
	}
	if _, ok := provider.data[lease]; !ok {
		t.Error("flush removed a lease held by a generator")
	}
}
