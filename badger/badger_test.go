package badger

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"
	"github.com/zoobzio/thumb"
)

func openDB(t *testing.T) *badger.DB {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		t.Fatalf("failed to open badger: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestProvider_SetGet(t *testing.T) {
	p := New(openDB(t))
	ctx := context.Background()

	if err := p.Set(ctx, "thumb:url:avatar:abc", []byte(`{"url":"/a.jpg"}`), 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	got, err := p.Get(ctx, "thumb:url:avatar:abc")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != `{"url":"/a.jpg"}` {
		t.Errorf("unexpected value %q", got)
	}

	if err := p.Set(ctx, "", []byte("x"), 0); !errors.Is(err, thumb.ErrInvalidKey) {
		t.Errorf("expected ErrInvalidKey, got %v", err)
	}
}

func TestProvider_TTLIsStored(t *testing.T) {
	db := openDB(t)
	p := New(db)
	ctx := context.Background()

	before := time.Now()
	if err := p.Set(ctx, "thumb:exists:avatar:abc", []byte("1"), time.Hour); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := p.Set(ctx, "forever", []byte("1"), 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	_ = db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte("thumb:exists:avatar:abc"))
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		expires := time.Unix(int64(item.ExpiresAt()), 0) //nolint:gosec // unix seconds fit
		if expires.Before(before.Add(59*time.Minute)) || expires.After(before.Add(61*time.Minute)) {
			t.Errorf("unexpected expiry %v", expires)
		}
		item, err = txn.Get([]byte("forever"))
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if item.ExpiresAt() != 0 {
			t.Error("zero ttl must not expire")
		}
		return nil
	})
}

func TestProvider_Missing(t *testing.T) {
	p := New(openDB(t))
	ctx := context.Background()

	if _, err := p.Get(ctx, "nope"); !errors.Is(err, thumb.ErrNotFound) {
		t.Errorf("Get: expected ErrNotFound, got %v", err)
	}
	if err := p.Delete(ctx, "nope"); !errors.Is(err, thumb.ErrNotFound) {
		t.Errorf("Delete: expected ErrNotFound, got %v", err)
	}
	if ok, err := p.Exists(ctx, "nope"); err != nil || ok {
		t.Errorf("Exists = %v, %v; want false, nil", ok, err)
	}
}

func TestProvider_Delete(t *testing.T) {
	p := New(openDB(t))
	ctx := context.Background()
	_ = p.Set(ctx, "k", []byte("v"), 0)

	if err := p.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if ok, _ := p.Exists(ctx, "k"); ok {
		t.Error("key survived delete")
	}
}

func TestProvider_List(t *testing.T) {
	p := New(openDB(t))
	ctx := context.Background()
	for _, k := range []string{
		"thumb:url:avatar:1",
		"thumb:url:avatar:2",
		"thumb:exists:avatar:1",
		"thumb:url:banner:1",
	} {
		_ = p.Set(ctx, k, []byte("v"), 0)
	}

	keys, err := p.List(ctx, "thumb:url:avatar:", 0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(keys) != 2 {
		t.Errorf("expected 2 keys, got %v", keys)
	}

	keys, err = p.List(ctx, "thumb:", 3)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(keys) != 3 {
		t.Errorf("expected limit of 3, got %d", len(keys))
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := p.List(cancelled, "thumb:", 0); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestProvider_Lease(t *testing.T) {
	p := New(openDB(t))
	ctx := context.Background()
	const key = "thumb:lease:abc"

	token, ok, err := p.Acquire(ctx, key, time.Minute)
	if err != nil || !ok || token == "" {
		t.Fatalf("Acquire = %q, %v, %v", token, ok, err)
	}
	if _, ok, err := p.Acquire(ctx, key, time.Minute); err != nil || ok {
		t.Errorf("second Acquire = %v, %v; want false, nil", ok, err)
	}

	// A stale token must not release someone else's lease.
	if err := p.Release(ctx, key, "stale"); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if ok, _ := p.Exists(ctx, key); !ok {
		t.Error("lease released by a foreign token")
	}

	if err := p.Release(ctx, key, token); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if _, ok, _ := p.Acquire(ctx, key, time.Minute); !ok {
		t.Error("expected the lease to be free after release")
	}
	if err := p.Release(ctx, "thumb:lease:none", "x"); err != nil {
		t.Errorf("releasing a missing lease: %v", err)
	}
}

func TestProvider_ConcurrentAcquire(t *testing.T) {
	p := New(openDB(t))
	ctx := context.Background()

	var winners atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := p.Acquire(ctx, "thumb:lease:race", time.Minute)
			if err != nil {
				t.Errorf("Acquire failed: %v", err)
			}
			if ok {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()
	if n := winners.Load(); n != 1 {
		t.Errorf("expected exactly one lease holder, got %d", n)
	}
}

func TestProvider_BacksLookup(t *testing.T) {
	lookup := thumb.NewLookup(New(openDB(t)), thumb.DefaultTTL(), nil, zerolog.Nop())
	ctx := context.Background()

	lookup.PutURL(ctx, "thumb:url:news:abc", "https://cdn.example.com/a.webp", "crops/news/a.webp", false)
	lookup.PutExists(ctx, "thumb:exists:news:abc", true)

	entry := lookup.URL(ctx, "thumb:url:news:abc")
	if entry == nil || entry.URL != "https://cdn.example.com/a.webp" {
		t.Fatalf("unexpected entry: %+v", entry)
	}
	if exists, found := lookup.Exists(ctx, "thumb:exists:news:abc"); !found || !exists {
		t.Errorf("expected cached existence, got exists=%v found=%v", exists, found)
	}
	if n := lookup.Flush(ctx, "news"); n != 2 {
		t.Errorf("expected 2 flushed entries, got %d", n)
	}
	if lookup.URL(ctx, "thumb:url:news:abc") != nil {
		t.Error("entry survived flush")
	}
}
