// Package kv provides shared contract tests for thumb CacheProvider
// implementations.
package kv

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/zoobzio/thumb"
)

// TestValue is the model used for cache contract tests.
type TestValue struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// TestContext holds shared test resources for a provider.
type TestContext struct {
	Provider thumb.CacheProvider
	Cleanup  func() // optional cleanup function
}

// RunCRUDTests runs the core CRUD test suite against the given context.
func RunCRUDTests(t *testing.T, tc *TestContext) {
	t.Run("GetNotFound", func(t *testing.T) { testGetNotFound(t, tc) })
	t.Run("SetAndGet", func(t *testing.T) { testSetAndGet(t, tc) })
	t.Run("SetOverwrite", func(t *testing.T) { testSetOverwrite(t, tc) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, tc) })
	t.Run("DeleteNotFound", func(t *testing.T) { testDeleteNotFound(t, tc) })
	t.Run("Exists", func(t *testing.T) { testExists(t, tc) })
}

// RunTTLTests runs TTL expiry tests. They sleep past a short TTL.
func RunTTLTests(t *testing.T, tc *TestContext) {
	t.Run("TTLExpiration", func(t *testing.T) { testTTLExpiration(t, tc) })
}

// RunListTests runs prefix listing and flush tests.
func RunListTests(t *testing.T, tc *TestContext) {
	t.Run("ListPrefix", func(t *testing.T) { testListPrefix(t, tc) })
	t.Run("ListWithLimit", func(t *testing.T) { testListWithLimit(t, tc) })
	t.Run("Flush", func(t *testing.T) { testFlush(t, tc) })
}

// RunLookupTests drives a thumb.Lookup over the provider.
func RunLookupTests(t *testing.T, tc *TestContext) {
	t.Run("URLRoundTrip", func(t *testing.T) { testLookupURL(t, tc) })
	t.Run("FlushPreset", func(t *testing.T) { testLookupFlushPreset(t, tc) })
}

// RunLockerTests exercises lease semantics. The provider must be a thumb.Locker.
func RunLockerTests(t *testing.T, tc *TestContext) {
	locker, ok := tc.Provider.(thumb.Locker)
	if !ok {
		t.Skip("provider is not a thumb.Locker")
	}
	t.Run("Exclusive", func(t *testing.T) { testLeaseExclusive(t, locker) })
}

func testGetNotFound(t *testing.T, tc *TestContext) {
	store := thumb.NewStore[TestValue](tc.Provider)
	_, err := store.Get(context.Background(), "contract:missing")
	if !errors.Is(err, thumb.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func testSetAndGet(t *testing.T, tc *TestContext) {
	ctx := context.Background()
	store := thumb.NewStore[TestValue](tc.Provider)

	value := &TestValue{ID: "test-1", Name: "Test Value", Count: 42}
	if err := store.Set(ctx, "contract:key-1", value, 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	got, err := store.Get(ctx, "contract:key-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if *got != *value {
		t.Errorf("got %+v, want %+v", *got, *value)
	}
}

func testSetOverwrite(t *testing.T, tc *TestContext) {
	ctx := context.Background()
	store := thumb.NewStore[TestValue](tc.Provider)

	_ = store.Set(ctx, "contract:overwrite", &TestValue{ID: "orig", Count: 1}, 0)
	if err := store.Set(ctx, "contract:overwrite", &TestValue{ID: "upd", Count: 2}, 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	got, err := store.Get(ctx, "contract:overwrite")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.ID != "upd" || got.Count != 2 {
		t.Errorf("unexpected value %+v", *got)
	}
}

func testDelete(t *testing.T, tc *TestContext) {
	ctx := context.Background()
	store := thumb.NewStore[TestValue](tc.Provider)

	_ = store.Set(ctx, "contract:delete", &TestValue{ID: "del"}, 0)
	if err := store.Delete(ctx, "contract:delete"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Get(ctx, "contract:delete"); !errors.Is(err, thumb.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func testDeleteNotFound(t *testing.T, tc *TestContext) {
	store := thumb.NewStore[TestValue](tc.Provider)
	if err := store.Delete(context.Background(), "contract:never"); !errors.Is(err, thumb.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func testExists(t *testing.T, tc *TestContext) {
	ctx := context.Background()
	store := thumb.NewStore[TestValue](tc.Provider)

	_ = store.Set(ctx, "contract:exists", &TestValue{ID: "ex"}, 0)
	if ok, err := store.Exists(ctx, "contract:exists"); err != nil || !ok {
		t.Errorf("Exists: got %v, %v", ok, err)
	}
	if ok, err := store.Exists(ctx, "contract:absent"); err != nil || ok {
		t.Errorf("Exists absent: got %v, %v", ok, err)
	}
}

func testTTLExpiration(t *testing.T, tc *TestContext) {
	ctx := context.Background()
	if err := tc.Provider.Set(ctx, "contract:ttl", []byte("x"), time.Second); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if ok, _ := tc.Provider.Exists(ctx, "contract:ttl"); !ok {
		t.Fatal("expected key before expiry")
	}
	time.Sleep(1500 * time.Millisecond)
	if _, err := tc.Provider.Get(ctx, "contract:ttl"); !errors.Is(err, thumb.ErrNotFound) {
		t.Errorf("expected ErrNotFound after expiry, got %v", err)
	}
}

func testListPrefix(t *testing.T, tc *TestContext) {
	ctx := context.Background()
	for _, k := range []string{"contract:list:a", "contract:list:b", "contract:other:c"} {
		_ = tc.Provider.Set(ctx, k, []byte("x"), 0)
	}
	keys, err := tc.Provider.List(ctx, "contract:list:", 0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(keys) != 2 {
		t.Errorf("expected 2 keys, got %v", keys)
	}
}

func testListWithLimit(t *testing.T, tc *TestContext) {
	ctx := context.Background()
	for _, k := range []string{"contract:limit:1", "contract:limit:2", "contract:limit:3"} {
		_ = tc.Provider.Set(ctx, k, []byte("x"), 0)
	}
	keys, err := tc.Provider.List(ctx, "contract:limit:", 2)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(keys) != 2 {
		t.Errorf("expected 2 keys, got %d", len(keys))
	}
}

func testFlush(t *testing.T, tc *TestContext) {
	ctx := context.Background()
	store := thumb.NewStore[TestValue](tc.Provider)
	for _, k := range []string{"contract:flush:1", "contract:flush:2"} {
		_ = store.Set(ctx, k, &TestValue{ID: k}, 0)
	}
	_ = store.Set(ctx, "contract:keep", &TestValue{ID: "keep"}, 0)

	n, err := store.Flush(ctx, "contract:flush:")
	if err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 flushed, got %d", n)
	}
	if ok, _ := store.Exists(ctx, "contract:keep"); !ok {
		t.Error("flush removed a key outside its prefix")
	}
}

func testLookupURL(t *testing.T, tc *TestContext) {
	ctx := context.Background()
	l := thumb.NewLookup(tc.Provider, thumb.DefaultTTL(), nil, zerolog.Nop())
	key := thumb.URLKey("contract", thumb.Source{Disk: "public", Path: "a.jpg"}, "")

	l.PutURL(ctx, key, "https://cdn/a_130_130.jpg", "a_130_130.jpg", false)
	entry := l.URL(ctx, key)
	if entry == nil {
		t.Fatal("expected cached URL")
	}
	if entry.URL != "https://cdn/a_130_130.jpg" || entry.Fallback {
		t.Errorf("unexpected entry %+v", *entry)
	}
}

func testLookupFlushPreset(t *testing.T, tc *TestContext) {
	ctx := context.Background()
	l := thumb.NewLookup(tc.Provider, thumb.DefaultTTL(), nil, zerolog.Nop())
	src := thumb.Source{Disk: "public", Path: "b.jpg"}
	l.PutURL(ctx, thumb.URLKey("flushme", src, ""), "u1", "", false)
	l.PutExists(ctx, thumb.ExistsKey("flushme", "public", "p"), true)
	l.PutURL(ctx, thumb.URLKey("keepme", src, ""), "u2", "", false)

	if n := l.Flush(ctx, "flushme"); n != 2 {
		t.Errorf("expected 2 flushed, got %d", n)
	}
	if l.URL(ctx, thumb.URLKey("keepme", src, "")) == nil {
		t.Error("flush removed another preset's entry")
	}
}

func testLeaseExclusive(t *testing.T, l thumb.Locker) {
	ctx := context.Background()
	key := thumb.LeaseKey("public", "contract/lease.jpg")
	token, ok, err := l.Acquire(ctx, key, 5*time.Second)
	if err != nil || !ok {
		t.Fatalf("Acquire: ok=%v err=%v", ok, err)
	}
	if _, ok, _ := l.Acquire(ctx, key, 5*time.Second); ok {
		t.Error("second Acquire should fail")
	}
	if err := l.Release(ctx, key, token); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if tok, ok, _ := l.Acquire(ctx, key, 5*time.Second); !ok {
		t.Error("Acquire after Release should succeed")
	} else {
		_ = l.Release(ctx, key, tok)
	}
}
