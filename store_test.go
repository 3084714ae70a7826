package thumb

import (
	"context"
	"errors"
	"sort"
	"strings"
	"testing"
	"time"
)

// mockCacheProvider implements CacheProvider for testing.
type mockCacheProvider struct {
	data      map[string][]byte
	ttls      map[string]time.Duration
	getErr    error
	setErr    error
	deleteErr error
	existsErr error
	listErr   error
}

func newMockCacheProvider() *mockCacheProvider {
	return &mockCacheProvider{
		data: make(map[string][]byte),
		ttls: make(map[string]time.Duration),
	}
}

func (m *mockCacheProvider) Get(_ context.Context, key string) ([]byte, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	data, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return data, nil
}

func (m *mockCacheProvider) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if m.setErr != nil {
		return m.setErr
	}
	m.data[key] = value
	m.ttls[key] = ttl
	return nil
}

func (m *mockCacheProvider) Delete(_ context.Context, key string) error {
	if m.deleteErr != nil {
		return m.deleteErr
	}
	if _, ok := m.data[key]; !ok {
		return ErrNotFound
	}
	delete(m.data, key)
	delete(m.ttls, key)
	return nil
}

func (m *mockCacheProvider) Exists(_ context.Context, key string) (bool, error) {
	if m.existsErr != nil {
		return false, m.existsErr
	}
	_, ok := m.data[key]
	return ok, nil
}

func (m *mockCacheProvider) List(_ context.Context, prefix string, limit int) ([]string, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	var keys []string
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}
	return keys, nil
}

type testRecord struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

func TestNewStore(t *testing.T) {
	provider := newMockCacheProvider()
	store := NewStore[testRecord](provider)

	if store.provider != provider {
		t.Error("provider not set correctly")
	}
	if _, ok := store.codec.(JSONCodec); !ok {
		t.Errorf("expected JSONCodec by default, got %T", store.codec)
	}
}

func TestStore_SetGet(t *testing.T) {
	ctx := context.Background()
	provider := newMockCacheProvider()
	store := NewStore[testRecord](provider)

	if err := store.Set(ctx, "k", &testRecord{ID: 7, Name: "seven"}, time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if provider.ttls["k"] != time.Minute {
		t.Errorf("expected ttl to reach provider, got %v", provider.ttls["k"])
	}

	got, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.ID != 7 || got.Name != "seven" {
		t.Errorf("unexpected record %+v", got)
	}
}

func TestStore_GetMissing(t *testing.T) {
	store := NewStore[testRecord](newMockCacheProvider())
	_, err := store.Get(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_GetCorrupt(t *testing.T) {
	provider := newMockCacheProvider()
	provider.data["bad"] = []byte("{not json")
	store := NewStore[testRecord](provider)

	if _, err := store.Get(context.Background(), "bad"); err == nil {
		t.Error("expected decode error")
	}
}

func TestStore_ProviderErrors(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")
	provider := newMockCacheProvider()
	provider.setErr = boom
	provider.existsErr = boom
	provider.listErr = boom
	store := NewStore[testRecord](provider)

	if err := store.Set(ctx, "k", &testRecord{}, 0); !errors.Is(err, boom) {
		t.Errorf("Set: expected boom, got %v", err)
	}
	if _, err := store.Exists(ctx, "k"); !errors.Is(err, boom) {
		t.Errorf("Exists: expected boom, got %v", err)
	}
	if _, err := store.List(ctx, "", 0); !errors.Is(err, boom) {
		t.Errorf("List: expected boom, got %v", err)
	}
	if _, err := store.Flush(ctx, ""); !errors.Is(err, boom) {
		t.Errorf("Flush: expected boom, got %v", err)
	}
}

func TestStore_DeleteAndExists(t *testing.T) {
	ctx := context.Background()
	store := NewStore[testRecord](newMockCacheProvider())
	_ = store.Set(ctx, "k", &testRecord{ID: 1}, 0)

	ok, err := store.Exists(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("expected key to exist, got %v, %v", ok, err)
	}
	if err := store.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if ok, _ := store.Exists(ctx, "k"); ok {
		t.Error("key should be gone")
	}
	if err := store.Delete(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete: expected ErrNotFound, got %v", err)
	}
}

func TestStore_ListAndFlush(t *testing.T) {
	ctx := context.Background()
	store := NewStore[testRecord](newMockCacheProvider())
	for _, k := range []string{"a:1", "a:2", "a:3", "b:1"} {
		_ = store.Set(ctx, k, &testRecord{Name: k}, 0)
	}

	keys, err := store.List(ctx, "a:", 2)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(keys) != 2 {
		t.Errorf("expected limit of 2, got %v", keys)
	}

	n, err := store.Flush(ctx, "a:")
	if err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 flushed, got %d", n)
	}
	rest, _ := store.List(ctx, "", 0)
	if len(rest) != 1 || rest[0] != "b:1" {
		t.Errorf("unexpected remaining keys %v", rest)
	}
}

// uppercaseCodec wraps JSONCodec so a custom codec is observable.
type uppercaseCodec struct{}

func (uppercaseCodec) Encode(v any) ([]byte, error) {
	data, err := JSONCodec{}.Encode(v)
	return []byte(strings.ToUpper(string(data))), err
}

func (uppercaseCodec) Decode(data []byte, v any) error {
	return JSONCodec{}.Decode([]byte(strings.ToLower(string(data))), v)
}

func TestNewStoreWithCodec(t *testing.T) {
	ctx := context.Background()
	provider := newMockCacheProvider()
	store := NewStoreWithCodec[testRecord](provider, uppercaseCodec{})

	if err := store.Set(ctx, "k", &testRecord{ID: 3, Name: "abc"}, 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if !strings.Contains(string(provider.data["k"]), `"NAME":"ABC"`) {
		t.Errorf("custom codec not used: %s", provider.data["k"])
	}
	got, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.ID != 3 || got.Name != "abc" {
		t.Errorf("unexpected record %+v", got)
	}
}
