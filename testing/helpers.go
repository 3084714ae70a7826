// Package testing provides test utilities for thumb.
package testing

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/thumb"
)

// MockDisk is an in-memory thumb.DiskProvider with directories,
// visibility, write counters, and fault injection.
type MockDisk struct {
	mu      sync.RWMutex
	baseURL string
	files   map[string]mockFile
	dirs    map[string]bool
	public  map[string]bool
	puts    int
	now     func() time.Time

	// Error injection. A nil error disables the fault.
	PutErr     error
	StatErr    error
	MkdirErr   error
	ExistsErr  error
	VisibleErr error
}

type mockFile struct {
	data     []byte
	modified time.Time
}

// NewMockDisk creates an empty disk whose URLs start with baseURL.
func NewMockDisk(baseURL string) *MockDisk {
	return &MockDisk{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		files:   make(map[string]mockFile),
		dirs:    make(map[string]bool),
		public:  make(map[string]bool),
		now:     time.Now,
	}
}

// WithClock sets the clock used for modification times.
func (m *MockDisk) WithClock(clock func() time.Time) *MockDisk {
	m.now = clock
	return m
}

// Get retrieves the file at key.
func (m *MockDisk) Get(_ context.Context, key string) ([]byte, *thumb.ObjectInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.files[key]
	if !ok {
		return nil, nil, thumb.ErrNotFound
	}
	out := make([]byte, len(f.data))
	copy(out, f.data)
	return out, &thumb.ObjectInfo{Key: key, Size: int64(len(f.data)), LastModified: f.modified}, nil
}

// Put stores data at key and counts the write.
func (m *MockDisk) Put(_ context.Context, key string, data []byte, _ *thumb.ObjectInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PutErr != nil {
		return m.PutErr
	}
	stored := make([]byte, len(data))
	copy(stored, data)
	m.files[key] = mockFile{data: stored, modified: m.now()}
	m.puts++
	return nil
}

// Delete removes the file at key.
func (m *MockDisk) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[key]; !ok {
		return thumb.ErrNotFound
	}
	delete(m.files, key)
	return nil
}

// Exists checks whether a file exists at key.
func (m *MockDisk) Exists(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.ExistsErr != nil {
		return false, m.ExistsErr
	}
	_, ok := m.files[key]
	return ok, nil
}

// Stat returns size and modification time for key.
func (m *MockDisk) Stat(_ context.Context, key string) (*thumb.ObjectInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.StatErr != nil {
		return nil, m.StatErr
	}
	f, ok := m.files[key]
	if !ok {
		return nil, thumb.ErrNotFound
	}
	return &thumb.ObjectInfo{Key: key, Size: int64(len(f.data)), LastModified: f.modified}, nil
}

// List returns files whose key starts with prefix, sorted by key.
func (m *MockDisk) List(_ context.Context, prefix string, limit int) ([]thumb.ObjectInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.files))
	for k := range m.files {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}
	out := make([]thumb.ObjectInfo, 0, len(keys))
	for _, k := range keys {
		f := m.files[k]
		out = append(out, thumb.ObjectInfo{Key: k, Size: int64(len(f.data)), LastModified: f.modified})
	}
	return out, nil
}

// URL returns baseURL + "/" + key.
func (m *MockDisk) URL(key string) string {
	return m.baseURL + "/" + strings.TrimPrefix(key, "/")
}

// MakeDirectory records dir and its parents.
func (m *MockDisk) MakeDirectory(_ context.Context, dir string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.MkdirErr != nil {
		return m.MkdirErr
	}
	for d := strings.Trim(dir, "/"); d != "." && d != ""; d = path.Dir(d) {
		m.dirs[d] = true
	}
	return nil
}

// Directories returns the immediate subdirectories of dir, counting both
// created directories and the parents of stored files.
func (m *MockDisk) Directories(_ context.Context, dir string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	dir = strings.Trim(dir, "/")
	seen := make(map[string]bool)
	add := func(p string) {
		for d := p; d != "." && d != ""; d = path.Dir(d) {
			if path.Dir(d) == dir || (dir == "" && path.Dir(d) == ".") {
				seen[d] = true
				return
			}
		}
	}
	for d := range m.dirs {
		add(d)
	}
	for k := range m.files {
		add(path.Dir(k))
	}
	out := make([]string, 0, len(seen))
	for d := range seen {
		out = append(out, d)
	}
	sort.Strings(out)
	return out, nil
}

// DeleteDirectory forgets dir.
func (m *MockDisk) DeleteDirectory(_ context.Context, dir string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	dir = strings.Trim(dir, "/")
	if !m.dirs[dir] {
		return thumb.ErrNotFound
	}
	delete(m.dirs, dir)
	return nil
}

// SetVisibility records the visibility of key.
func (m *MockDisk) SetVisibility(_ context.Context, key string, public bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.VisibleErr != nil {
		return m.VisibleErr
	}
	m.public[key] = public
	return nil
}

// Public reports whether key was marked public.
func (m *MockDisk) Public(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.public[key]
}

// Puts returns the number of successful writes.
func (m *MockDisk) Puts() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.puts
}

// Keys returns every stored key in sorted order.
func (m *MockDisk) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.files))
	for k := range m.files {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// HasDirectory reports whether dir was created and not deleted.
func (m *MockDisk) HasDirectory(dir string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dirs[strings.Trim(dir, "/")]
}

// Touch sets the modification time of key.
func (m *MockDisk) Touch(key string, t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f, ok := m.files[key]; ok {
		f.modified = t
		m.files[key] = f
	}
}

// Seed stores data at key without counting a write.
func (m *MockDisk) Seed(key string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[key] = mockFile{data: data, modified: m.now()}
}

var (
	_ thumb.DiskProvider       = (*MockDisk)(nil)
	_ thumb.DirectoryProvider  = (*MockDisk)(nil)
	_ thumb.VisibilityProvider = (*MockDisk)(nil)
)

// ObjectDisk wraps a MockDisk and hides its directory support, as object
// stores do.
type ObjectDisk struct {
	*MockDisk
}

// MakeDirectory shadows the embedded method so ObjectDisk is not a
// thumb.DirectoryProvider.
func (ObjectDisk) MakeDirectory() {}

// MockCache is an in-memory thumb.CacheProvider that records TTLs and
// counts writes. It does not expire entries.
type MockCache struct {
	mu   sync.RWMutex
	data map[string][]byte
	ttls map[string]time.Duration
	sets int

	// Err, when set, fails every operation.
	Err error
}

// NewMockCache creates an empty cache.
func NewMockCache() *MockCache {
	return &MockCache{
		data: make(map[string][]byte),
		ttls: make(map[string]time.Duration),
	}
}

// Get retrieves the value at key.
func (c *MockCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.Err != nil {
		return nil, c.Err
	}
	v, ok := c.data[key]
	if !ok {
		return nil, thumb.ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// Set stores value at key and records ttl.
func (c *MockCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return c.Err
	}
	stored := make([]byte, len(value))
	copy(stored, value)
	c.data[key] = stored
	c.ttls[key] = ttl
	c.sets++
	return nil
}

// Delete removes the value at key.
func (c *MockCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return c.Err
	}
	if _, ok := c.data[key]; !ok {
		return thumb.ErrNotFound
	}
	delete(c.data, key)
	delete(c.ttls, key)
	return nil
}

// Exists checks whether a key exists.
func (c *MockCache) Exists(_ context.Context, key string) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.Err != nil {
		return false, c.Err
	}
	_, ok := c.data[key]
	return ok, nil
}

// List returns keys with prefix in sorted order.
func (c *MockCache) List(_ context.Context, prefix string, limit int) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.Err != nil {
		return nil, c.Err
	}
	keys := make([]string, 0)
	for k := range c.data {
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

// TTL returns the TTL recorded for key.
func (c *MockCache) TTL(key string) time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ttls[key]
}

// Sets returns the number of writes.
func (c *MockCache) Sets() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sets
}

// Len returns the number of stored keys.
func (c *MockCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}

var _ thumb.CacheProvider = (*MockCache)(nil)

// JPEG encodes a w×h gradient image as JPEG.
func JPEG(w, h int) []byte {
	var buf bytes.Buffer
	_ = jpeg.Encode(&buf, gradient(w, h), &jpeg.Options{Quality: 90})
	return buf.Bytes()
}

// PNG encodes a w×h gradient image as PNG.
func PNG(w, h int) []byte {
	var buf bytes.Buffer
	_ = png.Encode(&buf, gradient(w, h))
	return buf.Bytes()
}

func gradient(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 255 / w), G: uint8(y * 255 / h), B: 128, A: 255})
		}
	}
	return img
}

// CapturedEvent represents an event captured during testing.
type CapturedEvent struct {
	Signal    capitan.Signal
	Fields    []capitan.Field
	Timestamp time.Time
}

// EventCapture captures thumb events for verification in tests.
type EventCapture struct {
	events []CapturedEvent
	mu     sync.Mutex
}

// NewEventCapture creates a new event capture utility.
func NewEventCapture() *EventCapture {
	return &EventCapture{
		events: make([]CapturedEvent, 0),
	}
}

// Handler returns a capitan.EventCallback that captures events.
func (c *EventCapture) Handler() capitan.EventCallback {
	return func(_ context.Context, e *capitan.Event) {
		c.mu.Lock()
		defer c.mu.Unlock()

		c.events = append(c.events, CapturedEvent{
			Signal:    e.Signal(),
			Fields:    e.Fields(),
			Timestamp: time.Now(),
		})
	}
}

// Events returns a copy of all captured events.
func (c *EventCapture) Events() []CapturedEvent {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := make([]CapturedEvent, len(c.events))
	copy(result, c.events)
	return result
}

// Count returns the number of captured events.
func (c *EventCapture) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.events)
}

// WaitForCount blocks until the specified number of events are captured or timeout.
func (c *EventCapture) WaitForCount(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if c.Count() >= n {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return c.Count() >= n
}

// EventsBySignal returns events filtered by signal.
func (c *EventCapture) EventsBySignal(sig capitan.Signal) []CapturedEvent {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := make([]CapturedEvent, 0)
	for _, e := range c.events {
		if e.Signal == sig {
			result = append(result, e)
		}
	}
	return result
}
