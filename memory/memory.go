// Package memory provides in-process thumb CacheProvider and Locker
// implementations. It suits tests and single-instance deployments.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zoobzio/thumb"
)

type entry struct {
	value   []byte
	expires time.Time
}

func (e entry) live(now time.Time) bool {
	return e.expires.IsZero() || now.Before(e.expires)
}

type lease struct {
	token   string
	expires time.Time
}

// Provider implements thumb.CacheProvider and thumb.Locker in memory.
type Provider struct {
	mu     sync.Mutex
	data   map[string]entry
	leases map[string]lease
	now    func() time.Time
}

// New creates an empty provider.
func New() *Provider {
	return NewWithClock(time.Now)
}

// NewWithClock creates an empty provider that reads time from clock.
func NewWithClock(clock func() time.Time) *Provider {
	return &Provider{
		data:   make(map[string]entry),
		leases: make(map[string]lease),
		now:    clock,
	}
}

// Get retrieves the value at key.
func (p *Provider) Get(_ context.Context, key string) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.data[key]
	if !ok || !e.live(p.now()) {
		delete(p.data, key)
		return nil, thumb.ErrNotFound
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

// Set stores value at key. A ttl of 0 never expires.
func (p *Provider) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return thumb.ErrInvalidKey
	}
	e := entry{value: make([]byte, len(value))}
	copy(e.value, value)
	if ttl > 0 {
		e.expires = p.now().Add(ttl)
	}
	p.mu.Lock()
	p.data[key] = e
	p.mu.Unlock()
	return nil
}

// Delete removes the value at key.
func (p *Provider) Delete(_ context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.data[key]
	if !ok || !e.live(p.now()) {
		delete(p.data, key)
		return thumb.ErrNotFound
	}
	delete(p.data, key)
	return nil
}

// Exists checks whether an unexpired value exists at key.
func (p *Provider) Exists(_ context.Context, key string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.data[key]
	return ok && e.live(p.now()), nil
}

// List returns unexpired keys starting with prefix in sorted order.
func (p *Provider) List(_ context.Context, prefix string, limit int) ([]string, error) {
	p.mu.Lock()
	now := p.now()
	keys := make([]string, 0)
	for k, e := range p.data {
		if strings.HasPrefix(k, prefix) && e.live(now) {
			keys = append(keys, k)
		}
	}
	p.mu.Unlock()

	sort.Strings(keys)
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}
	return keys, nil
}

// Len returns the number of stored entries, expired or not.
func (p *Provider) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.data)
}

// Acquire takes the lease at key if it is free or expired.
func (p *Provider) Acquire(_ context.Context, key string, ttl time.Duration) (string, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	if l, ok := p.leases[key]; ok && now.Before(l.expires) {
		return "", false, nil
	}
	token := uuid.NewString()
	p.leases[key] = lease{token: token, expires: now.Add(ttl)}
	return token, true, nil
}

// Release drops the lease at key if token still owns it.
func (p *Provider) Release(_ context.Context, key, token string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if l, ok := p.leases[key]; ok && l.token == token {
		delete(p.leases, key)
	}
	return nil
}

var (
	_ thumb.CacheProvider = (*Provider)(nil)
	_ thumb.Locker        = (*Provider)(nil)
)
