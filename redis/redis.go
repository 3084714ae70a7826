// Package redis shares the resolver's URL and existence cache, and its
// generation leases, across instances through Redis.
package redis

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/zoobzio/thumb"
)

// scanCount is the COUNT hint passed to SCAN.
const scanCount = 100

// Provider implements thumb.CacheProvider and thumb.Locker over Redis.
type Provider struct {
	client *redis.Client
}

// New wraps a connected client.
func New(client *redis.Client) *Provider {
	return &Provider{client: client}
}

// Get returns the cached entry at key.
func (p *Provider) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := p.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, thumb.ErrNotFound
	}
	return data, err
}

// Set caches value at key. A ttl of 0 never expires.
func (p *Provider) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return thumb.ErrInvalidKey
	}
	return p.client.Set(ctx, key, value, ttl).Err()
}

// Delete drops key, reporting ErrNotFound when it is absent.
func (p *Provider) Delete(ctx context.Context, key string) error {
	n, err := p.client.Del(ctx, key).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return thumb.ErrNotFound
	}
	return nil
}

// Exists reports whether key is present.
func (p *Provider) Exists(ctx context.Context, key string) (bool, error) {
	n, err := p.client.Exists(ctx, key).Result()
	return n > 0, err
}

// List returns the keys under prefix. Glob characters in prefix match
// literally.
func (p *Provider) List(ctx context.Context, prefix string, limit int) ([]string, error) {
	var keys []string
	iter := p.client.Scan(ctx, 0, escapeGlob(prefix)+"*", scanCount).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
		if limit > 0 && len(keys) >= limit {
			return keys, nil
		}
	}
	return keys, iter.Err()
}

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func escapeGlob(s string) string {
	return globEscaper.Replace(s)
}

// release deletes the lease only while it still holds the caller's token.
var release = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Acquire takes the lease at key with SET NX PX.
func (p *Provider) Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := p.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil || !ok {
		return "", false, err
	}
	return token, true, nil
}

// Release drops the lease at key if token still owns it.
func (p *Provider) Release(ctx context.Context, key, token string) error {
	return release.Run(ctx, p.client, []string{key}, token).Err()
}

var (
	_ thumb.CacheProvider = (*Provider)(nil)
	_ thumb.Locker        = (*Provider)(nil)
)
