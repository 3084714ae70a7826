package thumb

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Default cache lifetimes.
const (
	DefaultURLTTL      = 6 * time.Hour
	DefaultExistsTTL   = time.Hour
	DefaultFallbackTTL = 5 * time.Minute
)

// TTL holds the cache lifetimes used by a Resolver.
type TTL struct {
	URL      time.Duration
	Exists   time.Duration
	Fallback time.Duration
}

// DefaultTTL returns the default cache lifetimes.
func DefaultTTL() TTL {
	return TTL{URL: DefaultURLTTL, Exists: DefaultExistsTTL, Fallback: DefaultFallbackTTL}
}

func (t TTL) withDefaults() TTL {
	d := DefaultTTL()
	if t.URL <= 0 {
		t.URL = d.URL
	}
	if t.Exists <= 0 {
		t.Exists = d.Exists
	}
	if t.Fallback <= 0 {
		t.Fallback = d.Fallback
	}
	return t
}

// URLEntry is a cached URL. Fallback marks URLs produced by the fallback
// chain rather than by a derived file.
type URLEntry struct {
	URL       string    `json:"url"`
	Path      string    `json:"path,omitempty"`
	Fallback  bool      `json:"fallback,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ExistsEntry records a positive or negative existence check.
type ExistsEntry struct {
	Exists    bool      `json:"exists"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Lookup fronts a CacheProvider with typed URL and existence entries.
// Expiry is enforced on read so providers without native TTL behave the
// same as those with it. Cache failures are logged and never surface.
type Lookup struct {
	urls   *Store[URLEntry]
	exists *Store[ExistsEntry]
	ttl    TTL
	now    func() time.Time
	log    zerolog.Logger
}

// NewLookup creates a Lookup over provider. A nil clock uses time.Now.
func NewLookup(provider CacheProvider, ttl TTL, clock func() time.Time, log zerolog.Logger) *Lookup {
	if clock == nil {
		clock = time.Now
	}
	return &Lookup{
		urls:   NewStore[URLEntry](provider),
		exists: NewStore[ExistsEntry](provider),
		ttl:    ttl.withDefaults(),
		now:    clock,
		log:    log,
	}
}

// TTL returns the lifetimes in effect.
func (l *Lookup) TTL() TTL {
	return l.ttl
}

// URL returns the live entry at key, or nil.
func (l *Lookup) URL(ctx context.Context, key string) *URLEntry {
	entry, err := l.urls.Get(ctx, key)
	if err != nil {
		if !isNotFound(err) {
			l.log.Warn().Err(err).Str("key", key).Msg("url cache read failed")
		}
		return nil
	}
	if !entry.ExpiresAt.IsZero() && !l.now().Before(entry.ExpiresAt) {
		return nil
	}
	return entry
}

// PutURL caches url at key. Fallback entries use the shorter fallback TTL.
func (l *Lookup) PutURL(ctx context.Context, key, url, path string, fallback bool) {
	ttl := l.ttl.URL
	if fallback {
		ttl = l.ttl.Fallback
	}
	entry := &URLEntry{URL: url, Path: path, Fallback: fallback, ExpiresAt: l.now().Add(ttl)}
	if err := l.urls.Set(ctx, key, entry, ttl); err != nil {
		l.log.Warn().Err(err).Str("key", key).Msg("url cache write failed")
	}
}

// Exists returns the cached existence answer for key.
// found is false when there is no live entry.
func (l *Lookup) Exists(ctx context.Context, key string) (exists, found bool) {
	entry, err := l.exists.Get(ctx, key)
	if err != nil {
		if !isNotFound(err) {
			l.log.Warn().Err(err).Str("key", key).Msg("existence cache read failed")
		}
		return false, false
	}
	if !entry.ExpiresAt.IsZero() && !l.now().Before(entry.ExpiresAt) {
		return false, false
	}
	return entry.Exists, true
}

// PutExists caches an existence answer at key.
func (l *Lookup) PutExists(ctx context.Context, key string, exists bool) {
	entry := &ExistsEntry{Exists: exists, ExpiresAt: l.now().Add(l.ttl.Exists)}
	if err := l.exists.Set(ctx, key, entry, l.ttl.Exists); err != nil {
		l.log.Warn().Err(err).Str("key", key).Msg("existence cache write failed")
	}
}

// Forget removes the given keys, ignoring missing ones.
func (l *Lookup) Forget(ctx context.Context, keys ...string) {
	for _, k := range keys {
		if err := l.urls.Delete(ctx, k); err != nil && !isNotFound(err) {
			l.log.Warn().Err(err).Str("key", k).Msg("cache delete failed")
		}
	}
}

// Flush removes every URL and existence entry belonging to preset.
// An empty preset flushes every URL and existence entry. Leases are left
// to their holders.
func (l *Lookup) Flush(ctx context.Context, preset string) int {
	prefixes := []string{urlKeyPrefix, existsKeyPrefix}
	if preset != "" {
		prefixes = []string{urlKeyPrefix + preset + ":", existsKeyPrefix + preset + ":"}
	}
	total := 0
	for _, prefix := range prefixes {
		n, err := l.urls.Flush(ctx, prefix)
		total += n
		if err != nil {
			l.log.Warn().Err(err).Str("prefix", prefix).Msg("cache flush failed")
		}
	}
	return total
}
