// Package bolt provides a thumb CacheProvider implementation for BoltDB.
package bolt

import (
	"bytes"
	"context"
	"encoding/binary"
	"time"

	"github.com/zoobzio/thumb"
	"go.etcd.io/bbolt"
)

// headerSize is the expiry prefix stored ahead of every value: a big-endian
// unix-nano deadline, zero for no expiry.
const headerSize = 8

// Provider implements thumb.CacheProvider for BoltDB.
// Expired entries read as missing and are removed lazily on write paths.
type Provider struct {
	db     *bbolt.DB
	bucket []byte
	now    func() time.Time
}

// New creates a Bolt provider with the given database and bucket name.
func New(db *bbolt.DB, bucket string) *Provider {
	return &Provider{
		db:     db,
		bucket: []byte(bucket),
		now:    time.Now,
	}
}

func (p *Provider) encode(value []byte, ttl time.Duration) []byte {
	out := make([]byte, headerSize+len(value))
	if ttl > 0 {
		binary.BigEndian.PutUint64(out, uint64(p.now().Add(ttl).UnixNano())) //nolint:gosec // deadlines are after 1970
	}
	copy(out[headerSize:], value)
	return out
}

// live returns the payload of a stored value, or false if it is expired
// or malformed.
func (p *Provider) live(stored []byte) ([]byte, bool) {
	if len(stored) < headerSize {
		return nil, false
	}
	deadline := int64(binary.BigEndian.Uint64(stored[:headerSize])) //nolint:gosec // written by encode
	if deadline != 0 && p.now().UnixNano() >= deadline {
		return nil, false
	}
	return stored[headerSize:], true
}

// Get retrieves the value at key.
func (p *Provider) Get(_ context.Context, key string) ([]byte, error) {
	var data []byte
	err := p.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(p.bucket)
		if b == nil {
			return thumb.ErrNotFound
		}
		v, ok := p.live(b.Get([]byte(key)))
		if !ok {
			return thumb.ErrNotFound
		}
		data = bytes.Clone(v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Set stores value at key with optional TTL.
func (p *Provider) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	return p.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(p.bucket)
		if err != nil {
			return err
		}
		return b.Put([]byte(key), p.encode(value, ttl))
	})
}

// Delete removes the value at key.
func (p *Provider) Delete(_ context.Context, key string) error {
	return p.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(p.bucket)
		if b == nil {
			return thumb.ErrNotFound
		}
		v := b.Get([]byte(key))
		if v == nil {
			return thumb.ErrNotFound
		}
		_, ok := p.live(v)
		if err := b.Delete([]byte(key)); err != nil {
			return err
		}
		if !ok {
			return thumb.ErrNotFound
		}
		return nil
	})
}

// Exists checks whether a live key exists.
func (p *Provider) Exists(_ context.Context, key string) (bool, error) {
	var exists bool
	err := p.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(p.bucket)
		if b == nil {
			return nil
		}
		_, exists = p.live(b.Get([]byte(key)))
		return nil
	})
	return exists, err
}

// List returns live keys matching the given prefix.
// Respects context cancellation during iteration.
func (p *Provider) List(ctx context.Context, prefix string, limit int) ([]string, error) {
	var keys []string
	err := p.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(p.bucket)
		if b == nil {
			return nil
		}
		c := b.Cursor()
		prefixBytes := []byte(prefix)
		for k, v := c.Seek(prefixBytes); k != nil; k, v = c.Next() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			if !bytes.HasPrefix(k, prefixBytes) {
				break
			}
			if _, ok := p.live(v); !ok {
				continue
			}
			keys = append(keys, string(k))
			if limit > 0 && len(keys) >= limit {
				break
			}
		}
		return nil
	})
	return keys, err
}

// Sweep deletes every expired entry and returns how many were removed.
func (p *Provider) Sweep(ctx context.Context) (int, error) {
	removed := 0
	err := p.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(p.bucket)
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.First(); k != nil; {
			if err := ctx.Err(); err != nil {
				return err
			}
			if _, ok := p.live(v); ok {
				k, v = c.Next()
				continue
			}
			key := bytes.Clone(k)
			if err := c.Delete(); err != nil {
				return err
			}
			removed++
			k, v = c.Seek(key)
		}
		return nil
	})
	return removed, err
}

var _ thumb.CacheProvider = (*Provider)(nil)
