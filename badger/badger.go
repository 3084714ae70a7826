// Package badger keeps the resolver's URL and existence cache in an
// embedded BadgerDB, and can hold generation leases for the workers of a
// single process.
package badger

import (
	"context"
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/zoobzio/thumb"
)

// Provider implements thumb.CacheProvider and thumb.Locker over BadgerDB.
// Badger expires entries itself, so TTLs need no sweeping.
type Provider struct {
	db *badger.DB
}

// New wraps an open database.
func New(db *badger.DB) *Provider {
	return &Provider{db: db}
}

func missing(err error) error {
	if errors.Is(err, badger.ErrKeyNotFound) {
		return thumb.ErrNotFound
	}
	return err
}

// Get returns the cached entry at key.
func (p *Provider) Get(_ context.Context, key string) ([]byte, error) {
	var data []byte
	err := p.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return missing(err)
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	return data, err
}

// Set caches value at key. Badger stores expiry with second precision.
func (p *Provider) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return thumb.ErrInvalidKey
	}
	e := badger.NewEntry([]byte(key), value)
	if ttl > 0 {
		e = e.WithTTL(ttl)
	}
	return p.db.Update(func(txn *badger.Txn) error { return txn.SetEntry(e) })
}

// Delete drops key, reporting ErrNotFound when it is absent.
func (p *Provider) Delete(_ context.Context, key string) error {
	return p.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(key)); err != nil {
			return missing(err)
		}
		return txn.Delete([]byte(key))
	})
}

// Exists reports whether a live entry is stored at key.
func (p *Provider) Exists(_ context.Context, key string) (bool, error) {
	var ok bool
	err := p.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		ok = err == nil
		return err
	})
	return ok, err
}

// List returns the keys under prefix without loading values.
func (p *Provider) List(ctx context.Context, prefix string, limit int) ([]string, error) {
	var keys []string
	err := p.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			keys = append(keys, string(it.Item().KeyCopy(nil)))
			if limit > 0 && len(keys) >= limit {
				return nil
			}
		}
		return nil
	})
	return keys, err
}

// Acquire takes the lease at key when no live lease holds it. A
// concurrent writer that wins the transaction takes the lease instead.
func (p *Provider) Acquire(_ context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	err := p.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(key))
		if err == nil {
			return errHeld
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.SetEntry(badger.NewEntry([]byte(key), []byte(token)).WithTTL(ttl))
	})
	switch {
	case err == nil:
		return token, true, nil
	case errors.Is(err, errHeld), errors.Is(err, badger.ErrConflict):
		return "", false, nil
	}
	return "", false, err
}

// Release drops the lease at key if token still owns it.
func (p *Provider) Release(_ context.Context, key, token string) error {
	err := p.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		owner, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if string(owner) != token {
			return nil
		}
		return txn.Delete([]byte(key))
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil
	}
	return err
}

var errHeld = errors.New("lease held")

var (
	_ thumb.CacheProvider = (*Provider)(nil)
	_ thumb.Locker        = (*Provider)(nil)
)
