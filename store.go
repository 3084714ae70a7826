package thumb

import (
	"context"
	"errors"
	"time"
)

// Store provides type-safe cache operations for T.
// Wraps a CacheProvider, handling serialization of T to/from bytes.
type Store[T any] struct {
	provider CacheProvider
	codec    Codec
}

// NewStore creates a Store for type T backed by the given provider.
// Uses JSON codec by default.
func NewStore[T any](provider CacheProvider) *Store[T] {
	return &Store[T]{
		provider: provider,
		codec:    JSONCodec{},
	}
}

// NewStoreWithCodec creates a Store for type T with a custom codec.
func NewStoreWithCodec[T any](provider CacheProvider, codec Codec) *Store[T] {
	return &Store[T]{
		provider: provider,
		codec:    codec,
	}
}

// Get retrieves the value at key as T.
func (s *Store[T]) Get(ctx context.Context, key string) (*T, error) {
	data, err := s.provider.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	var value T
	if err := s.codec.Decode(data, &value); err != nil {
		return nil, err
	}
	return &value, nil
}

// Set stores value at key with optional TTL.
// TTL of 0 means no expiration.
func (s *Store[T]) Set(ctx context.Context, key string, value *T, ttl time.Duration) error {
	data, err := s.codec.Encode(value)
	if err != nil {
		return err
	}
	return s.provider.Set(ctx, key, data, ttl)
}

// Delete removes the value at key.
func (s *Store[T]) Delete(ctx context.Context, key string) error {
	return s.provider.Delete(ctx, key)
}

// Exists checks whether a key exists.
func (s *Store[T]) Exists(ctx context.Context, key string) (bool, error) {
	return s.provider.Exists(ctx, key)
}

// List returns keys matching the given prefix.
// Limit of 0 means no limit.
func (s *Store[T]) List(ctx context.Context, prefix string, limit int) ([]string, error) {
	return s.provider.List(ctx, prefix, limit)
}

// Flush deletes every key matching prefix and returns how many were removed.
// Keys that vanish between listing and deletion are not counted.
func (s *Store[T]) Flush(ctx context.Context, prefix string) (int, error) {
	keys, err := s.provider.List(ctx, prefix, 0)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, k := range keys {
		if err := s.provider.Delete(ctx, k); err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return removed, err
		}
		removed++
	}
	return removed, nil
}
