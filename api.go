// Package thumb derives fixed-size cropped image variants from source
// images on demand, caches where they live, and serves a stable URL for
// each (source, preset, variant) triple.
// Disks and caches are reached through provider contracts; concrete
// providers (local, minio, s3, gcs, azure, memory, redis, badger, bolt)
// live in sibling packages.
package thumb

import (
	"context"
	"time"

	"github.com/zoobzio/thumb/internal/shared"
)

// Semantic errors (re-exported from internal/shared).
var (
	ErrNotFound             = shared.ErrNotFound
	ErrInvalidKey           = shared.ErrInvalidKey
	ErrConfigNotFound       = shared.ErrConfigNotFound
	ErrInvalidDimensions    = shared.ErrInvalidDimensions
	ErrSourceNotFound       = shared.ErrSourceNotFound
	ErrSourceEmpty          = shared.ErrSourceEmpty
	ErrUnsupportedExtension = shared.ErrUnsupportedExtension
	ErrSourceTooLarge       = shared.ErrSourceTooLarge
	ErrDiskUnavailable      = shared.ErrDiskUnavailable
	ErrDirectoryCreate      = shared.ErrDirectoryCreate
	ErrDecode               = shared.ErrDecode
	ErrEncode               = shared.ErrEncode
	ErrInFlight             = shared.ErrInFlight
	ErrUnknown              = shared.ErrUnknown
)

// ObjectInfo is re-exported from internal/shared for the public API.
type ObjectInfo = shared.ObjectInfo

// DiskProvider defines raw file storage operations for one named disk.
// Implementations (local, minio, s3, gcs, azure) satisfy this interface.
type DiskProvider interface {
	// Get retrieves the file at key.
	// Returns ErrNotFound if the key does not exist.
	Get(ctx context.Context, key string) ([]byte, *ObjectInfo, error)

	// Put stores data at key, overwriting any existing file.
	Put(ctx context.Context, key string, data []byte, info *ObjectInfo) error

	// Delete removes the file at key.
	// Returns ErrNotFound if the key does not exist.
	Delete(ctx context.Context, key string) error

	// Exists checks whether a file exists at key.
	Exists(ctx context.Context, key string) (bool, error)

	// Stat returns size and last-modified time for key.
	// Returns ErrNotFound if the key does not exist.
	Stat(ctx context.Context, key string) (*ObjectInfo, error)

	// List returns every file below prefix, recursively.
	// Limit of 0 means no limit.
	List(ctx context.Context, prefix string, limit int) ([]ObjectInfo, error)

	// URL returns the public URL for key. It performs no I/O.
	URL(key string) string
}

// DirectoryProvider is implemented by disks with real directories.
// Object stores have implicit prefixes and do not implement it.
type DirectoryProvider interface {
	// MakeDirectory creates dir and any missing parents.
	MakeDirectory(ctx context.Context, dir string) error

	// Directories returns the immediate subdirectories of dir.
	Directories(ctx context.Context, dir string) ([]string, error)

	// DeleteDirectory removes dir, which must be empty.
	DeleteDirectory(ctx context.Context, dir string) error
}

// VisibilityProvider is implemented by disks that support per-file visibility.
type VisibilityProvider interface {
	// SetVisibility marks key as publicly readable or private.
	SetVisibility(ctx context.Context, key string, public bool) error
}

// CacheProvider defines raw key-value cache operations.
// Implementations (memory, redis, badger, bolt) satisfy this interface.
type CacheProvider interface {
	// Get retrieves the value at key.
	// Returns ErrNotFound if the key does not exist or has expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value at key with optional TTL.
	// TTL of 0 means no expiration.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes the value at key.
	// Returns ErrNotFound if the key does not exist.
	Delete(ctx context.Context, key string) error

	// Exists checks whether a key exists.
	Exists(ctx context.Context, key string) (bool, error)

	// List returns keys matching the given prefix.
	// Limit of 0 means no limit.
	List(ctx context.Context, prefix string, limit int) ([]string, error)
}

// Locker hands out short-lived leases shared across processes.
// Implementations (memory, redis) satisfy this interface.
type Locker interface {
	// Acquire takes the lease at key for ttl and returns its token.
	// ok is false when another holder owns an unexpired lease.
	Acquire(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)

	// Release drops the lease at key if token still owns it.
	Release(ctx context.Context, key, token string) error
}
