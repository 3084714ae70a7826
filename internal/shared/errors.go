// Package shared contains canonical type definitions shared across thumb.
package shared //nolint:revive // internal shared package is intentional

import "errors"

// Semantic errors for provider operations.
var (
	// ErrNotFound indicates the requested key does not exist on a disk or cache.
	ErrNotFound = errors.New("thumb: not found")

	// ErrInvalidKey indicates the provided key is malformed, empty, or escapes its root.
	ErrInvalidKey = errors.New("thumb: invalid key")
)

// Errors raised while materializing a derived image.
var (
	// ErrConfigNotFound indicates an unknown preset or variant name.
	ErrConfigNotFound = errors.New("thumb: preset not found")

	// ErrInvalidDimensions indicates a non-positive or unparsable target size.
	ErrInvalidDimensions = errors.New("thumb: invalid dimensions")

	// ErrSourceNotFound indicates the source image does not exist.
	ErrSourceNotFound = errors.New("thumb: source not found")

	// ErrSourceEmpty indicates the source image exists but has no content.
	ErrSourceEmpty = errors.New("thumb: source is empty")

	// ErrUnsupportedExtension indicates the source extension is not allowed.
	ErrUnsupportedExtension = errors.New("thumb: unsupported extension")

	// ErrSourceTooLarge indicates the source exceeds the configured size limit.
	ErrSourceTooLarge = errors.New("thumb: source too large")

	// ErrDiskUnavailable indicates a source or destination disk is not configured or not reachable.
	ErrDiskUnavailable = errors.New("thumb: disk unavailable")

	// ErrDirectoryCreate indicates the destination directory could not be created.
	ErrDirectoryCreate = errors.New("thumb: directory create failed")

	// ErrDecode indicates the source bytes could not be decoded as an image.
	ErrDecode = errors.New("thumb: decode failed")

	// ErrEncode indicates the derived image could not be encoded.
	ErrEncode = errors.New("thumb: encode failed")

	// ErrInFlight indicates another writer holds the generation lease and
	// the derived asset did not appear within the wait budget.
	ErrInFlight = errors.New("thumb: generation in flight")

	// ErrUnknown wraps unexpected failures.
	ErrUnknown = errors.New("thumb: unknown failure")
)
