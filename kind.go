package thumb

import (
	"context"
	"errors"
)

// Kind classifies a materialization failure.
type Kind string

// Failure kinds, one per sentinel error.
const (
	KindNone                 Kind = ""
	KindConfigNotFound       Kind = "config_not_found"
	KindInvalidDimensions    Kind = "invalid_dimensions"
	KindSourceNotFound       Kind = "source_not_found"
	KindSourceEmpty          Kind = "source_empty"
	KindUnsupportedExtension Kind = "unsupported_extension"
	KindSourceTooLarge       Kind = "source_too_large"
	KindDiskUnavailable      Kind = "disk_unavailable"
	KindDirectoryCreate      Kind = "directory_create_failed"
	KindDecode               Kind = "decode_failed"
	KindEncode               Kind = "encode_failed"
	KindInFlight             Kind = "in_flight"
	KindUnknown              Kind = "unknown"
)

var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrConfigNotFound, KindConfigNotFound},
	{ErrInvalidDimensions, KindInvalidDimensions},
	{ErrSourceNotFound, KindSourceNotFound},
	{ErrSourceEmpty, KindSourceEmpty},
	{ErrUnsupportedExtension, KindUnsupportedExtension},
	{ErrSourceTooLarge, KindSourceTooLarge},
	{ErrDiskUnavailable, KindDiskUnavailable},
	{ErrDirectoryCreate, KindDirectoryCreate},
	{ErrDecode, KindDecode},
	{ErrEncode, KindEncode},
	{ErrInFlight, KindInFlight},
}

// KindOf returns the kind of err. Unclassified errors are KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindUnknown
}

// Permanent reports whether retrying err cannot succeed without a change
// to configuration or source content.
func Permanent(err error) bool {
	switch KindOf(err) {
	case KindConfigNotFound, KindInvalidDimensions, KindSourceNotFound, KindSourceEmpty,
		KindUnsupportedExtension, KindSourceTooLarge, KindDecode:
		return true
	}
	return errors.Is(err, context.Canceled)
}
