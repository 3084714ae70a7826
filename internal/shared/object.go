package shared //nolint:revive // internal shared package is intentional

import "time"

// ObjectInfo holds provider-level metadata for a stored file.
// Used by DiskProvider implementations.
type ObjectInfo struct {
	Key          string
	ContentType  string
	Size         int64
	ETag         string
	LastModified time.Time
	Metadata     map[string]string
}
