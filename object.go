package thumb

import (
	"path"
	"strings"
)

// Source identifies an immutable input image on a named disk.
type Source struct {
	Path string `json:"path"`
	Disk string `json:"disk"`
}

// Stem returns the source filename without directory or final extension.
func (s Source) Stem() string {
	base := path.Base(strings.ReplaceAll(s.Path, "\\", "/"))
	if ext := path.Ext(base); ext != "" && ext != base {
		base = strings.TrimSuffix(base, ext)
	}
	return base
}

// Extension returns the lower-cased source extension without the dot.
func (s Source) Extension() string {
	base := path.Base(strings.ReplaceAll(s.Path, "\\", "/"))
	return strings.ToLower(strings.TrimPrefix(path.Ext(base), "."))
}
