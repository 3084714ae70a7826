package thumb

import (
	"crypto/md5" //nolint:gosec // shard and key derivation, not security
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// maxFilenameLength bounds sanitized filename stems.
const maxFilenameLength = 100

// unnamed replaces stems that sanitize to nothing.
const unnamed = "unnamed"

// ShardStrategy names a deterministic subdirectory layout.
type ShardStrategy string

// Sharding strategies.
const (
	ShardHashPrefix     ShardStrategy = "hash_prefix"
	ShardHashLevels     ShardStrategy = "hash_levels"
	ShardFilenamePrefix ShardStrategy = "filename_prefix"
	ShardDateBased      ShardStrategy = "date_based"
	ShardNone           ShardStrategy = "none"
)

// ShardStrategies lists every known strategy.
var ShardStrategies = []ShardStrategy{
	ShardHashPrefix, ShardDateBased, ShardFilenamePrefix, ShardHashLevels, ShardNone,
}

// Valid reports whether s is a known strategy.
func (s ShardStrategy) Valid() bool {
	for _, known := range ShardStrategies {
		if s == known {
			return true
		}
	}
	return false
}

// Shard returns the subdirectory for filename, ending in "/" unless empty.
// now is consulted only by ShardDateBased.
func (s ShardStrategy) Shard(filename string, now time.Time) string {
	switch s {
	case ShardHashPrefix:
		h := md5Hex(filename)
		return h[0:1] + "/" + h[1:2] + "/"
	case ShardHashLevels:
		h := md5Hex(filename)
		return h[0:1] + "/" + h[1:2] + "/" + h[2:3] + "/"
	case ShardFilenamePrefix:
		clean := alphanumeric(strings.ToLower(filename))
		if len(clean) < 2 {
			return "misc/"
		}
		return clean[0:1] + "/" + clean[1:2] + "/"
	case ShardDateBased:
		return now.Format("2006/01/02") + "/"
	default:
		return ""
	}
}

// Sanitize keeps only [A-Za-z0-9_-] and truncates to 100 characters.
func Sanitize(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for i := 0; i < len(name) && b.Len() < maxFilenameLength; i++ {
		c := name[i]
		if isAlphanumeric(c) || c == '_' || c == '-' {
			b.WriteByte(c)
		}
	}
	return b.String()
}

// Identity is the deterministic name of one derived asset.
type Identity struct {
	Filename string
	Size     Size
	Format   string
	Variant  string
}

// Suffix returns "W_H" or "W_H_variant".
func (id Identity) Suffix() string {
	s := strconv.Itoa(id.Size.Width) + "_" + strconv.Itoa(id.Size.Height)
	if id.Variant != "" {
		s += "_" + id.Variant
	}
	return s
}

// Basename returns "filename_suffix.format".
func (id Identity) Basename() string {
	return id.Filename + "_" + id.Suffix() + "." + id.Format
}

// Deriver computes identities and storage paths. The clock only feeds
// ShardDateBased; every other strategy is a pure function of its inputs.
type Deriver struct {
	now func() time.Time
}

// NewDeriver creates a Deriver. A nil clock uses time.Now.
func NewDeriver(clock func() time.Time) *Deriver {
	if clock == nil {
		clock = time.Now
	}
	return &Deriver{now: clock}
}

// Identity derives the identity of sourcePath under cfg.
func (d *Deriver) Identity(sourcePath string, cfg EffectiveConfig) Identity {
	name := Sanitize(Source{Path: sourcePath}.Stem())
	if name == "" {
		name = unnamed
	}
	return Identity{
		Filename: name,
		Size:     cfg.Size,
		Format:   cfg.Format,
		Variant:  cfg.Variant,
	}
}

// Path derives the storage path of sourcePath under cfg:
// base + shard + filename_W_H[_variant].format.
func (d *Deriver) Path(sourcePath string, cfg EffectiveConfig) string {
	id := d.Identity(sourcePath, cfg)
	return cfg.BasePath + cfg.Sharding.Shard(id.Filename, d.now()) + id.Basename()
}

// FlatPath is Path without the shard directory.
func (d *Deriver) FlatPath(sourcePath string, cfg EffectiveConfig) string {
	return cfg.BasePath + d.Identity(sourcePath, cfg).Basename()
}

// Cache key namespaces.
const (
	keyPrefix       = "thumb:"
	urlKeyPrefix    = keyPrefix + "url:"
	existsKeyPrefix = keyPrefix + "exists:"
	leaseKeyPrefix  = keyPrefix + "lease:"
)

// URLKey is the URL cache key for (preset, source, variant).
func URLKey(preset string, src Source, variant string) string {
	if variant == "" {
		variant = "main"
	}
	return urlKeyPrefix + preset + ":" + md5Hex(src.Disk+":"+src.Path+":"+variant)
}

// ExistsKey is the existence cache key for a derived path.
func ExistsKey(preset, disk, derivedPath string) string {
	return existsKeyPrefix + preset + ":" + md5Hex(disk+":"+derivedPath)
}

// LeaseKey is the generation lease key for a derived path.
func LeaseKey(disk, derivedPath string) string {
	return leaseKeyPrefix + md5Hex(disk+":"+derivedPath)
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s)) //nolint:gosec // not security sensitive
	return hex.EncodeToString(sum[:])
}

func alphanumeric(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if isAlphanumeric(s[i]) {
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

func isAlphanumeric(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
