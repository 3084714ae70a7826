package thumb

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Size is a target width and height in pixels.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// ParseSize parses a "WxH" string such as "130x130".
func ParseSize(s string) (Size, error) {
	w, h, ok := strings.Cut(strings.ToLower(strings.TrimSpace(s)), "x")
	if !ok {
		return Size{}, fmt.Errorf("%w: %q is not WxH", ErrInvalidDimensions, s)
	}
	width, err := strconv.Atoi(w)
	if err != nil {
		return Size{}, fmt.Errorf("%w: %q: %w", ErrInvalidDimensions, s, err)
	}
	height, err := strconv.Atoi(h)
	if err != nil {
		return Size{}, fmt.Errorf("%w: %q: %w", ErrInvalidDimensions, s, err)
	}
	size := Size{Width: width, Height: height}
	if err := size.Validate(); err != nil {
		return Size{}, err
	}
	return size, nil
}

// Validate rejects non-positive dimensions.
func (s Size) Validate() error {
	if s.Width <= 0 || s.Height <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, s.Width, s.Height)
	}
	return nil
}

func (s Size) String() string {
	return strconv.Itoa(s.Width) + "x" + strconv.Itoa(s.Height)
}

// Preset is a named configuration for one class of derived images.
type Preset struct {
	Name      string
	Size      Size
	Format    string
	Quality   int
	Disk      string
	BasePath  string
	SmartCrop bool
	Sharding  ShardStrategy
	Silent    bool
	Variants  map[string]VariantOverride
}

// VariantOverride holds the preset fields a variant replaces.
// Zero values and nil pointers leave the parent field untouched.
type VariantOverride struct {
	Size      *Size
	Format    string
	Quality   int
	Disk      string
	BasePath  string
	SmartCrop *bool
	Sharding  ShardStrategy
}

// EffectiveConfig is a preset with at most one variant merged on top.
type EffectiveConfig struct {
	Preset    string
	Variant   string
	Size      Size
	Format    string
	Quality   int
	Disk      string
	BasePath  string
	SmartCrop bool
	Sharding  ShardStrategy
	Silent    bool
}

// Effective merges the named variant over p. An empty variant returns the
// preset itself. Returns ErrConfigNotFound for an unknown variant.
func (p Preset) Effective(variant string) (EffectiveConfig, error) {
	cfg := EffectiveConfig{
		Preset:    p.Name,
		Size:      p.Size,
		Format:    normalizeFormat(p.Format),
		Quality:   p.Quality,
		Disk:      p.Disk,
		BasePath:  normalizeBase(p.BasePath),
		SmartCrop: p.SmartCrop,
		Sharding:  p.Sharding,
		Silent:    p.Silent,
	}
	if variant == "" {
		return cfg.withDefaults(), nil
	}
	o, ok := p.Variants[variant]
	if !ok {
		return EffectiveConfig{}, fmt.Errorf("%w: %s/%s", ErrConfigNotFound, p.Name, variant)
	}
	cfg.Variant = variant
	if o.Size != nil {
		cfg.Size = *o.Size
	}
	if o.Format != "" {
		cfg.Format = normalizeFormat(o.Format)
	}
	if o.Quality > 0 {
		cfg.Quality = o.Quality
	}
	if o.Disk != "" {
		cfg.Disk = o.Disk
	}
	if o.BasePath != "" {
		cfg.BasePath = normalizeBase(o.BasePath)
	}
	if o.SmartCrop != nil {
		cfg.SmartCrop = *o.SmartCrop
	}
	if o.Sharding != "" {
		cfg.Sharding = o.Sharding
	}
	return cfg.withDefaults(), nil
}

func (c EffectiveConfig) withDefaults() EffectiveConfig {
	if c.Format == "" {
		c.Format = FormatJPG
	}
	if c.Quality <= 0 {
		c.Quality = DefaultQuality
	}
	if c.Sharding == "" {
		c.Sharding = ShardHashPrefix
	}
	return c
}

// VariantNames returns the preset's variant names in sorted order.
func (p Preset) VariantNames() []string {
	names := make([]string, 0, len(p.Variants))
	for name := range p.Variants {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Presets indexes presets by name.
type Presets map[string]Preset

// NewPresets builds an index from a list of presets.
func NewPresets(list ...Preset) Presets {
	out := make(Presets, len(list))
	for _, p := range list {
		out[p.Name] = p
	}
	return out
}

// Lookup returns the named preset or ErrConfigNotFound.
func (ps Presets) Lookup(name string) (Preset, error) {
	p, ok := ps[name]
	if !ok {
		return Preset{}, fmt.Errorf("%w: %s", ErrConfigNotFound, name)
	}
	return p, nil
}

// Effective resolves a preset and variant in one step.
func (ps Presets) Effective(name, variant string) (EffectiveConfig, error) {
	p, err := ps.Lookup(name)
	if err != nil {
		return EffectiveConfig{}, err
	}
	return p.Effective(variant)
}

// Names returns the preset names in sorted order.
func (ps Presets) Names() []string {
	names := make([]string, 0, len(ps))
	for name := range ps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidationReport summarizes preset configuration issues.
type ValidationReport struct {
	Valid    bool     `json:"valid"`
	Issues   []string `json:"issues"`
	Presets  int      `json:"presets_count"`
	Variants int      `json:"total_variants"`
}

// Validate checks every preset and variant against the registered disks.
func (ps Presets) Validate(disks *Disks) ValidationReport {
	report := ValidationReport{Presets: len(ps)}
	for _, name := range ps.Names() {
		p := ps[name]
		if disks != nil && !disks.Has(p.Disk) {
			report.Issues = append(report.Issues, fmt.Sprintf("preset %q: destination disk %q is not configured", name, p.Disk))
		}
		if err := p.Size.Validate(); err != nil {
			report.Issues = append(report.Issues, fmt.Sprintf("preset %q: invalid size %s", name, p.Size))
		}
		if p.Sharding != "" && !p.Sharding.Valid() {
			report.Issues = append(report.Issues, fmt.Sprintf("preset %q: invalid subdirectory strategy %q", name, p.Sharding))
		}
		if p.Format != "" && !supportedFormat(p.Format) {
			report.Issues = append(report.Issues, fmt.Sprintf("preset %q: unsupported format %q", name, p.Format))
		}
		if normalizeBase(p.BasePath) == "" {
			report.Issues = append(report.Issues, fmt.Sprintf("preset %q: destination path is required", name))
		}
		for _, vname := range p.VariantNames() {
			report.Variants++
			v := p.Variants[vname]
			if v.Size != nil && v.Size.Validate() != nil {
				report.Issues = append(report.Issues, fmt.Sprintf("preset %q, variant %q: invalid size %s", name, vname, *v.Size))
			}
			if v.Sharding != "" && !v.Sharding.Valid() {
				report.Issues = append(report.Issues, fmt.Sprintf("preset %q, variant %q: invalid subdirectory strategy %q", name, vname, v.Sharding))
			}
			if v.Disk != "" && disks != nil && !disks.Has(v.Disk) {
				report.Issues = append(report.Issues, fmt.Sprintf("preset %q, variant %q: destination disk %q is not configured", name, vname, v.Disk))
			}
			if v.Format != "" && !supportedFormat(v.Format) {
				report.Issues = append(report.Issues, fmt.Sprintf("preset %q, variant %q: unsupported format %q", name, vname, v.Format))
			}
			if v.BasePath != "" && normalizeBase(v.BasePath) == "" {
				report.Issues = append(report.Issues, fmt.Sprintf("preset %q, variant %q: destination path is required", name, vname))
			}
		}
	}
	report.Valid = len(report.Issues) == 0
	return report
}

func normalizeBase(base string) string {
	base = strings.Trim(strings.ReplaceAll(base, "\\", "/"), "/")
	if base == "" {
		return ""
	}
	return base + "/"
}
