package thumb

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
)

// DefaultFallbackURL is served when every fallback policy declines.
const DefaultFallbackURL = "/images/no-image.png"

// Placeholder colors.
const (
	DefaultPlaceholderBackground = "#f8f9fa"
	DefaultPlaceholderForeground = "#6c757d"
)

// FallbackRequest carries the context of a failed resolution.
type FallbackRequest struct {
	Source Source
	Config EffectiveConfig
	Err    error
}

// FallbackPolicy proposes a URL for a failed resolution.
// ok is false when the policy has nothing to offer.
type FallbackPolicy interface {
	Fallback(ctx context.Context, req FallbackRequest) (url string, ok bool)
}

// StaticURL always offers the same configured URL. Empty declines.
type StaticURL string

// Fallback implements FallbackPolicy.
func (s StaticURL) Fallback(context.Context, FallbackRequest) (string, bool) {
	return string(s), s != ""
}

// OriginalImage offers the source's own URL when the source exists.
type OriginalImage struct {
	Disks *Disks
}

// Fallback implements FallbackPolicy.
func (o OriginalImage) Fallback(ctx context.Context, req FallbackRequest) (string, bool) {
	if o.Disks == nil {
		return "", false
	}
	disk, err := o.Disks.Get(req.Source.Disk)
	if err != nil {
		return "", false
	}
	exists, err := disk.Exists(ctx, req.Source.Path)
	if err != nil || !exists {
		return "", false
	}
	return disk.URL(req.Source.Path), true
}

// GeneratedPlaceholder offers a placeholder sized to the target.
// With a Service template it renders a URL; the template may reference
// {width}, {height}, {background}, and {foreground} (colors without '#').
// Without one, or when the target size is unknown, it renders an SVG data URI.
type GeneratedPlaceholder struct {
	Service    string
	Background string
	Foreground string
}

// Fallback implements FallbackPolicy.
func (g GeneratedPlaceholder) Fallback(_ context.Context, req FallbackRequest) (string, bool) {
	bg := colorOr(g.Background, DefaultPlaceholderBackground)
	fg := colorOr(g.Foreground, DefaultPlaceholderForeground)
	size := req.Config.Size
	if g.Service != "" && size.Validate() == nil {
		return strings.NewReplacer(
			"{width}", strconv.Itoa(size.Width),
			"{height}", strconv.Itoa(size.Height),
			"{background}", strings.TrimPrefix(bg, "#"),
			"{foreground}", strings.TrimPrefix(fg, "#"),
		).Replace(g.Service), true
	}
	if size.Validate() != nil {
		size = Size{Width: 300, Height: 200}
	}
	return PlaceholderSVG(size, bg, fg), true
}

// PlaceholderSVG renders a "No Image" SVG as a base64 data URI.
func PlaceholderSVG(size Size, background, foreground string) string {
	svg := fmt.Sprintf(`<svg width="%d" height="%d" xmlns="http://www.w3.org/2000/svg">`+
		`<rect width="100%%" height="100%%" fill="%s"/>`+
		`<text x="50%%" y="50%%" text-anchor="middle" dy=".3em" fill="%s">No Image</text>`+
		`</svg>`, size.Width, size.Height, background, foreground)
	return "data:image/svg+xml;base64," + base64.StdEncoding.EncodeToString([]byte(svg))
}

func colorOr(c, def string) string {
	c = strings.TrimSpace(c)
	if c == "" {
		return def
	}
	if !strings.HasPrefix(c, "#") {
		c = "#" + c
	}
	return c
}

// FallbackChain tries each policy in order and ends at a static URL.
type FallbackChain struct {
	Policies []FallbackPolicy
	Final    string
}

// FallbackConfig describes a fallback chain.
type FallbackConfig struct {
	PlaceholderURL       string
	FallbackToOriginal   bool
	GeneratePlaceholders bool
	PlaceholderService   string
	Background           string
	Foreground           string
}

// NewFallbackChain builds the chain: configured placeholder URL, original
// image, generated placeholder, then DefaultFallbackURL.
func NewFallbackChain(cfg FallbackConfig, disks *Disks) FallbackChain {
	var policies []FallbackPolicy
	if cfg.PlaceholderURL != "" {
		policies = append(policies, StaticURL(cfg.PlaceholderURL))
	}
	if cfg.FallbackToOriginal {
		policies = append(policies, OriginalImage{Disks: disks})
	}
	if cfg.GeneratePlaceholders {
		policies = append(policies, GeneratedPlaceholder{
			Service:    cfg.PlaceholderService,
			Background: cfg.Background,
			Foreground: cfg.Foreground,
		})
	}
	return FallbackChain{Policies: policies, Final: DefaultFallbackURL}
}

// Fallback returns the first URL offered, or Final.
func (c FallbackChain) Fallback(ctx context.Context, req FallbackRequest) string {
	for _, p := range c.Policies {
		if url, ok := p.Fallback(ctx, req); ok {
			return url
		}
	}
	if c.Final == "" {
		return DefaultFallbackURL
	}
	return c.Final
}
