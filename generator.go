package thumb

import (
	"context"
	"fmt"
	"path"
	"slices"
	"time"

	"github.com/rs/zerolog"
	"github.com/zoobzio/capitan"
)

// DefaultMaxSourceBytes is the default source size ceiling (10 MiB).
const DefaultMaxSourceBytes int64 = 10 << 20

// Validation gates sources before they are decoded.
type Validation struct {
	AllowedExtensions []string
	MaxSourceBytes    int64
}

// DefaultValidation returns the default gates.
func DefaultValidation() Validation {
	return Validation{
		AllowedExtensions: slices.Clone(DefaultAllowedExtensions),
		MaxSourceBytes:    DefaultMaxSourceBytes,
	}
}

func (v Validation) allows(ext string) bool {
	if len(v.AllowedExtensions) == 0 {
		return true
	}
	for _, a := range v.AllowedExtensions {
		if normalizeFormat(a) == normalizeFormat(ext) {
			return true
		}
	}
	return false
}

// GenerateRequest describes one derived asset to produce.
type GenerateRequest struct {
	Source Source
	Config EffectiveConfig
	Path   string
}

// Generator decodes, crops, resizes, encodes, and writes derived assets.
// It is shared by synchronous resolution and async jobs.
type Generator struct {
	disks      *Disks
	validation Validation
	policy     CropPolicy
	log        zerolog.Logger
	metrics    *Metrics
}

// NewGenerator creates a Generator. policy is used when smart crop is
// enabled; Centered is used otherwise.
func NewGenerator(disks *Disks, validation Validation, policy CropPolicy, log zerolog.Logger, metrics *Metrics) *Generator {
	return &Generator{
		disks:      disks,
		validation: validation,
		policy:     policy,
		log:        log,
		metrics:    metrics,
	}
}

// Generate writes the asset for req and returns the path written, which
// differs from req.Path when the destination directory could not be made.
// Generation ignores caller cancellation once started.
func (g *Generator) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	ctx = context.WithoutCancel(ctx)
	start := time.Now()
	capitan.Emit(ctx, GenerateStarted,
		FieldPreset.Field(req.Config.Preset),
		FieldVariant.Field(req.Config.Variant),
		FieldSource.Field(req.Source.Path),
		FieldPath.Field(req.Path),
	)

	written, err := g.generate(ctx, req)
	g.metrics.generated(req.Config.Preset, KindOf(err), time.Since(start))
	if err != nil {
		capitan.Emit(ctx, GenerateFailed,
			FieldPreset.Field(req.Config.Preset),
			FieldSource.Field(req.Source.Path),
			FieldPath.Field(req.Path),
			FieldKind.Field(string(KindOf(err))),
			FieldError.Field(err),
			FieldDuration.Field(time.Since(start)),
		)
		return "", err
	}

	capitan.Emit(ctx, GenerateCompleted,
		FieldPreset.Field(req.Config.Preset),
		FieldSource.Field(req.Source.Path),
		FieldPath.Field(written),
		FieldDuration.Field(time.Since(start)),
	)
	return written, nil
}

func (g *Generator) generate(ctx context.Context, req GenerateRequest) (string, error) {
	cfg := req.Config
	if err := cfg.Size.Validate(); err != nil {
		return "", err
	}
	if ext := req.Source.Extension(); !g.validation.allows(ext) {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedExtension, ext)
	}

	src, err := g.disks.Get(req.Source.Disk)
	if err != nil {
		return "", err
	}
	dst, err := g.disks.Get(cfg.Disk)
	if err != nil {
		return "", err
	}

	data, err := g.readSource(ctx, src, req.Source.Path)
	if err != nil {
		return "", err
	}

	img, err := DecodeImage(data)
	if err != nil {
		return "", err
	}
	b := img.Bounds()
	policy := Centered
	if cfg.SmartCrop {
		policy = g.policy
	}
	plan, err := PlanCrop(b.Dx(), b.Dy(), cfg.Size.Width, cfg.Size.Height, policy)
	if err != nil {
		return "", err
	}
	encoded, err := EncodeImage(Transform(img, plan, cfg.Size), cfg.Format, cfg.Quality)
	if err != nil {
		return "", err
	}

	target := g.ensureDirectory(ctx, dst, req.Path, cfg.BasePath)
	info := &ObjectInfo{Key: target, ContentType: ContentType(cfg.Format), Size: int64(len(encoded))}
	if err := dst.Put(ctx, target, encoded, info); err != nil {
		return "", fmt.Errorf("%w: write %s: %w", ErrDiskUnavailable, target, err)
	}

	if v, ok := dst.(VisibilityProvider); ok {
		if err := v.SetVisibility(ctx, target, true); err != nil {
			g.log.Warn().Err(err).Str("path", target).Msg("could not set public visibility")
		}
	}
	return target, nil
}

func (g *Generator) readSource(ctx context.Context, disk DiskProvider, key string) ([]byte, error) {
	info, err := disk.Stat(ctx, key)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, key)
		}
		return nil, fmt.Errorf("%w: stat %s: %w", ErrDiskUnavailable, key, err)
	}
	if limit := g.validation.MaxSourceBytes; limit > 0 && info.Size > limit {
		return nil, fmt.Errorf("%w: %s is %d bytes, limit %d", ErrSourceTooLarge, key, info.Size, limit)
	}
	data, _, err := disk.Get(ctx, key)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, key)
		}
		return nil, fmt.Errorf("%w: read %s: %w", ErrDiskUnavailable, key, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrSourceEmpty, key)
	}
	return data, nil
}

// ensureDirectory creates the parent directory of target on disks that
// have directories. On failure it returns the flat path under base.
func (g *Generator) ensureDirectory(ctx context.Context, disk DiskProvider, target, base string) string {
	dp, ok := disk.(DirectoryProvider)
	if !ok {
		return target
	}
	dir := path.Dir(target)
	if dir == "." || dir == "/" {
		return target
	}
	if err := dp.MakeDirectory(ctx, dir); err != nil {
		flat := base + path.Base(target)
		g.log.Warn().Err(err).Str("dir", dir).Str("path", flat).Msg("directory creation failed, writing flat")
		return flat
	}
	return target
}
