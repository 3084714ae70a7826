package thumb

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/zoobzio/capitan"
)

// Mode selects how a failed resolution is reported.
type Mode int

// Resolution modes. ModeDefault defers to the preset, then the resolver.
const (
	ModeDefault Mode = iota
	Strict
	Silent
)

func (m Mode) String() string {
	switch m {
	case Strict:
		return "strict"
	case Silent:
		return "silent"
	}
	return "default"
}

// Request asks for the URL of one derived asset.
type Request struct {
	Source  Source
	Preset  string
	Variant string
	Mode    Mode
}

// Location is where a request's derived asset lives and how it is cached.
type Location struct {
	Config    EffectiveConfig
	Identity  Identity
	Path      string
	URLKey    string
	ExistsKey string
}

// Resolver maps (source, preset, variant) to a URL, generating the derived
// asset on first use. It is safe for concurrent use.
type Resolver struct {
	presets   Presets
	disks     *Disks
	lookup    *Lookup
	deriver   *Deriver
	generator *Generator
	fallback  FallbackChain
	flight    *flight
	log       zerolog.Logger
	metrics   *Metrics
	silent    bool
}

// NewResolver creates a Resolver over the given presets, disks, and cache.
func NewResolver(presets Presets, disks *Disks, cache CacheProvider, opts ...Option) *Resolver {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	chain := NewFallbackChain(FallbackConfig{GeneratePlaceholders: true}, disks)
	if o.fallback != nil {
		chain = *o.fallback
	}
	return &Resolver{
		presets:   presets,
		disks:     disks,
		lookup:    NewLookup(cache, o.ttl, o.clock, o.log),
		deriver:   NewDeriver(o.clock),
		generator: NewGenerator(disks, o.validation, o.policy, o.log, o.metrics),
		fallback:  chain,
		flight:    &flight{locker: o.locker, lease: o.lease.withDefaults(), log: o.log},
		log:       o.log,
		metrics:   o.metrics,
		silent:    o.silent,
	}
}

// Presets returns the configured presets.
func (r *Resolver) Presets() Presets { return r.presets }

// Disks returns the disk registry.
func (r *Resolver) Disks() *Disks { return r.disks }

// Generator returns the shared generator.
func (r *Resolver) Generator() *Generator { return r.generator }

// Lookup returns the cache front.
func (r *Resolver) Lookup() *Lookup { return r.lookup }

// Maintainer returns maintenance operations over the same presets, disks,
// and cache.
func (r *Resolver) Maintainer() *Maintainer {
	return NewMaintainer(r.presets, r.disks, r.lookup, r.log, r.metrics)
}

// Locate derives the location of a request without any I/O.
func (r *Resolver) Locate(src Source, preset, variant string) (Location, error) {
	cfg, err := r.presets.Effective(preset, variant)
	if err != nil {
		return Location{}, err
	}
	path := r.deriver.Path(src.Path, cfg)
	return Location{
		Config:    cfg,
		Identity:  r.deriver.Identity(src.Path, cfg),
		Path:      path,
		URLKey:    URLKey(preset, src, variant),
		ExistsKey: ExistsKey(preset, cfg.Disk, path),
	}, nil
}

// URL resolves in strict mode.
func (r *Resolver) URL(ctx context.Context, src Source, preset, variant string) (string, error) {
	return r.Resolve(ctx, Request{Source: src, Preset: preset, Variant: variant, Mode: Strict})
}

// URLSafe resolves in silent mode and never fails.
func (r *Resolver) URLSafe(ctx context.Context, src Source, preset, variant string) string {
	url, _ := r.Resolve(ctx, Request{Source: src, Preset: preset, Variant: variant, Mode: Silent})
	return url
}

// Resolve returns the URL for req. In strict mode failures are returned
// with their kind intact; in silent mode they are logged and replaced by
// a fallback URL.
func (r *Resolver) Resolve(ctx context.Context, req Request) (string, error) {
	start := time.Now()
	loc, locErr := r.Locate(req.Source, req.Preset, req.Variant)
	silent := r.isSilent(req, loc.Config, locErr == nil)

	var (
		url     string
		outcome string
		err     = locErr
	)
	if err == nil {
		url, outcome, err = r.resolve(ctx, req, loc, silent)
	}
	if err == nil {
		r.metrics.resolved(req.Preset, outcome)
		capitan.Emit(ctx, outcomeSignal(outcome),
			FieldPreset.Field(req.Preset),
			FieldVariant.Field(req.Variant),
			FieldSource.Field(req.Source.Path),
			FieldURL.Field(url),
			FieldDuration.Field(time.Since(start)),
		)
		return url, nil
	}

	if !silent {
		r.metrics.resolved(req.Preset, OutcomeError)
		return "", err
	}

	url = r.fallback.Fallback(ctx, FallbackRequest{Source: req.Source, Config: loc.Config, Err: err})
	r.log.Warn().Err(err).
		Str("kind", string(KindOf(err))).
		Str("preset", req.Preset).
		Str("variant", req.Variant).
		Str("source", req.Source.Path).
		Str("fallback", url).
		Msg("thumbnail failed, using fallback")
	r.lookup.PutURL(ctx, URLKey(req.Preset, req.Source, req.Variant), url, "", true)
	r.metrics.resolved(req.Preset, OutcomeFallback)
	capitan.Emit(ctx, ResolveFallback,
		FieldPreset.Field(req.Preset),
		FieldVariant.Field(req.Variant),
		FieldSource.Field(req.Source.Path),
		FieldURL.Field(url),
		FieldKind.Field(string(KindOf(err))),
		FieldError.Field(err),
		FieldDuration.Field(time.Since(start)),
	)
	return url, nil
}

func (r *Resolver) isSilent(req Request, cfg EffectiveConfig, located bool) bool {
	switch req.Mode {
	case Strict:
		return false
	case Silent:
		return true
	}
	if located && cfg.Silent {
		return true
	}
	if !located {
		if p, ok := r.presets[req.Preset]; ok && p.Silent {
			return true
		}
	}
	return r.silent
}

func (r *Resolver) resolve(ctx context.Context, req Request, loc Location, silent bool) (string, string, error) {
	// Fallback entries are only served to silent callers.
	if entry := r.lookup.URL(ctx, loc.URLKey); entry != nil && (!entry.Fallback || silent) {
		return entry.URL, OutcomeCacheHit, nil
	}

	disk, err := r.disks.Get(loc.Config.Disk)
	if err != nil {
		return "", "", err
	}

	if exists, found := r.lookup.Exists(ctx, loc.ExistsKey); found && exists {
		url := disk.URL(loc.Path)
		r.lookup.PutURL(ctx, loc.URLKey, url, loc.Path, false)
		return url, OutcomeExistsHit, nil
	}

	exists, err := disk.Exists(ctx, loc.Path)
	if err != nil {
		return "", "", fmt.Errorf("%w: %s: %w", ErrDiskUnavailable, loc.Config.Disk, err)
	}
	if exists {
		r.lookup.PutExists(ctx, loc.ExistsKey, true)
		url := disk.URL(loc.Path)
		r.lookup.PutURL(ctx, loc.URLKey, url, loc.Path, false)
		return url, OutcomeExistsHit, nil
	}

	url, err := r.generate(ctx, req.Source, loc, disk)
	if err != nil {
		return "", "", err
	}
	return url, OutcomeGenerated, nil
}

// generate produces the asset through the in-flight guard and records it
// in both caches.
func (r *Resolver) generate(ctx context.Context, src Source, loc Location, disk DiskProvider) (string, error) {
	flat := r.deriver.FlatPath(src.Path, loc.Config)
	written, err := r.flight.do(ctx, disk, loc.Config.Disk, loc.Path, flat, func() (string, error) {
		return r.generator.Generate(ctx, GenerateRequest{Source: src, Config: loc.Config, Path: loc.Path})
	})
	if err != nil {
		return "", err
	}
	// A flat-layout write leaves the derived path itself absent.
	if written == loc.Path {
		r.lookup.PutExists(ctx, loc.ExistsKey, true)
	}
	url := disk.URL(written)
	r.lookup.PutURL(ctx, loc.URLKey, url, written, false)
	return url, nil
}

// Generate produces the derived asset for (src, preset, variant) whether or
// not it already exists, caches it, and returns its URL. Failures are
// always returned; no fallback is applied.
func (r *Resolver) Generate(ctx context.Context, src Source, preset, variant string) (string, error) {
	loc, err := r.Locate(src, preset, variant)
	if err != nil {
		return "", err
	}
	disk, err := r.disks.Get(loc.Config.Disk)
	if err != nil {
		return "", err
	}
	return r.generate(ctx, src, loc, disk)
}

func outcomeSignal(outcome string) capitan.Signal {
	switch outcome {
	case OutcomeCacheHit:
		return ResolveCacheHit
	case OutcomeExistsHit:
		return ResolveExistsHit
	}
	return ResolveGenerated
}

// Exists reports whether the derived asset for (src, preset, variant) is
// present, consulting the existence cache first.
func (r *Resolver) Exists(ctx context.Context, src Source, preset, variant string) (bool, error) {
	loc, err := r.Locate(src, preset, variant)
	if err != nil {
		return false, err
	}
	if exists, found := r.lookup.Exists(ctx, loc.ExistsKey); found && exists {
		return true, nil
	}
	disk, err := r.disks.Get(loc.Config.Disk)
	if err != nil {
		return false, err
	}
	exists, err := disk.Exists(ctx, loc.Path)
	if err != nil {
		return false, err
	}
	if exists {
		r.lookup.PutExists(ctx, loc.ExistsKey, true)
	}
	return exists, nil
}

// IsUpToDate reports whether the derived asset exists and is at least as
// new as its source.
func (r *Resolver) IsUpToDate(ctx context.Context, src Source, preset, variant string) (bool, error) {
	loc, err := r.Locate(src, preset, variant)
	if err != nil {
		return false, err
	}
	dst, err := r.disks.Get(loc.Config.Disk)
	if err != nil {
		return false, err
	}
	derived, err := dst.Stat(ctx, loc.Path)
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	origin, err := r.disks.Get(src.Disk)
	if err != nil {
		return false, err
	}
	source, err := origin.Stat(ctx, src.Path)
	if err != nil {
		if isNotFound(err) {
			return false, fmt.Errorf("%w: %s", ErrSourceNotFound, src.Path)
		}
		return false, err
	}
	return !derived.LastModified.Before(source.LastModified), nil
}

// RegenerateIfNeeded returns the current URL when the asset is up to date;
// otherwise it clears the caches and regenerates the asset in place.
func (r *Resolver) RegenerateIfNeeded(ctx context.Context, src Source, preset, variant string) (string, error) {
	fresh, err := r.IsUpToDate(ctx, src, preset, variant)
	if err != nil {
		return "", err
	}
	loc, err := r.Locate(src, preset, variant)
	if err != nil {
		return "", err
	}
	disk, err := r.disks.Get(loc.Config.Disk)
	if err != nil {
		return "", err
	}
	if fresh {
		return disk.URL(loc.Path), nil
	}
	r.log.Info().Str("preset", preset).Str("variant", variant).Str("source", src.Path).Msg("regenerating stale thumbnail")
	r.ClearCache(ctx, src, preset)
	return r.generate(ctx, src, loc, disk)
}

// ClearCache drops the URL entries of src for the preset and all its
// variants, and the matching existence entries.
func (r *Resolver) ClearCache(ctx context.Context, src Source, preset string) {
	p, err := r.presets.Lookup(preset)
	if err != nil {
		return
	}
	for _, variant := range append([]string{""}, p.VariantNames()...) {
		keys := []string{URLKey(preset, src, variant)}
		if loc, err := r.Locate(src, preset, variant); err == nil {
			keys = append(keys, loc.ExistsKey)
		}
		r.lookup.Forget(ctx, keys...)
	}
}

// WarmUpResult counts the outcome of WarmUp.
type WarmUpResult struct {
	Warmed        int `json:"warmed"`
	AlreadyCached int `json:"already_cached"`
	Errors        int `json:"errors"`
}

// WarmUp caches the URLs of derived assets that already exist, for the
// main preset and each listed variant. Nothing is generated.
func (r *Resolver) WarmUp(ctx context.Context, sources []Source, preset string, variants []string) WarmUpResult {
	var res WarmUpResult
	for _, src := range sources {
		for _, variant := range append([]string{""}, variants...) {
			loc, err := r.Locate(src, preset, variant)
			if err != nil {
				res.Errors++
				continue
			}
			if entry := r.lookup.URL(ctx, loc.URLKey); entry != nil && !entry.Fallback {
				res.AlreadyCached++
				continue
			}
			disk, err := r.disks.Get(loc.Config.Disk)
			if err != nil {
				res.Errors++
				continue
			}
			exists, err := disk.Exists(ctx, loc.Path)
			if err != nil {
				res.Errors++
				continue
			}
			if exists {
				r.lookup.PutExists(ctx, loc.ExistsKey, true)
				r.lookup.PutURL(ctx, loc.URLKey, disk.URL(loc.Path), loc.Path, false)
				res.Warmed++
			}
		}
	}
	return res
}

// BatchItem holds the URLs and errors for one source in a batch.
type BatchItem struct {
	Main     string            `json:"main,omitempty"`
	Variants map[string]string `json:"variants,omitempty"`
	Errors   map[string]string `json:"errors,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// BatchResult summarizes Batch.
type BatchResult struct {
	Generated int                  `json:"generated"`
	Errors    int                  `json:"errors"`
	Details   map[string]BatchItem `json:"details"`
}

// Batch resolves the main asset and each variant for every source in
// strict mode, collecting URLs and errors per source.
func (r *Resolver) Batch(ctx context.Context, sources []Source, preset string, variants []string) BatchResult {
	res := BatchResult{Details: make(map[string]BatchItem, len(sources))}
	for _, src := range sources {
		var item BatchItem
		url, err := r.URL(ctx, src, preset, "")
		if err != nil {
			res.Errors++
			item.Error = err.Error()
			res.Details[src.Path] = item
			continue
		}
		res.Generated++
		item.Main = url
		for _, variant := range variants {
			url, err := r.URL(ctx, src, preset, variant)
			if err != nil {
				res.Errors++
				if item.Errors == nil {
					item.Errors = make(map[string]string)
				}
				item.Errors[variant] = err.Error()
				continue
			}
			if item.Variants == nil {
				item.Variants = make(map[string]string)
			}
			item.Variants[variant] = url
		}
		res.Details[src.Path] = item
	}
	return res
}

// DebugInfo is a diagnostic snapshot of one request.
type DebugInfo struct {
	Preset       string        `json:"preset"`
	Variant      string        `json:"variant,omitempty"`
	Source       Source        `json:"source"`
	SourceExists bool          `json:"source_exists"`
	Path         string        `json:"thumbnail_path"`
	Disk         string        `json:"destination_disk"`
	Exists       bool          `json:"thumbnail_exists"`
	Strategy     ShardStrategy `json:"subdirectory_strategy"`
	Shard        string        `json:"generated_subdirectory"`
	Size         Size          `json:"dimensions"`
	Format       string        `json:"format"`
	Quality      int           `json:"quality"`
	SmartCrop    bool          `json:"smart_crop_enabled"`
	URLKey       string        `json:"url_key"`
	CachedURL    string        `json:"cached_url,omitempty"`
	URL          string        `json:"thumbnail_url,omitempty"`
	Bytes        int64         `json:"thumbnail_size,omitempty"`
	LastModified time.Time     `json:"thumbnail_last_modified,omitempty"`
}

// Debug gathers a diagnostic snapshot for req without generating anything.
func (r *Resolver) Debug(ctx context.Context, req Request) (DebugInfo, error) {
	loc, err := r.Locate(req.Source, req.Preset, req.Variant)
	if err != nil {
		return DebugInfo{}, err
	}
	cfg := loc.Config
	info := DebugInfo{
		Preset:    req.Preset,
		Variant:   req.Variant,
		Source:    req.Source,
		Path:      loc.Path,
		Disk:      cfg.Disk,
		Strategy:  cfg.Sharding,
		Shard:     cfg.Sharding.Shard(loc.Identity.Filename, r.deriver.now()),
		Size:      cfg.Size,
		Format:    cfg.Format,
		Quality:   cfg.Quality,
		SmartCrop: cfg.SmartCrop,
		URLKey:    loc.URLKey,
	}
	if entry := r.lookup.URL(ctx, loc.URLKey); entry != nil {
		info.CachedURL = entry.URL
	}
	if src, err := r.disks.Get(req.Source.Disk); err == nil {
		info.SourceExists, _ = src.Exists(ctx, req.Source.Path)
	}
	dst, err := r.disks.Get(cfg.Disk)
	if err != nil {
		return info, err
	}
	stat, err := dst.Stat(ctx, loc.Path)
	switch {
	case err == nil:
		info.Exists = true
		info.URL = dst.URL(loc.Path)
		info.Bytes = stat.Size
		info.LastModified = stat.LastModified
	case !isNotFound(err):
		return info, err
	}
	return info, nil
}
