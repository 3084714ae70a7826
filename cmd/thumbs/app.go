package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/zoobzio/thumb"
	"github.com/zoobzio/thumb/config"
	"github.com/zoobzio/thumb/deadletter"
	"github.com/zoobzio/thumb/internal/logging"
)

// app is the wired object graph behind every command.
type app struct {
	cfg      *config.Config
	log      zerolog.Logger
	registry *prometheus.Registry
	disks    *thumb.Disks
	cache    thumb.CacheProvider
	resolver *thumb.Resolver
	closers  []closer
}

// openApp loads configuration and connects every disk and the cache.
func openApp(ctx context.Context, e *env) (*app, error) {
	cfg, err := config.Load(e.configPath)
	if err != nil {
		return nil, err
	}
	a := &app{
		cfg:      cfg,
		log:      logging.NewWithWriter(e.stderr, cfg.Environment, cfg.LogLevel),
		registry: prometheus.NewRegistry(),
		disks:    thumb.NewDisks(),
	}

	for name, d := range cfg.Disks {
		disk, c, err := openDisk(ctx, name, d)
		if err != nil {
			a.close()
			return nil, err
		}
		a.disks.Register(name, disk)
		a.closers = append(a.closers, c)
	}

	cache, c, err := openCache(cfg.CacheProvider)
	if err != nil {
		a.close()
		return nil, err
	}
	a.cache = cache
	a.closers = append(a.closers, c)

	presets, err := cfg.ThumbPresets()
	if err != nil {
		a.close()
		return nil, err
	}

	opts := []thumb.Option{
		thumb.WithLogger(a.log),
		thumb.WithMetrics(thumb.NewMetrics(a.registry)),
		thumb.WithTTL(cfg.TTL()),
		thumb.WithLease(cfg.Lease()),
		thumb.WithValidation(cfg.Gates()),
		thumb.WithFallback(thumb.NewFallbackChain(cfg.FallbackConfig(), a.disks)),
		thumb.WithSilentDefault(cfg.Defaults.SilentMode),
	}
	if locker, ok := cache.(thumb.Locker); ok && cfg.CacheProvider.Locker {
		opts = append(opts, thumb.WithLocker(locker))
	}
	a.resolver = thumb.NewResolver(presets, a.disks, cache, opts...)

	a.log.Debug().
		Int("disks", len(cfg.Disks)).
		Int("presets", len(presets)).
		Str("cache", cfg.CacheProvider.Driver).
		Msg("thumbs configured")
	return a, nil
}

func (a *app) maintainer() *thumb.Maintainer {
	m := a.resolver.Maintainer()
	m.CleanEmptyDirs = *a.cfg.Defaults.CleanupEmptyDir
	return m
}

// deadLetters opens the dead letter store. The caller closes it.
func (a *app) deadLetters(ctx context.Context) (*deadletter.Store, error) {
	return deadletter.Open(ctx, a.cfg.DeadLetters.DSN)
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn().Err(err).Msg("close failed")
		}
	}
	a.closers = nil
}

// source parses "disk:path". Without a registered disk prefix the whole
// argument is a path on defaultDisk.
func source(arg, defaultDisk string, disks *thumb.Disks) thumb.Source {
	if name, rest, ok := strings.Cut(arg, ":"); ok && disks.Has(name) {
		return thumb.Source{Disk: name, Path: rest}
	}
	return thumb.Source{Disk: defaultDisk, Path: arg}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// exitCode maps an error to the process exit status.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errUsage):
		return 2
	case errors.Is(err, errIssues):
		return 3
	case thumb.Permanent(err):
		return 4
	}
	return 1
}

var errIssues = errors.New("configuration has issues")

func printf(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}
