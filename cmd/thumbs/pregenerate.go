package main

import (
	"context"
	"errors"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"
	"github.com/zoobzio/thumb"
	"github.com/zoobzio/thumb/jobs"
	"golang.org/x/sync/errgroup"
)

// pregenerateResult summarizes one preset's run.
type pregenerateResult struct {
	Preset    string `json:"preset"`
	Sources   int    `json:"sources"`
	Assets    int    `json:"assets"`
	Generated int    `json:"generated"`
	Queued    int    `json:"queued"`
	Errors    int    `json:"errors"`
}

type pregenerateOptions struct {
	preset      string
	disk        string
	dir         string
	variants    []string
	chunk       int
	concurrency int
	limit       int
	async       bool
	force       bool
	dryRun      bool
	wait        time.Duration
}

func pregenerateCommand() *command {
	var o pregenerateOptions
	return &command{
		name:    "pregenerate",
		summary: "Generate derived images for every source under a directory",
		usage:   "thumbs pregenerate --disk NAME [--dir PREFIX] [--preset NAME] [flags]",
		flags: func(fs *pflag.FlagSet) {
			fs.StringVarP(&o.preset, "preset", "p", "", "preset name (default: all presets)")
			fs.StringVar(&o.disk, "disk", "", "source disk to scan (required)")
			fs.StringVar(&o.dir, "dir", "", "source prefix to scan")
			fs.StringSliceVar(&o.variants, "variants", nil, "variants to generate (default: all of the preset's variants)")
			fs.IntVar(&o.chunk, "chunk", 50, "sources per work unit")
			fs.IntVar(&o.concurrency, "concurrency", 4, "work units processed at once")
			fs.IntVar(&o.limit, "limit", 0, "maximum sources to scan (0: no limit)")
			fs.BoolVar(&o.async, "async", false, "enqueue jobs with retries instead of generating inline")
			fs.BoolVar(&o.force, "force", false, "regenerate assets that already exist")
			fs.BoolVar(&o.dryRun, "dry-run", false, "report what would be generated without writing")
			fs.DurationVar(&o.wait, "wait", 10*time.Minute, "how long --async waits for the queue to drain")
		},
		run: func(ctx context.Context, e *env, args []string) error {
			if o.disk == "" {
				return usagef("pregenerate: --disk is required")
			}
			if o.chunk <= 0 || o.concurrency <= 0 {
				return usagef("pregenerate: --chunk and --concurrency must be positive")
			}
			a, err := openApp(ctx, e)
			if err != nil {
				return err
			}
			defer a.close()

			sources, err := a.scan(ctx, o)
			if err != nil {
				return err
			}
			names := a.resolver.Presets().Names()
			if o.preset != "" {
				if _, err := a.resolver.Presets().Lookup(o.preset); err != nil {
					return err
				}
				names = []string{o.preset}
			}

			var results []pregenerateResult
			for _, name := range names {
				variants := o.variants
				if variants == nil {
					variants = a.resolver.Presets()[name].VariantNames()
				}
				res := pregenerateResult{
					Preset:  name,
					Sources: len(sources),
					Assets:  len(sources) * (1 + len(variants)),
				}
				switch {
				case o.dryRun:
				case o.async:
					err = a.enqueue(ctx, o, sources, name, variants, &res)
				default:
					err = a.generateAll(ctx, o, sources, name, variants, &res)
				}
				if err != nil {
					return err
				}
				results = append(results, res)
			}

			if e.json {
				return writeJSON(e.stdout, results)
			}
			for _, r := range results {
				switch {
				case o.dryRun:
					printf(e.stdout, "%s: would generate %s assets from %s sources\n",
						r.Preset, humanize.Comma(int64(r.Assets)), humanize.Comma(int64(r.Sources)))
				case o.async:
					printf(e.stdout, "%s: queued %s, generated %s, %d failed\n",
						r.Preset, humanize.Comma(int64(r.Queued)), humanize.Comma(int64(r.Generated)), r.Errors)
				default:
					printf(e.stdout, "%s: generated %s of %s assets, %d failed\n",
						r.Preset, humanize.Comma(int64(r.Generated)), humanize.Comma(int64(r.Assets)), r.Errors)
				}
			}
			return nil
		},
	}
}

// scan lists source images under the configured prefix. Derived assets and
// files with disallowed extensions are skipped.
func (a *app) scan(ctx context.Context, o pregenerateOptions) ([]thumb.Source, error) {
	disk, err := a.disks.Get(o.disk)
	if err != nil {
		return nil, err
	}
	objects, err := disk.List(ctx, o.dir, o.limit)
	if err != nil {
		return nil, err
	}
	allowed := a.cfg.Gates().AllowedExtensions
	var out []thumb.Source
	for _, obj := range objects {
		if thumb.IsThumbnailFile(obj.Key) || !allowedExtension(obj.Key, allowed) {
			continue
		}
		out = append(out, thumb.Source{Disk: o.disk, Path: obj.Key})
	}
	a.log.Info().Str("disk", o.disk).Str("dir", o.dir).Int("sources", len(out)).Msg("scanned sources")
	return out, nil
}

func allowedExtension(key string, allowed []string) bool {
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(key)), ".")
	if ext == "" {
		return false
	}
	for _, a := range allowed {
		if strings.EqualFold(strings.TrimPrefix(a, "."), ext) {
			return true
		}
	}
	return len(allowed) == 0
}

// generateAll resolves sources in chunks, a bounded number of chunks at a time.
func (a *app) generateAll(ctx context.Context, o pregenerateOptions, sources []thumb.Source, preset string, variants []string, res *pregenerateResult) error {
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)

	for start := 0; start < len(sources); start += o.chunk {
		chunk := sources[start:min(start+o.chunk, len(sources))]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			generated, failed := 0, 0
			if o.force {
				for _, src := range chunk {
					for _, variant := range append([]string{""}, variants...) {
						if _, err := a.resolver.Generate(gctx, src, preset, variant); err != nil {
							failed++
							a.log.Warn().Err(err).Str("preset", preset).Str("variant", variant).Str("source", src.Path).Msg("regeneration failed")
							continue
						}
						generated++
					}
				}
			} else {
				batch := a.resolver.Batch(gctx, chunk, preset, variants)
				failed = batch.Errors
				for _, item := range batch.Details {
					if item.Main != "" {
						generated++
					}
					generated += len(item.Variants)
				}
			}
			mu.Lock()
			res.Generated += generated
			res.Errors += failed
			mu.Unlock()
			return nil
		})
	}
	return g.Wait()
}

// enqueue hands every asset to a job queue and waits for it to drain.
// Exhausted jobs land in the dead letter store.
func (a *app) enqueue(ctx context.Context, o pregenerateOptions, sources []thumb.Source, preset string, variants []string, res *pregenerateResult) error {
	store, err := a.deadLetters(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	q := jobs.New(a.resolver, a.cfg.JobConfig(),
		jobs.WithLogger(a.log),
		jobs.WithDeadLetters(store),
		jobs.WithRegisterer(a.registry),
	)
	if err := q.Start(ctx); err != nil {
		return err
	}

	for _, src := range sources {
		for _, variant := range append([]string{""}, variants...) {
			if o.force {
				a.dropExisting(ctx, src, preset, variant)
			}
			for {
				_, err := q.Enqueue(src, preset, variant)
				if err == nil {
					res.Queued++
					break
				}
				if !errors.Is(err, jobs.ErrQueueFull) {
					_ = q.Stop(o.wait)
					return err
				}
				select {
				case <-ctx.Done():
					_ = q.Stop(o.wait)
					return ctx.Err()
				case <-time.After(100 * time.Millisecond):
				}
			}
		}
	}

	if err := q.Stop(o.wait); err != nil {
		return err
	}
	stats := q.Stats()
	res.Generated = int(stats.Completed)
	res.Errors = int(stats.Dead)
	return nil
}

// dropExisting removes a derived asset and its cache entries so a job
// regenerates it instead of skipping.
func (a *app) dropExisting(ctx context.Context, src thumb.Source, preset, variant string) {
	loc, err := a.resolver.Locate(src, preset, variant)
	if err != nil {
		return
	}
	disk, err := a.disks.Get(loc.Config.Disk)
	if err != nil {
		return
	}
	if err := disk.Delete(ctx, loc.Path); err != nil && !errors.Is(err, thumb.ErrNotFound) {
		a.log.Warn().Err(err).Str("path", loc.Path).Msg("could not remove existing asset")
	}
	a.resolver.Lookup().Forget(ctx, loc.URLKey, loc.ExistsKey)
}
