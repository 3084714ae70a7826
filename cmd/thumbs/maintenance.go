package main

import (
	"context"
	"sort"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"
	"github.com/zoobzio/thumb"
)

func humanBytes(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.Bytes(uint64(n))
}

func purgeCommand() *command {
	var (
		preset         string
		all, confirmed bool
	)
	return &command{
		name:    "purge",
		summary: "Delete derived images for a preset, or for every preset",
		usage:   "thumbs purge (--preset NAME | --all) --confirm",
		flags: func(fs *pflag.FlagSet) {
			fs.StringVarP(&preset, "preset", "p", "", "preset to purge")
			fs.BoolVar(&all, "all", false, "purge every preset and flush the cache")
			fs.BoolVar(&confirmed, "confirm", false, "actually delete")
		},
		run: func(ctx context.Context, e *env, _ []string) error {
			if (preset == "") == !all {
				return usagef("purge: exactly one of --preset or --all is required")
			}
			if !confirmed {
				return usagef("purge: refusing to delete derived images without --confirm")
			}
			a, err := openApp(ctx, e)
			if err != nil {
				return err
			}
			defer a.close()

			m := a.maintainer()
			var n int
			if all {
				n = m.PurgeAll(ctx)
			} else if n, err = m.Purge(ctx, preset); err != nil {
				return err
			}
			if e.json {
				return writeJSON(e.stdout, map[string]int{"purged": n})
			}
			printf(e.stdout, "purged %s derived images\n", humanize.Comma(int64(n)))
			return nil
		},
	}
}

func statsCommand() *command {
	var preset string
	return &command{
		name:    "stats",
		summary: "Report how derived images are distributed across directories and disks",
		usage:   "thumbs stats [--preset NAME]",
		flags: func(fs *pflag.FlagSet) {
			fs.StringVarP(&preset, "preset", "p", "", "analyze one preset in detail")
		},
		run: func(ctx context.Context, e *env, _ []string) error {
			a, err := openApp(ctx, e)
			if err != nil {
				return err
			}
			defer a.close()
			m := a.maintainer()

			if preset != "" {
				dist, err := m.AnalyzeDistribution(ctx, preset)
				if err != nil {
					return err
				}
				if e.json {
					return writeJSON(e.stdout, dist)
				}
				printDistribution(e, dist)
				return nil
			}

			stats := m.SystemStats(ctx)
			if e.json {
				return writeJSON(e.stdout, stats)
			}
			tw := tabwriter.NewWriter(e.stdout, 0, 4, 2, ' ', 0)
			printf(tw, "PRESET\tFILES\tSIZE\tDIRS\tSTRATEGY\n")
			for _, name := range sortedNames(stats.Presets) {
				d := stats.Presets[name]
				printf(tw, "%s\t%s\t%s\t%d\t%s\n", name, humanize.Comma(int64(d.TotalFiles)), humanBytes(d.TotalBytes), d.Directories, d.Strategy)
			}
			_ = tw.Flush()
			printf(e.stdout, "\n")
			tw = tabwriter.NewWriter(e.stdout, 0, 4, 2, ' ', 0)
			printf(tw, "DISK\tFILES\tSIZE\n")
			for _, name := range sortedNames(stats.Disks) {
				du := stats.Disks[name]
				printf(tw, "%s\t%s\t%s\n", name, humanize.Comma(int64(du.Files)), humanBytes(du.Bytes))
			}
			_ = tw.Flush()
			printf(e.stdout, "\ntotal: %s files, %s\n", humanize.Comma(int64(stats.TotalFiles)), humanBytes(stats.TotalBytes))
			return nil
		},
	}
}

func printDistribution(e *env, d thumb.Distribution) {
	printf(e.stdout, "preset:    %s\n", d.Preset)
	printf(e.stdout, "strategy:  %s\n", d.Strategy)
	printf(e.stdout, "files:     %s (%s)\n", humanize.Comma(int64(d.TotalFiles)), humanBytes(d.TotalBytes))
	printf(e.stdout, "dirs:      %d (%.1f files each)\n", d.Directories, d.AveragePerDirectory)

	if len(d.ByFormat) > 0 {
		printf(e.stdout, "\n")
		tw := tabwriter.NewWriter(e.stdout, 0, 4, 2, ' ', 0)
		printf(tw, "FORMAT\tFILES\tSIZE\n")
		for _, f := range sortedNames(d.ByFormat) {
			u := d.ByFormat[f]
			printf(tw, "%s\t%d\t%s\n", f, u.Files, humanBytes(u.Bytes))
		}
		_ = tw.Flush()
	}
	if len(d.Largest) > 0 {
		printf(e.stdout, "\n")
		tw := tabwriter.NewWriter(e.stdout, 0, 4, 2, ' ', 0)
		printf(tw, "DIRECTORY\tFILES\tSIZE\n")
		for _, du := range d.Largest {
			printf(tw, "%s\t%d\t%s\n", du.Directory, du.Files, humanBytes(du.Bytes))
		}
		_ = tw.Flush()
	}
}

func duplicatesCommand() *command {
	var preset string
	return &command{
		name:    "duplicates",
		summary: "List derived images whose content duplicates another",
		usage:   "thumbs duplicates [--preset NAME]",
		flags: func(fs *pflag.FlagSet) {
			fs.StringVarP(&preset, "preset", "p", "", "preset to scan (default: all presets)")
		},
		run: func(ctx context.Context, e *env, _ []string) error {
			a, err := openApp(ctx, e)
			if err != nil {
				return err
			}
			defer a.close()
			m := a.maintainer()

			names := a.resolver.Presets().Names()
			if preset != "" {
				names = []string{preset}
			}
			found := make(map[string][]thumb.ObjectInfo, len(names))
			var total int64
			for _, name := range names {
				dups, err := m.FindDuplicates(ctx, name)
				if err != nil {
					return err
				}
				if len(dups) == 0 {
					continue
				}
				found[name] = dups
				for _, d := range dups {
					total += d.Size
				}
			}

			if e.json {
				return writeJSON(e.stdout, found)
			}
			if len(found) == 0 {
				printf(e.stdout, "no duplicates\n")
				return nil
			}
			tw := tabwriter.NewWriter(e.stdout, 0, 4, 2, ' ', 0)
			printf(tw, "PRESET\tKEY\tSIZE\n")
			for _, name := range sortedNames(found) {
				for _, d := range found[name] {
					printf(tw, "%s\t%s\t%s\n", name, d.Key, humanBytes(d.Size))
				}
			}
			_ = tw.Flush()
			printf(e.stdout, "\n%s reclaimable\n", humanBytes(total))
			return nil
		},
	}
}

func optimizeCommand() *command {
	return &command{
		name:    "optimize",
		summary: "Remove duplicate derived images and empty directories",
		usage:   "thumbs optimize",
		run: func(ctx context.Context, e *env, _ []string) error {
			a, err := openApp(ctx, e)
			if err != nil {
				return err
			}
			defer a.close()

			res := a.maintainer().Optimize(ctx)
			if e.json {
				return writeJSON(e.stdout, res)
			}
			printf(e.stdout, "removed %d duplicates and %d empty directories, freed %s\n",
				res.DuplicatesRemoved, res.EmptyDirsRemoved, humanBytes(res.BytesFreed))
			return nil
		},
	}
}

func sortedNames[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
