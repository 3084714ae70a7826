package main

import (
	"context"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"
	"github.com/zoobzio/thumb"
	"github.com/zoobzio/thumb/jobs"
)

func deadLettersCommand() *command {
	return &command{
		name:    "dead-letters",
		summary: "Inspect, retry, or discard jobs that failed permanently",
		usage:   "thumbs dead-letters <list|retry|delete> [flags]",
		subcommands: []*command{
			deadLetterList(),
			deadLetterRetry(),
			deadLetterDelete(),
		},
	}
}

func deadLetterList() *command {
	var (
		preset string
		limit  int
	)
	return &command{
		name:    "list",
		summary: "List dead letters, newest first",
		usage:   "thumbs dead-letters list [--preset NAME] [--limit N]",
		flags: func(fs *pflag.FlagSet) {
			fs.StringVarP(&preset, "preset", "p", "", "only this preset")
			fs.IntVar(&limit, "limit", 50, "maximum rows")
		},
		run: func(ctx context.Context, e *env, _ []string) error {
			a, err := openApp(ctx, e)
			if err != nil {
				return err
			}
			defer a.close()
			store, err := a.deadLetters(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			letters, err := store.List(ctx, preset, limit)
			if err != nil {
				return err
			}
			if e.json {
				return writeJSON(e.stdout, letters)
			}
			if len(letters) == 0 {
				printf(e.stdout, "no dead letters\n")
				return nil
			}
			tw := tabwriter.NewWriter(e.stdout, 0, 4, 2, ' ', 0)
			printf(tw, "ID\tPRESET\tVARIANT\tSOURCE\tKIND\tATTEMPTS\tFAILED\n")
			for _, dl := range letters {
				printf(tw, "%s\t%s\t%s\t%s:%s\t%s\t%d\t%s\n",
					dl.ID, dl.Preset, dl.Variant, dl.Source.Disk, dl.Source.Path, dl.Kind, dl.Attempts, humanize.Time(dl.FailedAt))
			}
			return tw.Flush()
		},
	}
}

func deadLetterRetry() *command {
	var (
		preset string
		all    bool
	)
	return &command{
		name:    "retry",
		summary: "Generate dead-lettered assets again; successes are removed from the store",
		usage:   "thumbs dead-letters retry (ID... | --all [--preset NAME])",
		flags: func(fs *pflag.FlagSet) {
			fs.BoolVar(&all, "all", false, "retry every dead letter")
			fs.StringVarP(&preset, "preset", "p", "", "with --all, only this preset")
		},
		run: func(ctx context.Context, e *env, args []string) error {
			if all == (len(args) > 0) {
				return usagef("dead-letters retry: pass job IDs or --all")
			}
			a, err := openApp(ctx, e)
			if err != nil {
				return err
			}
			defer a.close()
			store, err := a.deadLetters(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			var letters []jobs.DeadLetter
			if all {
				if letters, err = store.List(ctx, preset, 0); err != nil {
					return err
				}
			}
			for _, id := range args {
				dl, err := store.Get(ctx, id)
				if err != nil {
					return err
				}
				letters = append(letters, dl)
			}

			var recovered, failed int
			for _, dl := range letters {
				url, err := a.resolver.Generate(ctx, dl.Source, dl.Preset, dl.Variant)
				if err != nil {
					failed++
					dl.Attempts++
					dl.Kind = thumb.KindOf(err)
					dl.Error = err.Error()
					if err := store.Record(ctx, dl); err != nil {
						a.log.Warn().Err(err).Str("job", dl.ID).Msg("could not update dead letter")
					}
					a.log.Warn().Err(err).Str("job", dl.ID).Msg("retry failed")
					continue
				}
				recovered++
				if err := store.Delete(ctx, dl.ID); err != nil {
					a.log.Warn().Err(err).Str("job", dl.ID).Msg("could not remove dead letter")
				}
				a.log.Info().Str("job", dl.ID).Str("url", url).Msg("dead letter recovered")
			}

			if e.json {
				return writeJSON(e.stdout, map[string]int{"recovered": recovered, "failed": failed})
			}
			printf(e.stdout, "recovered %d, still failing %d\n", recovered, failed)
			return nil
		},
	}
}

func deadLetterDelete() *command {
	return &command{
		name:    "delete",
		summary: "Discard dead letters",
		usage:   "thumbs dead-letters delete ID...",
		run: func(ctx context.Context, e *env, args []string) error {
			if len(args) == 0 {
				return usagef("dead-letters delete: at least one job ID is required")
			}
			a, err := openApp(ctx, e)
			if err != nil {
				return err
			}
			defer a.close()
			store, err := a.deadLetters(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			for _, id := range args {
				if err := store.Delete(ctx, id); err != nil {
					return err
				}
			}
			printf(e.stdout, "deleted %d\n", len(args))
			return nil
		},
	}
}
