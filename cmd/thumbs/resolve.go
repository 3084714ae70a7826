package main

import (
	"context"

	"github.com/spf13/pflag"
	"github.com/zoobzio/thumb"
)

func parseMode(s string) (thumb.Mode, error) {
	switch s {
	case "":
		return thumb.ModeDefault, nil
	case "strict":
		return thumb.Strict, nil
	case "silent":
		return thumb.Silent, nil
	}
	return 0, usagef("unknown mode %q (want strict or silent)", s)
}

func resolveCommand() *command {
	var (
		preset, variant, mode, disk string
		debug                       bool
	)
	return &command{
		name:    "resolve",
		summary: "Print the URL of a derived image, generating it if needed",
		usage:   "thumbs resolve --preset NAME [--variant NAME] [disk:]path",
		flags: func(fs *pflag.FlagSet) {
			fs.StringVarP(&preset, "preset", "p", "", "preset name (required)")
			fs.StringVarP(&variant, "variant", "v", "", "variant name")
			fs.StringVar(&mode, "mode", "", "strict or silent (default: preset, then config)")
			fs.StringVar(&disk, "disk", "", "source disk when the path has no disk: prefix (default: the preset's disk)")
			fs.BoolVar(&debug, "debug", false, "print diagnostics instead of resolving")
		},
		run: func(ctx context.Context, e *env, args []string) error {
			if preset == "" || len(args) != 1 {
				return usagef("resolve: --preset and exactly one source path are required")
			}
			m, err := parseMode(mode)
			if err != nil {
				return err
			}
			a, err := openApp(ctx, e)
			if err != nil {
				return err
			}
			defer a.close()

			if disk == "" {
				p, err := a.resolver.Presets().Lookup(preset)
				if err != nil {
					return err
				}
				disk = p.Disk
			}
			req := thumb.Request{
				Source:  source(args[0], disk, a.disks),
				Preset:  preset,
				Variant: variant,
				Mode:    m,
			}

			if debug {
				info, err := a.resolver.Debug(ctx, req)
				if err != nil {
					return err
				}
				return writeJSON(e.stdout, info)
			}

			url, err := a.resolver.Resolve(ctx, req)
			if err != nil {
				return err
			}
			if e.json {
				return writeJSON(e.stdout, map[string]string{"url": url})
			}
			printf(e.stdout, "%s\n", url)
			return nil
		},
	}
}
