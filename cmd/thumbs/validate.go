package main

import (
	"context"
	"time"

	"github.com/zoobzio/thumb"
	"github.com/zoobzio/thumb/config"
)

// validation is the report printed by validate.
type validation struct {
	Valid    bool     `json:"valid"`
	Issues   []string `json:"issues"`
	Presets  int      `json:"presets_count"`
	Variants int      `json:"total_variants"`
}

// validateConfig checks cfg without connecting to any disk or cache.
func validateConfig(cfg *config.Config) validation {
	v := validation{Issues: cfg.Validate()}
	for _, pc := range cfg.Presets {
		v.Presets++
		v.Variants += len(pc.Variants)
	}
	if presets, err := cfg.ThumbPresets(); err == nil {
		report := presets.Validate(nil)
		for _, issue := range report.Issues {
			if !containsString(v.Issues, issue) {
				v.Issues = append(v.Issues, issue)
			}
		}
	}
	v.Valid = len(v.Issues) == 0
	return v
}

func validateCommand() *command {
	return &command{
		name:    "validate",
		summary: "Check the configuration for unknown disks, bad sizes, and bad strategies",
		usage:   "thumbs validate",
		run: func(_ context.Context, e *env, _ []string) error {
			cfg, err := config.Load(e.configPath)
			if err != nil {
				return err
			}
			v := validateConfig(cfg)
			if e.json {
				if err := writeJSON(e.stdout, v); err != nil {
					return err
				}
			} else {
				printf(e.stdout, "%d presets, %d variants\n", v.Presets, v.Variants)
				for _, issue := range v.Issues {
					printf(e.stdout, "  - %s\n", issue)
				}
				if v.Valid {
					printf(e.stdout, "configuration is valid\n")
				}
			}
			if !v.Valid {
				return errIssues
			}
			return nil
		},
	}
}

func shardsCommand() *command {
	return &command{
		name:    "shards",
		summary: "Show the subdirectory each strategy would give a filename",
		usage:   "thumbs shards FILENAME",
		run: func(_ context.Context, e *env, args []string) error {
			if len(args) != 1 {
				return usagef("shards: exactly one filename is required")
			}
			preview := thumb.ShardPreview(args[0], time.Now)
			if e.json {
				return writeJSON(e.stdout, preview)
			}
			for _, s := range thumb.ShardStrategies {
				dir := preview[s]
				if dir == "" {
					dir = "(none)"
				}
				printf(e.stdout, "%-16s %s\n", s, dir)
			}
			return nil
		},
	}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
