package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/pflag"
)

// errUsage marks errors caused by how the command was invoked.
var errUsage = errors.New("usage")

func usagef(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errUsage, fmt.Sprintf(format, args...))
}

// command is one node of the CLI tree.
type command struct {
	name        string
	summary     string
	usage       string
	flags       func(fs *pflag.FlagSet)
	run         func(ctx context.Context, env *env, args []string) error
	subcommands []*command
}

// env carries what every command shares: output streams and global flags.
type env struct {
	stdout     io.Writer
	stderr     io.Writer
	configPath string
	json       bool
	fs         *pflag.FlagSet
}

func (c *command) execute(ctx context.Context, e *env, args []string) error {
	if len(args) > 0 && isHelp(args[0]) {
		c.printHelp(e.stdout)
		return nil
	}

	if len(c.subcommands) > 0 {
		if len(args) == 0 || strings.HasPrefix(args[0], "-") {
			c.printHelp(e.stderr)
			return usagef("%s: subcommand required", c.name)
		}
		for _, sub := range c.subcommands {
			if sub.name == args[0] {
				return sub.execute(ctx, e, args[1:])
			}
		}
		return usagef("unknown command %q", args[0])
	}

	fs := pflag.NewFlagSet(c.name, pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVarP(&e.configPath, "config", "c", e.configPath, "path to thumbs.yaml (default $THUMB_CONFIG or ./thumbs.yaml)")
	fs.BoolVar(&e.json, "json", false, "print machine-readable JSON")
	if c.flags != nil {
		c.flags(fs)
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			c.printHelp(e.stdout)
			return nil
		}
		return usagef("%s: %v", c.name, err)
	}
	e.fs = fs
	return c.run(ctx, e, fs.Args())
}

func (c *command) printHelp(w io.Writer) {
	if c.usage != "" {
		fmt.Fprintf(w, "Usage: %s\n\n", c.usage)
	}
	if c.summary != "" {
		fmt.Fprintf(w, "%s\n", c.summary)
	}
	if len(c.subcommands) > 0 {
		fmt.Fprintln(w, "\nCommands:")
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		for _, sub := range c.subcommands {
			fmt.Fprintf(tw, "  %s\t%s\n", sub.name, sub.summary)
		}
		_ = tw.Flush()
		return
	}
	fs := pflag.NewFlagSet(c.name, pflag.ContinueOnError)
	fs.StringP("config", "c", "", "path to thumbs.yaml")
	fs.Bool("json", false, "print machine-readable JSON")
	if c.flags != nil {
		c.flags(fs)
	}
	fmt.Fprintf(w, "\nFlags:\n%s", fs.FlagUsages())
}

func isHelp(arg string) bool {
	return arg == "-h" || arg == "--help" || arg == "help"
}
