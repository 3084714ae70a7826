// Command thumbs resolves, pregenerates, and maintains derived images.
//
// Usage:
//
//	thumbs resolve --preset news public:uploads/cat.jpg
//	thumbs pregenerate --preset gallery --disk public --dir uploads/ --async
//	thumbs purge --preset news --confirm
//	thumbs stats
//	thumbs dead-letters list
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
	}
	os.Exit(exitCode(err))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	e := &env{stdout: stdout, stderr: stderr}
	return root().execute(ctx, e, args)
}

func root() *command {
	return &command{
		name:    "thumbs",
		summary: "Derive, cache, and maintain thumbnail images.",
		usage:   "thumbs <command> [flags]",
		subcommands: []*command{
			resolveCommand(),
			pregenerateCommand(),
			purgeCommand(),
			statsCommand(),
			duplicatesCommand(),
			optimizeCommand(),
			validateCommand(),
			shardsCommand(),
			deadLettersCommand(),
		},
	}
}
