// Package cli implements the chatstat command line: ingest, analyze and serve.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	goflags "github.com/jessevdk/go-flags"
)

// Exit codes.
const (
	ExitOK      = 0
	ExitFailure = 1
	ExitUsage   = 2
)

type commands struct {
	Ingest  *IngestCommand
	Analyze *AnalyzeCommand
	Serve   *ServeCommand
}

// buildParser constructs the go-flags parser with all subcommands registered.
func buildParser(e *env) (*goflags.Parser, *GlobalFlags, *commands) {
	var globals GlobalFlags

	parser := goflags.NewParser(&globals, goflags.HelpFlag|goflags.PassDoubleDash)
	parser.Name = "chatstat"
	parser.LongDescription = "Collects a Telegram chat's history into SQLite and computes activity statistics."

	cmds := &commands{
		Ingest:  &IngestCommand{globals: &globals, env: e},
		Analyze: &AnalyzeCommand{globals: &globals, env: e},
		Serve:   &ServeCommand{globals: &globals, env: e},
	}

	parser.AddCommand("ingest", "Import a chat export", "Import a Telegram Desktop export into the chat's database. Re-running only adds new messages.", cmds.Ingest)
	parser.AddCommand("analyze", "Compute chat statistics", "Compute global and per-member statistics for an optional inclusive date range.", cmds.Analyze)
	parser.AddCommand("serve", "Run the Telegram bot", "Run the bot: record the tracked chat live, answer /stats, run scheduled tasks.", cmds.Serve)

	return parser, &globals, cmds
}

// Run parses args, executes the matched subcommand and returns the process
// exit code.
func Run(ctx context.Context, args []string) int {
	return run(ctx, args, os.Stdout, os.Stderr)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	parser, _, _ := buildParser(&env{ctx: ctx, stdout: stdout})

	if _, err := parser.ParseArgs(args); err != nil {
		var flagsErr *goflags.Error
		if errors.As(err, &flagsErr) {
			if flagsErr.Type == goflags.ErrHelp {
				fmt.Fprintln(stdout, flagsErr.Message)
				return ExitOK
			}
			fmt.Fprintln(stderr, flagsErr.Message)
			return ExitUsage
		}
		fmt.Fprintf(stderr, "chatstat: %v\n", err)
		if errors.Is(err, errUsage) {
			return ExitUsage
		}
		return ExitFailure
	}
	return ExitOK
}
