// Package main contains the entrypoint for the chatstat command.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/edgard/chatstat/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	exitCode := cli.Run(ctx, os.Args[1:])
	stop()
	os.Exit(exitCode)
}
