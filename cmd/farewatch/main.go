// Package main wires together the farewatch binary.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/skyfare/farewatch/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cli.NewRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
