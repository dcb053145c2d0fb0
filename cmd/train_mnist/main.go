package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/neurlang/plloggers/internal/ctxlog"
	"github.com/youta-t/flarc"
)

func main() {
	logger := ctxlog.New(os.Stderr, "info", "text")

	ctx, cancel := signal.NotifyContext(
		context.Background(), os.Interrupt, os.Kill,
	)
	defer cancel()
	ctx = ctxlog.WithLogger(ctx, logger)

	cmd, err := NewCommand()
	if err != nil {
		logger.Error("cannot build command line", "error", err)
		os.Exit(1)
	}

	os.Exit(flarc.Run(ctx, cmd, flarc.WithHelp(true)))
}
