package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/alejandrodnm/tradeflow/internal/config"
	"github.com/alejandrodnm/tradeflow/internal/engine"
)

// runLive builds the engine from cfg and runs it until ctx is canceled
// (SIGINT/SIGTERM), then drains and stops cleanly.
func runLive(ctx context.Context, cfg *config.Config, log *slog.Logger) {
	eng, err := engine.New(cfg, log)
	if err != nil {
		log.Error("failed to build engine", "err", err)
		os.Exit(1)
	}

	if err := eng.Start(ctx); err != nil {
		log.Error("failed to start engine", "err", err)
		os.Exit(1)
	}

	log.Info("tradeflow running — press Ctrl+C to stop")
	<-ctx.Done()

	log.Info("shutting down")
	eng.Stop()
	log.Info("tradeflow stopped cleanly")
}
