// Command tradeflow is the process entry point: it loads configuration,
// sets up logging, and runs either the live reactive pipeline or the
// deterministic backtest harness, selected by flag.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alejandrodnm/tradeflow/internal/config"
	"github.com/alejandrodnm/tradeflow/internal/logging"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	backtest := flag.Bool("backtest", false, "run the deterministic backtest harness instead of the live engine")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}
	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	log := logging.Setup(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})

	log.Info("tradeflow starting", "config", *configPath, "backtest", *backtest, "account", cfg.Account.ID)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *backtest {
		runBacktestCmd(ctx, cfg, log)
		return
	}

	runLive(ctx, cfg, log)
}
