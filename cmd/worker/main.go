// File: cmd/worker/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"chatbot-ai-pipeline/internal/application"
	"chatbot-ai-pipeline/internal/config"
	"chatbot-ai-pipeline/internal/infra/logging"
	"chatbot-ai-pipeline/internal/infra/metrics"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	metrics.MustRegister()
	metrics.SetBuildInfo("worker", version, commit)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backends, err := application.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("backends")
	}
	defer backends.Close()

	w, err := application.NewWorker(ctx, cfg, backends, nil, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker")
	}
	logger.Info().Str("version", version).Bool("dev", cfg.Runtime.Dev).Msg("worker starting")
	if err := w.Run(ctx, true); err != nil {
		logger.Error().Err(err).Msg("worker stopped")
	}
	logger.Info().Msg("worker shut down")
}
