// File: cmd/gateway/main.go
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
	metrics.SetBuildInfo("gateway", version, commit)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backends, err := application.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("backends")
	}
	defer backends.Close()

	gw, err := application.NewGateway(cfg, backends, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("gateway")
	}
	if err := gw.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("gateway stopped")
	}
	logger.Info().Msg("gateway shut down")
}
