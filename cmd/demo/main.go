// File: cmd/demo/main.go
//
// demo runs the gateway and the worker in one process over in-memory
// backends with the echo provider, and prints a join token for a demo
// conversation.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chatbot-ai-pipeline/internal/application"
	"chatbot-ai-pipeline/internal/config"
	"chatbot-ai-pipeline/internal/domain/model"
	"chatbot-ai-pipeline/internal/infra/logging"
)

func main() {
	port := flag.Int("port", 8080, "gateway port")
	conversation := flag.String("conversation", "demo-conversation", "conversation to mint a token for")
	flag.Parse()

	cfg := config.Default(true)
	cfg.Log.Format = "console"
	cfg.Gateway.Port = *port
	cfg.AI.DefaultProvider = model.ProviderEcho
	cfg.Chatbots = []config.StaticChatbot{{ID: "demo-bot", TenantID: "demo-tenant", Provider: model.ProviderEcho, Model: "echo"}}
	logger := logging.New(cfg.Log, true)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backends := application.InMemory(cfg)
	defer backends.Close()

	w, err := application.NewWorker(ctx, cfg, backends, nil, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker")
	}
	gw, err := application.NewGateway(cfg, backends, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("gateway")
	}
	token, err := gw.Authorizer().Mint(model.JoinGrant{
		ConversationID: *conversation,
		ChatbotID:      "demo-bot",
		SessionID:      "demo-session",
		TenantID:       "demo-tenant",
	}, 24*time.Hour)
	if err != nil {
		logger.Fatal().Err(err).Msg("mint token")
	}
	fmt.Fprintf(os.Stdout, "ws://localhost:%d/ws\njoin: {\"event\":\"join:conversation\",\"data\":{\"conversationId\":%q,\"token\":%q}}\n", *port, *conversation, token)

	go func() {
		if err := w.Run(ctx, false); err != nil {
			logger.Error().Err(err).Msg("worker stopped")
		}
	}()
	if err := gw.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("gateway stopped")
	}
}
