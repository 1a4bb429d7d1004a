// File: cmd/seed/main.go
//
// seed writes the chatbots from the config file into Postgres and prints a
// join token for each.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"chatbot-ai-pipeline/internal/config"
	"chatbot-ai-pipeline/internal/domain/model"
	"chatbot-ai-pipeline/internal/domain/ports/repository"
	pg "chatbot-ai-pipeline/internal/infra/db/postgres"
	"chatbot-ai-pipeline/internal/infra/logging"
	"chatbot-ai-pipeline/internal/infra/realtime"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	conversation := flag.String("conversation", "seed-conversation", "conversation the printed tokens grant")
	ttl := flag.Duration("ttl", 24*time.Hour, "join token lifetime")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Database.URL == "" {
		logger.Fatal().Msg("database.url is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pg.Connect(ctx, cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()
	if err := pg.Migrate(ctx, pool, logger); err != nil {
		logger.Fatal().Err(err).Msg("migrate")
	}

	var auth *realtime.JWTAuthorizer
	if cfg.Gateway.JoinSecret != "" {
		if auth, err = realtime.NewJWTAuthorizer(cfg.Gateway.JoinSecret); err != nil {
			logger.Fatal().Err(err).Msg("authorizer")
		}
	}

	repo := pg.NewPostgresChatbotRepo(pool)
	for _, c := range cfg.Chatbots {
		bot := c.ToModel()
		if err := repo.Upsert(ctx, repository.NoTX, &bot); err != nil {
			logger.Fatal().Err(err).Str("chatbot_id", bot.ID).Msg("upsert chatbot")
		}
		logger.Info().Str("chatbot_id", bot.ID).Str("tenant_id", bot.TenantID).Msg("chatbot seeded")
		if auth == nil {
			continue
		}
		token, err := auth.Mint(model.JoinGrant{ConversationID: *conversation, ChatbotID: bot.ID, SessionID: "seed-" + bot.ID, TenantID: bot.TenantID}, *ttl)
		if err != nil {
			logger.Fatal().Err(err).Msg("mint token")
		}
		fmt.Printf("%s\t%s\n", bot.ID, token)
	}
}
