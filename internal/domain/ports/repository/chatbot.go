package repository

import (
	"context"

	"chatbot-ai-pipeline/internal/domain/model"
)

// ChatbotRepository resolves the model configuration of a chatbot.
// Chatbot CRUD lives outside this service; the pipeline only reads.
type ChatbotRepository interface {
	FindByID(ctx context.Context, tx Tx, chatbotID string) (*model.ChatbotConfig, error)
}

// ResultCache stores analysis results keyed by content.
type ResultCache interface {
	Get(ctx context.Context, key string) (*model.JobResult, error)
	Set(ctx context.Context, key string, r *model.JobResult) error
}
