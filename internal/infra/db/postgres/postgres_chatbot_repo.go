package postgres

import (
	"context"
	"fmt"
	"time"

	"chatbot-ai-pipeline/internal/domain/model"
	"chatbot-ai-pipeline/internal/domain/ports/repository"

	"github.com/jackc/pgx/v4/pgxpool"
)

var _ repository.ChatbotRepository = (*PostgresChatbotRepo)(nil)

// PostgresChatbotRepo reads the model settings of a chatbot. Rows are
// written by the tenant-facing backend; Upsert exists for seeding.
type PostgresChatbotRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresChatbotRepo(pool *pgxpool.Pool) *PostgresChatbotRepo {
	return &PostgresChatbotRepo{pool: pool}
}

func (r *PostgresChatbotRepo) FindByID(ctx context.Context, tx repository.Tx, chatbotID string) (*model.ChatbotConfig, error) {
	const sql = `
SELECT id, tenant_id, provider, model, temperature, max_tokens, system_prompt, timeout_ms
  FROM chatbots
 WHERE id = $1;`
	row, err := pickRow(ctx, r.pool, tx, sql, chatbotID)
	if err != nil {
		return nil, err
	}
	var (
		c         model.ChatbotConfig
		timeoutMs int64
	)
	if err := row.Scan(&c.ID, &c.TenantID, &c.Model.Provider, &c.Model.Model, &c.Model.Temperature,
		&c.Model.MaxTokens, &c.Model.SystemPrompt, &timeoutMs); err != nil {
		return nil, fmt.Errorf("find chatbot %s: %w", chatbotID, notFound(err))
	}
	c.Model.Timeout = time.Duration(timeoutMs) * time.Millisecond
	return &c, nil
}

func (r *PostgresChatbotRepo) Upsert(ctx context.Context, tx repository.Tx, c *model.ChatbotConfig) error {
	const sql = `
INSERT INTO chatbots (id, tenant_id, provider, model, temperature, max_tokens, system_prompt, timeout_ms, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
ON CONFLICT (id) DO UPDATE SET
  tenant_id     = EXCLUDED.tenant_id,
  provider      = EXCLUDED.provider,
  model         = EXCLUDED.model,
  temperature   = EXCLUDED.temperature,
  max_tokens    = EXCLUDED.max_tokens,
  system_prompt = EXCLUDED.system_prompt,
  timeout_ms    = EXCLUDED.timeout_ms,
  updated_at    = NOW();`
	_, err := execSQL(ctx, r.pool, tx, sql, c.ID, c.TenantID, c.Model.Provider, c.Model.Model,
		c.Model.Temperature, c.Model.MaxTokens, c.Model.SystemPrompt, c.Model.Timeout.Milliseconds())
	if err != nil {
		return fmt.Errorf("upsert chatbot: %w", err)
	}
	return nil
}
