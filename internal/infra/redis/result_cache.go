package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"chatbot-ai-pipeline/internal/domain"
	"chatbot-ai-pipeline/internal/domain/model"
	"chatbot-ai-pipeline/internal/domain/ports/repository"

	"github.com/cespare/xxhash/v2"
	"github.com/go-redis/redis/v8"
)

var _ repository.ResultCache = (*ResultCache)(nil)

// ResultCache stores analysis results so identical content is not sent to a
// provider twice within ttl.
type ResultCache struct {
	client RedisClient
	ttl    time.Duration
}

func NewResultCache(client RedisClient, ttl time.Duration) *ResultCache {
	return &ResultCache{client: client, ttl: ttl}
}

func (c *ResultCache) Get(ctx context.Context, key string) (*model.JobResult, error) {
	data, err := c.client.Get(ctx, key)
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var r model.JobResult
	if err := json.Unmarshal([]byte(data), &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *ResultCache) Set(ctx context.Context, key string, r *model.JobResult) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, data, c.ttl)
}

// ResultCacheKey identifies a result by tenant, job type and model settings,
// plus a hash over the whole encoded payload and the system prompt. Any
// payload field that shapes the prompt therefore changes the key.
func ResultCacheKey(tenantID string, t model.JobType, cfg model.ModelConfig, payload model.JobPayload) string {
	h := xxhash.New()
	if b, err := json.Marshal(payload); err == nil {
		_, _ = h.Write(b)
	} else {
		_, _ = h.WriteString(payload.Text())
	}
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(cfg.SystemPrompt)
	return fmt.Sprintf("ai_cache:%s:%s:%s_%s_%d:%016x",
		tenantID, t, cfg.Model, strconv.FormatFloat(cfg.Temperature, 'f', -1, 64), cfg.MaxTokens, h.Sum64())
}
