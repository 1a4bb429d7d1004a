package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"chatbot-ai-pipeline/internal/domain/model"
	"chatbot-ai-pipeline/internal/domain/ports/repository"
	"chatbot-ai-pipeline/internal/infra/metrics"
	red "chatbot-ai-pipeline/internal/infra/redis"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
)

var _ repository.ChatbotRepository = (*chatbotRepoCacheDecorator)(nil)

// chatbotRepoCacheDecorator keeps chatbot model settings in Redis so the
// worker does not hit Postgres for every job.
type chatbotRepoCacheDecorator struct {
	inner repository.ChatbotRepository
	cache red.RedisClient
	ttl   time.Duration
	log   *zerolog.Logger
}

func NewChatbotRepoCacheDecorator(inner repository.ChatbotRepository, cache red.RedisClient, ttl time.Duration, logger *zerolog.Logger) *chatbotRepoCacheDecorator {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &chatbotRepoCacheDecorator{inner: inner, cache: cache, ttl: ttl, log: logger}
}

func chatbotKey(id string) string { return fmt.Sprintf("chatbot:%s", id) }

func (d *chatbotRepoCacheDecorator) FindByID(ctx context.Context, tx repository.Tx, chatbotID string) (*model.ChatbotConfig, error) {
	key := chatbotKey(chatbotID)
	val, err := d.cache.Get(ctx, key)
	if err == nil {
		var c model.ChatbotConfig
		if json.Unmarshal([]byte(val), &c) == nil {
			metrics.IncCacheRequest("chatbot", "hit")
			return &c, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		d.log.Warn().Err(err).Str("key", key).Msg("chatbot cache read failed")
	}

	metrics.IncCacheRequest("chatbot", "miss")
	c, err := d.inner.FindByID(ctx, tx, chatbotID)
	if err != nil {
		return nil, err
	}
	if b, err := json.Marshal(c); err == nil {
		if err := d.cache.Set(ctx, key, b, d.ttl); err != nil {
			d.log.Warn().Err(err).Str("key", key).Msg("chatbot cache write failed")
		}
	}
	return c, nil
}

// Invalidate drops the cached settings of a chatbot.
func (d *chatbotRepoCacheDecorator) Invalidate(ctx context.Context, chatbotID string) error {
	return d.cache.Del(ctx, chatbotKey(chatbotID))
}
