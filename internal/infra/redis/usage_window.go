package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"chatbot-ai-pipeline/internal/domain/model"
	"chatbot-ai-pipeline/internal/domain/ports/repository"

	"github.com/go-redis/redis/v8"
)

var _ repository.UsageWindowRepository = (*UsageWindowRepo)(nil)

// UsageWindowRepo keeps one hash per tenant and scope:
// rate_window:<tenant>:<scope> -> {requests, tokens, cost, reset_at}.
type UsageWindowRepo struct {
	cli *redis.Client
	now func() time.Time
}

func NewUsageWindowRepo(c *Client) *UsageWindowRepo {
	return &UsageWindowRepo{cli: c.cli, now: time.Now}
}

func windowKey(tenantID, scope string) string {
	return fmt.Sprintf("rate_window:%s:%s", tenantID, scope)
}

func (r *UsageWindowRepo) Window(ctx context.Context, tenantID, scope string) (*model.RateLimitWindow, error) {
	vals, err := r.cli.HGetAll(ctx, windowKey(tenantID, scope)).Result()
	if errors.Is(err, redis.Nil) || (err == nil && len(vals) == 0) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	w := &model.RateLimitWindow{}
	w.Requests, _ = strconv.ParseInt(vals["requests"], 10, 64)
	w.Tokens, _ = strconv.ParseInt(vals["tokens"], 10, 64)
	w.Cost, _ = strconv.ParseInt(vals["cost"], 10, 64)
	resetMs, _ := strconv.ParseInt(vals["reset_at"], 10, 64)
	w.ResetAt = time.UnixMilli(resetMs)
	return w, nil
}

// KEYS: window. ARGV: now ms, size ms, requests, tokens, cost.
// An expired window is replaced here, on write; reads never clear it.
var luaAddUsage = redis.NewScript(`
local reset = tonumber(redis.call("HGET", KEYS[1], "reset_at") or "0")
local now = tonumber(ARGV[1])
if reset < now then
	reset = now + tonumber(ARGV[2])
	redis.call("HSET", KEYS[1], "requests", 0, "tokens", 0, "cost", 0, "reset_at", reset)
end
redis.call("HINCRBY", KEYS[1], "requests", ARGV[3])
redis.call("HINCRBY", KEYS[1], "tokens", ARGV[4])
redis.call("HINCRBY", KEYS[1], "cost", ARGV[5])
redis.call("PEXPIREAT", KEYS[1], reset + tonumber(ARGV[2]))
return reset`)

func (r *UsageWindowRepo) Add(ctx context.Context, tenantID, scope string, size time.Duration, requests, tokens, cost int64) error {
	return luaAddUsage.Run(ctx, r.cli, []string{windowKey(tenantID, scope)},
		r.now().UnixMilli(), size.Milliseconds(), requests, tokens, cost).Err()
}
