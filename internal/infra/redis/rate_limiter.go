package redis

import (
	"context"
	"fmt"
	"time"
)

// RateLimiter is a fixed-window INCR counter. The gateway uses it to
// throttle message:send per visitor session.
type RateLimiter struct {
	client RedisClient
}

func NewRateLimiter(client RedisClient) *RateLimiter {
	return &RateLimiter{client: client}
}

func (r *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 {
		return true, nil
	}
	count, err := r.client.Incr(ctx, key)
	if err != nil {
		return false, err
	}

	if count == 1 {
		err = r.client.Expire(ctx, key, window)
		if err != nil {
			return false, err
		}
	}

	if count > int64(limit) {
		return false, nil
	}

	return true, nil
}

// AllowSend throttles message:send for one visitor session.
func (r *RateLimiter) AllowSend(ctx context.Context, sessionID string, limit int, window time.Duration) (bool, error) {
	return r.Allow(ctx, SessionSendKey(sessionID), limit, window)
}

func SessionSendKey(sessionID string) string {
	return fmt.Sprintf("rate_limit:send:%s", sessionID)
}
