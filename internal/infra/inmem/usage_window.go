package inmem

import (
	"context"
	"sync"
	"time"

	"chatbot-ai-pipeline/internal/domain/model"
	"chatbot-ai-pipeline/internal/domain/ports/repository"
)

var _ repository.UsageWindowRepository = (*UsageWindows)(nil)

type UsageWindows struct {
	mu   sync.Mutex
	data map[string]model.RateLimitWindow
	now  func() time.Time
}

func NewUsageWindows() *UsageWindows {
	return &UsageWindows{data: map[string]model.RateLimitWindow{}, now: time.Now}
}

func (u *UsageWindows) Window(ctx context.Context, tenantID, scope string) (*model.RateLimitWindow, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	w, ok := u.data[tenantID+":"+scope]
	if !ok {
		return nil, nil
	}
	return &w, nil
}

func (u *UsageWindows) Add(ctx context.Context, tenantID, scope string, size time.Duration, requests, tokens, cost int64) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	k := tenantID + ":" + scope
	w, ok := u.data[k]
	now := u.now()
	if !ok || w.Expired(now) {
		w = model.RateLimitWindow{ResetAt: now.Add(size)}
	}
	w.Requests += requests
	w.Tokens += tokens
	w.Cost += cost
	u.data[k] = w
	return nil
}

// Set overwrites a window; used to seed counters.
func (u *UsageWindows) Set(tenantID, scope string, w model.RateLimitWindow) {
	u.mu.Lock()
	u.data[tenantID+":"+scope] = w
	u.mu.Unlock()
}
