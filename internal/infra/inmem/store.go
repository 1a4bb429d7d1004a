package inmem

import (
	"context"
	"sort"
	"sync"
	"time"

	"chatbot-ai-pipeline/internal/domain"
	"chatbot-ai-pipeline/internal/domain/model"
	"chatbot-ai-pipeline/internal/domain/ports/repository"
)

var (
	_ repository.ChatbotRepository      = (*Chatbots)(nil)
	_ repository.AIJobRepository        = (*JobArchive)(nil)
	_ repository.UsageMetricsRepository = (*UsageMetrics)(nil)
	_ repository.ResultCache            = (*ResultCache)(nil)
)

// Chatbots is a fixed chatbot table.
type Chatbots struct {
	mu   sync.RWMutex
	bots map[string]model.ChatbotConfig
}

func NewChatbots(bots ...model.ChatbotConfig) *Chatbots {
	c := &Chatbots{bots: map[string]model.ChatbotConfig{}}
	for _, b := range bots {
		c.bots[b.ID] = b
	}
	return c
}

func (c *Chatbots) Put(b model.ChatbotConfig) {
	c.mu.Lock()
	c.bots[b.ID] = b
	c.mu.Unlock()
}

func (c *Chatbots) FindByID(ctx context.Context, tx repository.Tx, chatbotID string) (*model.ChatbotConfig, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.bots[chatbotID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &b, nil
}

// JobArchive keeps terminal jobs in memory.
type JobArchive struct {
	mu   sync.Mutex
	jobs map[string]model.AIJob
}

func NewJobArchive() *JobArchive { return &JobArchive{jobs: map[string]model.AIJob{}} }

func (a *JobArchive) Save(ctx context.Context, tx repository.Tx, job *model.AIJob) error {
	a.mu.Lock()
	a.jobs[job.ID] = *job
	a.mu.Unlock()
	return nil
}

func (a *JobArchive) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.AIJob, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	j, ok := a.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &j, nil
}

func (a *JobArchive) ListByConversation(ctx context.Context, tx repository.Tx, conversationID string, limit int) ([]*model.AIJob, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []*model.AIJob
	for _, j := range a.jobs {
		if j.ConversationID == conversationID {
			j := j
			out = append(out, &j)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.After(out[k].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (a *JobArchive) DeleteOlderThan(ctx context.Context, tx repository.Tx, before time.Time) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var n int64
	for id, j := range a.jobs {
		if j.CreatedAt.Before(before) {
			delete(a.jobs, id)
			n++
		}
	}
	return n, nil
}

// UsageMetrics buckets samples per hour, like the postgres table.
type UsageMetrics struct {
	mu      sync.Mutex
	buckets map[string]*usageBucket
}

type usageBucket struct {
	m          model.UsageMetrics
	latencySum float64
	cacheHits  int64
}

func NewUsageMetrics() *UsageMetrics { return &UsageMetrics{buckets: map[string]*usageBucket{}} }

func (u *UsageMetrics) Record(ctx context.Context, tx repository.Tx, s repository.UsageSample) error {
	period := s.At.UTC().Truncate(time.Hour)
	k := s.TenantID + "|" + s.Provider + "|" + s.Model + "|" + period.Format(time.RFC3339)
	u.mu.Lock()
	defer u.mu.Unlock()
	b, ok := u.buckets[k]
	if !ok {
		b = &usageBucket{m: model.UsageMetrics{TenantID: s.TenantID, Provider: s.Provider, Model: s.Model, Period: period}}
		u.buckets[k] = b
	}
	t := &b.m.Totals
	t.TotalRequests++
	if s.Success {
		t.SuccessfulRequests++
	} else {
		t.FailedRequests++
	}
	t.InputTokens += s.InputTokens
	t.OutputTokens += s.OutputTokens
	t.TotalTokens += s.InputTokens + s.OutputTokens
	t.TotalCost += s.Cost
	b.latencySum += float64(s.Latency.Milliseconds())
	if s.CacheHit {
		b.cacheHits++
	}
	t.AverageLatency = b.latencySum / float64(t.TotalRequests)
	t.CacheHitRate = float64(b.cacheHits) / float64(t.TotalRequests)
	return nil
}

func (u *UsageMetrics) List(ctx context.Context, tx repository.Tx, tenantID string, from, to time.Time) ([]model.UsageMetrics, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	var out []model.UsageMetrics
	for _, b := range u.buckets {
		if b.m.TenantID == tenantID && !b.m.Period.Before(from.Truncate(time.Hour)) && !b.m.Period.After(to) {
			out = append(out, b.m)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Period.Before(out[k].Period) })
	return out, nil
}

// ResultCache is a map with per-entry expiry.
type ResultCache struct {
	mu   sync.Mutex
	ttl  time.Duration
	data map[string]cached
}

type cached struct {
	r       model.JobResult
	expires time.Time
}

func NewResultCache(ttl time.Duration) *ResultCache {
	return &ResultCache{ttl: ttl, data: map[string]cached{}}
}

func (c *ResultCache) Get(ctx context.Context, key string) (*model.JobResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	if !ok || time.Now().After(v.expires) {
		return nil, domain.ErrNotFound
	}
	r := v.r
	return &r, nil
}

func (c *ResultCache) Set(ctx context.Context, key string, r *model.JobResult) error {
	c.mu.Lock()
	c.data[key] = cached{r: *r, expires: time.Now().Add(c.ttl)}
	c.mu.Unlock()
	return nil
}
