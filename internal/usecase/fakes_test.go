//go:build !integration

package usecase_test

import (
	"context"
	"sort"
	"sync"
	"time"

	"chatbot-ai-pipeline/internal/domain"
	"chatbot-ai-pipeline/internal/domain/model"
	"chatbot-ai-pipeline/internal/domain/ports/adapter"
	"chatbot-ai-pipeline/internal/domain/ports/repository"

	"github.com/rs/zerolog"
)

func newTestLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

// ---- usage windows ----

type memWindows struct {
	mu   sync.Mutex
	now  func() time.Time
	data map[string]*model.RateLimitWindow

	WindowErr error
}

func newMemWindows(now func() time.Time) *memWindows {
	return &memWindows{now: now, data: map[string]*model.RateLimitWindow{}}
}

func (m *memWindows) Window(ctx context.Context, tenantID, scope string) (*model.RateLimitWindow, error) {
	if m.WindowErr != nil {
		return nil, m.WindowErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.data[tenantID+":"+scope]
	if !ok {
		return nil, nil
	}
	cp := *w
	return &cp, nil
}

func (m *memWindows) Add(ctx context.Context, tenantID, scope string, size time.Duration, requests, tokens, cost int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := tenantID + ":" + scope
	w, ok := m.data[k]
	if !ok || w.Expired(m.now()) {
		w = &model.RateLimitWindow{ResetAt: m.now().Add(size)}
		m.data[k] = w
	}
	w.Requests += requests
	w.Tokens += tokens
	w.Cost += cost
	return nil
}

func (m *memWindows) set(tenantID, scope string, w model.RateLimitWindow) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[tenantID+":"+scope] = &w
}

// ---- queue ----

type enqueued struct {
	Queue string
	Job   *model.AIJob
	Delay time.Duration
}

type MockQueue struct {
	mu       sync.Mutex
	Enqueued []enqueued

	EnqueueFunc func(ctx context.Context, queue string, job *model.AIJob, delay time.Duration) error
}

var _ repository.JobQueue = (*MockQueue)(nil)

func (q *MockQueue) Enqueue(ctx context.Context, queue string, job *model.AIJob, delay time.Duration) error {
	if q.EnqueueFunc != nil {
		return q.EnqueueFunc(ctx, queue, job, delay)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.Enqueued = append(q.Enqueued, enqueued{Queue: queue, Job: job, Delay: delay})
	return nil
}

func (q *MockQueue) Claim(ctx context.Context, queue string, lease time.Duration) (*model.AIJob, error) {
	return nil, domain.ErrNotFound
}
func (q *MockQueue) Complete(ctx context.Context, queue string, job *model.AIJob) error { return nil }
func (q *MockQueue) Fail(ctx context.Context, queue string, job *model.AIJob) error     { return nil }
func (q *MockQueue) Retry(ctx context.Context, queue string, job *model.AIJob, delay time.Duration) error {
	return nil
}
func (q *MockQueue) PromoteDue(ctx context.Context, queue string) (int, error)     { return 0, nil }
func (q *MockQueue) RequeueExpired(ctx context.Context, queue string) (int, error) { return 0, nil }
func (q *MockQueue) Stats(ctx context.Context, queue string) (repository.QueueStats, error) {
	return repository.QueueStats{}, nil
}

func (q *MockQueue) jobs() []enqueued {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]enqueued(nil), q.Enqueued...)
}

// ---- chatbots ----

type memChatbots struct {
	bots map[string]*model.ChatbotConfig
}

func (m *memChatbots) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.ChatbotConfig, error) {
	b, ok := m.bots[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

// ---- archive ----

type memArchive struct {
	mu   sync.Mutex
	jobs map[string]*model.AIJob
}

func newMemArchive() *memArchive { return &memArchive{jobs: map[string]*model.AIJob{}} }

func (m *memArchive) Save(ctx context.Context, tx repository.Tx, job *model.AIJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *job
	m.jobs[job.ID] = &cp
	return nil
}

func (m *memArchive) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.AIJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

// ListByConversation returns newest first.
func (m *memArchive) ListByConversation(ctx context.Context, tx repository.Tx, conversationID string, limit int) ([]*model.AIJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.AIJob
	for _, j := range m.jobs {
		if j.ConversationID == conversationID {
			cp := *j
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.After(out[k].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memArchive) DeleteOlderThan(ctx context.Context, tx repository.Tx, before time.Time) (int64, error) {
	return 0, nil
}

// ---- usage metrics ----

type memUsage struct {
	mu      sync.Mutex
	samples []repository.UsageSample
	periods []model.UsageMetrics
}

func (m *memUsage) Record(ctx context.Context, tx repository.Tx, s repository.UsageSample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples = append(m.samples, s)
	return nil
}

func (m *memUsage) List(ctx context.Context, tx repository.Tx, tenantID string, from, to time.Time) ([]model.UsageMetrics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.UsageMetrics
	for _, p := range m.periods {
		if p.TenantID == tenantID && !p.Period.Before(from) && !p.Period.After(to) {
			out = append(out, p)
		}
	}
	return out, nil
}

// ---- broadcast ----

type chanBus struct {
	ch chan model.BroadcastEvent
}

type chanSub struct{ ch chan model.BroadcastEvent }

func (s chanSub) Events() <-chan model.BroadcastEvent { return s.ch }
func (s chanSub) Close() error                        { return nil }

func (b *chanBus) Publish(ctx context.Context, ev model.BroadcastEvent) error {
	b.ch <- ev
	return nil
}

func (b *chanBus) Subscribe(ctx context.Context) (adapter.Subscription, error) {
	return chanSub{ch: b.ch}, nil
}
