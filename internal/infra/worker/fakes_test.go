//go:build !integration

package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"chatbot-ai-pipeline/internal/domain/model"
	"chatbot-ai-pipeline/internal/domain/ports/adapter"
	"chatbot-ai-pipeline/internal/domain/ports/repository"
	"chatbot-ai-pipeline/internal/infra/adapters/ai"
	"chatbot-ai-pipeline/internal/infra/inmem"
	"chatbot-ai-pipeline/internal/usecase"

	"github.com/rs/zerolog"
)

// MockProvider is a scripted adapter.AIProvider. Errs are returned by
// successive calls until exhausted; after that calls succeed.
type MockProvider struct {
	name     string
	chunks   []string
	usage    model.Usage
	reply    string
	noEmbed  bool
	errs     []error
	mu       sync.Mutex
	calls    int
	lastOpts adapter.GenerateOptions
	lastMsgs []adapter.Message
}

func (m *MockProvider) Name() string { return m.name }

func (m *MockProvider) Supports(c adapter.Capability) bool {
	return !(c == adapter.CapabilityEmbedding && m.noEmbed)
}

func (m *MockProvider) EstimateTokens(text string) int { return usecase.EstimateTokens(text) }

func (m *MockProvider) next(msgs []adapter.Message, opts adapter.GenerateOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.lastMsgs, m.lastOpts = msgs, opts
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		return err
	}
	return nil
}

func (m *MockProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *MockProvider) Complete(ctx context.Context, msgs []adapter.Message, opts adapter.GenerateOptions) (*adapter.Completion, error) {
	if err := m.next(msgs, opts); err != nil {
		return nil, err
	}
	reply := m.reply
	if reply == "" {
		for _, c := range m.chunks {
			reply += c
		}
	}
	return &adapter.Completion{Content: reply, Usage: m.usage}, nil
}

func (m *MockProvider) Stream(ctx context.Context, msgs []adapter.Message, opts adapter.GenerateOptions) (adapter.ChunkStream, error) {
	if err := m.next(msgs, opts); err != nil {
		return nil, err
	}
	chunks := make([]model.StreamChunk, 0, len(m.chunks)+1)
	for _, c := range m.chunks {
		chunks = append(chunks, model.StreamChunk{Content: c})
	}
	u := m.usage
	chunks = append(chunks, model.StreamChunk{IsComplete: true, Usage: &u})
	return adapter.NewSliceStream(chunks, nil), nil
}

func (m *MockProvider) Embed(ctx context.Context, text, modelName string) ([]float64, error) {
	if err := m.next(nil, adapter.GenerateOptions{}); err != nil {
		return nil, err
	}
	return []float64{0.1, 0.2, 0.3}, nil
}

// harness wires a processor over the in-memory stores.
type harness struct {
	t         *testing.T
	queue     *inmem.JobQueue
	bus       *inmem.Broadcaster
	windows   *inmem.UsageWindows
	archive   *inmem.JobArchive
	usage     *inmem.UsageMetrics
	locker    *inmem.Locker
	cache     *inmem.ResultCache
	provider  *MockProvider
	deps      Deps
	processor *AIJobProcessor
	sub       adapter.Subscription
}

func newHarness(t *testing.T, p *MockProvider, limits model.RateLimits) *harness {
	t.Helper()
	log := zerolog.Nop()
	h := &harness{
		t:        t,
		queue:    inmem.NewJobQueue(),
		bus:      inmem.NewBroadcaster(64),
		windows:  inmem.NewUsageWindows(),
		archive:  inmem.NewJobArchive(),
		usage:    inmem.NewUsageMetrics(),
		locker:   inmem.NewLocker(),
		cache:    inmem.NewResultCache(time.Minute),
		provider: p,
	}
	bots := inmem.NewChatbots(model.ChatbotConfig{
		ID:       "bot-1",
		TenantID: "tenant-1",
		Model:    model.ModelConfig{Provider: "openai", Model: "gpt-3.5-turbo", Temperature: 0.2, MaxTokens: 100},
	})
	deps := Deps{
		Queue:     h.queue,
		Locker:    h.locker,
		Chatbots:  bots,
		Providers: ai.NewRegistry("openai", nil, p),
		Costs:     usecase.NewCostModel(nil, nil),
		Limits:    usecase.NewRateLimitUseCase(h.windows, limits, nil, &log),
		Retry:     usecase.NewRetryPolicy(time.Millisecond, 10*time.Millisecond),
		Usage:     usecase.NewUsageUseCase(h.usage, &log),
		Bus:       h.bus,
		Archive:   h.archive,
		Cache:     h.cache,
	}
	h.deps = deps
	h.processor = h.processorFor(repository.QueueChat)
	sub, err := h.bus.Subscribe(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	h.sub = sub
	t.Cleanup(func() { _ = sub.Close() })
	return h
}

func (h *harness) enqueue(queue string, job *model.AIJob) {
	h.t.Helper()
	if err := h.queue.Enqueue(context.Background(), queue, job, 0); err != nil {
		h.t.Fatal(err)
	}
}

// events returns everything published so far.
func (h *harness) events() []model.BroadcastEvent {
	var out []model.BroadcastEvent
	for {
		select {
		case ev := <-h.sub.Events():
			out = append(out, ev)
		case <-time.After(20 * time.Millisecond):
			return out
		}
	}
}

func chatJob(id string) *model.AIJob {
	return model.NewAIJob(id, "tenant-1", "conv-1", 10, model.ChatResponsePayload{
		ChatbotID: "bot-1",
		Content:   "Say hello",
		Stream:    true,
	})
}

func (h *harness) processorFor(queue string) *AIJobProcessor {
	log := zerolog.Nop()
	return NewAIJobProcessor(ProcessorConfig{Queue: queue, DefaultProvider: "openai"}, h.deps, &log)
}

func (h *harness) archived(id string) *model.AIJob {
	h.t.Helper()
	j, err := h.archive.FindByID(context.Background(), repository.NoTX, id)
	if err != nil {
		h.t.Fatalf("job %s not archived: %v", id, err)
	}
	return j
}

func (h *harness) stats(queue string) repository.QueueStats {
	h.t.Helper()
	st, err := h.queue.Stats(context.Background(), queue)
	if err != nil {
		h.t.Fatal(err)
	}
	return st
}
