//go:build !integration

package worker

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"chatbot-ai-pipeline/internal/domain"
	"chatbot-ai-pipeline/internal/domain/model"
	"chatbot-ai-pipeline/internal/domain/ports/repository"
)

func helloProvider() *MockProvider {
	return &MockProvider{
		name:   "openai",
		chunks: []string{"Hello", " world", "!"},
		usage:  model.Usage{PromptTokens: 4, CompletionTokens: 6, TotalTokens: 10},
	}
}

func TestProcessOne_StreamsChunksThenCompletes(t *testing.T) {
	h := newHarness(t, helloProvider(), model.RateLimits{})
	job := chatJob("job-1")
	h.enqueue(repository.QueueChat, job)

	if !h.processor.ProcessOne(context.Background()) {
		t.Fatal("expected a job to be claimed")
	}

	evs := h.events()
	if len(evs) != 4 {
		t.Fatalf("want 3 stream + 1 complete events, got %d: %+v", len(evs), evs)
	}
	for i, ev := range evs[:3] {
		if ev.Type != model.EventStream || ev.Seq != i+1 || ev.ConversationID != "conv-1" || ev.JobID != "job-1" {
			t.Fatalf("event %d: %+v", i, ev)
		}
	}
	done := evs[3]
	if done.Type != model.EventComplete || done.Content != "Hello world!" || done.Usage == nil || done.Usage.TotalTokens != 10 {
		t.Fatalf("complete event %+v", done)
	}

	got := h.archived("job-1")
	if got.Status != model.AIJobStatusCompleted || got.Result == nil || got.Result.Content != "Hello world!" {
		t.Fatalf("archived job %+v", got)
	}
	// 4 in at 500/1k + 6 out at 1500/1k micros
	if got.Metadata.ActualCost != 11 {
		t.Fatalf("actual cost %d, want 11", got.Metadata.ActualCost)
	}
	if got.Metadata.Provider != "openai" || got.Metadata.Model != "gpt-3.5-turbo" || got.StartedAt == nil || got.CompletedAt == nil {
		t.Fatalf("metadata %+v", got.Metadata)
	}
	if st := h.stats(repository.QueueChat); st.Completed != 1 || st.Active != 0 {
		t.Fatalf("queue stats %+v", st)
	}
	w, _ := h.windows.Window(context.Background(), "tenant-1", repository.WindowMinute)
	if w == nil || w.Requests != 1 || w.Tokens != 10 {
		t.Fatalf("minute window %+v", w)
	}
	if h.provider.lastOpts.SystemPrompt != model.DefaultSystemPrompt || !h.provider.lastOpts.Stream {
		t.Fatalf("call options %+v", h.provider.lastOpts)
	}
}

func TestProcessOne_NonStreamingSendsOnlyComplete(t *testing.T) {
	h := newHarness(t, helloProvider(), model.RateLimits{})
	job := model.NewAIJob("job-ns", "tenant-1", "conv-1", 10, model.ChatResponsePayload{ChatbotID: "bot-1", Content: "hi"})
	h.enqueue(repository.QueueChat, job)
	h.processor.ProcessOne(context.Background())

	evs := h.events()
	if len(evs) != 1 || evs[0].Type != model.EventComplete || evs[0].Content != "Hello world!" {
		t.Fatalf("events %+v", evs)
	}
}

func TestProcessOne_RetryableFailureIsRescheduled(t *testing.T) {
	p := helloProvider()
	p.errs = []error{domain.NewProviderError("openai", 503, errors.New("upstream down"))}
	h := newHarness(t, p, model.RateLimits{})
	h.enqueue(repository.QueueChat, chatJob("job-r"))

	h.processor.ProcessOne(context.Background())

	evs := h.events()
	if len(evs) != 1 || evs[0].Type != model.EventError || !strings.Contains(evs[0].Error, "Retrying") {
		t.Fatalf("events %+v", evs)
	}
	if strings.Contains(evs[0].Error, "upstream") {
		t.Fatal("raw provider text leaked to visitor")
	}
	if st := h.stats(repository.QueueChat); st.Delayed != 1 || st.Active != 0 || st.Failed != 0 {
		t.Fatalf("queue stats %+v", st)
	}
	if _, err := h.archive.FindByID(context.Background(), repository.NoTX, "job-r"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("retrying job must not be archived yet: %v", err)
	}

	// jump past the backoff and run the second attempt
	h.queue.SetClock(func() time.Time { return time.Now().Add(time.Minute) })
	if n, _ := h.queue.PromoteDue(context.Background(), repository.QueueChat); n != 1 {
		t.Fatalf("promoted %d", n)
	}
	h.processor.ProcessOne(context.Background())

	got := h.archived("job-r")
	if got.Status != model.AIJobStatusCompleted || got.Metadata.RetryCount != 1 {
		t.Fatalf("second attempt %+v", got)
	}
	evs = h.events()
	if last := evs[len(evs)-1]; last.Type != model.EventComplete || last.Attempt != 1 {
		t.Fatalf("last event %+v", last)
	}
}

func TestProcessOne_RetriesExhaustedIsTerminal(t *testing.T) {
	p := helloProvider()
	p.errs = []error{domain.NewProviderError("openai", 503, errors.New("still down"))}
	h := newHarness(t, p, model.RateLimits{})
	job := chatJob("job-x")
	job.Status = model.AIJobStatusRetrying
	job.Metadata.RetryCount = model.MaxRetries
	h.enqueue(repository.QueueChat, job)

	h.processor.ProcessOne(context.Background())

	got := h.archived("job-x")
	if got.Status != model.AIJobStatusFailed || got.Error == nil || got.Error.Code != "provider_error" {
		t.Fatalf("archived %+v err %+v", got, got.Error)
	}
	evs := h.events()
	if len(evs) != 1 || evs[0].Type != model.EventError || strings.Contains(evs[0].Error, "Retrying") {
		t.Fatalf("events %+v", evs)
	}
	if st := h.stats(repository.QueueChat); st.Failed != 1 || st.Delayed != 0 {
		t.Fatalf("queue stats %+v", st)
	}
}

func TestProcessOne_RateLimitedFailsWithoutCallingProvider(t *testing.T) {
	h := newHarness(t, helloProvider(), model.RateLimits{RequestsPerMinute: 1})
	h.windows.Set("tenant-1", repository.WindowMinute, model.RateLimitWindow{Requests: 1, ResetAt: time.Now().Add(30 * time.Second)})
	h.enqueue(repository.QueueChat, chatJob("job-rl"))

	h.processor.ProcessOne(context.Background())

	if h.provider.Calls() != 0 {
		t.Fatalf("provider called %d times", h.provider.Calls())
	}
	got := h.archived("job-rl")
	if got.Status != model.AIJobStatusFailed || got.Error.Code != "rate_limit_requests" || got.Error.Retryable {
		t.Fatalf("job error %+v", got.Error)
	}
	evs := h.events()
	if len(evs) != 1 || !strings.Contains(evs[0].Error, "Please try again in") {
		t.Fatalf("events %+v", evs)
	}
}

func TestProcessOne_UnknownModelIsConfigurationError(t *testing.T) {
	h := newHarness(t, helloProvider(), model.RateLimits{})
	job := model.NewAIJob("job-cfg", "tenant-1", "conv-1", 10, model.ChatResponsePayload{
		ChatbotID:   "missing-bot",
		Content:     "hi",
		ModelConfig: &model.ModelConfig{Provider: "openai", Model: "gpt-unknown"},
	})
	h.enqueue(repository.QueueChat, job)

	h.processor.ProcessOne(context.Background())

	got := h.archived("job-cfg")
	if got.Error == nil || got.Error.Code != "configuration_error" || got.Metadata.RetryCount != 0 {
		t.Fatalf("job %+v", got.Error)
	}
	if h.provider.Calls() != 0 {
		t.Fatal("provider must not be called")
	}
}

func TestProcessOne_SkipsAttemptLockedElsewhere(t *testing.T) {
	h := newHarness(t, helloProvider(), model.RateLimits{})
	h.enqueue(repository.QueueChat, chatJob("job-l"))
	if _, err := h.locker.TryLock(context.Background(), "ai_job_lock:job-l:0", time.Minute); err != nil {
		t.Fatal(err)
	}

	if !h.processor.ProcessOne(context.Background()) {
		t.Fatal("job should have been claimed")
	}
	if h.provider.Calls() != 0 {
		t.Fatal("locked attempt must not run")
	}
	if st := h.stats(repository.QueueChat); st.Active != 1 {
		t.Fatalf("job should stay leased, stats %+v", st)
	}
}

func TestProcessOne_EmptyQueue(t *testing.T) {
	h := newHarness(t, helloProvider(), model.RateLimits{})
	if h.processor.ProcessOne(context.Background()) {
		t.Fatal("nothing to claim")
	}
}

func TestProcessOne_SentimentUsesResultCache(t *testing.T) {
	p := &MockProvider{name: "openai", reply: "```json\n{\"label\":\"Positive\",\"score\":0.8,\"confidence\":0.9}\n```", usage: model.Usage{PromptTokens: 5, CompletionTokens: 5, TotalTokens: 10}}
	h := newHarness(t, p, model.RateLimits{})
	proc := h.processorFor(repository.QueueAnalytics)

	for _, id := range []string{"s-1", "s-2"} {
		h.enqueue(repository.QueueAnalytics, model.NewAIJob(id, "tenant-1", "", 8, model.SentimentAnalysisPayload{Content: "I love it"}))
		proc.ProcessOne(context.Background())
	}

	if p.Calls() != 1 {
		t.Fatalf("provider calls %d, want 1", p.Calls())
	}
	first, second := h.archived("s-1"), h.archived("s-2")
	if first.Result.Sentiment == nil || first.Result.Sentiment.Label != "positive" || first.Result.Cached {
		t.Fatalf("first result %+v", first.Result)
	}
	if !second.Result.Cached || second.Result.Sentiment == nil || second.Metadata.ActualCost != 0 {
		t.Fatalf("second result %+v", second.Result)
	}
	if !strings.Contains(p.lastOpts.SystemPrompt, "Classify the sentiment") {
		t.Fatalf("analysis prompt not used: %q", p.lastOpts.SystemPrompt)
	}
	if evs := h.events(); len(evs) != 0 {
		t.Fatalf("analysis jobs publish nothing, got %+v", evs)
	}
}

func TestProcessOne_IntentCacheKeyedByCandidates(t *testing.T) {
	p := &MockProvider{name: "openai", reply: `{"intent":"billing","confidence":0.7}`, usage: model.Usage{PromptTokens: 4, CompletionTokens: 4, TotalTokens: 8}}
	h := newHarness(t, p, model.RateLimits{})
	proc := h.processorFor(repository.QueueAnalytics)

	jobs := map[string][]string{
		"i-1": {"billing", "support"},
		"i-2": {"refund", "fraud"},
	}
	for _, id := range []string{"i-1", "i-2"} {
		h.enqueue(repository.QueueAnalytics, model.NewAIJob(id, "tenant-1", "", 8, model.IntentClassificationPayload{
			Content:    "my card was charged twice",
			Candidates: jobs[id],
		}))
		proc.ProcessOne(context.Background())
	}

	if p.Calls() != 2 {
		t.Fatalf("provider calls %d, want 2", p.Calls())
	}
	if second := h.archived("i-2"); second.Result.Cached {
		t.Fatalf("different candidates served from cache: %+v", second.Result)
	}
	if !strings.Contains(p.lastOpts.SystemPrompt, "refund, fraud") {
		t.Fatalf("candidates missing from prompt: %q", p.lastOpts.SystemPrompt)
	}

	// same text and candidates again is a hit
	h.enqueue(repository.QueueAnalytics, model.NewAIJob("i-3", "tenant-1", "", 8, model.IntentClassificationPayload{
		Content:    "my card was charged twice",
		Candidates: jobs["i-2"],
	}))
	proc.ProcessOne(context.Background())
	if p.Calls() != 2 || !h.archived("i-3").Result.Cached {
		t.Fatalf("repeat job should be cached, calls %d", p.Calls())
	}
}

func TestProcessOne_BatchProcessesEveryItem(t *testing.T) {
	p := &MockProvider{name: "openai", reply: "ok", usage: model.Usage{PromptTokens: 2, CompletionTokens: 1, TotalTokens: 3}}
	h := newHarness(t, p, model.RateLimits{})
	proc := h.processorFor(repository.QueueAnalytics)
	h.enqueue(repository.QueueAnalytics, model.NewAIJob("b-1", "tenant-1", "", 2, model.BatchProcessingPayload{Instruction: "Translate", Items: []string{"a", "b", "c"}}))

	proc.ProcessOne(context.Background())

	got := h.archived("b-1")
	if len(got.Result.Items) != 3 || got.Result.Usage.TotalTokens != 9 || p.Calls() != 3 {
		t.Fatalf("batch result %+v calls %d", got.Result, p.Calls())
	}
}

func TestProcessOne_EmbeddingUnsupportedIsFatal(t *testing.T) {
	p := &MockProvider{name: "openai", noEmbed: true}
	h := newHarness(t, p, model.RateLimits{})
	proc := h.processorFor(repository.QueueAnalytics)
	h.enqueue(repository.QueueAnalytics, model.NewAIJob("e-1", "tenant-1", "", 3, model.EmbeddingGenerationPayload{Content: "vector me"}))

	proc.ProcessOne(context.Background())

	got := h.archived("e-1")
	if got.Status != model.AIJobStatusFailed || got.Error.Code != "capability_error" || got.Error.Retryable {
		t.Fatalf("job error %+v", got.Error)
	}
}

func TestMaintainer_PromotesDueJobs(t *testing.T) {
	h := newHarness(t, helloProvider(), model.RateLimits{})
	if err := h.queue.Enqueue(context.Background(), repository.QueueChat, chatJob("d-1"), time.Second); err != nil {
		t.Fatal(err)
	}
	h.queue.SetClock(func() time.Time { return time.Now().Add(time.Minute) })

	log := h.processor.log
	NewMaintainer(h.queue, []string{repository.QueueChat}, time.Second, log).Tick(context.Background())

	if st := h.stats(repository.QueueChat); st.Waiting != 1 || st.Delayed != 0 {
		t.Fatalf("stats %+v", st)
	}
}
