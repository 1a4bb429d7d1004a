package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"chatbot-ai-pipeline/internal/domain"
	"chatbot-ai-pipeline/internal/domain/model"
	"chatbot-ai-pipeline/internal/domain/ports/adapter"
	"chatbot-ai-pipeline/internal/domain/ports/repository"
	"chatbot-ai-pipeline/internal/infra/logging"
	"chatbot-ai-pipeline/internal/infra/metrics"
	"chatbot-ai-pipeline/internal/usecase"

	"github.com/rs/zerolog"
)

// ProviderResolver picks the adapter for a model configuration.
type ProviderResolver interface {
	ResolveProvider(provider, model string) string
	ForModel(provider, model string) (adapter.AIProvider, error)
}

type ProcessorConfig struct {
	Queue           string
	Lease           time.Duration
	PollInterval    time.Duration
	LockTTL         time.Duration
	DefaultProvider string
	Dev             bool
}

// Deps are the collaborators of a processor. Archive and Cache are optional.
type Deps struct {
	Queue     repository.JobQueue
	Locker    repository.Locker
	Chatbots  repository.ChatbotRepository
	Providers ProviderResolver
	Costs     *usecase.CostModel
	Limits    usecase.RateLimitUseCase
	Retry     *usecase.RetryPolicy
	Usage     usecase.UsageUseCase
	Bus       adapter.Broadcaster
	Archive   repository.AIJobRepository
	Cache     repository.ResultCache
}

// AIJobProcessor drains one logical queue. Every claimed job runs through
// the state machine pending|retrying -> processing -> completed|failed, and a
// retryable failure goes back to the queue with a backoff delay.
type AIJobProcessor struct {
	cfg  ProcessorConfig
	deps Deps
	log  *zerolog.Logger
	now  func() time.Time
}

func NewAIJobProcessor(cfg ProcessorConfig, deps Deps, log *zerolog.Logger) *AIJobProcessor {
	if cfg.Lease <= 0 {
		cfg.Lease = 2 * time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = cfg.Lease
	}
	l := log.With().Str("component", "processor").Str("queue", cfg.Queue).Logger()
	return &AIJobProcessor{cfg: cfg, deps: deps, log: &l, now: func() time.Time { return time.Now().UTC() }}
}

// Start runs a loop that hands queue work to idle pool slots.
// This should be run in a goroutine.
func (p *AIJobProcessor) Start(ctx context.Context, pool *Pool) {
	p.log.Info().Int("slots", pool.Size()).Dur("poll", p.cfg.PollInterval).Msg("AI job processor started")
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.log.Info().Msg("AI job processor stopping")
			return
		case <-ticker.C:
			for i := pool.Idle(); i > 0; i-- {
				if err := pool.Submit(p.drain); err != nil {
					break
				}
			}
		}
	}
}

// drain processes jobs until the queue is empty or ctx is done.
func (p *AIJobProcessor) drain(ctx context.Context) error {
	for ctx.Err() == nil {
		if !p.ProcessOne(ctx) {
			return nil
		}
	}
	return nil
}

// ProcessOne claims and handles a single job. It reports whether a job was
// claimed.
func (p *AIJobProcessor) ProcessOne(ctx context.Context) bool {
	job, err := p.deps.Queue.Claim(ctx, p.cfg.Queue, p.cfg.Lease)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) && !errors.Is(err, context.Canceled) {
			p.log.Error().Err(err).Msg("failed to claim AI job")
		}
		return false
	}
	p.handle(ctx, job)
	return true
}

// outcome is what a successful attempt produced.
type outcome struct {
	result   *model.JobResult
	provider string
	model    string
	prompt   int // estimated prompt tokens
	cached   bool
	latency  time.Duration
}

func (p *AIJobProcessor) handle(ctx context.Context, job *model.AIJob) {
	ctx = logging.WithJobID(ctx, job.ID)
	ctx = logging.WithTenantID(ctx, job.TenantID)
	ctx = logging.WithConversationID(ctx, job.ConversationID)
	log := logging.With(ctx, p.log)
	defer logging.TraceDuration(log, "AIJobProcessor.handle")()

	lockKey := fmt.Sprintf("ai_job_lock:%s:%d", job.ID, job.Metadata.RetryCount)
	token, err := p.deps.Locker.TryLock(ctx, lockKey, p.cfg.LockTTL)
	if errors.Is(err, domain.ErrJobLocked) {
		log.Debug().Str("lock", lockKey).Msg("attempt already running elsewhere, skipping")
		metrics.IncAIJob(string(job.Type), "skipped")
		return
	}
	if err != nil {
		// the lease expires and the job is requeued
		log.Error().Err(err).Msg("could not take job lock")
		return
	}
	defer func() {
		if err := p.deps.Locker.Unlock(context.WithoutCancel(ctx), lockKey, token); err != nil {
			log.Warn().Err(err).Str("lock", lockKey).Msg("unlock failed")
		}
	}()

	start := p.now()
	if err := job.TransitionTo(model.AIJobStatusProcessing, start); err != nil {
		log.Error().Err(err).Str("status", string(job.Status)).Msg("job cannot be processed")
		p.finishFailed(ctx, job, log)
		return
	}
	log.Info().
		Str("type", string(job.Type)).
		Int("attempt", job.Metadata.RetryCount+1).
		Int("priority", job.Priority).
		Msg("processing AI job")

	out, err := p.execute(ctx, job, log)
	job.Metadata.ProcessingTime = p.now().Sub(start)
	metrics.ObserveJobDuration(string(job.Type), job.Metadata.ProcessingTime.Seconds())

	bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err != nil {
		p.onFailure(bctx, job, out, err, log)
		return
	}
	p.onSuccess(bctx, job, out, log)
}

func (p *AIJobProcessor) execute(ctx context.Context, job *model.AIJob, log *zerolog.Logger) (*outcome, error) {
	cfg := p.resolveConfig(ctx, job, log)
	job.Metadata.Provider, job.Metadata.Model = cfg.Provider, cfg.Model
	out := &outcome{provider: cfg.Provider, model: cfg.Model}

	provider, err := p.deps.Providers.ForModel(cfg.Provider, cfg.Model)
	if err != nil {
		return out, err
	}
	out.provider = provider.Name()

	out.prompt = provider.EstimateTokens(promptText(job, cfg))
	if job.Type != model.JobTypeEmbeddingGeneration || p.deps.Costs.Known(out.provider, cfg.Model) {
		est, err := p.deps.Costs.EstimateCost(out.provider, cfg.Model, out.prompt, cfg.MaxTokens)
		if err != nil {
			return out, err
		}
		job.Metadata.CostEstimate = est
	}

	if cached := p.cachedResult(ctx, job, cfg, log); cached != nil {
		out.result, out.cached = cached, true
		return out, nil
	}

	if err := p.deps.Limits.Admit(ctx, job.TenantID, out.prompt); err != nil {
		var rlErr *domain.RateLimitError
		if errors.As(err, &rlErr) {
			metrics.RateLimitBlocked(string(rlErr.Kind))
		}
		return out, err
	}

	callCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	callStart := p.now()
	switch pl := job.Payload.(type) {
	case model.ChatResponsePayload:
		out.result, err = p.runChat(callCtx, job, pl, provider, cfg)
	case model.EmbeddingGenerationPayload:
		out.result, err = runEmbedding(callCtx, pl, provider)
	default:
		out.result, err = runAnalysis(callCtx, job.Payload, provider, cfg)
	}
	out.latency = p.now().Sub(callStart)
	if err != nil {
		return out, err
	}
	p.storeResult(ctx, job, cfg, out.result, log)
	return out, nil
}

// resolveConfig prefers the chatbot's stored configuration, then the one
// carried by the payload, then the provider defaults.
func (p *AIJobProcessor) resolveConfig(ctx context.Context, job *model.AIJob, log *zerolog.Logger) model.ModelConfig {
	var cfg *model.ModelConfig
	if chat, ok := job.Payload.(model.ChatResponsePayload); ok && chat.ChatbotID != "" && p.deps.Chatbots != nil {
		bot, err := p.deps.Chatbots.FindByID(ctx, repository.NoTX, chat.ChatbotID)
		switch {
		case err == nil:
			c := bot.Model
			cfg = &c
		case !errors.Is(err, domain.ErrNotFound):
			log.Warn().Err(err).Str("chatbot_id", chat.ChatbotID).Msg("chatbot lookup failed, using fallback config")
		}
	}
	if cfg == nil {
		cfg = model.PayloadModelConfig(job.Payload)
	}
	if cfg == nil {
		d := model.DefaultModelConfig(p.cfg.DefaultProvider)
		cfg = &d
	}
	c := *cfg
	if emb, ok := job.Payload.(model.EmbeddingGenerationPayload); ok && emb.Provider != "" {
		c.Provider = emb.Provider
	}
	if c.Provider == "" {
		if c.Model != "" {
			c.Provider = p.deps.Providers.ResolveProvider("", c.Model)
		} else {
			c.Provider = p.cfg.DefaultProvider
		}
	}
	return c.WithDefaults()
}

// runChat streams when the payload asks for it. Each non-empty chunk becomes
// a stream event with an increasing sequence number.
func (p *AIJobProcessor) runChat(ctx context.Context, job *model.AIJob, pl model.ChatResponsePayload, provider adapter.AIProvider, cfg model.ModelConfig) (*model.JobResult, error) {
	msgs := chatMessages(pl)
	if len(msgs) == 0 {
		return nil, domain.ErrNoMessages
	}
	opts := adapter.OptionsFrom(cfg)
	opts.Stream = pl.Stream

	seq := 0
	c, err := adapter.Generate(ctx, provider, msgs, opts, func(ch model.StreamChunk) error {
		if ch.Content == "" {
			return nil
		}
		seq++
		p.publish(ctx, job, model.BroadcastEvent{Type: model.EventStream, Seq: seq, Content: ch.Content})
		return nil
	})
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(c.Content) == "" {
		return nil, domain.ErrEmptyResponse
	}
	u := c.Usage
	return &model.JobResult{Content: c.Content, Usage: &u}, nil
}

func runEmbedding(ctx context.Context, pl model.EmbeddingGenerationPayload, provider adapter.AIProvider) (*model.JobResult, error) {
	if !provider.Supports(adapter.CapabilityEmbedding) {
		return nil, &domain.CapabilityError{Provider: provider.Name(), Capability: string(adapter.CapabilityEmbedding)}
	}
	vec, err := provider.Embed(ctx, pl.Content, "")
	if err != nil {
		return nil, err
	}
	t := provider.EstimateTokens(pl.Content)
	return &model.JobResult{Embedding: vec, Usage: &model.Usage{PromptTokens: t, TotalTokens: t}}, nil
}

func chatMessages(pl model.ChatResponsePayload) []adapter.Message {
	msgs := make([]adapter.Message, 0, len(pl.Context)+1)
	for _, t := range pl.Context {
		if strings.TrimSpace(t.Content) == "" {
			continue
		}
		msgs = append(msgs, adapter.Message{Role: t.Role, Content: t.Content})
	}
	if strings.TrimSpace(pl.Content) != "" {
		msgs = append(msgs, adapter.Message{Role: "user", Content: pl.Content})
	}
	return msgs
}

func promptText(job *model.AIJob, cfg model.ModelConfig) string {
	var sb strings.Builder
	sb.WriteString(cfg.SystemPrompt)
	if chat, ok := job.Payload.(model.ChatResponsePayload); ok {
		for _, t := range chat.Context {
			sb.WriteString("\n")
			sb.WriteString(t.Content)
		}
	}
	sb.WriteString("\n")
	sb.WriteString(job.Payload.Text())
	return sb.String()
}

func (p *AIJobProcessor) onSuccess(ctx context.Context, job *model.AIJob, out *outcome, log *zerolog.Logger) {
	res := out.result
	var usage model.Usage
	if res.Usage != nil {
		usage = *res.Usage
	}
	if !out.cached && usage.TotalTokens == 0 {
		// provider reported nothing; fall back to estimates
		usage.PromptTokens = out.prompt
		usage.CompletionTokens = usecase.EstimateTokens(res.Content)
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
		res.Usage = &usage
	}

	var cost usecase.Micros
	if !out.cached {
		c, err := p.deps.Costs.EstimateCost(out.provider, out.model, usage.PromptTokens, usage.CompletionTokens)
		if err == nil {
			cost = c
		}
		if err := p.deps.Limits.Record(ctx, job.TenantID, usage.TotalTokens, cost); err != nil {
			log.Warn().Err(err).Msg("could not record rate usage")
		}
	}
	job.Metadata.ActualCost = cost
	job.Result = res

	if err := job.TransitionTo(model.AIJobStatusCompleted, p.now()); err != nil {
		log.Error().Err(err).Msg("could not complete job")
	}
	if job.Type == model.JobTypeChatResponse {
		p.publish(ctx, job, model.BroadcastEvent{Type: model.EventComplete, Content: res.Content, Usage: res.Usage})
	}

	spent := usage
	if out.cached {
		spent = model.Usage{}
	}
	p.recordUsage(ctx, job, out, true, spent, cost, log)
	if err := p.deps.Queue.Complete(ctx, p.cfg.Queue, job); err != nil {
		log.Error().Err(err).Msg("could not mark job completed in queue")
	}
	p.archive(ctx, job, log)
	metrics.IncAIJob(string(job.Type), string(model.AIJobStatusCompleted))

	log.Info().
		Str("provider", out.provider).
		Str("model", out.model).
		Int("tokens", usage.TotalTokens).
		Int64("cost_micros", cost).
		Bool("cached", out.cached).
		Dur("duration", job.Metadata.ProcessingTime).
		Msg("AI job completed")
}

func (p *AIJobProcessor) onFailure(ctx context.Context, job *model.AIJob, out *outcome, cause error, log *zerolog.Logger) {
	jobErr := &model.JobError{
		Code:      domain.ErrorCode(cause),
		Retryable: domain.IsRetryable(cause),
	}
	var rlErr *domain.RateLimitError
	if errors.As(cause, &rlErr) {
		jobErr.RetryAfter = rlErr.WaitTime
	}
	var pErr *domain.ProviderError
	if errors.As(cause, &pErr) {
		jobErr.Provider = pErr.Provider
		metrics.IncProviderError(pErr.Provider, fmt.Sprintf("%d", pErr.StatusCode))
	}
	if err := job.Fail(jobErr, p.now()); err != nil {
		log.Error().Err(err).Msg("could not mark job failed")
	}
	retry := p.deps.Retry.ShouldRetry(job)
	jobErr.Message = domain.PublicMessage(cause, retry)

	log.Warn().Err(cause).
		Str("code", jobErr.Code).
		Bool("retryable", jobErr.Retryable).
		Bool("will_retry", retry).
		Int("retry_count", job.Metadata.RetryCount).
		Msg("AI job attempt failed")

	if out != nil && out.latency > 0 {
		p.recordUsage(ctx, job, out, false, model.Usage{}, 0, log)
	}
	if job.Type == model.JobTypeChatResponse {
		p.publish(ctx, job, model.BroadcastEvent{Type: model.EventError, Error: jobErr.Message})
	}

	if retry {
		if err := job.TransitionTo(model.AIJobStatusRetrying, p.now()); err == nil {
			delay := p.deps.Retry.NextDelay(job.Metadata.RetryCount)
			if err := p.deps.Queue.Retry(ctx, p.cfg.Queue, job, delay); err != nil {
				log.Error().Err(err).Msg("could not schedule retry")
				return
			}
			metrics.IncJobRetry(string(job.Type))
			metrics.IncAIJob(string(job.Type), string(model.AIJobStatusRetrying))
			log.Info().Int("retry_count", job.Metadata.RetryCount).Dur("delay", delay).Msg("AI job retry scheduled")
			return
		}
	}
	p.finishFailed(ctx, job, log)
}

// finishFailed makes a failure terminal: the job leaves the queue into the
// failed history and the archive.
func (p *AIJobProcessor) finishFailed(ctx context.Context, job *model.AIJob, log *zerolog.Logger) {
	if err := p.deps.Queue.Fail(ctx, p.cfg.Queue, job); err != nil {
		log.Error().Err(err).Msg("could not mark job failed in queue")
	}
	p.archive(ctx, job, log)
	metrics.IncAIJob(string(job.Type), string(model.AIJobStatusFailed))
}

func (p *AIJobProcessor) recordUsage(ctx context.Context, job *model.AIJob, out *outcome, success bool, u model.Usage, cost usecase.Micros, log *zerolog.Logger) {
	metrics.ObserveChatUsage(out.provider, out.model, u.PromptTokens, u.CompletionTokens, u.TotalTokens, cost, int(out.latency/time.Millisecond), success)
	if p.deps.Usage == nil {
		return
	}
	err := p.deps.Usage.Record(ctx, repository.UsageSample{
		TenantID:     job.TenantID,
		Provider:     out.provider,
		Model:        out.model,
		At:           p.now(),
		Success:      success,
		InputTokens:  int64(u.PromptTokens),
		OutputTokens: int64(u.CompletionTokens),
		Cost:         cost,
		Latency:      out.latency,
		CacheHit:     out.cached,
	})
	if err != nil {
		log.Warn().Err(err).Msg("could not record usage metrics")
	}
}

func (p *AIJobProcessor) archive(ctx context.Context, job *model.AIJob, log *zerolog.Logger) {
	if p.deps.Archive == nil {
		return
	}
	if err := p.deps.Archive.Save(ctx, repository.NoTX, job); err != nil {
		log.Warn().Err(err).Msg("could not archive job")
	}
}

// publish is fire-and-forget; a missing audience is not an error.
func (p *AIJobProcessor) publish(ctx context.Context, job *model.AIJob, ev model.BroadcastEvent) {
	if job.ConversationID == "" || p.deps.Bus == nil {
		return
	}
	ev.ConversationID = job.ConversationID
	ev.JobID = job.ID
	ev.Attempt = job.Metadata.RetryCount
	ev.Timestamp = p.now()
	if err := p.deps.Bus.Publish(ctx, ev); err != nil {
		p.log.Warn().Err(err).Str("job_id", job.ID).Str("event", string(ev.Type)).Msg("broadcast publish failed")
	}
}
