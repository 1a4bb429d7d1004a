package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"chatbot-ai-pipeline/internal/domain"
	"chatbot-ai-pipeline/internal/domain/model"
	"chatbot-ai-pipeline/internal/domain/ports/adapter"
	"chatbot-ai-pipeline/internal/domain/ports/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// IngestUseCase turns incoming work into queued AI jobs.
type IngestUseCase interface {
	// HandleMessage creates a chat-response job from a visitor message event.
	HandleMessage(ctx context.Context, ev model.BroadcastEvent) (*model.AIJob, error)
	// Submit queues any job type directly (analytics and batch work).
	Submit(ctx context.Context, tenantID, conversationID string, payload model.JobPayload) (*model.AIJob, error)
	// Run consumes message events from the broadcast channel until ctx is done.
	Run(ctx context.Context) error
}

var _ IngestUseCase = (*ingestUC)(nil)

type ingestUC struct {
	queue    repository.JobQueue
	chatbots repository.ChatbotRepository
	bus      adapter.Broadcaster
	costs    *CostModel
	archive  repository.AIJobRepository // optional, source of prior turns
	turns    int
	log      *zerolog.Logger
}

// NewIngestUseCase wires the ingest path. archive may be nil, in which case
// chat jobs carry no prior turns.
func NewIngestUseCase(queue repository.JobQueue, chatbots repository.ChatbotRepository, bus adapter.Broadcaster, costs *CostModel, archive repository.AIJobRepository, contextTurns int, logger *zerolog.Logger) *ingestUC {
	l := logger.With().Str("component", "ingest").Logger()
	return &ingestUC{
		queue:    queue,
		chatbots: chatbots,
		bus:      bus,
		costs:    costs,
		archive:  archive,
		turns:    contextTurns,
		log:      &l,
	}
}

func (u *ingestUC) HandleMessage(ctx context.Context, ev model.BroadcastEvent) (*model.AIJob, error) {
	if ev.Type != model.EventMessage {
		return nil, fmt.Errorf("%w: event type %q", domain.ErrInvalidArgument, ev.Type)
	}
	text := strings.TrimSpace(ev.Message)
	if ev.ConversationID == "" || ev.ChatbotID == "" || text == "" {
		return nil, domain.ErrInvalidArgument
	}

	bot, err := u.chatbots.FindByID(ctx, repository.NoTX, ev.ChatbotID)
	if err != nil {
		return nil, fmt.Errorf("resolve chatbot %s: %w", ev.ChatbotID, err)
	}
	tenantID := bot.TenantID
	if tenantID == "" {
		tenantID = ev.TenantID
	}

	payload := model.ChatResponsePayload{
		ChatbotID: ev.ChatbotID,
		SessionID: ev.SessionID,
		Content:   text,
		Context:   u.priorTurns(ctx, ev.ConversationID),
		Stream:    true,
	}
	return u.Submit(ctx, tenantID, ev.ConversationID, payload)
}

func (u *ingestUC) Submit(ctx context.Context, tenantID, conversationID string, payload model.JobPayload) (*model.AIJob, error) {
	if tenantID == "" || payload == nil || strings.TrimSpace(payload.Text()) == "" {
		return nil, domain.ErrInvalidArgument
	}
	job := model.NewAIJob(uuid.NewString(), tenantID, conversationID, u.costs.PriorityOf(payload.JobType()), payload)
	if mc := model.PayloadModelConfig(payload); mc != nil {
		cfg := mc.WithDefaults()
		if est, err := u.costs.EstimateCost(cfg.Provider, cfg.Model, EstimateTokens(payload.Text()), cfg.MaxTokens); err == nil {
			job.Metadata.CostEstimate = est
		}
	}
	queue := repository.QueueFor(job.Type)
	if err := u.queue.Enqueue(ctx, queue, job, 0); err != nil {
		return nil, fmt.Errorf("enqueue %s job: %w", job.Type, err)
	}
	u.log.Info().
		Str("job_id", job.ID).
		Str("tenant_id", tenantID).
		Str("conversation_id", conversationID).
		Str("type", string(job.Type)).
		Int("priority", job.Priority).
		Str("queue", queue).
		Msg("job enqueued")
	return job, nil
}

func (u *ingestUC) Run(ctx context.Context) error {
	sub, err := u.bus.Subscribe(ctx)
	if err != nil {
		return err
	}
	defer sub.Close()
	u.log.Info().Msg("listening for chat messages")
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sub.Events():
			if !ok {
				return errors.New("broadcast subscription closed")
			}
			if ev.Type != model.EventMessage {
				continue
			}
			if _, err := u.HandleMessage(ctx, ev); err != nil {
				u.log.Error().Err(err).
					Str("conversation_id", ev.ConversationID).
					Str("chatbot_id", ev.ChatbotID).
					Msg("failed to enqueue chat message")
			}
		}
	}
}

// priorTurns rebuilds the last exchanges of a conversation from archived
// chat jobs, oldest first. Lookup failures only cost context.
func (u *ingestUC) priorTurns(ctx context.Context, conversationID string) []model.ChatTurn {
	if u.archive == nil || u.turns <= 0 {
		return nil
	}
	jobs, err := u.archive.ListByConversation(ctx, repository.NoTX, conversationID, u.turns)
	if err != nil {
		u.log.Warn().Err(err).Str("conversation_id", conversationID).Msg("could not load conversation history")
		return nil
	}
	var turns []model.ChatTurn
	for i := len(jobs) - 1; i >= 0; i-- {
		j := jobs[i]
		p, ok := j.Payload.(model.ChatResponsePayload)
		if !ok || j.Status != model.AIJobStatusCompleted || j.Result == nil {
			continue
		}
		turns = append(turns,
			model.ChatTurn{Role: "user", Content: p.Content},
			model.ChatTurn{Role: "assistant", Content: j.Result.Content},
		)
	}
	return turns
}
