package realtime

import (
	"context"
	"fmt"
	"time"

	"chatbot-ai-pipeline/internal/domain/model"
	"chatbot-ai-pipeline/internal/domain/ports/adapter"
	"chatbot-ai-pipeline/internal/infra/metrics"

	"github.com/rs/zerolog"
)

// Relay forwards worker events from the broadcast channel to the members
// of the matching conversation room on this instance.
type Relay struct {
	hub *Hub
	bus adapter.Broadcaster
	log *zerolog.Logger
}

func NewRelay(hub *Hub, bus adapter.Broadcaster, logger *zerolog.Logger) *Relay {
	l := logger.With().Str("component", "relay").Logger()
	return &Relay{hub: hub, bus: bus, log: &l}
}

// Run blocks until ctx is done or the subscription ends.
func (r *Relay) Run(ctx context.Context) error {
	sub, err := r.bus.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	defer sub.Close()
	r.log.Info().Msg("relay started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sub.Events():
			if !ok {
				return nil
			}
			r.Forward(ev)
		}
	}
}

// Forward sends ev to its room and returns how many clients it was queued
// for. Visitor message events are consumed by the worker, not relayed.
func (r *Relay) Forward(ev model.BroadcastEvent) int {
	if ev.ConversationID == "" {
		return 0
	}
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	var (
		event string
		data  any
	)
	switch ev.Type {
	case model.EventStream:
		event, data = EvStream, streamPayload{ConversationID: ev.ConversationID, Attempt: ev.Attempt, Content: ev.Content, Seq: ev.Seq, Timestamp: ts}
	case model.EventComplete:
		event, data = EvComplete, completePayload{ConversationID: ev.ConversationID, Attempt: ev.Attempt, Content: ev.Content, Usage: ev.Usage, Timestamp: ts}
	case model.EventError:
		event, data = EvMsgError, messageErrorPayload{ConversationID: ev.ConversationID, Error: ev.Error, Timestamp: ts}
	default:
		return 0
	}
	metrics.IncBroadcast("relayed", string(ev.Type))

	f, err := NewFrame(event, data)
	if err != nil {
		r.log.Error().Err(err).Str("event", event).Msg("encode frame")
		return 0
	}
	return r.hub.Broadcast(ev.ConversationID, f, nil)
}
