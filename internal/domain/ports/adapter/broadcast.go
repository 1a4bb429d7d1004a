package adapter

import (
	"context"

	"chatbot-ai-pipeline/internal/domain/model"
)

// Broadcaster fans events out to every gateway instance. Delivery is
// at-most-once and ordered per publisher.
type Broadcaster interface {
	Publish(ctx context.Context, ev model.BroadcastEvent) error
	Subscribe(ctx context.Context) (Subscription, error)
}

type Subscription interface {
	Events() <-chan model.BroadcastEvent
	Close() error
}
