package inmem

import (
	"context"
	"sync"

	"chatbot-ai-pipeline/internal/domain/model"
	"chatbot-ai-pipeline/internal/domain/ports/adapter"
)

var _ adapter.Broadcaster = (*Broadcaster)(nil)

// Broadcaster fans events out to every subscriber in publish order. A
// subscriber whose buffer is full misses the event, which matches the
// at-most-once contract of the real channel.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[*subscription]struct{}
	buffer int
}

func NewBroadcaster(buffer int) *Broadcaster {
	if buffer <= 0 {
		buffer = 256
	}
	return &Broadcaster{subs: map[*subscription]struct{}{}, buffer: buffer}
}

func (b *Broadcaster) Publish(ctx context.Context, ev model.BroadcastEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		select {
		case s.ch <- ev:
		default:
		}
	}
	return nil
}

func (b *Broadcaster) Subscribe(ctx context.Context) (adapter.Subscription, error) {
	s := &subscription{b: b, ch: make(chan model.BroadcastEvent, b.buffer)}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s, nil
}

// Subscribers is the number of open subscriptions.
func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

type subscription struct {
	b    *Broadcaster
	ch   chan model.BroadcastEvent
	once sync.Once
}

func (s *subscription) Events() <-chan model.BroadcastEvent { return s.ch }

func (s *subscription) Close() error {
	s.once.Do(func() {
		s.b.mu.Lock()
		delete(s.b.subs, s)
		close(s.ch)
		s.b.mu.Unlock()
	})
	return nil
}
