package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"chatbot-ai-pipeline/internal/domain/model"
	"chatbot-ai-pipeline/internal/domain/ports/adapter"
	"chatbot-ai-pipeline/internal/infra/metrics"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
)

var _ adapter.Broadcaster = (*Broadcaster)(nil)

// Broadcaster publishes every event on one shared channel. Receivers route
// by ConversationID. Redis pub/sub gives at-most-once delivery, ordered per
// publishing connection.
type Broadcaster struct {
	cli     *redis.Client
	channel string
	buffer  int
	log     *zerolog.Logger
}

func NewBroadcaster(c *Client, channel string, buffer int, logger *zerolog.Logger) *Broadcaster {
	if buffer <= 0 {
		buffer = 256
	}
	l := logger.With().Str("component", "broadcast").Str("channel", channel).Logger()
	return &Broadcaster{cli: c.cli, channel: channel, buffer: buffer, log: &l}
}

func (b *Broadcaster) Publish(ctx context.Context, ev model.BroadcastEvent) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", ev.Type, err)
	}
	if err := b.cli.Publish(ctx, b.channel, raw).Err(); err != nil {
		return err
	}
	metrics.IncBroadcast("published", string(ev.Type))
	return nil
}

func (b *Broadcaster) Subscribe(ctx context.Context) (adapter.Subscription, error) {
	ps := b.cli.Subscribe(ctx, b.channel)
	// wait for the subscription confirmation so no event published after
	// Subscribe returns is missed
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", b.channel, err)
	}
	s := &subscription{
		ps:      ps,
		out:     make(chan model.BroadcastEvent, b.buffer),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
	go s.pump(b.log)
	return s, nil
}

type subscription struct {
	ps      *redis.PubSub
	out     chan model.BroadcastEvent
	once    sync.Once
	closing chan struct{}
	done    chan struct{}
}

func (s *subscription) Events() <-chan model.BroadcastEvent { return s.out }

func (s *subscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.closing)
		err = s.ps.Close()
		<-s.done
	})
	return err
}

func (s *subscription) pump(log *zerolog.Logger) {
	defer close(s.done)
	defer close(s.out)
	for msg := range s.ps.Channel() {
		var ev model.BroadcastEvent
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			log.Warn().Err(err).Msg("dropping undecodable broadcast payload")
			continue
		}
		metrics.IncBroadcast("received", string(ev.Type))
		// blocking send keeps per-publisher order; a stalled reader backs up
		// into go-redis, which drops messages once its own buffer is full
		select {
		case s.out <- ev:
		case <-s.closing:
			return
		}
	}
}
