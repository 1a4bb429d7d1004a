package worker

import (
	"context"
	"time"

	"chatbot-ai-pipeline/internal/domain/ports/repository"
	"chatbot-ai-pipeline/internal/infra/metrics"

	"github.com/rs/zerolog"
)

// Maintainer promotes due retries, recovers jobs whose lease expired and
// exports queue depth.
type Maintainer struct {
	queue    repository.JobQueue
	names    []string
	interval time.Duration
	log      *zerolog.Logger
}

func NewMaintainer(queue repository.JobQueue, names []string, interval time.Duration, logger *zerolog.Logger) *Maintainer {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	l := logger.With().Str("component", "queue_maintainer").Logger()
	return &Maintainer{queue: queue, names: names, interval: interval, log: &l}
}

func (m *Maintainer) Start(ctx context.Context) {
	m.log.Info().Strs("queues", m.names).Dur("interval", m.interval).Msg("queue maintainer started")
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.log.Info().Msg("queue maintainer stopping")
			return
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}

// Tick runs one maintenance pass over every queue.
func (m *Maintainer) Tick(ctx context.Context) {
	for _, name := range m.names {
		promoted, err := m.queue.PromoteDue(ctx, name)
		if err != nil {
			m.log.Error().Err(err).Str("queue", name).Msg("promote delayed jobs failed")
		}
		metrics.AddQueueRecovered(name, "promoted", promoted)

		expired, err := m.queue.RequeueExpired(ctx, name)
		if err != nil {
			m.log.Error().Err(err).Str("queue", name).Msg("requeue expired leases failed")
		}
		if expired > 0 {
			m.log.Warn().Str("queue", name).Int("jobs", expired).Msg("requeued jobs with expired lease")
		}
		metrics.AddQueueRecovered(name, "lease_expired", expired)

		st, err := m.queue.Stats(ctx, name)
		if err != nil {
			m.log.Error().Err(err).Str("queue", name).Msg("queue stats failed")
			continue
		}
		metrics.SetQueueDepth(name, st.Waiting, st.Delayed, st.Active)
	}
}
