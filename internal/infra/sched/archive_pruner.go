package sched

import (
	"context"
	"time"

	"chatbot-ai-pipeline/internal/domain/ports/repository"
	"chatbot-ai-pipeline/internal/infra/metrics"

	"github.com/rs/zerolog"
)

// ArchivePruner periodically deletes archived jobs older than the retention.
type ArchivePruner struct {
	interval  time.Duration
	retention time.Duration
	archive   repository.AIJobRepository
	log       *zerolog.Logger
	now       func() time.Time
}

func NewArchivePruner(interval, retention time.Duration, archive repository.AIJobRepository, logger *zerolog.Logger) *ArchivePruner {
	if interval <= 0 {
		interval = time.Hour
	}
	l := logger.With().Str("component", "ArchivePruner").Logger()
	return &ArchivePruner{
		interval:  interval,
		retention: retention,
		archive:   archive,
		log:       &l,
		now:       time.Now,
	}
}

// Run blocks until ctx is done. A zero retention disables pruning.
func (p *ArchivePruner) Run(ctx context.Context) error {
	if p.retention <= 0 {
		p.log.Info().Msg("archive retention disabled")
		<-ctx.Done()
		return ctx.Err()
	}
	p.log.Info().Dur("retention", p.retention).Msg("Starting archive pruner")
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.log.Info().Msg("Stopping archive pruner")
			return ctx.Err()
		case <-ticker.C:
			p.Prune(ctx)
		}
	}
}

// Prune runs one sweep and returns the number of deleted jobs.
func (p *ArchivePruner) Prune(ctx context.Context) int64 {
	n, err := p.archive.DeleteOlderThan(ctx, repository.NoTX, p.now().Add(-p.retention))
	if err != nil {
		p.log.Error().Err(err).Msg("archive prune failed")
		return 0
	}
	if n > 0 {
		metrics.AddArchivePruned(n)
		p.log.Info().Int64("count", n).Msg("archived jobs pruned")
	}
	return n
}
