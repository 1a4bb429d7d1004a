package application

import (
	"context"
	"fmt"
	"time"

	"chatbot-ai-pipeline/internal/config"
	"chatbot-ai-pipeline/internal/domain/ports/adapter"
	"chatbot-ai-pipeline/internal/domain/ports/repository"
	pg "chatbot-ai-pipeline/internal/infra/db/postgres"
	"chatbot-ai-pipeline/internal/infra/inmem"
	"chatbot-ai-pipeline/internal/infra/realtime"
	red "chatbot-ai-pipeline/internal/infra/redis"

	"github.com/rs/zerolog"
)

// Backends are the stores and transports shared by the worker and the
// gateway. Redis and Postgres back them in production; the in-memory set
// serves the demo and tests.
type Backends struct {
	Queue    repository.JobQueue
	Bus      adapter.Broadcaster
	Locker   repository.Locker
	Windows  repository.UsageWindowRepository
	Chatbots repository.ChatbotRepository
	Archive  repository.AIJobRepository
	Usage    repository.UsageMetricsRepository
	Cache    repository.ResultCache
	Throttle realtime.SendThrottle

	closers []func()
}

// Close releases connections in reverse order of acquisition.
func (b *Backends) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
	b.closers = nil
}

// InMemory builds single-process backends. Chatbots come from the config
// file.
func InMemory(cfg *config.Config) *Backends {
	bots := inmem.NewChatbots()
	for _, c := range cfg.Chatbots {
		bots.Put(c.ToModel())
	}
	return &Backends{
		Queue:    inmem.NewJobQueue(),
		Bus:      inmem.NewBroadcaster(cfg.Broadcast.Buffer),
		Locker:   inmem.NewLocker(),
		Windows:  inmem.NewUsageWindows(),
		Chatbots: bots,
		Archive:  inmem.NewJobArchive(),
		Usage:    inmem.NewUsageMetrics(),
		Cache:    inmem.NewResultCache(cfg.AI.CacheTTL),
	}
}

// Connect builds the production backends. Postgres is optional: without a
// database URL the job archive and usage metrics stay in memory and chatbots
// come from the config file.
func Connect(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*Backends, error) {
	rc, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	b := InMemory(cfg)
	b.closers = append(b.closers, func() { _ = rc.Close() })

	b.Queue = red.NewJobQueue(rc, "ai_queue")
	b.Bus = red.NewBroadcaster(rc, cfg.Broadcast.Channel, cfg.Broadcast.Buffer, logger)
	b.Locker = red.NewLocker(rc)
	b.Windows = red.NewUsageWindowRepo(rc)
	b.Cache = red.NewResultCache(rc, cfg.AI.CacheTTL)
	b.Throttle = red.NewRateLimiter(rc)

	if cfg.Database.URL == "" {
		logger.Warn().Msg("database.url not set; job archive and usage metrics are kept in memory")
		return b, nil
	}
	pool, err := pg.Connect(ctx, cfg.Database)
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("postgres: %w", err)
	}
	b.closers = append(b.closers, pool.Close)
	if cfg.Database.Migrate {
		if err := pg.Migrate(ctx, pool, logger); err != nil {
			b.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	statsCtx, cancel := context.WithCancel(context.Background())
	b.closers = append(b.closers, cancel)
	go pg.ReportPoolStats(statsCtx, pool, 15*time.Second)

	b.Archive = pg.NewAIJobRepo(pool)
	b.Usage = pg.NewUsageMetricsRepo(pool)
	b.Chatbots = pg.NewChatbotRepoCacheDecorator(pg.NewPostgresChatbotRepo(pool), rc, cfg.Redis.TTL, logger)
	return b, nil
}
