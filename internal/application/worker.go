package application

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"chatbot-ai-pipeline/internal/config"
	"chatbot-ai-pipeline/internal/infra/adapters/ai"
	"chatbot-ai-pipeline/internal/infra/api"
	"chatbot-ai-pipeline/internal/infra/sched"
	"chatbot-ai-pipeline/internal/infra/worker"
	"chatbot-ai-pipeline/internal/usecase"

	"github.com/rs/zerolog"
)

// Worker runs the job side of the pipeline: ingest, one processor and pool
// per queue, queue maintenance, archive pruning and the admin API.
type Worker struct {
	cfg        *config.Config
	b          *Backends
	ingest     usecase.IngestUseCase
	usage      usecase.UsageUseCase
	processors map[string]*worker.AIJobProcessor
	pools      map[string]*worker.Pool
	maintainer *worker.Maintainer
	pruner     *sched.ArchivePruner
	admin      *api.AdminServer
	log        *zerolog.Logger
}

// NewWorker wires the worker. providers may be nil, in which case the
// registry is built from cfg.AI.
func NewWorker(ctx context.Context, cfg *config.Config, b *Backends, providers *ai.Registry, logger *zerolog.Logger) (*Worker, error) {
	costs, err := CostModel(cfg.AI)
	if err != nil {
		return nil, err
	}
	if providers == nil {
		if providers, err = ai.NewRegistryFromConfig(ctx, cfg.AI, logger); err != nil {
			return nil, fmt.Errorf("providers: %w", err)
		}
	}

	limits := usecase.NewRateLimitUseCase(b.Windows, cfg.RateLimits.Default, cfg.RateLimits.Tenants, logger)
	usage := usecase.NewUsageUseCase(b.Usage, logger)
	retry := usecase.NewRetryPolicy(cfg.AI.Retry.Base, cfg.AI.Retry.Cap)

	w := &Worker{
		cfg:        cfg,
		b:          b,
		ingest:     usecase.NewIngestUseCase(b.Queue, b.Chatbots, b.Bus, costs, b.Archive, cfg.Worker.ContextTurns, logger),
		usage:      usage,
		processors: map[string]*worker.AIJobProcessor{},
		pools:      map[string]*worker.Pool{},
		log:        logger,
	}

	names := make([]string, 0, len(cfg.Worker.Queues))
	for name := range cfg.Worker.Queues {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		q := cfg.Worker.Queues[name]
		w.pools[name] = worker.NewPool(name, q.Concurrency, logger)
		w.processors[name] = worker.NewAIJobProcessor(worker.ProcessorConfig{
			Queue:           name,
			Lease:           q.Lease,
			PollInterval:    q.PollInterval,
			LockTTL:         cfg.Worker.LockTTL,
			DefaultProvider: cfg.AI.DefaultProvider,
			Dev:             cfg.Runtime.Dev,
		}, worker.Deps{
			Queue:     b.Queue,
			Locker:    b.Locker,
			Chatbots:  b.Chatbots,
			Providers: providers,
			Costs:     costs,
			Limits:    limits,
			Retry:     retry,
			Usage:     usage,
			Bus:       b.Bus,
			Archive:   b.Archive,
			Cache:     b.Cache,
		}, logger)
	}
	w.maintainer = worker.NewMaintainer(b.Queue, names, cfg.Worker.MaintainInterval, logger)
	w.pruner = sched.NewArchivePruner(time.Hour, cfg.Worker.ArchiveRetention, b.Archive, logger)
	w.admin = api.NewAdminServer(b.Queue, names, b.Archive, usage, cfg.Worker.AdminKey, logger)
	return w, nil
}

// Ingest exposes direct job submission for tools and the demo.
func (w *Worker) Ingest() usecase.IngestUseCase { return w.ingest }

// AdminHandler is the admin API router.
func (w *Worker) AdminHandler() http.Handler { return w.admin.Handler() }

// Run blocks until ctx is done, then drains the pools within the shutdown
// timeout. serveAdmin controls whether the admin API listens on its port.
func (w *Worker) Run(ctx context.Context, serveAdmin bool) error {
	var wg sync.WaitGroup
	goRun := func(f func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f()
		}()
	}

	for name, pool := range w.pools {
		pool.Start(ctx)
		p := w.processors[name]
		pl := pool
		goRun(func() { p.Start(ctx, pl) })
	}
	goRun(func() { w.maintainer.Start(ctx) })
	goRun(func() { _ = w.pruner.Run(ctx) })
	goRun(func() {
		if err := w.ingest.Run(ctx); err != nil {
			w.log.Error().Err(err).Msg("ingest stopped")
		}
	})

	var srv *http.Server
	if serveAdmin {
		srv = &http.Server{Addr: fmt.Sprintf(":%d", w.cfg.Worker.AdminPort), Handler: w.admin.Handler(), ReadHeaderTimeout: 5 * time.Second}
		goRun(func() {
			w.log.Info().Str("addr", srv.Addr).Msg("admin api listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				w.log.Error().Err(err).Msg("admin api stopped")
			}
		})
	}

	<-ctx.Done()
	w.log.Info().Msg("worker shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), w.cfg.Worker.ShutdownTimeout)
	defer cancel()
	if srv != nil {
		_ = srv.Shutdown(shutdownCtx)
	}

	done := make(chan struct{})
	go func() {
		for _, pool := range w.pools {
			pool.Stop()
		}
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-shutdownCtx.Done():
		return errors.New("worker shutdown timed out; leased jobs will be requeued on lease expiry")
	}
}
