// File: internal/infra/worker/pool.go
package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"chatbot-ai-pipeline/internal/domain"

	"github.com/rs/zerolog"
)

// A small fixed-size worker pool. Each slot runs one task at a time; the
// processor only submits when a slot is free, so a claimed job never waits
// behind another one.

type Task func(ctx context.Context) error

type Pool struct {
	name string
	wg   sync.WaitGroup
	jobs chan Task
	quit chan struct{}
	once sync.Once
	n    int
	busy atomic.Int32
	log  *zerolog.Logger
}

func NewPool(name string, workers int, logger *zerolog.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	l := logger.With().Str("component", "pool").Str("queue", name).Logger()
	return &Pool{name: name, jobs: make(chan Task, workers), quit: make(chan struct{}), n: workers, log: &l}
}

func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.n; i++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case <-p.quit:
					return
				case task := <-p.jobs:
					if task == nil {
						continue
					}
					if err := task(ctx); err != nil {
						p.log.Error().Err(err).Int("slot", id).Msg("task error")
					}
					p.busy.Add(-1)
				}
			}
		}(i)
	}
}

// Stop stops accepting work and waits for running tasks to finish.
func (p *Pool) Stop() {
	p.once.Do(func() { close(p.quit) })
	p.wg.Wait()
}

// Size is the number of slots.
func (p *Pool) Size() int { return p.n }

// Idle is the number of slots not running a task.
func (p *Pool) Idle() int { return p.n - int(p.busy.Load()) }

// Submit hands task to an idle slot. It never queues behind running work:
// when every slot is busy it returns domain.ErrQueueFull.
func (p *Pool) Submit(task Task) error {
	if task == nil {
		return errors.New("nil task")
	}
	if p.busy.Add(1) > int32(p.n) {
		p.busy.Add(-1)
		return domain.ErrQueueFull
	}
	select {
	case <-p.quit:
		p.busy.Add(-1)
		return errors.New("pool stopped")
	default:
	}
	// at most n tasks are outstanding, so the buffered send never blocks
	p.jobs <- task
	return nil
}
