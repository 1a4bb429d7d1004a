// Package inmem holds single-process implementations of the queue, broadcast
// and counter ports. They back the demo binary and the worker tests.
package inmem

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"chatbot-ai-pipeline/internal/domain"
	"chatbot-ai-pipeline/internal/domain/model"
	"chatbot-ai-pipeline/internal/domain/ports/repository"
)

var _ repository.JobQueue = (*JobQueue)(nil)

const (
	completedHistory = 100
	failedHistory    = 500
)

type entry struct {
	raw      []byte
	priority int
	seq      uint64
	at       time.Time // due time (delayed) or lease deadline (active)
}

type queueState struct {
	waiting   map[string]*entry
	delayed   map[string]*entry
	active    map[string]*entry
	completed [][]byte
	failed    [][]byte
}

// JobQueue mirrors the redis queue semantics in memory. Jobs are stored
// encoded so a claimed job never aliases the caller's copy.
type JobQueue struct {
	mu     sync.Mutex
	queues map[string]*queueState
	seq    uint64
	now    func() time.Time
}

func NewJobQueue() *JobQueue {
	return &JobQueue{queues: map[string]*queueState{}, now: time.Now}
}

// SetClock replaces the time source.
func (q *JobQueue) SetClock(now func() time.Time) {
	q.mu.Lock()
	q.now = now
	q.mu.Unlock()
}

func (q *JobQueue) state(name string) *queueState {
	s, ok := q.queues[name]
	if !ok {
		s = &queueState{
			waiting: map[string]*entry{},
			delayed: map[string]*entry{},
			active:  map[string]*entry{},
		}
		q.queues[name] = s
	}
	return s
}

func (q *JobQueue) Enqueue(ctx context.Context, queue string, job *model.AIJob, delay time.Duration) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	s := q.state(queue)
	q.seq++
	e := &entry{raw: raw, priority: job.Priority, seq: q.seq}
	if delay > 0 {
		e.at = q.now().Add(delay)
		s.delayed[job.ID] = e
		return nil
	}
	s.waiting[job.ID] = e
	return nil
}

func (q *JobQueue) Claim(ctx context.Context, queue string, lease time.Duration) (*model.AIJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := q.state(queue)
	var (
		bestID string
		best   *entry
	)
	for id, e := range s.waiting {
		if best == nil || e.priority > best.priority || (e.priority == best.priority && e.seq < best.seq) {
			bestID, best = id, e
		}
	}
	if best == nil {
		return nil, domain.ErrNotFound
	}
	delete(s.waiting, bestID)
	best.at = q.now().Add(lease)
	s.active[bestID] = best

	var job model.AIJob
	if err := json.Unmarshal(best.raw, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (q *JobQueue) finish(queue string, job *model.AIJob, failed bool) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	s := q.state(queue)
	delete(s.active, job.ID)
	if failed {
		s.failed = capPrepend(s.failed, raw, failedHistory)
	} else {
		s.completed = capPrepend(s.completed, raw, completedHistory)
	}
	return nil
}

func capPrepend(list [][]byte, v []byte, limit int) [][]byte {
	list = append([][]byte{v}, list...)
	if len(list) > limit {
		list = list[:limit]
	}
	return list
}

func (q *JobQueue) Complete(ctx context.Context, queue string, job *model.AIJob) error {
	return q.finish(queue, job, false)
}

func (q *JobQueue) Fail(ctx context.Context, queue string, job *model.AIJob) error {
	return q.finish(queue, job, true)
}

func (q *JobQueue) Retry(ctx context.Context, queue string, job *model.AIJob, delay time.Duration) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	s := q.state(queue)
	delete(s.active, job.ID)
	q.seq++
	s.delayed[job.ID] = &entry{raw: raw, priority: job.Priority, seq: q.seq, at: q.now().Add(delay)}
	return nil
}

func (q *JobQueue) moveDue(src func(*queueState) map[string]*entry, queue string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := q.state(queue)
	from := src(s)
	now := q.now()
	var due []string
	for id, e := range from {
		if !e.at.After(now) {
			due = append(due, id)
		}
	}
	sort.Slice(due, func(i, k int) bool { return from[due[i]].at.Before(from[due[k]].at) })
	for _, id := range due {
		e := from[id]
		delete(from, id)
		q.seq++
		e.seq = q.seq
		e.at = time.Time{}
		s.waiting[id] = e
	}
	return len(due)
}

func (q *JobQueue) PromoteDue(ctx context.Context, queue string) (int, error) {
	return q.moveDue(func(s *queueState) map[string]*entry { return s.delayed }, queue), nil
}

func (q *JobQueue) RequeueExpired(ctx context.Context, queue string) (int, error) {
	return q.moveDue(func(s *queueState) map[string]*entry { return s.active }, queue), nil
}

func (q *JobQueue) Stats(ctx context.Context, queue string) (repository.QueueStats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := q.state(queue)
	return repository.QueueStats{
		Waiting:   int64(len(s.waiting)),
		Delayed:   int64(len(s.delayed)),
		Active:    int64(len(s.active)),
		Completed: int64(len(s.completed)),
		Failed:    int64(len(s.failed)),
	}, nil
}

// History returns the retained completed or failed jobs, newest first.
func (q *JobQueue) History(queue string, failed bool) []*model.AIJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := q.state(queue)
	list := s.completed
	if failed {
		list = s.failed
	}
	out := make([]*model.AIJob, 0, len(list))
	for _, raw := range list {
		var j model.AIJob
		if json.Unmarshal(raw, &j) == nil {
			out = append(out, &j)
		}
	}
	return out
}
