package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"chatbot-ai-pipeline/internal/domain"
	"chatbot-ai-pipeline/internal/domain/model"
	"chatbot-ai-pipeline/internal/domain/ports/repository"

	"github.com/go-redis/redis/v8"
)

var _ repository.JobQueue = (*JobQueue)(nil)

const (
	completedHistory = 100
	failedHistory    = 500
	moveBatch        = 100

	// priorityBand keeps every priority in its own score range; inside a band
	// jobs are ordered by enqueue time in milliseconds.
	priorityBand = 1e13
)

// JobQueue keeps each logical queue in five keys:
//
//	<prefix>:<queue>:jobs      hash  id -> job json
//	<prefix>:<queue>:waiting   zset  id scored by priority then age
//	<prefix>:<queue>:delayed   zset  id scored by due time (ms)
//	<prefix>:<queue>:active    zset  id scored by lease deadline (ms)
//	<prefix>:<queue>:completed, :failed   capped lists of job json
type JobQueue struct {
	cli    *redis.Client
	prefix string
	now    func() time.Time
}

func NewJobQueue(c *Client, prefix string) *JobQueue {
	if prefix == "" {
		prefix = "ai_queue"
	}
	return &JobQueue{cli: c.cli, prefix: prefix, now: time.Now}
}

func (q *JobQueue) key(queue, part string) string {
	return fmt.Sprintf("%s:%s:%s", q.prefix, queue, part)
}

func (q *JobQueue) keys(queue string) []string {
	return []string{
		q.key(queue, "jobs"),
		q.key(queue, "waiting"),
		q.key(queue, "delayed"),
		q.key(queue, "active"),
		q.key(queue, "completed"),
		q.key(queue, "failed"),
	}
}

func waitingScore(priority int, at time.Time) float64 {
	if priority < 1 {
		priority = 1
	}
	if priority > 10 {
		priority = 10
	}
	return float64(11-priority)*priorityBand + float64(at.UnixMilli())
}

func (q *JobQueue) Enqueue(ctx context.Context, queue string, job *model.AIJob, delay time.Duration) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job %s: %w", job.ID, err)
	}
	now := q.now()
	_, err = q.cli.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, q.key(queue, "jobs"), job.ID, raw)
		if delay > 0 {
			p.ZAdd(ctx, q.key(queue, "delayed"), &redis.Z{Score: float64(now.Add(delay).UnixMilli()), Member: job.ID})
		} else {
			p.ZAdd(ctx, q.key(queue, "waiting"), &redis.Z{Score: waitingScore(job.Priority, now), Member: job.ID})
		}
		return nil
	})
	return err
}

// KEYS: jobs, waiting, delayed, active. ARGV: lease deadline ms.
var luaClaim = redis.NewScript(`
for i = 1, 10 do
	local popped = redis.call("ZPOPMIN", KEYS[2])
	if #popped == 0 then
		return false
	end
	local id = popped[1]
	local raw = redis.call("HGET", KEYS[1], id)
	if raw then
		redis.call("ZADD", KEYS[4], ARGV[1], id)
		return raw
	end
end
return false`)

func (q *JobQueue) Claim(ctx context.Context, queue string, lease time.Duration) (*model.AIJob, error) {
	deadline := q.now().Add(lease).UnixMilli()
	raw, err := luaClaim.Run(ctx, q.cli, q.keys(queue)[:4], deadline).Text()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var job model.AIJob
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return nil, fmt.Errorf("decode claimed job: %w", err)
	}
	return &job, nil
}

// KEYS: jobs, active, history. ARGV: id, json, cap.
var luaFinish = redis.NewScript(`
redis.call("ZREM", KEYS[2], ARGV[1])
redis.call("HDEL", KEYS[1], ARGV[1])
redis.call("LPUSH", KEYS[3], ARGV[2])
redis.call("LTRIM", KEYS[3], 0, tonumber(ARGV[3]) - 1)
return 1`)

func (q *JobQueue) finish(ctx context.Context, queue, history string, limit int, job *model.AIJob) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job %s: %w", job.ID, err)
	}
	keys := []string{q.key(queue, "jobs"), q.key(queue, "active"), q.key(queue, history)}
	return luaFinish.Run(ctx, q.cli, keys, job.ID, raw, limit).Err()
}

func (q *JobQueue) Complete(ctx context.Context, queue string, job *model.AIJob) error {
	return q.finish(ctx, queue, "completed", completedHistory, job)
}

func (q *JobQueue) Fail(ctx context.Context, queue string, job *model.AIJob) error {
	return q.finish(ctx, queue, "failed", failedHistory, job)
}

// KEYS: jobs, active, delayed. ARGV: id, json, due ms.
var luaRetry = redis.NewScript(`
redis.call("ZREM", KEYS[2], ARGV[1])
redis.call("HSET", KEYS[1], ARGV[1], ARGV[2])
redis.call("ZADD", KEYS[3], ARGV[3], ARGV[1])
return 1`)

func (q *JobQueue) Retry(ctx context.Context, queue string, job *model.AIJob, delay time.Duration) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job %s: %w", job.ID, err)
	}
	keys := []string{q.key(queue, "jobs"), q.key(queue, "active"), q.key(queue, "delayed")}
	due := q.now().Add(delay).UnixMilli()
	return luaRetry.Run(ctx, q.cli, keys, job.ID, raw, due).Err()
}

// KEYS: jobs, source, waiting. ARGV: now ms, batch, band.
// Moves members of source scored <= now into waiting, keyed by the job's
// own priority.
var luaMoveDue = redis.NewScript(`
local ids = redis.call("ZRANGEBYSCORE", KEYS[2], "-inf", ARGV[1], "LIMIT", 0, tonumber(ARGV[2]))
local moved = 0
for _, id in ipairs(ids) do
	redis.call("ZREM", KEYS[2], id)
	local raw = redis.call("HGET", KEYS[1], id)
	if raw then
		local prio = tonumber(cjson.decode(raw)["priority"]) or 5
		if prio < 1 then prio = 1 end
		if prio > 10 then prio = 10 end
		redis.call("ZADD", KEYS[3], (11 - prio) * tonumber(ARGV[3]) + tonumber(ARGV[1]), id)
		moved = moved + 1
	end
end
return moved`)

func (q *JobQueue) moveDue(ctx context.Context, queue, source string) (int, error) {
	keys := []string{q.key(queue, "jobs"), q.key(queue, source), q.key(queue, "waiting")}
	n, err := luaMoveDue.Run(ctx, q.cli, keys, q.now().UnixMilli(), moveBatch, int64(priorityBand)).Int()
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (q *JobQueue) PromoteDue(ctx context.Context, queue string) (int, error) {
	return q.moveDue(ctx, queue, "delayed")
}

func (q *JobQueue) RequeueExpired(ctx context.Context, queue string) (int, error) {
	return q.moveDue(ctx, queue, "active")
}

func (q *JobQueue) Stats(ctx context.Context, queue string) (repository.QueueStats, error) {
	var (
		waiting, delayed, active *redis.IntCmd
		completed, failed        *redis.IntCmd
	)
	_, err := q.cli.Pipelined(ctx, func(p redis.Pipeliner) error {
		waiting = p.ZCard(ctx, q.key(queue, "waiting"))
		delayed = p.ZCard(ctx, q.key(queue, "delayed"))
		active = p.ZCard(ctx, q.key(queue, "active"))
		completed = p.LLen(ctx, q.key(queue, "completed"))
		failed = p.LLen(ctx, q.key(queue, "failed"))
		return nil
	})
	if err != nil {
		return repository.QueueStats{}, err
	}
	return repository.QueueStats{
		Waiting:   waiting.Val(),
		Delayed:   delayed.Val(),
		Active:    active.Val(),
		Completed: completed.Val(),
		Failed:    failed.Val(),
	}, nil
}
