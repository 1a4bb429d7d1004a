package repository

import (
	"context"
	"time"

	"chatbot-ai-pipeline/internal/domain/model"
)

// Logical queue names. Chat jobs are latency sensitive and never share
// slots with analytics work.
const (
	QueueChat      = "chat"
	QueueAnalytics = "analytics"
)

// QueueFor returns the logical queue a job type is routed to.
func QueueFor(t model.JobType) string {
	if t == model.JobTypeChatResponse {
		return QueueChat
	}
	return QueueAnalytics
}

type QueueStats struct {
	Waiting   int64 `json:"waiting"`
	Delayed   int64 `json:"delayed"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// JobQueue is a durable, prioritized, multi-consumer work queue.
type JobQueue interface {
	// Enqueue adds a job. A positive delay parks it until it is due.
	Enqueue(ctx context.Context, queue string, job *model.AIJob, delay time.Duration) error
	// Claim hands the highest-priority waiting job to exactly one caller and
	// leases it for lease. Returns domain.ErrNotFound when nothing is waiting.
	Claim(ctx context.Context, queue string, lease time.Duration) (*model.AIJob, error)
	// Complete and Fail release the lease and keep a bounded history.
	Complete(ctx context.Context, queue string, job *model.AIJob) error
	Fail(ctx context.Context, queue string, job *model.AIJob) error
	// Retry releases the lease and parks the job for delay.
	Retry(ctx context.Context, queue string, job *model.AIJob, delay time.Duration) error
	// PromoteDue moves delayed jobs whose time has come to the waiting set.
	PromoteDue(ctx context.Context, queue string) (int, error)
	// RequeueExpired returns jobs with an expired lease to the waiting set.
	RequeueExpired(ctx context.Context, queue string) (int, error)
	Stats(ctx context.Context, queue string) (QueueStats, error)
}

// AIJobRepository archives jobs once they are terminal.
type AIJobRepository interface {
	Save(ctx context.Context, tx Tx, job *model.AIJob) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.AIJob, error)
	ListByConversation(ctx context.Context, tx Tx, conversationID string, limit int) ([]*model.AIJob, error)
	DeleteOlderThan(ctx context.Context, tx Tx, before time.Time) (int64, error)
}

// Locker guards a job attempt against concurrent execution.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, err error)
	Unlock(ctx context.Context, key, token string) error
}
