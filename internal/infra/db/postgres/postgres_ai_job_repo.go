package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"chatbot-ai-pipeline/internal/domain"
	"chatbot-ai-pipeline/internal/domain/model"
	"chatbot-ai-pipeline/internal/domain/ports/repository"
	"chatbot-ai-pipeline/internal/infra/metrics"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

var _ repository.AIJobRepository = (*aiJobRepo)(nil)

// aiJobRepo archives terminal jobs in ai_jobs.
type aiJobRepo struct {
	pool *pgxpool.Pool
}

func NewAIJobRepo(pool *pgxpool.Pool) *aiJobRepo {
	return &aiJobRepo{pool: pool}
}

const aiJobColumns = `id, tenant_id, conversation_id, type, status, priority, payload, result, error,
       retry_count, cost_estimate, actual_cost, processing_ms, provider, model,
       created_at, started_at, completed_at`

func (r *aiJobRepo) Save(ctx context.Context, tx repository.Tx, job *model.AIJob) (err error) {
	defer func(start time.Time) { observe("save", start, err) }(time.Now())
	if job.Payload == nil {
		return fmt.Errorf("save ai job %s: %w", job.ID, domain.ErrInvalidArgument)
	}
	payload, err := json.Marshal(job.Payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	result, err := jsonOrNil(job.Result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	jobErr, err := jsonOrNil(job.Error)
	if err != nil {
		return fmt.Errorf("encode error: %w", err)
	}

	const q = `
INSERT INTO ai_jobs (` + aiJobColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
ON CONFLICT (id) DO UPDATE SET
  status        = EXCLUDED.status,
  result        = EXCLUDED.result,
  error         = EXCLUDED.error,
  retry_count   = EXCLUDED.retry_count,
  actual_cost   = EXCLUDED.actual_cost,
  processing_ms = EXCLUDED.processing_ms,
  provider      = EXCLUDED.provider,
  model         = EXCLUDED.model,
  started_at    = EXCLUDED.started_at,
  completed_at  = EXCLUDED.completed_at;`

	m := job.Metadata
	_, err = execSQL(ctx, r.pool, tx, q,
		job.ID, job.TenantID, job.ConversationID, string(job.Type), string(job.Status), job.Priority,
		payload, result, jobErr,
		m.RetryCount, m.CostEstimate, m.ActualCost, m.ProcessingTime.Milliseconds(), m.Provider, m.Model,
		job.CreatedAt, job.StartedAt, job.CompletedAt)
	if err != nil {
		return fmt.Errorf("save ai job: %w", err)
	}
	return nil
}

func (r *aiJobRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (_ *model.AIJob, err error) {
	defer func(start time.Time) { observe("find", start, err) }(time.Now())
	row, err := pickRow(ctx, r.pool, tx, `SELECT `+aiJobColumns+` FROM ai_jobs WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	job, err := scanAIJob(row)
	if err != nil {
		return nil, notFound(err)
	}
	return job, nil
}

func (r *aiJobRepo) ListByConversation(ctx context.Context, tx repository.Tx, conversationID string, limit int) (_ []*model.AIJob, err error) {
	defer func(start time.Time) { observe("list", start, err) }(time.Now())
	if limit <= 0 {
		limit = 50
	}
	rows, err := queryRows(ctx, r.pool, tx,
		`SELECT `+aiJobColumns+` FROM ai_jobs WHERE conversation_id = $1 ORDER BY created_at DESC LIMIT $2`,
		conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("list ai jobs: %w", err)
	}
	defer rows.Close()

	var out []*model.AIJob
	for rows.Next() {
		job, err := scanAIJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func (r *aiJobRepo) DeleteOlderThan(ctx context.Context, tx repository.Tx, before time.Time) (_ int64, err error) {
	defer func(start time.Time) { observe("prune", start, err) }(time.Now())
	tag, err := execSQL(ctx, r.pool, tx, `DELETE FROM ai_jobs WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("prune ai jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// observe records the latency of one archive statement.
func observe(op string, start time.Time, err error) {
	metrics.ObserveArchiveQuery(op, outcome(err), start)
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}

func scanAIJob(row pgx.Row) (*model.AIJob, error) {
	var (
		job                     model.AIJob
		typ, status             string
		payload, result, jobErr []byte
		processingMs            int64
	)
	err := row.Scan(&job.ID, &job.TenantID, &job.ConversationID, &typ, &status, &job.Priority,
		&payload, &result, &jobErr,
		&job.Metadata.RetryCount, &job.Metadata.CostEstimate, &job.Metadata.ActualCost, &processingMs,
		&job.Metadata.Provider, &job.Metadata.Model,
		&job.CreatedAt, &job.StartedAt, &job.CompletedAt)
	if err != nil {
		return nil, err
	}
	job.Type, err = model.ParseJobType(typ)
	if err != nil {
		return nil, err
	}
	job.Status = model.AIJobStatus(status)
	job.Metadata.ProcessingTime = time.Duration(processingMs) * time.Millisecond
	if job.Payload, err = model.DecodePayload(job.Type, payload); err != nil {
		return nil, err
	}
	if len(result) > 0 {
		job.Result = &model.JobResult{}
		if err := json.Unmarshal(result, job.Result); err != nil {
			return nil, fmt.Errorf("%w: result: %v", domain.ErrReadDatabaseRow, err)
		}
	}
	if len(jobErr) > 0 {
		job.Error = &model.JobError{}
		if err := json.Unmarshal(jobErr, job.Error); err != nil {
			return nil, fmt.Errorf("%w: error: %v", domain.ErrReadDatabaseRow, err)
		}
	}
	return &job, nil
}

func jsonOrNil[T any](v *T) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}
