package usecase

import (
	"math/rand"
	"sync"
	"time"

	"chatbot-ai-pipeline/internal/domain/model"
)

const (
	DefaultRetryBase   = time.Second
	DefaultRetryCap    = 60 * time.Second
	DefaultRetryJitter = time.Second
)

// RetryPolicy decides whether a failed job is retried and when.
type RetryPolicy struct {
	Base   time.Duration
	Cap    time.Duration
	Jitter time.Duration

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewRetryPolicy(base, maxDelay time.Duration) *RetryPolicy {
	return NewRetryPolicyWithRand(base, maxDelay, rand.New(rand.NewSource(time.Now().UnixNano())))
}

// NewRetryPolicyWithRand is NewRetryPolicy with a caller-supplied source.
func NewRetryPolicyWithRand(base, maxDelay time.Duration, rnd *rand.Rand) *RetryPolicy {
	if base <= 0 {
		base = DefaultRetryBase
	}
	if maxDelay <= 0 {
		maxDelay = DefaultRetryCap
	}
	return &RetryPolicy{Base: base, Cap: maxDelay, Jitter: DefaultRetryJitter, rnd: rnd}
}

// ShouldRetry is true for a failed job with a retryable error while the
// retry budget is not spent.
func (p *RetryPolicy) ShouldRetry(job *model.AIJob) bool {
	if job == nil || job.Status != model.AIJobStatusFailed {
		return false
	}
	if job.Error == nil || !job.Error.Retryable {
		return false
	}
	return job.Metadata.RetryCount < model.MaxRetries
}

// NextDelay is base*2^(attempt-1) plus up to Jitter of noise, capped at Cap.
func (p *RetryPolicy) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.Cap
	if attempt <= 30 {
		if exp := p.Base << (attempt - 1); exp > 0 && exp < p.Cap {
			d = exp
		}
	}
	if p.Jitter > 0 {
		p.mu.Lock()
		d += time.Duration(p.rnd.Int63n(int64(p.Jitter)))
		p.mu.Unlock()
	}
	if d > p.Cap {
		d = p.Cap
	}
	return d
}
