package domain

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// Common domain errors
	ErrNotFound        = errors.New("entity not found")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrUnknownJobType  = errors.New("unknown ai job type")
	ErrInvalidStatus   = errors.New("invalid job status transition")
	ErrJobLocked       = errors.New("ai job is being processed by another worker")
	ErrMalformedChunk  = errors.New("malformed stream chunk")
	ErrEmptyResponse   = errors.New("provider returned no content")
	ErrNoMessages      = errors.New("ai job has no messages")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrNotJoined       = errors.New("connection has not joined this conversation")
	ErrQueueFull       = errors.New("worker queue full")

	ErrReadDatabaseRow    = errors.New("failed to read database row")
	ErrInvalidExecContext = errors.New("invalid database execution context")
)

// ConfigurationError reports a provider/model pairing missing from the
// injected price table. It is never retried.
type ConfigurationError struct {
	Provider string
	Model    string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("unknown model %s for provider %s", e.Model, e.Provider)
}

type RateLimitKind string

const (
	RateLimitRequests RateLimitKind = "requests"
	RateLimitTokens   RateLimitKind = "tokens"
	RateLimitCost     RateLimitKind = "cost"
)

// RateLimitError is returned when a tenant ceiling is hit. WaitTime is zero
// for the daily cost ceiling: the caller has to wait for the day to roll over.
type RateLimitError struct {
	Kind     RateLimitKind
	WaitTime time.Duration
	Current  int64
	Limit    int64
}

func (e *RateLimitError) Error() string {
	switch e.Kind {
	case RateLimitRequests:
		return fmt.Sprintf("ai request rate limit exceeded (%d/%d), retry in %ds", e.Current, e.Limit, e.WaitSeconds())
	case RateLimitTokens:
		return fmt.Sprintf("ai token rate limit exceeded (%d/%d), retry in %ds", e.Current, e.Limit, e.WaitSeconds())
	default:
		return fmt.Sprintf("daily ai cost limit exceeded (%d/%d)", e.Current, e.Limit)
	}
}

// WaitSeconds rounds the wait hint up to whole seconds.
func (e *RateLimitError) WaitSeconds() int {
	if e.WaitTime <= 0 {
		return 0
	}
	return int(math.Ceil(e.WaitTime.Seconds()))
}

// ProviderError wraps a failure talking to a language-model backend.
type ProviderError struct {
	Provider   string
	StatusCode int
	Retryable  bool
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: http %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// NewProviderError classifies an HTTP status: 408, 429 and 5xx are transient.
func NewProviderError(provider string, status int, err error) *ProviderError {
	retryable := status == 0 || status == 408 || status == 429 || status >= 500
	return &ProviderError{Provider: provider, StatusCode: status, Retryable: retryable, Err: err}
}

// CapabilityError is returned when a provider does not support an operation.
type CapabilityError struct {
	Provider   string
	Capability string
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("provider %s does not support %s", e.Provider, e.Capability)
}

// IsRetryable reports whether err is a transient provider failure.
// Configuration, capability and rate-limit errors are never retried here.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var cfgErr *ConfigurationError
	var capErr *CapabilityError
	var rlErr *RateLimitError
	switch {
	case errors.As(err, &cfgErr), errors.As(err, &capErr), errors.As(err, &rlErr):
		return false
	case errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, context.DeadlineExceeded):
		return true
	}
	var pErr *ProviderError
	if errors.As(err, &pErr) {
		return pErr.Retryable
	}
	return false
}

// ErrorCode is the stable machine-readable code stored on failed jobs.
func ErrorCode(err error) string {
	var cfgErr *ConfigurationError
	var capErr *CapabilityError
	var rlErr *RateLimitError
	var pErr *ProviderError
	switch {
	case errors.As(err, &cfgErr):
		return "configuration_error"
	case errors.As(err, &capErr):
		return "capability_error"
	case errors.As(err, &rlErr):
		return "rate_limit_" + string(rlErr.Kind)
	case errors.As(err, &pErr):
		return "provider_error"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, ErrEmptyResponse):
		return "empty_response"
	default:
		return "internal_error"
	}
}

// PublicMessage maps err to text that is safe to show to a visitor.
// Raw provider responses never leave the worker.
func PublicMessage(err error, willRetry bool) string {
	var rlErr *RateLimitError
	if errors.As(err, &rlErr) {
		if s := rlErr.WaitSeconds(); s > 0 {
			return fmt.Sprintf("The assistant is busy right now. Please try again in %d seconds.", s)
		}
		return "The assistant has reached its usage limit for today. Please try again tomorrow."
	}
	if willRetry {
		return "The assistant is temporarily unavailable. Retrying..."
	}
	return "Sorry, the assistant could not generate a response."
}
