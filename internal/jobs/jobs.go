package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Job statuses as stored in the jobs table.
const (
	StatusQueued  = "queued"
	StatusRunning = "running"
	StatusRetry   = "retry"
	StatusDone    = "done"
	StatusFailed  = "failed"
)

// Job represents a background job
type Job struct {
	ID          int64           `json:"id"`
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	Status      string          `json:"status"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	Priority    int             `json:"priority"`
	ScheduledAt time.Time       `json:"scheduled_at"`
	NextTryAt   *time.Time      `json:"next_try_at,omitempty"`
	LastError   string          `json:"last_error,omitempty"`
	Created     time.Time       `json:"created"`
	Updated     time.Time       `json:"updated"`
}

// DeadLetter is a job that exhausted its attempts or failed permanently.
type DeadLetter struct {
	ID        int64           `json:"id"`
	JobID     int64           `json:"job_id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Attempts  int             `json:"attempts"`
	LastError string          `json:"last_error"`
	FailedAt  time.Time       `json:"failed_at"`
}

// Handler is the function that processes a job
type Handler func(ctx context.Context, j *Job) error

var (
	// ErrMaxAttempts indicates the job reached max attempts
	ErrMaxAttempts = errors.New("max attempts reached")
	// ErrPermanent marks a handler error that retrying cannot fix.
	ErrPermanent = errors.New("permanent job failure")
)

// BackoffDuration returns exponential backoff duration for attempt n
func BackoffDuration(attempt int) time.Duration {
	if attempt <= 0 {
		return time.Second
	}
	d := time.Duration(1<<uint(min(attempt, 16))) * time.Second
	if limit := 5 * time.Minute; d > limit {
		return limit
	}
	return d
}
