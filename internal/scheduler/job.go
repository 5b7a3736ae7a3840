package scheduler

import (
	"context"
	"time"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusRetrying  Status = "retrying"
)

// Terminal reports whether no further transitions can happen.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

const (
	DefaultPriority   = 5
	DefaultMaxRetries = 3
)

// Func is the work unit of a job. A returned error or a panic fails the attempt.
type Func func(ctx context.Context) error

// job is the scheduler-owned record. All fields are guarded by Scheduler.mu.
type job struct {
	id         string
	name       string
	priority   int
	maxRetries int
	retryCount int
	status     Status
	fn         Func
	createdAt  time.Time
	startedAt  time.Time
	finishedAt time.Time
	lastError  string

	delay     time.Duration
	timer     *time.Timer
	cancelled bool
	index     int // heap position, -1 when not queued
}

func (j *job) snapshot() Snapshot {
	return Snapshot{
		ID:         j.id,
		Name:       j.name,
		Priority:   j.priority,
		Status:     j.status,
		RetryCount: j.retryCount,
		MaxRetries: j.maxRetries,
		CreatedAt:  j.createdAt,
		StartedAt:  j.startedAt,
		FinishedAt: j.finishedAt,
		LastError:  j.lastError,
	}
}

// Snapshot is a point-in-time copy of a job's state.
type Snapshot struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Priority   int       `json:"priority"`
	Status     Status    `json:"status"`
	RetryCount int       `json:"retry_count"`
	MaxRetries int       `json:"max_retries"`
	CreatedAt  time.Time `json:"created_at"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
	LastError  string    `json:"last_error,omitempty"`
}

// SubmitOption configures a submitted job.
type SubmitOption func(*job)

// WithPriority sets the job priority; lower numbers run first.
func WithPriority(p int) SubmitOption {
	return func(j *job) { j.priority = p }
}

// WithMaxRetries sets how many times a failed job is retried.
func WithMaxRetries(n int) SubmitOption {
	return func(j *job) {
		if n >= 0 {
			j.maxRetries = n
		}
	}
}

// WithDelay holds the job for d before it becomes pending work.
func WithDelay(d time.Duration) SubmitOption {
	return func(j *job) {
		if d > 0 {
			j.delay = d
		}
	}
}

// PeriodicJob is a maintenance job re-submitted on every periodic tick.
type PeriodicJob struct {
	Name       string
	Priority   int
	MaxRetries int
	Fn         Func
}
