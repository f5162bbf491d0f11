package tasks

import (
	"context"
	"time"
)

// Kind identifies what a background task does.
type Kind string

// Task kinds.
const (
	KindFullImport        Kind = "full_import"
	KindIncrementalUpdate Kind = "incremental_update"
	KindStrategyScan      Kind = "strategy_scan"
	KindStockSync         Kind = "stock_sync"
	KindHealthCheck       Kind = "health_check"
)

// Status is the lifecycle state of a task.
// Pending -> Running -> {Completed, Failed, Cancelled}; terminal states are
// never left again.
type Status string

// Task statuses.
const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// ProgressFunc is called by a task body to publish progress (0-100) and a
// human-readable message. It may be called at any frequency.
type ProgressFunc func(percent float64, message string)

// WorkFunc is the body of a background task. The context is cancelled when
// cancellation is requested; a body that returns context.Canceled after
// observing it is recorded as Cancelled. Cancellation is cooperative: a body
// that never checks the context runs to completion.
type WorkFunc func(ctx context.Context, progress ProgressFunc) error

// Snapshot is an immutable copy of a task's observable state.
type Snapshot struct {
	ID              string     `json:"task_id"`
	Kind            Kind       `json:"kind"`
	Status          Status     `json:"status"`
	Progress        float64    `json:"progress"`
	Message         string     `json:"message"`
	CreatedAt       time.Time  `json:"created_at"`
	StartedAt       *time.Time `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at"`
	Error           string     `json:"error,omitempty"`
	CancelRequested bool       `json:"cancel_requested"`
}

// task is the manager-owned mutable state behind a Snapshot.
// All fields are guarded by the manager's mutex; the running goroutine
// mutates status/progress/message through the manager only.
type task struct {
	snap   Snapshot
	cancel context.CancelFunc
}
