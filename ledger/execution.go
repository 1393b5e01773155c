// Package ledger is the append-only record of workload run attempts.
//
// Every process spawn, whether a supervised start of a continuous workload
// or one firing of a scheduled workload, is preceded by a Pending execution row
// and followed by exactly one terminal status. Terminal executions are
// immutable; the store enforces this in SQL.
package ledger

import (
	"time"

	"github.com/google/uuid"
)

// Status is an execution's position in its (monotonic) life.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSuccess   Status = "success"
	StatusFailed    Status = "failed"
	StatusTimeout   Status = "timeout"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status can never change again.
func (s Status) Terminal() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusTimeout, StatusCancelled:
		return true
	default:
		return false
	}
}

// TriggerType records what caused an execution.
type TriggerType string

const (
	TriggerManual    TriggerType = "manual"
	TriggerScheduled TriggerType = "scheduled"
)

// Execution represents one concrete run attempt of a workload.
type Execution struct {
	ID         string
	WorkloadID int64
	Status     Status

	StartedAt *time.Time
	EndedAt   *time.Time

	PID      *int
	ExitCode *int

	StdoutPath string
	StderrPath string

	ErrorMessage string

	TriggerType   TriggerType
	TriggerDetail string // e.g. "schedule:42"

	CreatedAt time.Time
}

// New creates a Pending execution for a workload.
func New(workloadID int64, trigger TriggerType, detail string) *Execution {
	return &Execution{
		ID:            uuid.NewString(),
		WorkloadID:    workloadID,
		Status:        StatusPending,
		TriggerType:   trigger,
		TriggerDetail: detail,
		CreatedAt:     time.Now().UTC(),
	}
}

// Duration returns the elapsed run time, or zero when not yet finished.
func (e *Execution) Duration() time.Duration {
	if e.StartedAt == nil || e.EndedAt == nil {
		return 0
	}
	return e.EndedAt.Sub(*e.StartedAt)
}

// Active reports whether the execution has not reached a terminal status.
func (e *Execution) Active() bool {
	return !e.Status.Terminal()
}
