// Package workload defines managed applications and their persistence.
package workload

import "time"

// Kind determines how a workload executes.
type Kind string

const (
	// KindContinuous runs as a long-lived process until stopped
	KindContinuous Kind = "continuous"
	// KindScheduled runs to completion once per trigger firing
	KindScheduled Kind = "scheduled"
)

// State is a workload's position in the lifecycle state machine.
type State string

const (
	StateUploaded  State = "uploaded"
	StateInstalled State = "installed"
	StateEnabled   State = "enabled"
	StateDisabled  State = "disabled"
	StateRunning   State = "running"
	StateStopped   State = "stopped"
	StateFailed    State = "failed"
	StateDeleted   State = "deleted"
)

// RestartPolicy controls self-healing of continuous workloads.
type RestartPolicy string

const (
	RestartNever     RestartPolicy = "never"
	RestartAlways    RestartPolicy = "always"
	RestartOnFailure RestartPolicy = "on-failure"
)

// Workload represents a managed application. The lifecycle controller owns
// the state field; the supervisor and trigger engine write only the runtime
// bookkeeping fields (pid, restart counters, last-error) under the
// per-workload lock.
type Workload struct {
	ID          int64
	Name        string // unique
	DisplayName string
	Description string
	Kind        Kind
	State       State

	Version       string
	UpdateCount   int
	LastUpdatedAt *time.Time

	Entrypoint  string // relative to the workload's source directory
	Args        string // extra arguments, shell-quoted
	Environment map[string]string

	RestartPolicy        RestartPolicy
	MaxRestarts          int
	RestartWindowSeconds int

	// Runtime fields, maintained by the supervisor
	PID           *int
	RestartCount  int
	LastRestartAt *time.Time
	LastError     string
	LastErrorAt   *time.Time

	IsDeleted bool
	DeletedAt *time.Time

	// Source provenance (set for git-ingested workloads)
	GitURL    string
	GitBranch string
	GitCommit string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsRunning reports whether the workload has a live supervised process.
func (w *Workload) IsRunning() bool {
	return w.State == StateRunning && w.PID != nil
}

// CanStart reports whether a start transition is legal from the current state.
func (w *Workload) CanStart() bool {
	return w.State == StateEnabled || w.State == StateStopped || w.State == StateFailed
}

// CanStop reports whether a stop transition is legal from the current state.
func (w *Workload) CanStop() bool {
	return w.State == StateRunning
}

// CanEnable reports whether an enable transition is legal from the current state.
func (w *Workload) CanEnable() bool {
	return w.State == StateInstalled || w.State == StateDisabled
}

// CanDisable reports whether a disable transition is legal from the current state.
func (w *Workload) CanDisable() bool {
	return w.State == StateEnabled || w.State == StateStopped || w.State == StateFailed
}
