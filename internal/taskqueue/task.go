// Package taskqueue implements the Coordinator's Task Queue (spec.md
// §4.5): a dependency-DAG-aware, priority-ordered queue of tasks awaiting
// assignment, with cycle detection at submission, cascading failure
// through dependents, and retry backoff. Grounded on the teacher's
// internal/coordinator/plan.go (DAG validation, topoSort) and retry.go
// (retry-prompt rebuilding), generalized from the teacher's fixed LLM
// plan-step shape to the spec's free-form Task.
package taskqueue

import (
	"time"

	"github.com/joelfuller2016/swarmbot/internal/swarmerr"
)

// State is the closed set of task lifecycle states (spec.md §4.5).
type State string

const (
	StatePending   State = "Pending"   // waiting on unmet dependencies
	StateReady     State = "Ready"     // eligible for assignment, sitting in the priority heap
	StateAssigned  State = "Assigned"  // handed to the Dispatcher, awaiting agent pickup
	StateRunning   State = "Running"   // an agent is executing it
	StateCompleted State = "Completed"
	StateFailed    State = "Failed"
	StateCancelled State = "Cancelled"
)

func (s State) terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// Task is a unit of work submitted to the Coordinator.
type Task struct {
	ID                   string
	Type                 string
	Payload              any
	RequiredCapabilities []string
	Priority             int // lower value is higher priority
	Dependencies         []string
	Deadline             time.Duration // zero means no deadline
	MaxRetries           int

	State           State
	RetryCount      int
	SubmittedAt     time.Time
	ReadyAt         time.Time
	AssignedAgentID string
	AssignedAt      time.Time
	DeadlineAt      time.Time
	Result          any
	Failure         *swarmerr.TaskFailure

	remaining map[string]struct{} // unmet dependency ids, empty once Ready
}

// EffectivePriority is Priority demoted by RetryCount (spec.md §4.5:
// retried tasks lose priority so a stuck task cannot starve the queue).
func (t *Task) EffectivePriority() int {
	return t.Priority + t.RetryCount
}

// Snapshot is an immutable copy of a Task's state for callers outside
// the queue's lock.
type Snapshot struct {
	ID                   string
	Type                 string
	Payload              any
	RequiredCapabilities []string
	Priority             int
	EffectivePriority    int
	Dependencies         []string
	State                State
	RetryCount           int
	SubmittedAt          time.Time
	AssignedAgentID      string
	DeadlineAt           time.Time
	Result               any
	Failure              *swarmerr.TaskFailure
}

func (t *Task) snapshot() Snapshot {
	return Snapshot{
		ID:                   t.ID,
		Type:                 t.Type,
		Payload:              t.Payload,
		RequiredCapabilities: t.RequiredCapabilities,
		Priority:             t.Priority,
		EffectivePriority:    t.EffectivePriority(),
		Dependencies:         t.Dependencies,
		State:                t.State,
		RetryCount:           t.RetryCount,
		SubmittedAt:          t.SubmittedAt,
		AssignedAgentID:      t.AssignedAgentID,
		DeadlineAt:           t.DeadlineAt,
		Result:               t.Result,
		Failure:              t.Failure,
	}
}
