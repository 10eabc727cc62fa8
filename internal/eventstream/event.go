// Package eventstream implements the Coordinator's Event Stream (spec.md
// §4.2): a sequence-numbered, batched publish/subscribe layer over the
// state changes of tasks and agents. Grounded on the teacher's
// internal/bus subscription model (topic-prefix matching, non-blocking
// delivery) generalized with a ring buffer for reconnect catch-up and a
// dual-window batching policy, and on internal/otel's instrument
// registration pattern for the metrics this package emits.
package eventstream

import "time"

// Kind is the closed set of event kinds (spec.md §4.2).
type Kind string

const (
	KindTaskSubmitted       Kind = "TaskSubmitted"
	KindTaskReady           Kind = "TaskReady"
	KindTaskAssigned        Kind = "TaskAssigned"
	KindTaskStarted         Kind = "TaskStarted"
	KindTaskCompleted       Kind = "TaskCompleted"
	KindTaskFailed          Kind = "TaskFailed"
	KindTaskRetryScheduled  Kind = "TaskRetryScheduled"
	KindTaskCancelled       Kind = "TaskCancelled"
	KindAgentRegistered     Kind = "AgentRegistered"
	KindAgentStatusChanged  Kind = "AgentStatusChanged"
	KindAgentMetricsUpdate  Kind = "AgentMetricsUpdate"
	KindSystemAlert         Kind = "SystemAlert"
	KindHeartbeat           Kind = "Heartbeat"
)

// immediateFlush is the set of kinds that bypass the batching window and
// flush as soon as they are emitted (spec.md §4.2).
var immediateFlush = map[Kind]bool{
	KindTaskCompleted: true,
	KindTaskFailed:    true,
	KindTaskCancelled: true,
	KindSystemAlert:   true,
}

// Event is an immutable, sequence-numbered record of a state change.
type Event struct {
	Seq       int64
	Kind      Kind
	Subject   string // task id, agent id, or "system"
	Body      any
	Timestamp time.Time
}

func (e Event) coalesceKey() string {
	return string(e.Kind) + "\x00" + e.Subject
}

// GapNotice is delivered to a subscriber in place of events it cannot be
// replayed because they have already left the ring buffer.
type GapNotice struct {
	FromSeq int64
	ToSeq   int64
}
