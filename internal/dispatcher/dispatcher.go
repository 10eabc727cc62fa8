// Package dispatcher implements the Coordinator's Dispatcher (spec.md
// §4.6): the single cooperative loop that pulls Ready tasks off the Task
// Queue, selects a candidate agent from the Registry, and hands the task
// to that agent's Runtime. Grounded on the teacher's
// internal/coordinator/waiter.go event-driven (non-polling) wake-up
// pattern and internal/engine/failover.go's next-candidate fallback on a
// rejected assignment.
package dispatcher

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/joelfuller2016/swarmbot/internal/agentrt"
	"github.com/joelfuller2016/swarmbot/internal/eventstream"
	"github.com/joelfuller2016/swarmbot/internal/registry"
	"github.com/joelfuller2016/swarmbot/internal/swarmerr"
	"github.com/joelfuller2016/swarmbot/internal/taskqueue"
)

// pollFallback bounds how long the loop can go without a wake signal
// before it re-checks the queue anyway, covering the case where an agent
// frees up capacity without any task reaching Ready (e.g. the last
// runtime for a capability set just finished a different task).
const pollFallback = 500 * time.Millisecond

// Metrics is the subset of telemetry instruments the Dispatcher touches.
type Metrics interface {
	RecordAssignment(agentID string)
	RecordAssignmentFailure()
	RecordQueueDepth(depth int)
}

// Config controls Dispatcher construction.
type Config struct {
	Queue    *taskqueue.Queue
	Registry *registry.Registry
	Stream   *eventstream.Stream
	Logger   *slog.Logger
	Metrics  Metrics
}

// Dispatcher owns the assignment loop. It implements taskqueue.Notifier
// (to wake on newly Ready tasks and publish terminal events) and
// agentrt.Outcomes (to record completions and failures back into the
// Queue and Registry).
type Dispatcher struct {
	queue    *taskqueue.Queue
	reg      *registry.Registry
	stream   *eventstream.Stream
	logger   *slog.Logger
	metrics  Metrics

	mu       sync.RWMutex
	runtimes map[string]*agentrt.Runtime

	wake chan struct{}
}

var (
	_ taskqueue.Notifier  = (*Dispatcher)(nil)
	_ agentrt.Outcomes    = (*Dispatcher)(nil)
	_ agentrt.Heartbeater = (*Dispatcher)(nil)
)

// New constructs a Dispatcher. Call Run to start its loop.
func New(cfg Config) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		queue:    cfg.Queue,
		reg:      cfg.Registry,
		stream:   cfg.Stream,
		logger:   logger,
		metrics:  cfg.Metrics,
		runtimes: make(map[string]*agentrt.Runtime),
		wake:     make(chan struct{}, 1),
	}
}

// RegisterRuntime makes an agent's Runtime available for assignment and
// wakes the loop in case tasks are already waiting on its capabilities.
func (d *Dispatcher) RegisterRuntime(agentID string, rt *agentrt.Runtime) {
	d.mu.Lock()
	d.runtimes[agentID] = rt
	d.mu.Unlock()
	d.notify()
}

// UnregisterRuntime removes an agent's Runtime, e.g. once it deregisters
// or is declared Unreachable.
func (d *Dispatcher) UnregisterRuntime(agentID string) {
	d.mu.Lock()
	delete(d.runtimes, agentID)
	d.mu.Unlock()
}

func (d *Dispatcher) runtimeFor(agentID string) (*agentrt.Runtime, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	rt, ok := d.runtimes[agentID]
	return rt, ok
}

func (d *Dispatcher) notify() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// OnReady implements taskqueue.Notifier: a task becoming assignable
// wakes the loop and is published for subscribers.
func (d *Dispatcher) OnReady(s taskqueue.Snapshot) {
	if d.stream != nil {
		d.stream.Publish(eventstream.KindTaskReady, s.ID, s)
	}
	d.notify()
}

// OnRetryScheduled implements taskqueue.Notifier: a retryable failure
// was given a backoff timer instead of going terminal.
func (d *Dispatcher) OnRetryScheduled(s taskqueue.Snapshot) {
	if d.stream != nil {
		d.stream.Publish(eventstream.KindTaskRetryScheduled, s.ID, s)
	}
}

// OnTerminal implements taskqueue.Notifier: terminal tasks are published
// to the Event Stream for subscribers.
func (d *Dispatcher) OnTerminal(s taskqueue.Snapshot) {
	if d.stream == nil {
		return
	}
	kind := eventstream.KindTaskCompleted
	switch s.State {
	case taskqueue.StateFailed:
		kind = eventstream.KindTaskFailed
	case taskqueue.StateCancelled:
		kind = eventstream.KindTaskCancelled
	}
	d.stream.Publish(kind, s.ID, s)
}

// Run drives the assignment loop until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(pollFallback)
	defer ticker.Stop()
	for {
		d.drain(ctx)
		select {
		case <-ctx.Done():
			return
		case <-d.wake:
		case <-ticker.C:
		}
	}
}

// drain assigns every Ready task it can find an acceptable agent for,
// one assignment per popped task, yielding between iterations so a long
// backlog never starves other goroutines.
func (d *Dispatcher) drain(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		task, ok := d.queue.Peek()
		if !ok {
			return
		}

		assigned := d.tryAssign(task)
		if !assigned {
			// Head of the queue cannot be placed right now; stop this
			// pass rather than spin-looping over the same task; the next
			// wake (a new agent, a freed slot, or the poll fallback)
			// will retry it.
			return
		}
		popped, ok := d.queue.Pop()
		if ok && popped.ID == task.ID {
			d.commitAssignment(popped)
		}
		if d.metrics != nil {
			d.metrics.RecordQueueDepth(d.queue.Len())
		}
	}
}

// tryAssign reports whether task currently has a reachable candidate; it
// does not mutate queue or registry state, since Peek must stay
// side-effect free.
func (d *Dispatcher) tryAssign(task taskqueue.Snapshot) bool {
	for _, c := range d.reg.Candidates(task.RequiredCapabilities) {
		if _, ok := d.runtimeFor(c.ID); ok {
			return true
		}
	}
	return false
}

// commitAssignment performs the actual candidate walk and hand-off for a
// task already popped from the queue, falling back to the next
// candidate if a runtime rejects the hand-off (spec.md §4.6
// NotAcceptable fallback).
func (d *Dispatcher) commitAssignment(task taskqueue.Snapshot) {
	candidates := d.reg.Candidates(task.RequiredCapabilities)
	for _, c := range candidates {
		rt, ok := d.runtimeFor(c.ID)
		if !ok {
			continue
		}

		d.reg.IncrLoad(c.ID, 1)
		d.queue.MarkAssigned(task.ID, c.ID)
		if d.stream != nil {
			d.stream.Publish(eventstream.KindTaskAssigned, task.ID, c.ID)
		}
		if d.metrics != nil {
			d.metrics.RecordAssignment(c.ID)
		}

		var deadlineAt time.Time
		if updated, ok := d.queue.Query(task.ID); ok {
			deadlineAt = updated.DeadlineAt
		}
		rt.Assign(agentrt.ExecutionRequest{
			TaskID:               task.ID,
			Type:                 task.Type,
			Payload:              task.Payload,
			RequiredCapabilities: task.RequiredCapabilities,
		}, deadlineAt)
		return
	}

	// Every previously-seen candidate vanished between tryAssign and
	// here (deregistered, or raced into a full load); put the task back.
	if d.metrics != nil {
		d.metrics.RecordAssignmentFailure()
	}
	d.logger.Warn("no acceptable agent at commit time, requeueing", "task_id", task.ID)
	d.queue.Requeue(task.ID)
}

// OnTaskStarted implements agentrt.Outcomes: the agent has picked the
// assignment off its own queue and is about to call the Processor,
// the moment spec.md §4.2's TaskStarted event marks.
func (d *Dispatcher) OnTaskStarted(agentID, taskID string) {
	d.queue.MarkRunning(taskID)
	if d.stream != nil {
		d.stream.Publish(eventstream.KindTaskStarted, taskID, agentID)
	}
}

// OnTaskCompleted implements agentrt.Outcomes.
func (d *Dispatcher) OnTaskCompleted(agentID, taskID string, result any) {
	d.reg.IncrLoad(agentID, -1)
	d.reg.RecordOutcome(agentID, true)
	d.queue.Complete(taskID, result)
	d.notify()
}

// OnTaskFailed implements agentrt.Outcomes.
func (d *Dispatcher) OnTaskFailed(agentID, taskID string, failure *swarmerr.TaskFailure) {
	d.reg.IncrLoad(agentID, -1)
	d.reg.RecordOutcome(agentID, false)
	d.queue.Fail(taskID, failure)
	d.notify()
}

// OnTaskCancelled implements agentrt.Outcomes: the runtime honored an
// explicit per-task cancel signal. The Task Queue transition to
// Cancelled is driven by Coordinator.Cancel itself, not here, so this
// only releases the agent's load slot.
func (d *Dispatcher) OnTaskCancelled(agentID, taskID string) {
	d.reg.IncrLoad(agentID, -1)
	d.notify()
}

// Heartbeat implements agentrt.Heartbeater.
func (d *Dispatcher) Heartbeat(agentID string) {
	d.reg.Heartbeat(agentID)
	if d.stream != nil {
		d.stream.Publish(eventstream.KindHeartbeat, agentID, nil)
	}
}
