// Package agentrt implements the Coordinator's Agent Runtime (spec.md
// §4.3): the long-lived worker loop behind one registered agent, which
// executes assigned tasks against a pluggable Processor, emits
// heartbeats, enforces per-task deadlines, and reports outcomes back to
// the Dispatcher. Grounded on the teacher's internal/engine/engine.go
// (worker loop shape) and heartbeat.go (ticker-driven liveness),
// generalized from the teacher's single embedded LLM engine to the
// spec's arbitrary Processor plug-in.
package agentrt

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/joelfuller2016/swarmbot/internal/swarmerr"
	"github.com/joelfuller2016/swarmbot/internal/telemetry"
)

// ExecutionRequest is everything a Processor needs to execute one task.
type ExecutionRequest struct {
	TaskID               string
	Type                 string
	Payload              any
	RequiredCapabilities []string
}

// Processor is the pluggable unit of work execution an Agent Runtime
// wraps. Implementations live in internal/specialist; the runtime itself
// has no knowledge of LLMs, tools, or MCP.
type Processor interface {
	Execute(ctx context.Context, req ExecutionRequest) (result any, err error)
}

// Outcomes is how a Runtime reports task completion back to its owner
// (the Dispatcher), matching the teacher's callback-interface pattern
// used to avoid a direct import cycle between engine and coordinator.
type Outcomes interface {
	OnTaskStarted(agentID, taskID string)
	OnTaskCompleted(agentID, taskID string, result any)
	OnTaskFailed(agentID, taskID string, failure *swarmerr.TaskFailure)
	OnTaskCancelled(agentID, taskID string)
}

// Heartbeater receives a liveness signal on every heartbeat tick, and an
// explicit status push when the runtime stops or errors out.
type Heartbeater interface {
	Heartbeat(agentID string)
}

// DefaultHeartbeatInterval matches spec.md §4.3's default liveness cadence.
const DefaultHeartbeatInterval = 5 * time.Second

// Config controls Runtime construction.
type Config struct {
	AgentID           string
	Capabilities      []string
	MaxConcurrent     int
	HeartbeatInterval time.Duration
	Processor         Processor
	Outcomes          Outcomes
	Heartbeater       Heartbeater
	Logger            *slog.Logger
}

// assignment is one task handed to the runtime for execution.
type assignment struct {
	req      ExecutionRequest
	deadline time.Time // zero means no deadline
}

// taskCancel is the per-task cooperative cancel handle registered while a
// task is executing, letting CancelTask target one in-flight assignment
// without tearing down the whole runtime via Stop.
type taskCancel struct {
	cancel    context.CancelFunc
	requested atomic.Bool
	done      chan struct{}
}

// Runtime drives one agent's execution loop.
type Runtime struct {
	agentID           string
	capabilities      []string
	maxConcurrent     int
	heartbeatInterval time.Duration
	processor         Processor
	outcomes          Outcomes
	heartbeater       Heartbeater
	logger            *slog.Logger

	assignCh chan assignment
	sem      chan struct{}

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	cancelMu sync.Mutex
	cancels  map[string]*taskCancel
}

// New constructs a Runtime. Start must be called before Assign.
func New(cfg Config) *Runtime {
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	interval := cfg.HeartbeatInterval
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runtime{
		agentID:           cfg.AgentID,
		capabilities:      cfg.Capabilities,
		maxConcurrent:     maxConcurrent,
		heartbeatInterval: interval,
		processor:         cfg.Processor,
		outcomes:          cfg.Outcomes,
		heartbeater:       cfg.Heartbeater,
		logger:            logger.With("agent_id", cfg.AgentID),
		assignCh:          make(chan assignment, maxConcurrent*4),
		sem:               make(chan struct{}, maxConcurrent),
		cancels:           make(map[string]*taskCancel),
	}
}

// Start launches the runtime's dispatch loop and heartbeat ticker. It
// returns ErrAlreadyRunning if called twice without an intervening Stop.
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return swarmerr.ErrAlreadyRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true
	r.done = make(chan struct{})
	r.mu.Unlock()

	go r.heartbeatLoop(runCtx)
	go r.dispatchLoop(runCtx)
	return nil
}

// Stop cancels the runtime's loops and waits for in-flight executions to
// observe cancellation.
func (r *Runtime) Stop() error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return swarmerr.ErrAlreadyStopped
	}
	r.running = false
	cancel := r.cancel
	done := r.done
	r.mu.Unlock()

	cancel()
	<-done
	return nil
}

// Assign hands the runtime a task to execute. It is non-blocking from
// the Dispatcher's perspective unless the runtime's internal backlog
// (sized for its concurrency limit) is saturated, which should not
// happen if the Registry's load accounting is honored.
func (r *Runtime) Assign(req ExecutionRequest, deadlineAt time.Time) {
	select {
	case r.assignCh <- assignment{req: req, deadline: deadlineAt}:
	default:
		r.logger.Warn("agent runtime backlog full, failing task fast", "task_id", req.TaskID)
		if r.outcomes != nil {
			r.outcomes.OnTaskFailed(r.agentID, req.TaskID,
				swarmerr.NewTaskFailure(swarmerr.ReasonAgentException, swarmerr.ErrQueueFull))
		}
	}
}

func (r *Runtime) dispatchLoop(ctx context.Context) {
	defer close(r.done)
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		case a := <-r.assignCh:
			select {
			case r.sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			wg.Add(1)
			go func(a assignment) {
				defer wg.Done()
				defer func() { <-r.sem }()
				r.execute(ctx, a)
			}(a)
		}
	}
}

func (r *Runtime) execute(ctx context.Context, a assignment) {
	execCtx := ctx
	var deadlineCancel context.CancelFunc
	if !a.deadline.IsZero() {
		execCtx, deadlineCancel = context.WithDeadline(ctx, a.deadline)
		defer deadlineCancel()
	}

	execCtx, taskCancelFn := context.WithCancel(execCtx)
	defer taskCancelFn()
	tc := &taskCancel{cancel: taskCancelFn, done: make(chan struct{})}
	r.cancelMu.Lock()
	r.cancels[a.req.TaskID] = tc
	r.cancelMu.Unlock()
	defer func() {
		r.cancelMu.Lock()
		delete(r.cancels, a.req.TaskID)
		r.cancelMu.Unlock()
		close(tc.done)
	}()

	if r.outcomes != nil {
		r.outcomes.OnTaskStarted(r.agentID, a.req.TaskID)
	}

	spanCtx, span := telemetry.StartExecutionSpan(execCtx, otel.Tracer(telemetry.TracerName), a.req.TaskID, a.req.Type, r.agentID)
	result, err := r.processor.Execute(spanCtx, a.req)
	if err != nil {
		span.RecordError(err)
		span.End()
		switch {
		case execCtx.Err() == context.DeadlineExceeded:
			r.logger.Warn("task execution failed", "task_id", a.req.TaskID, "reason", swarmerr.ReasonTimeout, "err", err)
			if r.outcomes != nil {
				r.outcomes.OnTaskFailed(r.agentID, a.req.TaskID, swarmerr.NewTaskFailure(swarmerr.ReasonTimeout, err))
			}
		case tc.requested.Load():
			r.logger.Info("task execution cancelled", "task_id", a.req.TaskID)
			if r.outcomes != nil {
				r.outcomes.OnTaskCancelled(r.agentID, a.req.TaskID)
			}
		default:
			reason := swarmerr.ReasonAgentException
			if ctx.Err() == context.Canceled {
				reason = swarmerr.ReasonAgentStopped
			}
			r.logger.Warn("task execution failed", "task_id", a.req.TaskID, "reason", reason, "err", err)
			if r.outcomes != nil {
				r.outcomes.OnTaskFailed(r.agentID, a.req.TaskID, swarmerr.NewTaskFailure(reason, err))
			}
		}
		return
	}
	span.End()
	if r.outcomes != nil {
		r.outcomes.OnTaskCompleted(r.agentID, a.req.TaskID, result)
	}
}

// CancelTask sends a cooperative cancel signal to a specific in-flight
// task on this runtime, returning whether the task was found executing
// here and a channel that closes once its execution returns.
func (r *Runtime) CancelTask(taskID string) (<-chan struct{}, bool) {
	r.cancelMu.Lock()
	tc, ok := r.cancels[taskID]
	r.cancelMu.Unlock()
	if !ok {
		return nil, false
	}
	tc.requested.Store(true)
	tc.cancel()
	return tc.done, true
}

func (r *Runtime) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(r.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if r.heartbeater != nil {
				r.heartbeater.Heartbeat(r.agentID)
			}
		}
	}
}

// Backlog reports how many assignments are queued but not yet started,
// used by callers surfacing agent health.
func (r *Runtime) Backlog() int { return len(r.assignCh) }
