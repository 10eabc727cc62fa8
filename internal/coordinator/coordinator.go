// Package coordinator implements the Coordinator Facade (spec.md §4.7):
// the single entry point that wires the Message Bus, Event Stream, Task
// Queue, Agent Registry, and Dispatcher into one running system and
// exposes the operations external callers use (submit, cancel, query,
// register/deregister agent, subscribe to events). Grounded on the
// teacher's cmd/goclaw/main.go wiring sequence and
// internal/coordinator/executor.go's role as the component that owns
// every other subsystem's lifecycle.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joelfuller2016/swarmbot/internal/agentrt"
	"github.com/joelfuller2016/swarmbot/internal/bus"
	"github.com/joelfuller2016/swarmbot/internal/dispatcher"
	"github.com/joelfuller2016/swarmbot/internal/eventstream"
	"github.com/joelfuller2016/swarmbot/internal/registry"
	"github.com/joelfuller2016/swarmbot/internal/swarmerr"
	"github.com/joelfuller2016/swarmbot/internal/taskqueue"
)

// Defaults mirror spec.md §6's Coordinator-wide configuration keys.
const (
	DefaultMaxPendingTasks            = 10000
	DefaultAgentUnreachableMultiplier = 3
	DefaultCancelGrace                = 5 * time.Second
	DefaultSweepInterval               = time.Minute
)

// Config controls Coordinator construction. Every field maps directly to
// a spec.md §6 configuration key; internal/config.CoordinatorConfig
// translates a loaded YAML document into this struct.
type Config struct {
	MaxPendingTasks          int
	DefaultTaskDeadline      time.Duration
	CancelGrace              time.Duration
	HeartbeatInterval        time.Duration
	UnreachableMultiplier    int
	RetryBaseDelay           time.Duration
	RetryMaxDelay            time.Duration
	EventRingCapacity        int
	EventBatchWindow         time.Duration
	TerminalRetention        time.Duration
	StrictRequiredCapability bool

	// PayloadValidator, if set, enforces a per-task-type payload schema
	// at Submit time (internal/taskqueue.SchemaRegistry is the
	// reference implementation, built on santhosh-tekuri/jsonschema).
	PayloadValidator taskqueue.PayloadValidator

	Logger  *slog.Logger
	Metrics Metrics
}

// Metrics is the full set of telemetry instruments the Coordinator and
// its subsystems touch, satisfied by internal/telemetry.
type Metrics interface {
	eventstream.Metrics
	dispatcher.Metrics
}

// SubmitRequest is the caller-facing shape of a new task (spec.md §3
// Task, submission fields only; lifecycle fields are server-assigned).
type SubmitRequest struct {
	ID                   string // optional; generated if empty
	Type                 string
	Payload              any
	RequiredCapabilities []string
	Priority             int
	Dependencies         []string
	Deadline             time.Duration
	MaxRetries           int
}

// AgentRegistration is the caller-facing shape of a new agent.
type AgentRegistration struct {
	ID            string
	Capabilities  []string
	MaxConcurrent int
	Processor     agentrt.Processor
}

// Coordinator is the facade over the whole swarm: Message Bus, Event
// Stream, Task Queue, Agent Registry, and Dispatcher.
type Coordinator struct {
	cfg    Config
	logger *slog.Logger

	Bus      *bus.Bus
	Stream   *eventstream.Stream
	Registry *registry.Registry
	Queue    *taskqueue.Queue
	Disp     *dispatcher.Dispatcher

	mu       sync.Mutex
	runtimes map[string]*agentrt.Runtime
	started  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// New wires every subsystem together but does not start any goroutines;
// call Start to run the system.
func New(cfg Config) *Coordinator {
	if cfg.MaxPendingTasks <= 0 {
		cfg.MaxPendingTasks = DefaultMaxPendingTasks
	}
	if cfg.UnreachableMultiplier <= 0 {
		cfg.UnreachableMultiplier = DefaultAgentUnreachableMultiplier
	}
	if cfg.CancelGrace <= 0 {
		cfg.CancelGrace = DefaultCancelGrace
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = agentrt.DefaultHeartbeatInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	messageBus := bus.New(bus.Config{Logger: logger})
	var streamMetrics eventstream.Metrics
	var dispMetrics dispatcher.Metrics
	if cfg.Metrics != nil {
		streamMetrics = cfg.Metrics
		dispMetrics = cfg.Metrics
	}
	stream := eventstream.New(eventstream.Config{
		RingCapacity: cfg.EventRingCapacity,
		BatchWindow:  cfg.EventBatchWindow,
		Logger:       logger,
		Metrics:      streamMetrics,
	})
	reg := registry.New()
	disp := dispatcher.New(dispatcher.Config{Registry: reg, Stream: stream, Logger: logger, Metrics: dispMetrics})
	queue := taskqueue.New(taskqueue.Config{
		RetryBaseDelay:    cfg.RetryBaseDelay,
		RetryMaxDelay:     cfg.RetryMaxDelay,
		TerminalRetention: cfg.TerminalRetention,
		Notifier:          disp,
		Validator:         cfg.PayloadValidator,
	})

	return &Coordinator{
		cfg:      cfg,
		logger:   logger,
		Bus:      messageBus,
		Stream:   stream,
		Registry: reg,
		Queue:    queue,
		Disp:     disp,
		runtimes: make(map[string]*agentrt.Runtime),
	}
}

// Start launches the Event Stream, Dispatcher, and background
// maintenance loops (heartbeat-liveness sweep, terminal-task eviction).
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return swarmerr.ErrAlreadyRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.started = true
	c.mu.Unlock()

	c.wg.Add(3)
	go func() { defer c.wg.Done(); c.Stream.Run(runCtx) }()
	go func() { defer c.wg.Done(); c.Disp.Run(runCtx) }()
	go func() { defer c.wg.Done(); c.maintenanceLoop(runCtx) }()
	return nil
}

// Stop halts the Dispatcher, Event Stream, and every registered agent's
// Runtime, then waits for all background goroutines to exit.
func (c *Coordinator) Stop() error {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return swarmerr.ErrAlreadyStopped
	}
	c.started = false
	cancel := c.cancel
	runtimes := make([]*agentrt.Runtime, 0, len(c.runtimes))
	for _, rt := range c.runtimes {
		runtimes = append(runtimes, rt)
	}
	c.mu.Unlock()

	cancel()
	for _, rt := range runtimes {
		rt.Stop()
	}
	c.Stream.Stop()
	c.wg.Wait()
	return nil
}

func (c *Coordinator) maintenanceLoop(ctx context.Context) {
	heartbeatTicker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer heartbeatTicker.Stop()
	sweepTicker := time.NewTicker(DefaultSweepInterval)
	defer sweepTicker.Stop()

	unreachableAfter := c.cfg.HeartbeatInterval * time.Duration(c.cfg.UnreachableMultiplier)
	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeatTicker.C:
			for _, id := range c.Registry.UnreachableSince(unreachableAfter) {
				c.Stream.Publish(eventstream.KindAgentStatusChanged, id, registry.StatusUnreachable)
			}
		case <-sweepTicker.C:
			if n := c.Queue.SweepTerminal(time.Now()); n > 0 {
				c.logger.Debug("swept terminal tasks", "count", n)
			}
		}
	}
}

// Submit admits a new task. It returns ErrQueueFull if the Coordinator
// already tracks MaxPendingTasks tasks.
func (c *Coordinator) Submit(req SubmitRequest) (string, error) {
	if c.Queue.Len() >= c.cfg.MaxPendingTasks {
		return "", swarmerr.ErrQueueFull
	}
	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}
	deadline := req.Deadline
	if deadline <= 0 {
		deadline = c.cfg.DefaultTaskDeadline
	}

	task := &taskqueue.Task{
		ID:                   id,
		Type:                 req.Type,
		Payload:              req.Payload,
		RequiredCapabilities: req.RequiredCapabilities,
		Priority:             req.Priority,
		Dependencies:         req.Dependencies,
		Deadline:             deadline,
		MaxRetries:           req.MaxRetries,
	}
	if err := c.Queue.Submit(task); err != nil {
		return "", err
	}
	c.Stream.Publish(eventstream.KindTaskSubmitted, id, req)
	return id, nil
}

// Cancel marks a task (and its dependents) Cancelled. If the task is
// currently Running, it first sends a cooperative cancel signal to the
// executing Agent Runtime and waits up to CancelGrace for the agent to
// honor it; an agent that fails to acknowledge within the grace period
// is recorded as a non-ack, and one that repeatedly fails to acknowledge
// (spec.md §5: three consecutive misses) is demoted to Error. Either way
// the Task Queue is marked Cancelled once the grace period elapses or
// the agent acknowledges, whichever comes first (spec.md §4.6).
func (c *Coordinator) Cancel(taskID string) error {
	snap, ok := c.Queue.Query(taskID)
	if !ok {
		return swarmerr.ErrUnknownTask
	}
	if snap.State != taskqueue.StateRunning {
		return c.Queue.Cancel(taskID)
	}

	c.mu.Lock()
	rt, ok := c.runtimes[snap.AssignedAgentID]
	c.mu.Unlock()

	if ok {
		if done, found := rt.CancelTask(taskID); found {
			select {
			case <-done:
				c.Registry.RecordCancelAck(snap.AssignedAgentID)
			case <-time.After(c.cfg.CancelGrace):
				c.Registry.RecordCancelNonAck(snap.AssignedAgentID)
			}
		}
	}
	return c.Queue.Cancel(taskID)
}

// Query returns the current snapshot of one task.
func (c *Coordinator) Query(taskID string) (taskqueue.Snapshot, bool) {
	return c.Queue.Query(taskID)
}

// SubscribeEvents opens a live Event Stream subscription.
func (c *Coordinator) SubscribeEvents(filter eventstream.Filter, fromSeq int64) *eventstream.Subscription {
	return c.Stream.Subscribe(filter, fromSeq)
}

// RegisterAgent admits a new agent: it is recorded in the Registry, a
// Runtime is started to execute tasks against its Processor, and the
// Dispatcher is made aware of it.
func (c *Coordinator) RegisterAgent(reg AgentRegistration) error {
	if reg.ID == "" || reg.Processor == nil {
		return fmt.Errorf("register agent: %w", swarmerr.ErrInvalidTask)
	}
	maxConcurrent := reg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}

	c.Registry.Register(reg.ID, reg.Capabilities, maxConcurrent)
	c.Bus.RegisterAgent(reg.ID)

	rt := agentrt.New(agentrt.Config{
		AgentID:           reg.ID,
		Capabilities:      reg.Capabilities,
		MaxConcurrent:     maxConcurrent,
		HeartbeatInterval: c.cfg.HeartbeatInterval,
		Processor:         reg.Processor,
		Outcomes:          c.Disp,
		Heartbeater:       c.Disp,
		Logger:            c.logger,
	})

	c.mu.Lock()
	c.runtimes[reg.ID] = rt
	c.mu.Unlock()

	// Runtime.Stop is called explicitly from both Coordinator.Stop and
	// DeregisterAgent, so the runtime does not need to inherit the
	// Coordinator's own cancellation context.
	if err := rt.Start(context.Background()); err != nil {
		return err
	}
	c.Disp.RegisterRuntime(reg.ID, rt)
	c.Stream.Publish(eventstream.KindAgentRegistered, reg.ID, reg.Capabilities)
	return nil
}

// DeregisterAgent stops and removes an agent.
func (c *Coordinator) DeregisterAgent(agentID string) {
	c.mu.Lock()
	rt, ok := c.runtimes[agentID]
	delete(c.runtimes, agentID)
	c.mu.Unlock()

	c.Disp.UnregisterRuntime(agentID)
	if ok {
		rt.Stop()
	}
	c.Registry.Deregister(agentID)
	c.Bus.DeregisterAgent(agentID)
	c.Stream.Publish(eventstream.KindAgentStatusChanged, agentID, registry.StatusOffline)
}
