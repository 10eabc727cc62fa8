package coordinator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/joelfuller2016/swarmbot/internal/agentrt"
	"github.com/joelfuller2016/swarmbot/internal/eventstream"
	"github.com/joelfuller2016/swarmbot/internal/taskqueue"
)

type scriptedProcessor struct {
	fn func(ctx context.Context, req agentrt.ExecutionRequest) (any, error)
}

func (p scriptedProcessor) Execute(ctx context.Context, req agentrt.ExecutionRequest) (any, error) {
	return p.fn(ctx, req)
}

func alwaysSucceeds(ctx context.Context, req agentrt.ExecutionRequest) (any, error) {
	return "ok:" + req.TaskID, nil
}

func waitForState(t *testing.T, c *Coordinator, taskID string, want taskqueue.State) taskqueue.Snapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	var snap taskqueue.Snapshot
	for time.Now().Before(deadline) {
		snap, _ = c.Query(taskID)
		if snap.State == want {
			return snap
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("task %s never reached state %s, last seen %s", taskID, want, snap.State)
	return snap
}

func TestScenario_HappyPath(t *testing.T) {
	c := New(Config{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_ = c.Start(ctx)
	defer c.Stop()

	_ = c.RegisterAgent(AgentRegistration{ID: "a1", Capabilities: []string{"research"}, MaxConcurrent: 2,
		Processor: scriptedProcessor{fn: alwaysSucceeds}})

	id, err := c.Submit(SubmitRequest{Type: "research", RequiredCapabilities: []string{"research"}})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitForState(t, c, id, taskqueue.StateCompleted)
}

func TestScenario_DependencyChain(t *testing.T) {
	c := New(Config{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_ = c.Start(ctx)
	defer c.Stop()

	_ = c.RegisterAgent(AgentRegistration{ID: "a1", Capabilities: []string{"work"}, MaxConcurrent: 3,
		Processor: scriptedProcessor{fn: alwaysSucceeds}})

	first, _ := c.Submit(SubmitRequest{Type: "step1", RequiredCapabilities: []string{"work"}})
	second, _ := c.Submit(SubmitRequest{Type: "step2", RequiredCapabilities: []string{"work"}, Dependencies: []string{first}})

	waitForState(t, c, second, taskqueue.StateCompleted)
	firstSnap, _ := c.Query(first)
	if firstSnap.State != taskqueue.StateCompleted {
		t.Fatalf("expected upstream task completed, got %s", firstSnap.State)
	}
}

func TestScenario_DependencyFailureCascades(t *testing.T) {
	c := New(Config{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_ = c.Start(ctx)
	defer c.Stop()

	failing := scriptedProcessor{fn: func(ctx context.Context, req agentrt.ExecutionRequest) (any, error) {
		return nil, errors.New("permanent failure")
	}}
	_ = c.RegisterAgent(AgentRegistration{ID: "a1", Capabilities: []string{"work"}, MaxConcurrent: 1, Processor: failing})

	upstream, _ := c.Submit(SubmitRequest{Type: "step1", RequiredCapabilities: []string{"work"}, MaxRetries: 0})
	downstream, _ := c.Submit(SubmitRequest{Type: "step2", RequiredCapabilities: []string{"work"}, Dependencies: []string{upstream}})

	waitForState(t, c, downstream, taskqueue.StateFailed)
	downSnap, _ := c.Query(downstream)
	if downSnap.Failure == nil || downSnap.Failure.Reason.Retryable() {
		t.Fatalf("expected a non-retryable DependencyFailed reason, got %+v", downSnap.Failure)
	}
}

func TestScenario_RetryWithBackoffEventuallySucceeds(t *testing.T) {
	c := New(Config{RetryBaseDelay: 10 * time.Millisecond, RetryMaxDelay: 40 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_ = c.Start(ctx)
	defer c.Stop()

	attempts := 0
	flaky := scriptedProcessor{fn: func(ctx context.Context, req agentrt.ExecutionRequest) (any, error) {
		attempts++
		if attempts < 3 {
			return nil, errors.New("transient")
		}
		return "ok", nil
	}}
	_ = c.RegisterAgent(AgentRegistration{ID: "a1", Capabilities: []string{"work"}, MaxConcurrent: 1, Processor: flaky})

	id, _ := c.Submit(SubmitRequest{Type: "flaky", RequiredCapabilities: []string{"work"}, MaxRetries: 5})
	waitForState(t, c, id, taskqueue.StateCompleted)
	if attempts < 3 {
		t.Fatalf("expected at least 3 attempts before success, got %d", attempts)
	}
}

func TestScenario_TimeoutFailsThenCancelOnTerminalTaskIsIdempotent(t *testing.T) {
	c := New(Config{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_ = c.Start(ctx)
	defer c.Stop()

	hang := scriptedProcessor{fn: func(ctx context.Context, req agentrt.ExecutionRequest) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	_ = c.RegisterAgent(AgentRegistration{ID: "a1", Capabilities: []string{"work"}, MaxConcurrent: 1, Processor: hang})

	id, _ := c.Submit(SubmitRequest{Type: "slow", RequiredCapabilities: []string{"work"}, Deadline: 20 * time.Millisecond, MaxRetries: 0})
	waitForState(t, c, id, taskqueue.StateFailed)

	if err := c.Cancel(id); err != nil {
		t.Fatalf("expected cancelling an already-terminal task to be a no-op, got %v", err)
	}
	waitForState(t, c, id, taskqueue.StateFailed)
}

func TestScenario_CapabilityMismatchNeverAssigns(t *testing.T) {
	c := New(Config{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_ = c.Start(ctx)
	defer c.Stop()

	_ = c.RegisterAgent(AgentRegistration{ID: "a1", Capabilities: []string{"research"}, MaxConcurrent: 1,
		Processor: scriptedProcessor{fn: alwaysSucceeds}})

	id, _ := c.Submit(SubmitRequest{Type: "code", RequiredCapabilities: []string{"code"}})

	time.Sleep(100 * time.Millisecond)
	snap, _ := c.Query(id)
	if snap.State != taskqueue.StateReady {
		t.Fatalf("expected task to remain unassigned with no capable agent, got %s", snap.State)
	}
}

func TestCoordinator_SubscribeEventsReceivesLifecycle(t *testing.T) {
	c := New(Config{EventBatchWindow: 10 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_ = c.Start(ctx)
	defer c.Stop()

	sub := c.SubscribeEvents(eventstream.Filter{}, 0)
	_ = c.RegisterAgent(AgentRegistration{ID: "a1", Capabilities: []string{"work"}, MaxConcurrent: 1,
		Processor: scriptedProcessor{fn: alwaysSucceeds}})
	id, _ := c.Submit(SubmitRequest{Type: "work", RequiredCapabilities: []string{"work"}})
	waitForState(t, c, id, taskqueue.StateCompleted)

	seen := map[eventstream.Kind]bool{}
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		select {
		case batch := <-sub.Batches():
			for _, e := range batch {
				seen[e.Kind] = true
			}
		case <-time.After(50 * time.Millisecond):
		}
		if seen[eventstream.KindTaskCompleted] {
			break
		}
	}
	if !seen[eventstream.KindTaskCompleted] {
		t.Fatal("expected to observe a TaskCompleted event on the subscription")
	}
}
