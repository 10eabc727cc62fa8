package agentrt

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/joelfuller2016/swarmbot/internal/swarmerr"
)

type funcProcessor func(ctx context.Context, req ExecutionRequest) (any, error)

func (f funcProcessor) Execute(ctx context.Context, req ExecutionRequest) (any, error) {
	return f(ctx, req)
}

type recordingOutcomes struct {
	mu        sync.Mutex
	completed []string
	failed    map[string]*swarmerr.TaskFailure
	cancelled []string
}

func newRecordingOutcomes() *recordingOutcomes {
	return &recordingOutcomes{failed: make(map[string]*swarmerr.TaskFailure)}
}

func (r *recordingOutcomes) OnTaskStarted(agentID, taskID string) {}

func (r *recordingOutcomes) OnTaskCompleted(agentID, taskID string, result any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed = append(r.completed, taskID)
}

func (r *recordingOutcomes) OnTaskFailed(agentID, taskID string, failure *swarmerr.TaskFailure) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed[taskID] = failure
}

func (r *recordingOutcomes) OnTaskCancelled(agentID, taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelled = append(r.cancelled, taskID)
}

func (r *recordingOutcomes) snapshotCompleted() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.completed))
	copy(out, r.completed)
	return out
}

func TestRuntime_CompletesSuccessfulTask(t *testing.T) {
	outcomes := newRecordingOutcomes()
	proc := funcProcessor(func(ctx context.Context, req ExecutionRequest) (any, error) {
		return "done", nil
	})
	r := New(Config{AgentID: "a1", Processor: proc, Outcomes: outcomes, HeartbeatInterval: time.Hour})
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer r.Stop()

	r.Assign(ExecutionRequest{TaskID: "t1"}, time.Time{})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(outcomes.snapshotCompleted()) == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expected task to complete")
}

func TestRuntime_FailsOnProcessorError(t *testing.T) {
	outcomes := newRecordingOutcomes()
	proc := funcProcessor(func(ctx context.Context, req ExecutionRequest) (any, error) {
		return nil, errors.New("boom")
	})
	r := New(Config{AgentID: "a1", Processor: proc, Outcomes: outcomes, HeartbeatInterval: time.Hour})
	_ = r.Start(context.Background())
	defer r.Stop()

	r.Assign(ExecutionRequest{TaskID: "t1"}, time.Time{})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		outcomes.mu.Lock()
		_, failed := outcomes.failed["t1"]
		outcomes.mu.Unlock()
		if failed {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expected task to fail")
}

func TestRuntime_DeadlineExceededReportsTimeout(t *testing.T) {
	outcomes := newRecordingOutcomes()
	proc := funcProcessor(func(ctx context.Context, req ExecutionRequest) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	r := New(Config{AgentID: "a1", Processor: proc, Outcomes: outcomes, HeartbeatInterval: time.Hour})
	_ = r.Start(context.Background())
	defer r.Stop()

	r.Assign(ExecutionRequest{TaskID: "t1"}, time.Now().Add(20*time.Millisecond))

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		outcomes.mu.Lock()
		f, ok := outcomes.failed["t1"]
		outcomes.mu.Unlock()
		if ok {
			if f.Reason != swarmerr.ReasonTimeout {
				t.Fatalf("expected Timeout reason, got %s", f.Reason)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expected task to time out")
}

func TestRuntime_HeartbeatLoopFires(t *testing.T) {
	var hits int
	var mu sync.Mutex
	hb := heartbeaterFunc(func(agentID string) {
		mu.Lock()
		hits++
		mu.Unlock()
	})
	r := New(Config{AgentID: "a1", Processor: funcProcessor(func(ctx context.Context, req ExecutionRequest) (any, error) {
		return nil, nil
	}), Heartbeater: hb, HeartbeatInterval: 10 * time.Millisecond})
	_ = r.Start(context.Background())
	defer r.Stop()

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if hits == 0 {
		t.Fatal("expected at least one heartbeat")
	}
}

func TestRuntime_StartTwiceFails(t *testing.T) {
	r := New(Config{AgentID: "a1", Processor: funcProcessor(func(ctx context.Context, req ExecutionRequest) (any, error) {
		return nil, nil
	}), HeartbeatInterval: time.Hour})
	_ = r.Start(context.Background())
	defer r.Stop()
	if err := r.Start(context.Background()); err != swarmerr.ErrAlreadyRunning {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
}

type heartbeaterFunc func(agentID string)

func (f heartbeaterFunc) Heartbeat(agentID string) { f(agentID) }
