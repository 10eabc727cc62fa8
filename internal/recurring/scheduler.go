// Package recurring adapts the teacher's persistence-backed cron
// scheduler (internal/cron/scheduler.go) into an in-memory periodic task
// submitter: it holds cron schedules entirely in process memory and, on
// each due fire, submits a task straight to the Coordinator rather than
// writing through a durable store. This matches spec.md's explicit
// Non-goal of no durable task persistence in the core; a caller wanting
// durable schedules can snapshot Schedules() into internal/eventsink or
// its own store.
package recurring

import (
	"context"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/joelfuller2016/swarmbot/internal/coordinator"
)

var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

// Submitter is the subset of Coordinator the scheduler needs, kept as an
// interface so tests can fire schedules without a live Dispatcher.
type Submitter interface {
	Submit(req coordinator.SubmitRequest) (string, error)
}

// Schedule is one recurring task definition.
type Schedule struct {
	ID       string
	Name     string
	CronExpr string
	Template coordinator.SubmitRequest

	nextRun time.Time
	spec    cronlib.Schedule
}

// Config controls Scheduler construction.
type Config struct {
	Submitter Submitter
	Logger    *slog.Logger
	Interval  time.Duration // tick interval; defaults to 1 minute if zero
}

// Scheduler periodically checks its in-memory schedules and submits a
// task for each one that has come due.
type Scheduler struct {
	submitter Submitter
	logger    *slog.Logger
	interval  time.Duration

	mu        sync.Mutex
	schedules map[string]*Schedule

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a Scheduler with the given config.
func NewScheduler(cfg Config) *Scheduler {
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		submitter: cfg.Submitter,
		logger:    logger,
		interval:  interval,
		schedules: make(map[string]*Schedule),
	}
}

// Add registers a recurring task definition, computing its first run
// time from now.
func (s *Scheduler) Add(sched Schedule) error {
	spec, err := cronParser.Parse(sched.CronExpr)
	if err != nil {
		return err
	}
	sched.spec = spec
	sched.nextRun = spec.Next(time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()
	stored := sched
	s.schedules[sched.ID] = &stored
	return nil
}

// Remove unregisters a recurring task definition.
func (s *Scheduler) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.schedules, id)
}

// Schedules returns a snapshot of every registered definition, for a
// caller that wants to persist them externally.
func (s *Scheduler) Schedules() []Schedule {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Schedule, 0, len(s.schedules))
	for _, sched := range s.schedules {
		out = append(out, *sched)
	}
	return out
}

// Start begins the scheduler loop in a background goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Info("recurring scheduler started", "interval", s.interval)
}

// Stop cancels the scheduler loop and waits for it to exit.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("recurring scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *Scheduler) tick() {
	now := time.Now()
	var due []*Schedule

	s.mu.Lock()
	for _, sched := range s.schedules {
		if !sched.nextRun.After(now) {
			due = append(due, sched)
		}
	}
	s.mu.Unlock()

	for _, sched := range due {
		s.fire(sched, now)
	}
}

func (s *Scheduler) fire(sched *Schedule, now time.Time) {
	taskID, err := s.submitter.Submit(sched.Template)
	if err != nil {
		s.logger.Error("recurring: failed to submit task for schedule",
			"schedule_id", sched.ID, "schedule_name", sched.Name, "err", err)
		return
	}

	next := sched.spec.Next(now)
	s.mu.Lock()
	if live, ok := s.schedules[sched.ID]; ok {
		live.nextRun = next
	}
	s.mu.Unlock()

	s.logger.Info("recurring: schedule fired",
		"schedule_id", sched.ID, "schedule_name", sched.Name, "task_id", taskID, "next_run_at", next)
}
