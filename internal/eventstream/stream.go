package eventstream

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultRingCapacity matches spec.md §4.2's default retention window.
const DefaultRingCapacity = 10000

// DefaultBatchWindow is the coalescing window for non-immediate kinds.
const DefaultBatchWindow = 200 * time.Millisecond

// MaxBatchSize forces a flush even if the window has not elapsed.
const MaxBatchSize = 100

// Filter selects which events a subscription receives. A nil or empty
// Kinds matches every kind; an empty Subject matches every subject.
type Filter struct {
	Kinds   []string
	Subject string
}

func (f Filter) matches(e Event) bool {
	if f.Subject != "" && f.Subject != e.Subject {
		return false
	}
	if len(f.Kinds) == 0 {
		return true
	}
	for _, k := range f.Kinds {
		if Kind(k) == e.Kind {
			return true
		}
	}
	return false
}

// Metrics is the subset of telemetry instruments the Event Stream
// touches. Callers that do not want OpenTelemetry wiring pass nil.
type Metrics interface {
	RecordEventPublished(kind string)
	RecordBatchFlush(size int)
	RecordSubscriberLag(subscriberID int64)
}

// Subscription is a live view onto the stream, starting from a
// caller-chosen sequence number.
type Subscription struct {
	id      int64
	filter  Filter
	batches chan []Event
	gaps    chan GapNotice
	stream  *Stream
}

// Batches yields coalesced, ordered slices of events matching the
// subscription's filter.
func (s *Subscription) Batches() <-chan []Event { return s.batches }

// Gaps yields a GapNotice whenever the subscriber's requested replay
// point has already left the ring buffer.
func (s *Subscription) Gaps() <-chan GapNotice { return s.gaps }

// Close releases the subscription. Safe to call more than once.
func (s *Subscription) Close() { s.stream.unsubscribe(s.id) }

type pendingBatch struct {
	order []string // coalesce keys in first-seen order
	byKey map[string]Event
	timer *time.Timer
}

// Stream is the Coordinator's single-writer Event Stream. All state
// mutation happens on the ingest goroutine started by Run; Publish only
// ever hands an event to a channel.
type Stream struct {
	ringCapacity int
	batchWindow  time.Duration
	logger       *slog.Logger
	metrics      Metrics

	ingest chan Event
	seq    int64

	mu            sync.Mutex
	buffer        *ring
	subscribers   map[int64]*subscriberState
	nextSubID     int64
	pendingBatch  *pendingBatch

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

type subscriberState struct {
	sub    *Subscription
	lagged bool
}

// Config controls Stream construction.
type Config struct {
	RingCapacity int
	BatchWindow  time.Duration
	Logger       *slog.Logger
	Metrics      Metrics
}

// New creates a Stream. Call Run to start its ingest loop.
func New(cfg Config) *Stream {
	ringCap := cfg.RingCapacity
	if ringCap <= 0 {
		ringCap = DefaultRingCapacity
	}
	window := cfg.BatchWindow
	if window <= 0 {
		window = DefaultBatchWindow
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Stream{
		ringCapacity: ringCap,
		batchWindow:  window,
		logger:       logger,
		metrics:      cfg.Metrics,
		ingest:       make(chan Event, 4096),
		buffer:       newRing(ringCap),
		subscribers:  make(map[int64]*subscriberState),
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
}

// Run drives the ingest loop until ctx is cancelled or Stop is called.
// Exactly one goroutine should call Run.
func (s *Stream) Run(ctx context.Context) {
	defer close(s.doneCh)
	for {
		select {
		case e := <-s.ingest:
			s.ingestOne(e)
		case <-s.flushTimerC():
			s.flushPending()
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// flushTimerC returns the pending batch's timer channel, or a nil
// channel (which blocks forever) when there is nothing pending.
func (s *Stream) flushTimerC() <-chan time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pendingBatch == nil {
		return nil
	}
	return s.pendingBatch.timer.C
}

// Stop halts the ingest loop and waits for Run to return.
func (s *Stream) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	<-s.doneCh
}

// Publish enqueues an event for assignment of the next sequence number
// and delivery. It never blocks the caller on subscriber slowness.
func (s *Stream) Publish(kind Kind, subject string, body any) {
	n := atomic.AddInt64(&s.seq, 1)
	e := Event{Seq: n, Kind: kind, Subject: subject, Body: body, Timestamp: time.Now()}
	select {
	case s.ingest <- e:
	default:
		// Ingest is saturated: log and drop rather than block a producer
		// like the dispatcher or agent runtime.
		s.logger.Warn("eventstream ingest full, dropping event", "kind", kind, "subject", subject)
	}
	if s.metrics != nil {
		s.metrics.RecordEventPublished(string(kind))
	}
}

func (s *Stream) ingestOne(e Event) {
	s.mu.Lock()
	s.buffer.put(e)

	if immediateFlush[e.Kind] {
		s.mu.Unlock()
		s.deliver([]Event{e})
		return
	}

	if s.pendingBatch == nil {
		s.pendingBatch = &pendingBatch{
			byKey: make(map[string]Event),
			timer: time.NewTimer(s.batchWindow),
		}
	}
	pb := s.pendingBatch
	key := e.coalesceKey()
	if _, exists := pb.byKey[key]; !exists {
		pb.order = append(pb.order, key)
	}
	pb.byKey[key] = e
	full := len(pb.order) >= MaxBatchSize
	s.mu.Unlock()

	if full {
		s.flushPending()
	}
}

func (s *Stream) flushPending() {
	s.mu.Lock()
	pb := s.pendingBatch
	if pb == nil {
		s.mu.Unlock()
		return
	}
	s.pendingBatch = nil
	s.mu.Unlock()
	pb.timer.Stop()

	batch := make([]Event, 0, len(pb.order))
	for _, key := range pb.order {
		batch = append(batch, pb.byKey[key])
	}
	s.deliver(batch)
}

func (s *Stream) deliver(batch []Event) {
	if len(batch) == 0 {
		return
	}
	if s.metrics != nil {
		s.metrics.RecordBatchFlush(len(batch))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.subscribers {
		matched := batch[:0:0]
		for _, e := range batch {
			if st.sub.filter.matches(e) {
				matched = append(matched, e)
			}
		}
		if len(matched) == 0 {
			continue
		}
		select {
		case st.sub.batches <- matched:
		default:
			st.lagged = true
			if s.metrics != nil {
				s.metrics.RecordSubscriberLag(st.sub.id)
			}
			s.logger.Warn("eventstream subscriber lagging, batch dropped", "subscriber_id", st.sub.id)
		}
	}
}

// Subscribe opens a live subscription. If fromSeq is greater than zero,
// every retained event with a higher sequence number is delivered
// synchronously (as a backlog batch) before Batches() begins yielding
// live events; if fromSeq already fell out of the ring buffer, a
// GapNotice is sent on Gaps() first.
func (s *Stream) Subscribe(filter Filter, fromSeq int64) *Subscription {
	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	sub := &Subscription{
		id:      id,
		filter:  filter,
		batches: make(chan []Event, 64),
		gaps:    make(chan GapNotice, 1),
		stream:  s,
	}
	s.subscribers[id] = &subscriberState{sub: sub}

	var backlog []Event
	var gapped bool
	if fromSeq > 0 {
		backlog, gapped = s.buffer.since(fromSeq)
	}
	oldest := s.buffer.oldestSeq()
	s.mu.Unlock()

	if gapped {
		sub.gaps <- GapNotice{FromSeq: fromSeq, ToSeq: oldest - 1}
	}
	if len(backlog) > 0 {
		matched := backlog[:0:0]
		for _, e := range backlog {
			if filter.matches(e) {
				matched = append(matched, e)
			}
		}
		if len(matched) > 0 {
			sub.batches <- matched
		}
	}
	return sub
}

func (s *Stream) unsubscribe(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subscribers, id)
}
