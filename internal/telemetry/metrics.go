package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds every instrument the Coordinator emits. It implements
// eventstream.Metrics and dispatcher.Metrics directly, so Stream and
// Dispatcher depend only on their own small interfaces, never on this
// package.
type Metrics struct {
	EventsPublished   metric.Int64Counter
	BatchFlushSize    metric.Int64Histogram
	SubscriberLag     metric.Int64Counter
	Assignments       metric.Int64Counter
	AssignmentFailure metric.Int64Counter
	QueueDepth        metric.Int64Gauge
}

// NewMetrics creates every instrument from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.EventsPublished, err = meter.Int64Counter("swarmbot.eventstream.published",
		metric.WithDescription("Events published to the event stream, by kind"),
	)
	if err != nil {
		return nil, err
	}

	m.BatchFlushSize, err = meter.Int64Histogram("swarmbot.eventstream.batch_size",
		metric.WithDescription("Number of events delivered per subscriber batch flush"),
	)
	if err != nil {
		return nil, err
	}

	m.SubscriberLag, err = meter.Int64Counter("swarmbot.eventstream.subscriber_lag",
		metric.WithDescription("Count of subscriber deliveries that detected a gap (evicted backlog)"),
	)
	if err != nil {
		return nil, err
	}

	m.Assignments, err = meter.Int64Counter("swarmbot.dispatcher.assignments",
		metric.WithDescription("Tasks successfully assigned to an agent, by agent id"),
	)
	if err != nil {
		return nil, err
	}

	m.AssignmentFailure, err = meter.Int64Counter("swarmbot.dispatcher.assignment_failures",
		metric.WithDescription("Assignment attempts that found no capable agent"),
	)
	if err != nil {
		return nil, err
	}

	m.QueueDepth, err = meter.Int64Gauge("swarmbot.dispatcher.queue_depth",
		metric.WithDescription("Ready-queue depth observed at each dispatch cycle"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RecordEventPublished implements eventstream.Metrics.
func (m *Metrics) RecordEventPublished(kind string) {
	m.EventsPublished.Add(context.Background(), 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordBatchFlush implements eventstream.Metrics.
func (m *Metrics) RecordBatchFlush(size int) {
	m.BatchFlushSize.Record(context.Background(), int64(size))
}

// RecordSubscriberLag implements eventstream.Metrics.
func (m *Metrics) RecordSubscriberLag(subscriberID int64) {
	m.SubscriberLag.Add(context.Background(), 1, metric.WithAttributes(attribute.Int64("subscriber_id", subscriberID)))
}

// RecordAssignment implements dispatcher.Metrics.
func (m *Metrics) RecordAssignment(agentID string) {
	m.Assignments.Add(context.Background(), 1, metric.WithAttributes(attribute.String("agent_id", agentID)))
}

// RecordAssignmentFailure implements dispatcher.Metrics.
func (m *Metrics) RecordAssignmentFailure() {
	m.AssignmentFailure.Add(context.Background(), 1)
}

// RecordQueueDepth implements dispatcher.Metrics.
func (m *Metrics) RecordQueueDepth(depth int) {
	m.QueueDepth.Record(context.Background(), int64(depth))
}
