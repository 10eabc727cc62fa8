package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Standard attribute keys for Coordinator spans.
var (
	AttrAgentID      = attribute.Key("swarmbot.agent.id")
	AttrTaskID       = attribute.Key("swarmbot.task.id")
	AttrTaskType     = attribute.Key("swarmbot.task.type")
	AttrCapability   = attribute.Key("swarmbot.capability")
	AttrRetryCount   = attribute.Key("swarmbot.task.retry_count")
	AttrSubscriberID = attribute.Key("swarmbot.subscriber.id")
)

// StartSpan starts an internal span with common attributes, used around
// dispatcher assignment attempts and queue admission.
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartExecutionSpan starts a span covering one Processor.Execute call,
// tagged as a client span since it crosses into agent-owned code.
func StartExecutionSpan(ctx context.Context, tracer trace.Tracer, taskID, taskType, agentID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "agent.execute",
		trace.WithAttributes(
			AttrTaskID.String(taskID),
			AttrTaskType.String(taskType),
			AttrAgentID.String(agentID),
		),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}
