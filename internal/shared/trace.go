// Package shared holds small cross-cutting helpers used by every core
// component: request-scoped context propagation and log/error redaction.
package shared

import (
	"context"

	"github.com/google/uuid"
)

type traceKey struct{}
type taskKey struct{}
type agentKey struct{}
type correlationKey struct{}

// WithTraceID attaches a trace_id to the context. Every dispatcher-initiated
// task execution gets one so its log lines and emitted events can be
// correlated end to end.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceKey{}, traceID)
}

// TraceID extracts trace_id from context. Returns "-" if absent.
func TraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceKey{}).(string); ok && v != "" {
		return v
	}
	return "-"
}

// NewTraceID generates a new trace_id.
func NewTraceID() string {
	return uuid.NewString()
}

// WithTaskID attaches the task ID being processed to the context so tool
// and message-bus calls made during process_task can see which task they
// belong to.
func WithTaskID(ctx context.Context, taskID string) context.Context {
	return context.WithValue(ctx, taskKey{}, taskID)
}

// TaskID extracts the task ID from context, or "" if absent.
func TaskID(ctx context.Context) string {
	v, _ := ctx.Value(taskKey{}).(string)
	return v
}

// WithAgentID attaches the executing agent's ID to the context.
func WithAgentID(ctx context.Context, agentID string) context.Context {
	return context.WithValue(ctx, agentKey{}, agentID)
}

// AgentID extracts the agent ID from context, or "" if absent.
func AgentID(ctx context.Context) string {
	v, _ := ctx.Value(agentKey{}).(string)
	return v
}

// WithCorrelationID attaches a message correlation ID to the context, used
// by request/response message exchanges so a handler can reply in place.
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, correlationKey{}, correlationID)
}

// CorrelationID extracts the correlation ID from context, or "" if absent.
func CorrelationID(ctx context.Context) string {
	v, _ := ctx.Value(correlationKey{}).(string)
	return v
}
