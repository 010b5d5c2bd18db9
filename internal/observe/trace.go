package observe

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name for the AIDM tracer.
const tracerName = "github.com/deusversus/aidm"

// Tracer returns the package-level [trace.Tracer] backed by the globally
// registered provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span and returns the updated context. The caller must
// call span.End().
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// TurnSpan wraps one complete turn: from player input through the Stage-8
// commit. Every agent call inside the turn parents under it, so a slow
// turn's trace shows exactly which agent ate the latency budget.
func TurnSpan(ctx context.Context, campaignID string, turnNumber int) (context.Context, trace.Span) {
	return StartSpan(ctx, fmt.Sprintf("turn %d", turnNumber),
		trace.WithAttributes(
			attribute.String("aidm.campaign_id", campaignID),
			attribute.Int("aidm.turn_number", turnNumber),
		),
	)
}

// AgentSpan wraps a single specialist-agent invocation.
func AgentSpan(ctx context.Context, agentName string) (context.Context, trace.Span) {
	return StartSpan(ctx, "agent "+agentName,
		trace.WithAttributes(attribute.String("aidm.agent", agentName)),
	)
}

// ResearchPhaseSpan wraps one research-pipeline phase (resolving,
// harvesting, interpreting, ...), correlating slow wiki scrapes and
// interpretation calls under a single research trace.
func ResearchPhaseSpan(ctx context.Context, phase string) (context.Context, trace.Span) {
	return StartSpan(ctx, "research "+phase,
		trace.WithAttributes(attribute.String("aidm.research_phase", phase)),
	)
}

// CorrelationID returns the active trace ID, or "" when none exists. It is
// surfaced to players alongside session-zero errors so a bug report can be
// matched to its trace.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

// Logger returns an [slog.Logger] carrying trace_id/span_id from ctx, or
// the default logger when no span is active.
func Logger(ctx context.Context) *slog.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return slog.Default()
	}
	return slog.Default().With(
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	)
}
