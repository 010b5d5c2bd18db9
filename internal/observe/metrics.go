// Package observe provides application-wide observability primitives for
// AIDM: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all AIDM metrics.
const meterName = "github.com/deusversus/aidm"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// TurnDuration tracks end-to-end turn latency (input to commit).
	TurnDuration metric.Float64Histogram

	// AgentDuration tracks per-agent LLM call latency. Use with attribute:
	//   attribute.String("agent", ...)
	AgentDuration metric.Float64Histogram

	// StageADuration tracks the Stage-A parallel fan-in wall time.
	StageADuration metric.Float64Histogram

	// ResearchPhaseDuration tracks research-pipeline phase latency. Use
	// with attribute: attribute.String("phase", ...)
	ResearchPhaseDuration metric.Float64Histogram

	// ToolExecutionDuration tracks MCP tool execution latency.
	ToolExecutionDuration metric.Float64Histogram

	// BackgroundTaskDuration tracks post-turn fan-out task latency. Use
	// with attribute: attribute.String("task", ...)
	BackgroundTaskDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("agent", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderRetries counts internal single-retry attempts in the
	// capability layer.
	ProviderRetries metric.Int64Counter

	// SchemaFailures counts structured extractions that failed even after
	// the repair attempt. Use with attribute: attribute.String("agent", ...)
	SchemaFailures metric.Int64Counter

	// SeedTransitions counts foreshadowing-seed lifecycle transitions. Use
	// with attribute: attribute.String("to", ...)
	SeedTransitions metric.Int64Counter

	// ToolCalls counts tool invocations. Use with attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// Turns counts committed turns. Use with attribute:
	//   attribute.String("intent", ...)
	Turns metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("retryable", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveCampaigns tracks the number of loaded campaigns (one, in the
	// single-writer model, but the instrument keeps restarts honest).
	ActiveCampaigns metric.Int64UpDownCounter

	// PendingMemories tracks the depth of the pending-memory queue.
	PendingMemories metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds). Turn
// latency is dominated by the key animator's streaming generation, so the
// buckets run long.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.TurnDuration, err = m.Float64Histogram("aidm.turn.duration",
		metric.WithDescription("End-to-end turn latency from player input to commit."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AgentDuration, err = m.Float64Histogram("aidm.agent.duration",
		metric.WithDescription("Per-agent LLM call latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.StageADuration, err = m.Float64Histogram("aidm.stage_a.duration",
		metric.WithDescription("Stage-A parallel fan-in wall time."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ResearchPhaseDuration, err = m.Float64Histogram("aidm.research.phase.duration",
		metric.WithDescription("Research-pipeline phase latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ToolExecutionDuration, err = m.Float64Histogram("aidm.tool_execution.duration",
		metric.WithDescription("MCP tool execution latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.BackgroundTaskDuration, err = m.Float64Histogram("aidm.background.duration",
		metric.WithDescription("Post-turn background task latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("aidm.provider.requests",
		metric.WithDescription("Total provider API requests by provider, agent, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRetries, err = m.Int64Counter("aidm.provider.retries",
		metric.WithDescription("Capability-layer internal retry attempts."),
	); err != nil {
		return nil, err
	}
	if met.SchemaFailures, err = m.Int64Counter("aidm.schema.failures",
		metric.WithDescription("Structured extractions that failed after repair."),
	); err != nil {
		return nil, err
	}
	if met.SeedTransitions, err = m.Int64Counter("aidm.seed.transitions",
		metric.WithDescription("Foreshadowing-seed lifecycle transitions by destination state."),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("aidm.tool.calls",
		metric.WithDescription("Total tool invocations by tool and status."),
	); err != nil {
		return nil, err
	}
	if met.Turns, err = m.Int64Counter("aidm.turns",
		metric.WithDescription("Committed turns by intent."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("aidm.provider.errors",
		metric.WithDescription("Provider errors by provider and retryability."),
	); err != nil {
		return nil, err
	}

	// Gauges.
	if met.ActiveCampaigns, err = m.Int64UpDownCounter("aidm.active_campaigns",
		metric.WithDescription("Number of loaded campaigns."),
	); err != nil {
		return nil, err
	}
	if met.PendingMemories, err = m.Int64UpDownCounter("aidm.pending_memories",
		metric.WithDescription("Depth of the pending-memory queue."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("aidm.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest records a provider request counter increment with
// the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, agent, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("agent", agent),
			attribute.String("status", status),
		),
	)
}

// RecordToolCall records a tool call counter increment with the standard
// attribute set.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string) {
	m.ToolCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", status),
		),
	)
}

// RecordTurn records a committed turn by intent.
func (m *Metrics) RecordTurn(ctx context.Context, intent string) {
	m.Turns.Add(ctx, 1, metric.WithAttributes(attribute.String("intent", intent)))
}

// RecordSeedTransition records a seed lifecycle transition by destination.
func (m *Metrics) RecordSeedTransition(ctx context.Context, to string) {
	m.SeedTransitions.Add(ctx, 1, metric.WithAttributes(attribute.String("to", to)))
}

// RecordProviderError records a provider error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider string, retryable bool) {
	r := "false"
	if retryable {
		r = "true"
	}
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("retryable", r),
		),
	)
}
