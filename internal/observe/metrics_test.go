package observe_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/deusversus/aidm/internal/observe"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	return rm
}

func metricNames(rm metricdata.ResourceMetrics) map[string]bool {
	names := map[string]bool{}
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			names[m.Name] = true
		}
	}
	return names
}

func TestNewMetrics_InstrumentsRegister(t *testing.T) {
	t.Parallel()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	m, err := observe.NewMetrics(mp)
	require.NoError(t, err)

	ctx := context.Background()
	m.TurnDuration.Record(ctx, 3.2)
	m.AgentDuration.Record(ctx, 0.4, metric.WithAttributes(observe.Attr("agent", "key_animator")))
	m.RecordTurn(ctx, "COMBAT")
	m.RecordSeedTransition(ctx, "resolved")
	m.RecordProviderRequest(ctx, "openai", "director", "ok")
	m.RecordProviderError(ctx, "openai", true)
	m.RecordToolCall(ctx, "plant_seed", "ok")
	m.ActiveCampaigns.Add(ctx, 1)

	names := metricNames(collect(t, reader))
	for _, want := range []string{
		"aidm.turn.duration", "aidm.agent.duration", "aidm.turns",
		"aidm.seed.transitions", "aidm.provider.requests",
		"aidm.provider.errors", "aidm.tool.calls", "aidm.active_campaigns",
	} {
		require.True(t, names[want], "missing instrument %s", want)
	}
}

func TestDefaultMetrics_Singleton(t *testing.T) {
	t.Parallel()
	a := observe.DefaultMetrics()
	b := observe.DefaultMetrics()
	require.Same(t, a, b)
}
