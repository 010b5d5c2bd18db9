package mcphost

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRollingWindow_Percentiles(t *testing.T) {
	t.Parallel()
	w := newRollingWindow(10)
	for _, ms := range []int64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100} {
		w.Record(ms, false)
	}
	require.Equal(t, int64(50), w.P50())
	require.Equal(t, int64(90), w.P99())
	require.Equal(t, 10, w.Count())
}

func TestRollingWindow_EmptyIsZero(t *testing.T) {
	t.Parallel()
	w := newRollingWindow(5)
	require.Zero(t, w.P50())
	require.Zero(t, w.P99())
	require.Zero(t, w.ErrorRate())
	require.Zero(t, w.Count())
}

func TestRollingWindow_EvictsOldest(t *testing.T) {
	t.Parallel()
	w := newRollingWindow(3)
	w.Record(1000, true)
	w.Record(10, false)
	w.Record(10, false)
	// The fourth record evicts the slow erroring call entirely.
	w.Record(10, false)

	require.Equal(t, int64(10), w.P99(), "evicted samples stop influencing percentiles")
	require.Zero(t, w.ErrorRate(), "evicted errors stop influencing the rate")
	require.Equal(t, 4, w.Count(), "lifetime count keeps growing")
}

func TestRollingWindow_ErrorRateIsExact(t *testing.T) {
	t.Parallel()
	w := newRollingWindow(4)
	w.Record(10, true)
	w.Record(10, false)
	w.Record(10, true)
	w.Record(10, false)
	require.InDelta(t, 0.5, w.ErrorRate(), 1e-9)

	// Overwrite one error with a success; the rate tracks the window, not
	// a decaying counter.
	w.Record(10, false)
	require.InDelta(t, 0.25, w.ErrorRate(), 1e-9)
}

func TestRollingWindow_DefaultCapacity(t *testing.T) {
	t.Parallel()
	w := newRollingWindow(0)
	for range 150 {
		w.Record(5, false)
	}
	require.Equal(t, 150, w.Count())
	require.Equal(t, int64(5), w.P50())
}
