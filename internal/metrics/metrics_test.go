package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersAllMetricsWithoutPanicking(t *testing.T) {
	require.NotPanics(t, func() {
		New()
	})
}

func TestCountersIncrementAndGather(t *testing.T) {
	r := New()
	r.SessionsCreated.Inc()
	r.SessionsCompleted.Inc()
	r.QueueDepth.WithLabelValues("sess-1").Set(3)

	require.Equal(t, float64(1), testutil.ToFloat64(r.SessionsCreated))
	require.Equal(t, float64(1), testutil.ToFloat64(r.SessionsCompleted))

	families, err := r.Gatherer().Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)
}
