package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackerRecordsOutcome(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	require.NoError(t, m.Track("quotations:expire").End(nil))
	require.NoError(t, m.Track("quotations:expire").End(nil))
	boom := errors.New("timeout")
	require.ErrorIs(t, m.Track("quotations:expire").End(boom), boom)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.runs.WithLabelValues("quotations:expire", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("quotations:expire", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("quotations:expire")))
}

func TestAddProcessed(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.AddProcessed("quotations:expire", 4)
	m.AddProcessed("quotations:expire", 0)
	assert.Equal(t, 4.0, testutil.ToFloat64(m.processed.WithLabelValues("quotations:expire")))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.AddProcessed("x", 1)
	boom := errors.New("x")
	assert.ErrorIs(t, m.Track("x").End(boom), boom)
}
