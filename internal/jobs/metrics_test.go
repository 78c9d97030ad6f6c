package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestTrackerRecordsOutcome(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	require.NoError(t, m.Track("ledger:gl_integrity").End(nil))
	boom := errors.New("boom")
	require.ErrorIs(t, m.Track("ledger:gl_integrity").End(boom), boom)

	require.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("ledger:gl_integrity", "success")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("ledger:gl_integrity", "failure")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("ledger:gl_integrity")))
}

func TestFindingsAndValuation(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.AddFindings("balance_drift", 2)
	m.AddFindings("balance_drift", 0)
	m.SetInventoryValue(0, "total", 110)
	m.SetInventoryValue(3, "transit", 74.5)

	require.Equal(t, 2.0, testutil.ToFloat64(m.findings.WithLabelValues("balance_drift")))
	require.Equal(t, 110.0, testutil.ToFloat64(m.valuation.WithLabelValues("0", "total")))
	require.Equal(t, 74.5, testutil.ToFloat64(m.valuation.WithLabelValues("3", "transit")))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	require.NotPanics(t, func() {
		_ = m.Track("x").End(nil)
		m.AddFindings("x", 1)
		m.SetInventoryValue(1, "total", 1)
	})
}
