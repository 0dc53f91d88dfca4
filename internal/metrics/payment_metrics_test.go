package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func TestPaymentMetrics_Counters(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewPaymentMetricsWithRegisterer(registry)

	m.RecordClaim("DUMMY", true)
	m.RecordClaim("DUMMY", false)
	m.RecordClaim("DUMMY", false)
	m.RecordFinalized("DUMMY", "SUCCESS", SourceSettle)
	m.RecordCASLost("pending->processing")
	m.RecordProviderCall("DUMMY", "ok", 15*time.Millisecond)

	require.Equal(t, 1.0, testutil.ToFloat64(m.claims.WithLabelValues("DUMMY", "claimed")))
	require.Equal(t, 2.0, testutil.ToFloat64(m.claims.WithLabelValues("DUMMY", "lost")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.finalized.WithLabelValues("DUMMY", "SUCCESS", SourceSettle)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.casLost.WithLabelValues("pending->processing")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.providerCalls.WithLabelValues("DUMMY", "ok")))
}

func TestPaymentMetrics_SchedulerRunHistogram(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewPaymentMetricsWithRegisterer(registry)

	m.RecordSchedulerRun("claim", nil, 100*time.Millisecond)
	m.RecordSchedulerRun("claim", errors.New("select failed"), 10*time.Millisecond)

	require.Equal(t, 1.0, testutil.ToFloat64(m.schedulerRuns.WithLabelValues("claim", "ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.schedulerRuns.WithLabelValues("claim", "error")))

	observer, err := m.schedulerDuration.GetMetricWithLabelValues("claim")
	require.NoError(t, err)
	metric := &dto.Metric{}
	require.NoError(t, observer.(prometheus.Histogram).Write(metric))
	require.EqualValues(t, 2, metric.GetHistogram().GetSampleCount())
}

func TestPaymentMetrics_ReRegistrationReturnsExisting(t *testing.T) {
	registry := prometheus.NewRegistry()
	first := NewPaymentMetricsWithRegisterer(registry)
	second := NewPaymentMetricsWithRegisterer(registry)

	first.RecordClaim("PGHUB", true)
	require.Equal(t, 1.0, testutil.ToFloat64(second.claims.WithLabelValues("PGHUB", "claimed")))
}

func TestPaymentMetrics_NilReceiverIsNoop(t *testing.T) {
	var m *PaymentMetrics
	require.NotPanics(t, func() {
		m.RecordClaim("DUMMY", true)
		m.RecordProviderCall("DUMMY", "error", time.Second)
		m.RecordFinalized("DUMMY", "FAILED", SourceWebhook)
		m.RecordCASLost("claim")
		m.RecordSchedulerRun("settle", nil, time.Second)
	})
}
