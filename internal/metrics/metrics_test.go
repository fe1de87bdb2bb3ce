package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.VisitIngested(3)
	m.VisitIngested(3)
	m.IngestRejected("validation")
	m.CounterFault("dedup_get")
	m.RateLimited("track")
	m.DurationUpdated()
	m.ObserveQuery("overview", 20*time.Millisecond)
	m.Request("/api/track", "POST", 200, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.visitsIngested.WithLabelValues("3")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ingestRejected.WithLabelValues("validation")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.counterFaults.WithLabelValues("dedup_get")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rateLimited.WithLabelValues("track")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.durationUpdates))
	assert.Equal(t, 1, testutil.CollectAndCount(m.queryDuration))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("/api/track", "POST", "200")))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.VisitIngested(1)
		m.IngestRejected("x")
		m.CounterFault("x")
		m.RateLimited("x")
		m.DurationUpdated()
		m.ObserveQuery("x", time.Second)
		m.Request("x", "GET", 500, time.Second)
	})
}
