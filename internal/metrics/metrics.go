package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "visitinsight"

// Metrics holds the service's collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	visitsIngested  *prometheus.CounterVec
	ingestRejected  *prometheus.CounterVec
	durationUpdates prometheus.Counter
	counterFaults   *prometheus.CounterVec
	rateLimited     *prometheus.CounterVec
	queryDuration   *prometheus.HistogramVec
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		visitsIngested: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "visits_ingested_total",
				Help:      "Total number of visits persisted, by site.",
			},
			[]string{"site"},
		),
		ingestRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ingest_rejected_total",
				Help:      "Tracking requests that were not persisted, by reason.",
			},
			[]string{"reason"},
		),
		durationUpdates: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "duration_updates_total",
				Help:      "Total number of page-leave duration updates applied.",
			},
		),
		counterFaults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "counter_store_faults_total",
				Help:      "Counter-store errors absorbed by a degraded fallback, by operation.",
			},
			[]string{"op"},
		),
		rateLimited: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limited_total",
				Help:      "Requests rejected by the rate limiter, by route class.",
			},
			[]string{"route_class"},
		),
		queryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "query_duration_seconds",
				Help:      "Histogram of analytics query durations in seconds.",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"query"},
		),
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests served.",
			},
			[]string{"route", "method", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Histogram of HTTP request durations in seconds.",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"route", "method"},
		),
	}
	reg.MustRegister(
		m.visitsIngested, m.ingestRejected, m.durationUpdates, m.counterFaults,
		m.rateLimited, m.queryDuration, m.requestsTotal, m.requestDuration,
	)
	return m
}

func (m *Metrics) VisitIngested(siteID uint) {
	if m == nil {
		return
	}
	m.visitsIngested.WithLabelValues(strconv.FormatUint(uint64(siteID), 10)).Inc()
}

func (m *Metrics) IngestRejected(reason string) {
	if m == nil {
		return
	}
	m.ingestRejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) DurationUpdated() {
	if m == nil {
		return
	}
	m.durationUpdates.Inc()
}

func (m *Metrics) CounterFault(op string) {
	if m == nil {
		return
	}
	m.counterFaults.WithLabelValues(op).Inc()
}

func (m *Metrics) RateLimited(class string) {
	if m == nil {
		return
	}
	m.rateLimited.WithLabelValues(class).Inc()
}

func (m *Metrics) ObserveQuery(query string, d time.Duration) {
	if m == nil {
		return
	}
	m.queryDuration.WithLabelValues(query).Observe(d.Seconds())
}

// Request records one served HTTP request. route is the router pattern,
// not the raw path.
func (m *Metrics) Request(route, method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(route, method).Observe(d.Seconds())
}
