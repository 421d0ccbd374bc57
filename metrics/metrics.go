// Package metrics exposes Prometheus instrumentation for the relayer. All
// record methods are safe on a nil receiver so components can run without
// instrumentation (tests, tooling).
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "relayer"

// Metrics holds the relayer's Prometheus collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	submissionsTotal   *prometheus.CounterVec
	submissionDuration *prometheus.HistogramVec
	rpcRequestsTotal   *prometheus.CounterVec
	rpcDuration        *prometheus.HistogramVec
	eventsIngested     *prometheus.CounterVec
	watermark          prometheus.Gauge
	pendingEvents      prometheus.Gauge
	syncRuns           *prometheus.CounterVec
	orgsCached         prometheus.Gauge
	membersCached      prometheus.Gauge
}

// New builds the metric set and registers it together with the standard Go
// and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		submissionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Submission pipeline outcomes by operation.",
		}, []string{"operation", "outcome"}),

		submissionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "submission_duration_seconds",
			Help:      "End-to-end submission latency including confirmation.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"operation"}),

		rpcRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rpc_requests_total",
			Help:      "Chain RPC calls by method and outcome.",
		}, []string{"method", "outcome"}),

		rpcDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rpc_request_duration_seconds",
			Help:      "Chain RPC latency by method.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),

		eventsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "indexer_events_ingested_total",
			Help:      "Events written to the store by kind and source.",
		}, []string{"kind", "source"}),

		watermark: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "indexer_watermark_ledger",
			Help:      "Last fully polled ledger sequence.",
		}),

		pendingEvents: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "indexer_pending_events",
			Help:      "Unverified events awaiting confirmation.",
		}),

		syncRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_runs_total",
			Help:      "Sync sweeps by loop and outcome.",
		}, []string{"loop", "outcome"}),

		orgsCached: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "orgs_cached",
			Help:      "Organizations in the local cache.",
		}),

		membersCached: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "members_cached",
			Help:      "Member addresses in the in-memory membership cache.",
		}),
	}

	m.registry.MustRegister(
		m.submissionsTotal,
		m.submissionDuration,
		m.rpcRequestsTotal,
		m.rpcDuration,
		m.eventsIngested,
		m.watermark,
		m.pendingEvents,
		m.syncRuns,
		m.orgsCached,
		m.membersCached,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Handler serves the private registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordSubmission counts one finished submission and its latency.
func (m *Metrics) RecordSubmission(operation, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.submissionsTotal.WithLabelValues(operation, outcome).Inc()
	m.submissionDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// RecordRPC counts one chain RPC call.
func (m *Metrics) RecordRPC(method, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.rpcRequestsTotal.WithLabelValues(method, outcome).Inc()
	m.rpcDuration.WithLabelValues(method).Observe(d.Seconds())
}

// RecordEventIngested counts one event write; source is poll, notify,
// synthetic, or manual.
func (m *Metrics) RecordEventIngested(kind, source string) {
	if m == nil {
		return
	}
	m.eventsIngested.WithLabelValues(kind, source).Inc()
}

// SetWatermark publishes the indexer watermark.
func (m *Metrics) SetWatermark(seq uint32) {
	if m == nil {
		return
	}
	m.watermark.Set(float64(seq))
}

// SetPendingEvents publishes the current unverified backlog size.
func (m *Metrics) SetPendingEvents(n int) {
	if m == nil {
		return
	}
	m.pendingEvents.Set(float64(n))
}

// RecordSyncRun counts one sync sweep; loop is org or membership.
func (m *Metrics) RecordSyncRun(loop, outcome string) {
	if m == nil {
		return
	}
	m.syncRuns.WithLabelValues(loop, outcome).Inc()
}

// SetOrgsCached publishes the organization cache size.
func (m *Metrics) SetOrgsCached(n int64) {
	if m == nil {
		return
	}
	m.orgsCached.Set(float64(n))
}

// SetMembersCached publishes the membership cache size across all orgs.
func (m *Metrics) SetMembersCached(n int) {
	if m == nil {
		return
	}
	m.membersCached.Set(float64(n))
}
