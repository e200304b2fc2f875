// Package metrics exposes Prometheus instrumentation for the two things
// this codebase actually emits: sync-round outcomes (with per-document
// transfer counts) on the client side, and request counts/durations on the
// server side.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// SyncMetrics instruments pkg/sync.Engine.Round. A nil *SyncMetrics is
// always safe to call methods on (every method is a no-op), so callers that
// don't want metrics can simply not construct one.
type SyncMetrics struct {
	rounds        *prometheus.CounterVec
	roundDuration prometheus.Histogram
	docsPulled    prometheus.Counter
	docsPushed    prometheus.Counter
	rejected      prometheus.Counter
}

// NewSyncMetrics registers Lockbook's sync counters/histograms against reg.
// Pass prometheus.DefaultRegisterer for the global registry, or a fresh
// prometheus.NewRegistry() in tests to avoid duplicate-registration panics
// across test runs.
func NewSyncMetrics(reg prometheus.Registerer) *SyncMetrics {
	factory := promauto.With(reg)
	return &SyncMetrics{
		rounds: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lockbook_sync_rounds_total",
			Help: "Total sync rounds by outcome (ok, already_syncing, error).",
		}, []string{"outcome"}),
		roundDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name: "lockbook_sync_round_duration_seconds",
			Help: "Wall-clock duration of a completed sync round.",
			Buckets: []float64{
				0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
			},
		}),
		docsPulled: factory.NewCounter(prometheus.CounterOpts{
			Name: "lockbook_sync_documents_pulled_total",
			Help: "Documents downloaded during Phase D of a sync round.",
		}),
		docsPushed: factory.NewCounter(prometheus.CounterOpts{
			Name: "lockbook_sync_documents_pushed_total",
			Help: "Documents uploaded after Phase U of a sync round.",
		}),
		rejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "lockbook_sync_files_rejected_total",
			Help: "Files left in Local because the server rejected their diff.",
		}),
	}
}

// ObserveRound records one Round's outcome. err is the error Round itself
// returned (e.g. ServerUnreachable); a round that completed but rejected some
// diffs is still counted as "ok" — rejections are tracked separately via
// rejectedCount; individual rejected diffs never fail the whole round.
func (m *SyncMetrics) ObserveRound(duration time.Duration, pulled, pushed, rejectedCount int, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.rounds.WithLabelValues(outcome).Inc()
	if err == nil {
		m.roundDuration.Observe(duration.Seconds())
		m.docsPulled.Add(float64(pulled))
		m.docsPushed.Add(float64(pushed))
		m.rejected.Add(float64(rejectedCount))
	}
}

// ObserveAlreadySyncing records a round that was refused because one was
// already in flight.
func (m *SyncMetrics) ObserveAlreadySyncing() {
	if m == nil {
		return
	}
	m.rounds.WithLabelValues("already_syncing").Inc()
}

// ServerMetrics instruments pkg/server's request handlers: one counter per
// method/status pair and a request-duration histogram.
type ServerMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewServerMetrics registers Lockbook's request counters against reg.
func NewServerMetrics(reg prometheus.Registerer) *ServerMetrics {
	factory := promauto.With(reg)
	return &ServerMetrics{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lockbook_server_requests_total",
			Help: "Total wire-protocol requests by method and status.",
		}, []string{"method", "status"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name: "lockbook_server_request_duration_seconds",
			Help: "Request handling duration by method.",
			Buckets: []float64{
				0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5,
			},
		}, []string{"method"}),
	}
}

// ObserveRequest records one handled request. method is the request's
// route path (e.g. "/api/get_updates"); status is the HTTP status code
// written.
func (m *ServerMetrics) ObserveRequest(method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	statusLabel := fmt.Sprintf("%d", status)
	m.requests.WithLabelValues(method, statusLabel).Inc()
	m.duration.WithLabelValues(method).Observe(duration.Seconds())
}
