package metrics_test

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/lockbook/lockbook/pkg/metrics"
)

func TestSyncMetricsObserveRound(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewSyncMetrics(reg)

	m.ObserveRound(10*time.Millisecond, 2, 1, 0, nil)
	m.ObserveRound(5*time.Millisecond, 0, 0, 1, errors.New("boom"))
	m.ObserveAlreadySyncing()

	count, err := testutil.GatherAndCount(reg,
		"lockbook_sync_rounds_total",
		"lockbook_sync_documents_pulled_total",
		"lockbook_sync_documents_pushed_total",
	)
	require.NoError(t, err)
	require.Equal(t, 5, count) // 3 outcome labels + pulled + pushed series
}

func TestSyncMetricsNilIsNoop(t *testing.T) {
	var m *metrics.SyncMetrics
	require.NotPanics(t, func() {
		m.ObserveRound(time.Millisecond, 1, 1, 1, nil)
		m.ObserveAlreadySyncing()
	})
}

func TestServerMetricsObserveRequest(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewServerMetrics(reg)

	m.ObserveRequest("get_updates", 200, time.Millisecond)
	m.ObserveRequest("get_updates", 500, time.Millisecond)

	count, err := testutil.GatherAndCount(reg, "lockbook_server_requests_total")
	require.NoError(t, err)
	require.Equal(t, 2, count)
}

func TestServerMetricsNilIsNoop(t *testing.T) {
	var m *metrics.ServerMetrics
	require.NotPanics(t, func() {
		m.ObserveRequest("get_updates", 200, time.Millisecond)
	})
}
