package server_test

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/lockbook/lockbook/pkg/crypto"
	"github.com/lockbook/lockbook/pkg/filetree/filetreetest"
	"github.com/lockbook/lockbook/pkg/metrics"
	"github.com/lockbook/lockbook/pkg/server"
	"github.com/lockbook/lockbook/pkg/server/store/memstore"
	"github.com/lockbook/lockbook/pkg/wireclient"
)

// newTestServer wires memstore behind a real HTTP server, matching how
// cmd/lockbookd's serve command assembles pkg/server in production.
//
// NewRouter does not apply Config defaults (only Server.New does), so the
// skew window must be set explicitly or every signed request is rejected.
func newTestServer(t *testing.T, m *metrics.ServerMetrics) *httptest.Server {
	t.Helper()
	st := memstore.New(0)
	router := server.NewRouter(st, server.Config{ClockSkew: crypto.DefaultSkewWindow}, m)
	return httptest.NewServer(router)
}

func TestRouterNewAccountAndGetPublicKeyRoundTrip(t *testing.T) {
	srv := newTestServer(t, nil)
	defer srv.Close()

	alice := filetreetest.NewAccount(t, "alice")
	b := filetreetest.NewBuilder(t, alice)
	rootID := b.Root()

	c := wireclient.New(srv.URL, alice.Private())
	ctx := context.Background()

	rootFile := b.Map()[rootID]
	require.NoError(t, c.NewAccount(ctx, "alice", alice.Public(), rootFile))

	got, err := c.GetPublicKey(ctx, "alice")
	require.NoError(t, err)
	require.True(t, got.Equal(alice.Public()))
}

func TestRouterAdminPurgeRejectsNonAdmin(t *testing.T) {
	st := memstore.New(0)
	router := server.NewRouter(st, server.Config{ClockSkew: crypto.DefaultSkewWindow, AdminUsers: []string{"root"}}, nil)
	srv := httptest.NewServer(router)
	defer srv.Close()

	alice := filetreetest.NewAccount(t, "alice")
	b := filetreetest.NewBuilder(t, alice)
	rootID := b.Root()
	c := wireclient.New(srv.URL, alice.Private())
	ctx := context.Background()
	require.NoError(t, c.NewAccount(ctx, "alice", alice.Public(), b.Map()[rootID]))

	err := c.AdminPurge(ctx, "alice", rootID)
	require.Error(t, err)
}

func TestRouterRecordsRequestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewServerMetrics(reg)
	srv := newTestServer(t, m)
	defer srv.Close()

	alice := filetreetest.NewAccount(t, "alice")
	c := wireclient.New(srv.URL, alice.Private())

	_, err := c.GetPublicKey(context.Background(), "nobody")
	require.Error(t, err)

	count, err := promtestutil.GatherAndCount(reg, "lockbook_server_requests_total")
	require.NoError(t, err)
	require.Equal(t, 1, count)
}
