package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/lockbook/lockbook/internal/logger"
	"github.com/lockbook/lockbook/pkg/metrics"
	"github.com/lockbook/lockbook/pkg/server"
	"github.com/lockbook/lockbook/pkg/server/store"
	"github.com/lockbook/lockbook/pkg/server/store/memstore"
	"github.com/lockbook/lockbook/pkg/server/store/pgstore"
)

var serveFlags struct {
	port             int
	databaseURL      string
	usageCap         uint64
	minClientVersion string
	adminUsers       string
	logLevel         string
	logFormat        string
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Lockbook wire-protocol server",
	Long: `serve starts the HTTP server that implements the Lockbook wire
protocol: NewAccount, GetPublicKey, GetUpdates, Upsert, ChangeDoc,
GetDocument, GetUsage, GetSubscriptionInfo, and admin_purge.

Storage backend is selected by --database-url (or DATABASE_URL): set it to
use pgstore, otherwise the server runs on an in-process memstore that is
lost on restart.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&serveFlags.port, "port", 8080, "TCP port to listen on")
	serveCmd.Flags().StringVar(&serveFlags.databaseURL, "database-url", os.Getenv("DATABASE_URL"), "Postgres DSN; empty uses the in-memory store")
	serveCmd.Flags().Uint64Var(&serveFlags.usageCap, "usage-cap", 0, "per-account byte budget reported by GetUsage (0 = unlimited)")
	serveCmd.Flags().StringVar(&serveFlags.minClientVersion, "min-client-version", "", "reject requests below this client_version")
	serveCmd.Flags().StringVar(&serveFlags.adminUsers, "admin-users", os.Getenv("LB_ADMIN_USERS"), "comma-separated usernames allowed to call admin_purge")
	serveCmd.Flags().StringVar(&serveFlags.logLevel, "log-level", "info", "DEBUG, INFO, WARN, or ERROR")
	serveCmd.Flags().StringVar(&serveFlags.logFormat, "log-format", "text", "text or json")
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := logger.Init(logger.Config{Level: serveFlags.logLevel, Format: serveFlags.logFormat, Output: "stdout"}); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	st, closeStore, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	srv := server.New(server.Config{
		Port:             serveFlags.port,
		MinClientVersion: serveFlags.minClientVersion,
		UsageCap:         serveFlags.usageCap,
		AdminUsers:       parseAdminUsers(serveFlags.adminUsers),
	}, st, metrics.NewServerMetrics(prometheus.DefaultRegisterer))

	return srv.Start(ctx)
}

// parseAdminUsers splits a comma-separated admin username list, trimming
// whitespace and dropping empty entries, mirroring
// internal/config.parseAdminUsers.
func parseAdminUsers(raw string) []string {
	parts := strings.Split(raw, ",")
	users := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			users = append(users, p)
		}
	}
	return users
}

// openStore picks memstore or pgstore based on --database-url, a single
// env-driven backend switch at startup.
func openStore(ctx context.Context) (store.Store, func(), error) {
	if serveFlags.databaseURL == "" {
		logger.Info("using in-memory store; data does not survive a restart")
		return memstore.New(serveFlags.usageCap), func() {}, nil
	}

	logger.Info("using postgres store")
	st, err := pgstore.New(ctx, pgstore.Config{DSN: serveFlags.databaseURL}, serveFlags.usageCap, logger.With("component", "pgstore"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open postgres store: %w", err)
	}
	return st, func() { _ = st.Close() }, nil
}
