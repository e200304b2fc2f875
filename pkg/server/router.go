package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lockbook/lockbook/internal/logger"
	"github.com/lockbook/lockbook/pkg/metrics"
	"github.com/lockbook/lockbook/pkg/server/authtoken"
	"github.com/lockbook/lockbook/pkg/server/store"
)

// NewRouter builds the chi router serving the wire protocol, one route per
// method and a shared signed-envelope decode step ahead of each. m may be
// nil, in which case request metrics are skipped.
func NewRouter(st store.Store, cfg Config, m *metrics.ServerMetrics) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(requestMetrics(m))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	adminUsers := make(map[string]bool, len(cfg.AdminUsers))
	for _, u := range cfg.AdminUsers {
		adminUsers[u] = true
	}

	h := &handlers{
		store:      st,
		window:     authtoken.New(cfg.ClockSkew),
		minVer:     cfg.MinClientVersion,
		usageCap:   cfg.UsageCap,
		adminUsers: adminUsers,
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"healthy"}`))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/new_account", h.handleNewAccount)
		r.Post("/get_public_key", h.handleGetPublicKey)
		r.Post("/get_updates", h.handleGetUpdates)
		r.Post("/upsert", h.handleUpsert)
		r.Post("/change_doc", h.handleChangeDoc)
		r.Post("/get_document", h.handleGetDocument)
		r.Post("/get_usage", h.handleGetUsage)
		r.Post("/get_subscription_info", h.handleGetSubscriptionInfo)
		r.Post("/admin_purge", h.handleAdminPurge)
	})

	return r
}

// requestMetrics records per-route counters/duration. The route pattern
// (e.g. "/api/get_updates") is read off chi's RouteContext after
// ServeHTTP, once chi has matched it.
func requestMetrics(m *metrics.ServerMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if m == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			method := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				method = rctx.RoutePattern()
			}
			m.ObserveRequest(method, ww.Status(), time.Since(start))
		})
	}
}

// requestLogger attaches a logger.LogContext for the request and logs its
// completion through it, so every handler logging via the *Ctx functions
// carries the same request id and client address automatically.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lc := logger.NewLogContext(r.RemoteAddr).
			WithRequestID(middleware.GetReqID(r.Context()))
		ctx := logger.WithContext(r.Context(), lc)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		logger.InfoCtx(ctx, "request completed",
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", lc.DurationMs(),
		)
	})
}
