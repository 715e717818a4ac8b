// Package server exposes the HTTP sidecar: health, readiness, metrics, and a
// read-only group listing. The chat gateway is the product surface; this
// exists for probes and operators. Correlation IDs are injected into request
// contexts for consistent logging.
package server

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/race-tender/backend/race"
	"github.com/onnwee/race-tender/backend/telemetry"
)

// NewMux returns the HTTP handler with all routes.
func NewMux(db *sql.DB, svc *race.Service) http.Handler {
	handlers := &Handlers{db: db, svc: svc}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", handlers.HandleHealthz)
	mux.HandleFunc("/readyz", handlers.HandleReadyz)
	mux.HandleFunc("/groups", handlers.HandleGroups)

	// correlation ID injector and tracing wrapper
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		corr := r.Header.Get("X-Correlation-ID")
		if corr == "" {
			corr = uuid.New().String()
		}
		ctx := telemetry.WithCorrelation(r.Context(), corr)
		w.Header().Set("X-Correlation-ID", corr)

		ctx, span := telemetry.StartSpan(ctx, "http-server", r.Method+" "+r.URL.Path,
			attribute.String("http.method", r.Method),
			attribute.String("http.route", r.URL.Path),
		)
		defer span.End()

		telemetry.LoggerWithCorr(ctx).Debug("request start",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("component", "http"))

		mux.ServeHTTP(w, r.WithContext(ctx))
	})
}
