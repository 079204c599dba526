// Package app wires configuration, adapters, and usecases into runnable
// server and worker processes.
package app

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fairyhunter13/ai-essay-detector/internal/adapter/httpserver"
	"github.com/fairyhunter13/ai-essay-detector/internal/adapter/observability"
	"github.com/fairyhunter13/ai-essay-detector/internal/config"
)

// ParseOrigins splits a comma-separated origin list, trimming whitespace.
func ParseOrigins(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		out = []string{"*"}
	}
	return out
}

// BuildRouter assembles the HTTP surface: middleware stack, the API routes,
// and the health endpoints. Prometheus metrics are served separately on the
// metrics port.
func BuildRouter(cfg config.Config, srv *httpserver.Server) http.Handler {
	r := chi.NewRouter()

	r.Use(httpserver.Recoverer())
	r.Use(middleware.RealIP)
	r.Use(httpserver.RequestID())
	r.Use(httpserver.AccessLog())
	r.Use(observability.HTTPMetricsMiddleware)
	r.Use(httpserver.SecurityHeaders)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   ParseOrigins(cfg.CORSAllowOrigins),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Owner-Id", "X-Request-Id"},
		MaxAge:           300,
		AllowCredentials: false,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/readyz", srv.ReadyzHandler())

	readTimeout := cfg.HTTPReadTimeout
	if readTimeout <= 0 {
		readTimeout = 15 * time.Second
	}

	r.Route("/v1", func(v1 chi.Router) {
		v1.Use(httprate.LimitByIP(cfg.RateLimitPerMin, time.Minute))

		v1.Group(func(reads chi.Router) {
			reads.Use(httpserver.TimeoutMiddleware(readTimeout))
			reads.Get("/documents/{id}", srv.GetDocumentHandler())
			reads.Get("/documents/{id}/result", srv.ResultHandler())
			reads.Get("/batches/{id}", srv.GetBatchHandler())
			reads.Get("/usage/stats", srv.StatsHandler())
			reads.Get("/admin/dead-letters", srv.ListDeadLettersHandler())
		})

		// Uploads stream multipart bodies; they get the longer write timeout.
		v1.Group(func(writes chi.Router) {
			writes.Use(httpserver.TimeoutMiddleware(cfg.HTTPWriteTimeout))
			writes.Post("/documents", srv.UploadHandler())
			writes.Post("/batches", srv.CreateBatchHandler())
			writes.Post("/documents/{id}/reprocess", srv.ReprocessHandler())
			writes.Post("/documents/{id}/reset", srv.ResetHandler())
			writes.Delete("/documents/{id}", srv.DeleteDocumentHandler())
			writes.Post("/admin/dead-letters/{id}/requeue", srv.RequeueDeadLetterHandler())
		})
	})

	return r
}

// BuildMetricsHandler serves the Prometheus scrape endpoint.
func BuildMetricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}
