package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/httpgov/pkg/governor"
	"github.com/Sternrassler/httpgov/pkg/ratelimit"
)

// newRouter wires the proxy's HTTP surface: health, Prometheus scrape, and
// the /fetch passthrough that exercises the governor end-to-end. Routing is
// grounded on always-cache-always-cache/main_test.go's chi.NewRouter usage.
func newRouter(orch *governor.Orchestrator, logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Get("/fetch", fetchHandler(orch, logger))

	return r
}

func fetchHandler(orch *governor.Orchestrator, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		target := r.URL.Query().Get("url")
		if target == "" {
			http.Error(w, "missing url query parameter", http.StatusBadRequest)
			return
		}

		priority := ratelimit.PriorityBackground
		if r.URL.Query().Get("priority") == "user" {
			priority = ratelimit.PriorityUser
		}

		body, err := governor.Get[[]byte](r.Context(), orch, target, governor.Options{
			Priority: priority,
		})

		duration := time.Since(start)
		if err != nil {
			logger.Warn().Err(err).Str("url", target).Dur("duration", duration).Msg("fetch failed")
			writeError(w, err)
			return
		}

		logger.Info().Str("url", target).Dur("duration", duration).Msg("fetch ok")
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write(body)
	}
}

func writeError(w http.ResponseWriter, err error) {
	gerr, ok := err.(*governor.Error)
	if !ok {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	status := http.StatusBadGateway
	switch gerr.Kind {
	case governor.KindHTTP:
		status = gerr.StatusCode
	case governor.KindRateLimited:
		status = http.StatusTooManyRequests
	case governor.KindBudgetExhausted:
		status = http.StatusGatewayTimeout
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": gerr.Message})
}
