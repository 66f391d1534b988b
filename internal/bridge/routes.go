package bridge

import (
	"encoding/json"
	"net/http"

	"github.com/danmuck/cuebridge/internal/observability"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

func (s *Service) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetrics(s.metrics))

	r.Get("/healthz", s.handleHealth)
	r.Get("/osc", s.hub.ServeHTTP)
	if s.cfg.Metrics {
		r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry}))
	}
	return r
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	health := s.relay.Health()
	status := http.StatusOK
	if !health.Authenticated {
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(health)
}
