package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// healthCheckTimeout bounds each dependency probe in /health.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		// WebSocket authenticates with ?token= since browsers cannot set
		// headers on the upgrade request.
		r.Get(s.wsPath(), s.handleWebSocket)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Use(s.rateLimitMiddleware)

			r.Route("/devices", func(r chi.Router) {
				r.Get("/", s.handleListDevices)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetDevice)
					r.Get("/readings", s.handleListReadings)
					r.Delete("/readings", s.handleClearReadings)
					r.Patch("/config", s.handleUpdateConfig)
					r.Get("/accounts", s.handleListLinks)
					r.Post("/accounts", s.handleAddLink)
					r.Delete("/accounts/{accountID}", s.handleRemoveLink)
					r.Post("/secret", s.handleRotateSecret)
					r.Get("/audit", s.handleListHistory)
				})
			})
		})
	})

	return r
}

func (s *Server) wsPath() string {
	if s.wsCfg.Path == "" {
		return "/ws"
	}
	return s.wsCfg.Path
}

// handleHealth reports database and broker state. A database failure makes
// the service unhealthy; a broker outage only degrades it, since the
// connection manager reconnects on its own.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	checks := map[string]string{}

	probe := func(name string, hc HealthChecker) error {
		if hc == nil {
			return nil
		}
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()
		if err := hc.HealthCheck(ctx); err != nil {
			checks[name] = err.Error()
			return err
		}
		checks[name] = "ok"
		return nil
	}

	if err := probe("database", s.database); err != nil {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}
	if err := probe("broker", s.broker); err != nil && code == http.StatusOK {
		status = "degraded"
	}

	writeJSON(w, code, map[string]any{
		"status":  status,
		"version": s.version,
		"checks":  checks,
	})
}
