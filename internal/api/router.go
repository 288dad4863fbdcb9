package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/status", s.handleStatus)

		r.Route("/state", func(r chi.Router) {
			r.Get("/", s.handleGetState)
			r.Get("/{kind}/{id}", s.handleGetStateEntry)
		})

		r.Route("/catalog", func(r chi.Router) {
			r.Get("/stats", s.handleCatalogStats)
			r.Get("/{resource}", s.handleGetCatalog)
		})

		r.Route("/commands", func(r chi.Router) {
			r.Post("/points/{id}", s.handleSetPoints)
			r.Post("/power-switches/{id}", s.handleSetPowerSwitch)
			r.Route("/trains/{id}", func(r chi.Router) {
				r.Post("/reverser", s.handleSetReverser)
				r.Post("/speed", s.handleSetSpeed)
				r.Post("/functions/{name}/toggle", s.handleToggleFunction)
			})
			r.Post("/refresh", s.handleRefresh)
		})
	})

	r.Get(s.wsCfg.Path, s.handleWebSocket)

	if s.metrics != nil && s.metricsPath != "" {
		r.Method(http.MethodGet, s.metricsPath, s.metrics)
	}

	return r
}

// handleHealth reports liveness and whether the backend channel is up.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := "ok"
	connected := true
	if s.channel != nil {
		connected = s.channel.Connected()
	}
	if !connected {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":            status,
		"version":           s.version,
		"channel_connected": connected,
	})
}
