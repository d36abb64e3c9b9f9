package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)

	r.Get("/health", s.handleHealth)

	r.Route("/devices", func(r chi.Router) {
		r.Get("/", s.handleListDevices)

		r.Route("/{id}", func(r chi.Router) {
			r.Use(s.deviceIDMiddleware)
			r.Get("/", s.handleGetDevice)
			r.Get("/events", s.handleEvents)
			lightRoutes(s, r)
		})
	})

	// Unprefixed routes address the first configured device
	r.Group(func(r chi.Router) {
		r.Use(s.defaultDeviceMiddleware)
		lightRoutes(s, r)
	})

	// Registered last so they propagate to every mounted subrouter
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeNotFound(w, "no route for "+r.URL.Path)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, ErrCodeMethodNotAllowed, r.Method+" not allowed on "+r.URL.Path)
	})

	return r
}

// lightRoutes registers the per-light value routes
func lightRoutes(s *Server, r chi.Router) {
	r.Get("/light_state", s.handleLightState)

	r.Get("/power_state", s.handleGetPower)
	r.Put("/power_state", s.handleSetPower)

	r.Get("/brightness", s.handleGetBrightness)
	r.Put("/brightness", s.handleSetBrightness)

	r.Get("/hue", s.handleGetHue)
	r.Put("/hue", s.handleSetHue)

	r.Get("/saturation", s.handleGetSaturation)
	r.Put("/saturation", s.handleSetSaturation)
}

// handleHealth returns the server health status
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.config.Version,
		"devices": len(s.bridge.Devices()),
	})
}
