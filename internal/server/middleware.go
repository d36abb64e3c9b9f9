package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/muurk/homelight/internal/bridge"
	"github.com/muurk/homelight/internal/logging"
)

// contextKey is a private type for context keys
type contextKey string

const ctxKeyDeviceID contextKey = "device_id"

// statusWriter records the status code for logging
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets event streams upgrade through the logging middleware
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// loggingMiddleware logs each request with its status and duration
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		logging.LogHTTPRequest(r.RemoteAddr, r.Method, r.URL.Path, wrapped.status, time.Since(start).Milliseconds())
	})
}

// recoveryMiddleware turns handler panics into 500 responses
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				logging.Error("Panic recovered in HTTP handler",
					zap.Any("error", err),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
				)
				writeInternalError(w, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// deviceIDMiddleware parses the {id} URL parameter
func (s *Server) deviceIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := chi.URLParam(r, "id")
		id, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			writeBadRequest(w, fmt.Sprintf("invalid device id %q", raw))
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyDeviceID, uint32(id))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// defaultDeviceMiddleware targets the first configured device
func (s *Server) defaultDeviceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		devices := s.bridge.Devices()
		if len(devices) == 0 {
			writeBridgeError(w, fmt.Errorf("no devices configured: %w", bridge.ErrUnknownDevice), nil)
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyDeviceID, devices[0].ID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// deviceID returns the id set by deviceIDMiddleware or defaultDeviceMiddleware
func deviceID(r *http.Request) uint32 {
	id, _ := r.Context().Value(ctxKeyDeviceID).(uint32)
	return id
}
