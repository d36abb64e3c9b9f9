package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/muurk/homelight/internal/bridge"
	"github.com/muurk/homelight/internal/cache"
	"github.com/muurk/homelight/internal/logging"
	"github.com/muurk/homelight/internal/protocol"
)

// Error is the JSON body of every error response
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`

	// State carries the last known value when a refresh timed out
	State *protocol.LightInfo `json:"state,omitempty"`
}

// Error codes
const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeNotFound         = "not_found"
	ErrCodeStale            = "stale"
	ErrCodeNoData           = "no_data"
	ErrCodeQueueFull        = "queue_full"
	ErrCodeOffline          = "device_offline"
	ErrCodeUnavailable      = "unavailable"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"
)

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		if err := json.NewEncoder(w).Encode(v); err != nil {
			logging.Debug("Failed to write JSON response", zap.Error(err))
		}
	}
}

// writeText writes a plain-text body. Value routes answer this way so simple
// HTTP accessory plugins can read them.
func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{Status: status, Code: code, Message: message})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeBridgeError maps errors from the bridge onto HTTP responses.
// last is the best-effort value returned alongside ErrStale, if any.
func writeBridgeError(w http.ResponseWriter, err error, last *protocol.LightInfo) {
	switch {
	case errors.Is(err, bridge.ErrUnknownDevice):
		writeNotFound(w, err.Error())
	case errors.Is(err, cache.ErrNoData):
		writeError(w, http.StatusGatewayTimeout, ErrCodeNoData, err.Error())
	case errors.Is(err, cache.ErrStale):
		writeJSON(w, http.StatusGatewayTimeout, Error{
			Status:  http.StatusGatewayTimeout,
			Code:    ErrCodeStale,
			Message: err.Error(),
			State:   last,
		})
	case errors.Is(err, bridge.ErrQueueFull):
		writeError(w, http.StatusServiceUnavailable, ErrCodeQueueFull, err.Error())
	case errors.Is(err, bridge.ErrDeviceOffline):
		writeError(w, http.StatusServiceUnavailable, ErrCodeOffline, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, err.Error())
	default:
		logging.Error("Unhandled bridge error", zap.Error(err))
		writeInternalError(w, err.Error())
	}
}
