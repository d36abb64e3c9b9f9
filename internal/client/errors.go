package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/muurk/homelight/internal/protocol"
)

// ErrorType represents the category of error that occurred
type ErrorType int

const (
	// ErrTypeNetwork indicates the request never got an HTTP response
	ErrTypeNetwork ErrorType = iota
	// ErrTypeHTTP indicates a non-2xx response
	ErrTypeHTTP
	// ErrTypeParse indicates a response body that could not be decoded
	ErrTypeParse
)

// String returns a human-readable name for the error type
func (et ErrorType) String() string {
	switch et {
	case ErrTypeNetwork:
		return "Network Error"
	case ErrTypeHTTP:
		return "HTTP Error"
	case ErrTypeParse:
		return "Parse Error"
	default:
		return fmt.Sprintf("ErrorType(%d)", et)
	}
}

// Error codes returned by homelightd that are worth retrying
const (
	codeQueueFull = "queue_full"
	codeStale     = "stale"
	codeNoData    = "no_data"
)

// APIError represents a failed request to homelightd
type APIError struct {
	Type       ErrorType
	StatusCode int    // HTTP status code, if a response arrived
	Code       string // Error code from the JSON body, e.g. "queue_full"
	Message    string
	Err        error

	// State is the last known light state sent with stale errors
	State *protocol.LightInfo
}

// Error implements the error interface
func (e *APIError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Err)
	case e.Code != "":
		return fmt.Sprintf("%s %d %s: %s", e.Type, e.StatusCode, e.Code, e.Message)
	default:
		return fmt.Sprintf("%s: %s", e.Type, e.Message)
	}
}

// Unwrap returns the underlying error for error chain inspection
func (e *APIError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the same request may succeed later
func (e *APIError) Retryable() bool {
	switch e.Type {
	case ErrTypeNetwork:
		return true
	case ErrTypeHTTP:
		switch e.Code {
		case codeQueueFull, codeStale, codeNoData:
			return true
		}
	}
	return false
}

// IsRetryable reports whether err is an APIError worth retrying
func IsRetryable(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Retryable()
}

// IsNotFound reports whether err is a 404 from homelightd
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

func newNetworkError(message string, err error) *APIError {
	return &APIError{Type: ErrTypeNetwork, Message: message, Err: err}
}

func newParseError(message string, err error) *APIError {
	return &APIError{Type: ErrTypeParse, Message: message, Err: err}
}

// errorBody mirrors the JSON error response
type errorBody struct {
	Status  int                 `json:"status"`
	Code    string              `json:"code"`
	Message string              `json:"message"`
	State   *protocol.LightInfo `json:"state,omitempty"`
}

// responseError builds an APIError from a non-2xx response
func responseError(resp *http.Response) *APIError {
	apiErr := &APIError{
		Type:       ErrTypeHTTP,
		StatusCode: resp.StatusCode,
		Message:    http.StatusText(resp.StatusCode),
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil || len(data) == 0 {
		return apiErr
	}

	var body errorBody
	if json.Unmarshal(data, &body) == nil && body.Code != "" {
		apiErr.Code = body.Code
		apiErr.Message = body.Message
		apiErr.State = body.State
		return apiErr
	}

	apiErr.Message = string(data)
	return apiErr
}
