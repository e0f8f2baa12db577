// Package api is the HTTP client for the IdeaVerse backend. Client attaches
// the session's bearer token to every call and recovers from an expired
// access token by refreshing it once per request; AuthClient talks to the
// unauthenticated credential endpoints.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Sentinel errors for HTTP status code classification.
// Use errors.Is(err, api.ErrNotFound) to check.
var (
	ErrBadRequest   = errors.New("api: bad request")
	ErrUnauthorized = errors.New("api: unauthorized")
	ErrForbidden    = errors.New("api: forbidden")
	ErrNotFound     = errors.New("api: not found")
	ErrConflict     = errors.New("api: conflict")
	ErrValidation   = errors.New("api: validation failed")
	ErrThrottled    = errors.New("api: throttled")
	ErrServerError  = errors.New("api: server error")
)

// ErrSessionExpired is returned when a request is still rejected as
// unauthorized after a successful token refresh. The stored tokens have been
// cleared; the user must log in again.
var ErrSessionExpired = errors.New("api: session expired")

// APIError wraps a sentinel error with the HTTP status code, request ID and
// the response body for debugging.
type APIError struct {
	StatusCode int
	RequestID  string
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *APIError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("api: HTTP %d (request-id: %s): %s", e.StatusCode, e.RequestID, e.Message)
	}

	return fmt.Sprintf("api: HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// ValidationError is a login rejection whose Message can be shown to the
// user as is (e.g. "Incorrect email or password").
type ValidationError struct {
	StatusCode int
	Message    string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// classifyStatus maps an HTTP status code to a sentinel error.
// Returns nil for codes without a sentinel.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	case http.StatusUnprocessableEntity:
		return ErrValidation
	case http.StatusTooManyRequests:
		return ErrThrottled
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return nil
	}
}

// detailMessage extracts a human-readable message from an error body.
// The backend reports errors as {"detail": "..."} or, for request
// validation, {"detail": [{"msg": "..."}, ...]}. Falls back to the raw body.
func detailMessage(body []byte) string {
	var parsed struct {
		Detail json.RawMessage `json:"detail"`
	}

	if err := json.Unmarshal(body, &parsed); err != nil || len(parsed.Detail) == 0 {
		return strings.TrimSpace(string(body))
	}

	var s string
	if err := json.Unmarshal(parsed.Detail, &s); err == nil {
		return s
	}

	var items []struct {
		Msg string `json:"msg"`
	}

	if err := json.Unmarshal(parsed.Detail, &items); err == nil {
		msgs := make([]string, 0, len(items))

		for _, it := range items {
			if it.Msg != "" {
				msgs = append(msgs, it.Msg)
			}
		}

		if len(msgs) > 0 {
			return strings.Join(msgs, "; ")
		}
	}

	return strings.TrimSpace(string(body))
}
