package util

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/diagnet/diagnet/pkg/model"
)

// ErrorBody is the stable error envelope carried by every failed request.
// Internal details never leak through it.
type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// WriteJSON writes v as a JSON response.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes the stable error envelope.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	WriteJSON(w, status, ErrorBody{Error: code, Message: message})
}

// WriteTimeoutOr writes 504 for deadline-exceeded errors, otherwise the
// given fallback.
func WriteTimeoutOr(w http.ResponseWriter, err error, status int, code, message string) {
	if errors.Is(err, context.DeadlineExceeded) {
		WriteError(w, http.StatusGatewayTimeout, "timeout", "request deadline exceeded")
		return
	}
	WriteError(w, status, code, message)
}

// ParseIntParam parses an integer query parameter with a default and an
// upper cap (0 disables the cap).
func ParseIntParam(r *http.Request, name string, def, max int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer", name)
	}
	if max > 0 && v > max {
		v = max
	}
	return v, nil
}

// ParseFloatParam parses a float query parameter with a default.
func ParseFloatParam(r *http.Request, name string, def float64) (float64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number", name)
	}
	return v, nil
}

// ParseTimeParam parses a required ISO-8601 query parameter.
func ParseTimeParam(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, fmt.Errorf("%s is required", name)
	}
	t, err := model.ParseTime(raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be an ISO-8601 timestamp", name)
	}
	return t.Time, nil
}
