package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/google/uuid"
)

// RequestIDHeader carries the request id on requests and responses.
const RequestIDHeader = "X-Request-Id"

// HandlerFunc is an HTTP handler that may fail. A returned error is
// written by the error middleware.
type HandlerFunc func(w http.ResponseWriter, r *http.Request) error

// Middleware wraps an HTTP handler.
type Middleware func(http.Handler) http.Handler

type requestIDKey struct{}

// RequestID returns the id attached to ctx by the request id middleware.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// Chain applies middleware in declaration order.
func Chain(h http.Handler, middleware ...Middleware) http.Handler {
	for i := len(middleware) - 1; i >= 0; i-- {
		if middleware[i] != nil {
			h = middleware[i](h)
		}
	}
	return h
}

// WithRequestID reuses the incoming request id or generates one, and
// echoes it on the response.
func WithRequestID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := strings.TrimSpace(r.Header.Get(RequestIDHeader))
			if id == "" {
				id = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, id)
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
		})
	}
}

// errorHandler adapts fn, turning errors and panics into JSON error
// responses.
type errorHandler struct {
	fn     HandlerFunc
	logger *slog.Logger
}

func (h errorHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			h.logger.Debug("handler panic", "stack", string(debug.Stack()))
			h.fail(w, r, fmt.Errorf("panic: %v", rec))
		}
	}()
	if err := h.fn(w, r); err != nil {
		h.fail(w, r, err)
	}
}

func (h errorHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusOf(err)
	attrs := []any{
		"method", r.Method,
		"path", r.URL.Path,
		"status", status,
		"request_id", RequestID(r.Context()),
		"error", err,
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("error handling request", attrs...)
	} else {
		h.logger.Warn("error handling request", attrs...)
	}

	writeJSON(w, status, map[string]string{"message": "Server error: " + err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) error {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(payload)
}
