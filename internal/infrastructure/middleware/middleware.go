// internal/infrastructure/middleware/middleware.go
package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/damon-houk/subtrack-client/internal/infrastructure/logger"
	"github.com/google/uuid"
)

// Keys for context values
type contextKey string

const (
	requestIDKey contextKey = "request_id"
)

// RequestIDHeader carries the correlation id on outbound requests
const RequestIDHeader = "X-Request-ID"

// UnknownRequestID is reported for a context without a request id
const UnknownRequestID = "unknown"

// WithRequestID returns a context carrying id
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// EnsureRequestID returns ctx unchanged when it already carries a request
// id, otherwise a child context with a new one
func EnsureRequestID(ctx context.Context) (context.Context, string) {
	if requestID, ok := ctx.Value(requestIDKey).(string); ok && requestID != "" {
		return ctx, requestID
	}
	requestID := uuid.New().String()
	return WithRequestID(ctx, requestID), requestID
}

// GetRequestID retrieves the request ID from context
func GetRequestID(ctx context.Context) string {
	requestID, ok := ctx.Value(requestIDKey).(string)
	if !ok || requestID == "" {
		return UnknownRequestID
	}
	return requestID
}

// RoundTripperFunc adapts a function to http.RoundTripper
type RoundTripperFunc func(*http.Request) (*http.Response, error)

// RoundTrip implements http.RoundTripper
func (f RoundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

func orDefault(next http.RoundTripper) http.RoundTripper {
	if next == nil {
		return http.DefaultTransport
	}
	return next
}

// RequestIDTransport stamps every outbound request with an X-Request-ID.
// An id already on the context is reused so a replayed request keeps the
// id of the call it belongs to.
func RequestIDTransport(next http.RoundTripper) http.RoundTripper {
	next = orDefault(next)
	return RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
		if r.Header.Get(RequestIDHeader) != "" {
			return next.RoundTrip(r)
		}

		requestID, ok := r.Context().Value(requestIDKey).(string)
		if !ok || requestID == "" {
			requestID = uuid.New().String()
		}

		// RoundTrippers must not modify the caller's request
		out := r.Clone(WithRequestID(r.Context(), requestID))
		out.Header.Set(RequestIDHeader, requestID)
		return next.RoundTrip(out)
	})
}

// LoggingTransport logs each outbound request and its outcome
func LoggingTransport(log logger.Logger, next http.RoundTripper) http.RoundTripper {
	next = orDefault(next)
	log = logger.OrDefault(log)

	return RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
		start := time.Now()
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = GetRequestID(r.Context())
		}

		log.Debug("Request sent", map[string]interface{}{
			"request_id":     requestID,
			"method":         r.Method,
			"path":           r.URL.Path,
			"query":          r.URL.RawQuery,
			"content_type":   r.Header.Get("Content-Type"),
			"content_length": r.ContentLength,
		})

		resp, err := next.RoundTrip(r)
		duration := time.Since(start)

		if err != nil {
			log.Warn("Request failed", map[string]interface{}{
				"request_id":  requestID,
				"method":      r.Method,
				"path":        r.URL.Path,
				"duration_ms": duration.Milliseconds(),
				"error":       err.Error(),
			})
			return nil, err
		}

		log.Info("Response received", map[string]interface{}{
			"request_id":     requestID,
			"method":         r.Method,
			"path":           r.URL.Path,
			"status":         resp.StatusCode,
			"duration_ms":    duration.Milliseconds(),
			"content_type":   resp.Header.Get("Content-Type"),
			"content_length": resp.ContentLength,
		})

		return resp, nil
	})
}

// NewHTTPClient builds the client used for all backend calls
func NewHTTPClient(timeout time.Duration, log logger.Logger) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: RequestIDTransport(LoggingTransport(log, http.DefaultTransport)),
	}
}
