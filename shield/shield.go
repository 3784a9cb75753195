// Package shield provides the HTTP middleware stack guarding the snapshot
// store's API: security headers, JSON body limits, request tracing, and
// SQLite-backed rate limiting.
//
// Usage:
//
//	r := chi.NewRouter()
//	stack, limiter := shield.APIStack(db)
//	for _, mw := range stack {
//	    r.Use(mw)
//	}
//	limiter.StartReloader(done)
package shield

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
)

type contextKey string

const (
	// LoggerKey is the context key for the per-request structured logger.
	LoggerKey contextKey = "shield_logger"

	// TraceIDKey is the context key for the request trace id.
	TraceIDKey contextKey = "shield_trace_id"
)

// GetLogger retrieves the per-request logger from the context.
// Returns slog.Default() if no logger was set.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(LoggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

// GetTraceID retrieves the request trace id from the context, or "".
func GetTraceID(ctx context.Context) string {
	id, _ := ctx.Value(TraceIDKey).(string)
	return id
}

// APIStack returns the standard middleware stack for the store API, ordered
// SecurityHeaders → MaxJSONBody → TraceID → RateLimiter. The returned
// limiter handle allows callers to start its background reloader.
func APIStack(db *sql.DB) ([]func(http.Handler) http.Handler, *RateLimiter) {
	rl := NewRateLimiter(db, "/healthz")
	return []func(http.Handler) http.Handler{
		SecurityHeaders(DefaultHeaders()),
		MaxJSONBody(4 << 20),
		TraceID,
		rl.Middleware,
	}, rl
}
