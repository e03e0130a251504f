package middleware

import (
	"bufio"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/dmitrymomot/streamhub/core/logger"
)

// LoggingConfig configures the request logging middleware.
type LoggingConfig struct {
	// Logger is the slog logger to use (default: slog.Default()).
	Logger *slog.Logger
	// LogLevel for request completion entries (default: slog.LevelInfo).
	LogLevel slog.Level
	// Skip defines requests the middleware ignores, e.g. scrape endpoints.
	Skip func(r *http.Request) bool
	// SlowRequestThreshold logs a warning for slower requests when set.
	// Streaming subscribers hold connections open by design, so leave this
	// unset for paths that serve persistent modes.
	SlowRequestThreshold time.Duration
}

// Logging creates request logging middleware with the given logger.
func Logging(log *slog.Logger) func(http.Handler) http.Handler {
	return LoggingWithConfig(LoggingConfig{Logger: log})
}

// LoggingWithConfig creates request logging middleware with custom
// configuration. Each request logs method, path, status, duration and the
// request id when present.
func LoggingWithConfig(cfg LoggingConfig) func(http.Handler) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.Skip != nil && cfg.Skip(r) {
				next.ServeHTTP(w, r)
				return
			}
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			elapsed := time.Since(start)
			level := cfg.LogLevel
			if cfg.SlowRequestThreshold > 0 && elapsed > cfg.SlowRequestThreshold {
				level = slog.LevelWarn
			}
			cfg.Logger.LogAttrs(r.Context(), level, "request completed",
				logger.Method(r.Method),
				logger.Path(r.URL.Path),
				logger.StatusCode(rec.status),
				logger.Duration(elapsed),
				logger.RequestID(GetRequestID(r.Context())),
			)
		})
	}
}

// statusRecorder captures the response status while passing the Flusher
// capability through, which streaming responses depend on.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack passes the capability through so websocket upgrades work behind
// the middleware.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hj, ok := r.ResponseWriter.(http.Hijacker); ok {
		return hj.Hijack()
	}
	return nil, nil, http.ErrNotSupported
}
