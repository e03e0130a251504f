// Package handler implements the HTTP-facing publisher and subscriber
// gateways: request validation, channel-name parsing and quota-aware error
// mapping in front of the broker store and the delivery engine.
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/dmitrymomot/streamhub/core/broker"
	"github.com/dmitrymomot/streamhub/core/cursor"
	"github.com/dmitrymomot/streamhub/core/delivery"
	"github.com/dmitrymomot/streamhub/core/logger"
)

// DefaultMaxBodyBytes caps publish request bodies at 32 KiB.
const DefaultMaxBodyBytes = 32 << 10

// Gateway bundles the store and delivery engine behind the HTTP endpoints.
type Gateway struct {
	store        *broker.Store
	engine       *delivery.Engine
	log          *slog.Logger
	maxBodyBytes int64
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogger sets the logger for request failures.
func WithLogger(log *slog.Logger) Option {
	return func(g *Gateway) {
		if log != nil {
			g.log = log
		}
	}
}

// WithMaxBodyBytes caps the publish request body size.
func WithMaxBodyBytes(n int64) Option {
	return func(g *Gateway) {
		if n > 0 {
			g.maxBodyBytes = n
		}
	}
}

// New creates a Gateway.
func New(store *broker.Store, engine *delivery.Engine, opts ...Option) *Gateway {
	g := &Gateway{
		store:        store,
		engine:       engine,
		log:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		maxBodyBytes: DefaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// respondError maps broker and parsing failures onto HTTP statuses. Quota
// violations answer 403 before any adapter state exists; an arena at
// capacity answers 507 so callers know to retry after the next sweep.
func (g *Gateway) respondError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, broker.ErrChannelNotFound):
		http.Error(w, "channel not found", http.StatusNotFound)
	case errors.Is(err, broker.ErrQuotaExceeded):
		http.Error(w, "quota exceeded", http.StatusForbidden)
	case errors.Is(err, broker.ErrOutOfMemory):
		http.Error(w, "out of memory, retry later", http.StatusInsufficientStorage)
	case errors.Is(err, cursor.ErrInvalidChannel):
		http.Error(w, "invalid channel name", http.StatusBadRequest)
	default:
		g.log.Error("request failed",
			logger.Method(r.Method),
			logger.Path(r.URL.Path),
			logger.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.log.Debug("response encode failed", logger.Error(err))
	}
}
