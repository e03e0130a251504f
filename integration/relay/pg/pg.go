// Package pg implements the cross-instance relay over Postgres
// LISTEN/NOTIFY: no tables, no persistence, just fan-out between the
// instances sharing one database.
package pg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dmitrymomot/streamhub/core/logger"
	"github.com/dmitrymomot/streamhub/integration/relay"
)

// Config holds the Postgres relay configuration.
type Config struct {
	DSN string `env:"RELAY_PG_DSN,required"`

	// NotifyChannel is the LISTEN/NOTIFY channel all instances share.
	NotifyChannel string `env:"RELAY_PG_NOTIFY_CHANNEL" envDefault:"streamhub"`

	// MaxPayloadBytes guards the Postgres notification payload limit
	// (about 8KB); larger envelopes are rejected at publish.
	MaxPayloadBytes int `env:"RELAY_PG_MAX_PAYLOAD_BYTES" envDefault:"7900"`
}

// ErrPayloadTooLarge is returned when an envelope exceeds the NOTIFY
// payload limit. The message is still delivered locally; only the mirror is
// skipped.
var ErrPayloadTooLarge = errors.New("envelope exceeds notify payload limit")

var notifyChannelRE = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// Relay mirrors publishes through a dedicated notify connection and a
// dedicated listen connection.
type Relay struct {
	cfg    Config
	origin string
	log    *slog.Logger

	mu     sync.Mutex // serializes Exec on the notify connection
	notify *pgx.Conn
}

// Option configures a Relay.
type Option func(*Relay)

// WithLogger sets the logger for transport errors.
func WithLogger(log *slog.Logger) Option {
	return func(r *Relay) {
		if log != nil {
			r.log = log
		}
	}
}

// New opens the notify connection. origin identifies this instance so its
// own envelopes are filtered on receive.
func New(ctx context.Context, cfg Config, origin string, opts ...Option) (*Relay, error) {
	if cfg.DSN == "" {
		return nil, errors.New("pg relay: DSN required")
	}
	if !notifyChannelRE.MatchString(cfg.NotifyChannel) {
		return nil, fmt.Errorf("pg relay: invalid notify channel %q", cfg.NotifyChannel)
	}
	if cfg.MaxPayloadBytes <= 0 {
		cfg.MaxPayloadBytes = 7900
	}
	conn, err := pgx.Connect(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("pg relay: connect: %w", err)
	}
	r := &Relay{
		cfg:    cfg,
		origin: origin,
		log:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		notify: conn,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Publish forwards the envelope via pg_notify.
func (r *Relay) Publish(ctx context.Context, env relay.Envelope) error {
	env.Origin = r.origin
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("pg relay: marshal: %w", err)
	}
	if len(payload) > r.cfg.MaxPayloadBytes {
		return fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, len(payload), r.cfg.MaxPayloadBytes)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, err = r.notify.Exec(ctx, `SELECT pg_notify($1, $2)`, r.cfg.NotifyChannel, string(payload))
	if err != nil {
		return fmt.Errorf("pg relay: notify: %w", err)
	}
	return nil
}

// Listen holds a dedicated LISTEN connection, delivering remote envelopes
// until the context is canceled. Connection failures reconnect with a fixed
// one-second backoff.
func (r *Relay) Listen(ctx context.Context, h relay.Handler) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		conn, err := pgx.Connect(ctx, r.cfg.DSN)
		if err != nil {
			r.log.Warn("pg relay connect failed, retrying", logger.Error(err))
			if !sleep(ctx, time.Second) {
				return nil
			}
			continue
		}
		if _, err := conn.Exec(ctx, fmt.Sprintf(`LISTEN %q`, r.cfg.NotifyChannel)); err != nil {
			r.log.Warn("pg relay listen failed, retrying", logger.Error(err))
			_ = conn.Close(ctx)
			if !sleep(ctx, time.Second) {
				return nil
			}
			continue
		}
		r.receive(ctx, conn, h)
		_ = conn.Close(context.Background())
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (r *Relay) receive(ctx context.Context, conn *pgx.Conn, h relay.Handler) {
	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			r.log.Warn("pg relay wait failed, reconnecting", logger.Error(err))
			return
		}
		var env relay.Envelope
		if err := json.Unmarshal([]byte(n.Payload), &env); err != nil {
			r.log.Warn("pg relay bad payload", logger.Error(err))
			continue
		}
		if env.Origin == r.origin {
			continue
		}
		h(ctx, env)
	}
}

// Close releases the notify connection.
func (r *Relay) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.notify.Close(ctx)
}

func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
