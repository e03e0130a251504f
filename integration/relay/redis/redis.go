// Package redis implements the cross-instance relay over Redis pub/sub.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/streamhub/core/logger"
	"github.com/dmitrymomot/streamhub/integration/relay"
)

// Config holds the Redis relay configuration.
type Config struct {
	// URL is a redis connection URL, e.g. redis://localhost:6379/0.
	URL string `env:"RELAY_REDIS_URL,required"`

	// Channel is the pub/sub channel all instances share.
	Channel string `env:"RELAY_REDIS_CHANNEL" envDefault:"streamhub"`

	// ConnectTimeout bounds the initial ping.
	ConnectTimeout time.Duration `env:"RELAY_REDIS_CONNECT_TIMEOUT" envDefault:"5s"`
}

// Relay mirrors publishes through a shared Redis pub/sub channel.
type Relay struct {
	cfg    Config
	origin string
	log    *slog.Logger
	client *redis.Client
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

// New connects to Redis and verifies the connection with a ping. origin
// identifies this instance so its own envelopes are filtered on receive.
func New(ctx context.Context, cfg Config, origin string, opts ...Option) (*Relay, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis relay: URL required")
	}
	if cfg.Channel == "" {
		cfg.Channel = "streamhub"
	}
	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis relay: parse url: %w", err)
	}
	client := redis.NewClient(opt)

	pingCtx := ctx
	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis relay: ping: %w", err)
	}

	r := &Relay{
		cfg:    cfg,
		origin: origin,
		log:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		client: client,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Publish forwards the envelope to the shared channel.
func (r *Relay) Publish(ctx context.Context, env relay.Envelope) error {
	env.Origin = r.origin
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("redis relay: marshal: %w", err)
	}
	if err := r.client.Publish(ctx, r.cfg.Channel, payload).Err(); err != nil {
		return fmt.Errorf("redis relay: publish: %w", err)
	}
	return nil
}

// Listen subscribes to the shared channel and delivers remote envelopes
// until the context is canceled. go-redis reconnects the subscription
// internally; a closed channel restarts it with a one-second backoff.
func (r *Relay) Listen(ctx context.Context, h relay.Handler) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		sub := r.client.Subscribe(ctx, r.cfg.Channel)
		r.receive(ctx, sub.Channel(), h)
		_ = sub.Close()
		if ctx.Err() != nil {
			return nil
		}
		r.log.Warn("redis relay subscription closed, restarting")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(time.Second):
		}
	}
}

func (r *Relay) receive(ctx context.Context, msgs <-chan *redis.Message, h relay.Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			var env relay.Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				r.log.Warn("redis relay bad payload", logger.Error(err))
				continue
			}
			if env.Origin == r.origin {
				continue
			}
			h(ctx, env)
		}
	}
}

// Close releases the client and its subscriptions.
func (r *Relay) Close(_ context.Context) error {
	return r.client.Close()
}
