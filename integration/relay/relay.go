// Package relay mirrors locally published messages to the other execution
// units of a streamhub deployment. Each instance forwards its own publishes
// through a shared transport and re-admits what the others send, so a
// subscriber connected anywhere sees every publish. Forwarded messages are
// assigned ids locally, keeping per-channel id contiguity per instance and
// matching the broker's best-effort, at-least-once contract.
//
// Two transports are provided: Postgres LISTEN/NOTIFY (relay/pg) and Redis
// pub/sub (relay/redis).
package relay

import "context"

// Envelope is the wire format carried between instances. Body travels
// base64-encoded inside JSON.
type Envelope struct {
	Origin    string `json:"origin"`
	Channel   string `json:"channel"`
	Body      []byte `json:"body"`
	EventID   string `json:"event_id,omitempty"`
	EventType string `json:"event_type,omitempty"`
}

// Handler consumes envelopes received from other instances. Envelopes
// originated by this instance are filtered out before the handler runs.
type Handler func(ctx context.Context, env Envelope)

// Relay is the cross-instance transport contract.
type Relay interface {
	// Publish forwards a locally published message to the other instances.
	Publish(ctx context.Context, env Envelope) error

	// Listen blocks, delivering remote envelopes to h until the context is
	// canceled. Transport failures are retried with backoff, never
	// surfaced; a relay outage degrades to single-instance operation.
	Listen(ctx context.Context, h Handler) error

	// Close releases the transport connections.
	Close(ctx context.Context) error
}
