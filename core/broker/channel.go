package broker

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Channel is a named topic: a bounded message buffer plus the set of
// subscribers currently attached to it. Channels are created on first
// publish (or first subscribe when permitted) and removed by the sweeper or
// by explicit deletion.
type Channel struct {
	name      string
	broadcast bool

	mu   sync.Mutex
	buf  buffer
	subs map[*Subscriber]struct{}

	// Tail state for id and tag assignment, guarded by mu. lastID survives
	// evictions so ids stay contiguous no matter how much of the buffer is
	// gone.
	lastID     int64
	lastSecond int64
	lastTag    uint32

	createdAt    time.Time
	lastActivity time.Time

	published atomic.Int64
}

func (c *Channel) Name() string { return c.name }

// IsBroadcast reports whether the channel name matched the configured
// broadcast prefix at creation time. Broadcast channels are counted under a
// separate per-request subscription quota.
func (c *Channel) IsBroadcast() bool { return c.broadcast }

// Subscriber is a live attachment to one or more channels. Messages are
// delivered through a buffered channel; when the buffer is full the message
// is dropped for that one subscriber rather than blocking the publisher.
type Subscriber struct {
	id       uuid.UUID
	channels []string
	ch       chan *Message
	closed   atomic.Bool
}

// C returns the delivery channel. It is never closed; consumers stop via
// their own context and call Store.Unsubscribe.
func (s *Subscriber) C() <-chan *Message { return s.ch }

// ID identifies the subscriber in logs.
func (s *Subscriber) ID() uuid.UUID { return s.id }

// Channels returns the channel names the subscriber was attached to, in
// request order.
func (s *Subscriber) Channels() []string { return s.channels }

// deliver attempts a non-blocking send and reports whether the message was
// accepted. Delivery after Unsubscribe is a no-op.
func (s *Subscriber) deliver(m *Message) bool {
	if s.closed.Load() {
		return false
	}
	select {
	case s.ch <- m:
		return true
	default:
		return false
	}
}
