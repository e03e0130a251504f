package broker

import "time"

// Kind discriminates data messages from control messages so delivery code
// can switch exhaustively instead of comparing reserved ids.
type Kind uint8

const (
	// KindData is an ordinary published message.
	KindData Kind = iota
	// KindPing is a keep-alive placeholder. Pings are never stored.
	KindPing
	// KindChannelDeleted is the notice broadcast once to the subscribers of
	// a channel that has just been removed.
	KindChannelDeleted
)

// Reserved wire ids carried by control messages.
const (
	PingWireID           int64 = -1
	ChannelDeletedWireID int64 = -2
)

// Message is a single entry in a channel buffer. All fields are immutable
// once the message has been appended; readers share the same instance.
type Message struct {
	// ID is strictly increasing per channel, starting at 1.
	ID int64
	// Tag is the 0-based ordinal among messages sharing the same CreatedAt
	// second. It resets to 0 whenever CreatedAt advances.
	Tag       uint32
	Channel   string
	Body      []byte
	EventID   string
	EventType string
	// CreatedAt has second resolution, matching HTTP conditional headers.
	CreatedAt time.Time
	Kind      Kind
}

// WireID returns the id visible on the wire: the stored id for data
// messages, or the reserved negative id for control messages.
func (m *Message) WireID() int64 {
	switch m.Kind {
	case KindPing:
		return PingWireID
	case KindChannelDeleted:
		return ChannelDeletedWireID
	default:
		return m.ID
	}
}

// Fixed per-entry footprints charged against the arena on top of payload
// bytes, approximating struct, map and slice bookkeeping overhead.
const (
	messageOverheadBytes = 96
	channelOverheadBytes = 256
)

// size is the footprint charged against the arena capacity.
func (m *Message) size() int64 {
	return int64(len(m.Body)+len(m.EventID)+len(m.EventType)+len(m.Channel)) + messageOverheadBytes
}

var pingMessage = &Message{Kind: KindPing}

// Ping returns the shared keep-alive control message.
func Ping() *Message { return pingMessage }
