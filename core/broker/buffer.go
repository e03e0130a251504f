package broker

import "time"

// View is a read-only snapshot of a channel buffer, ordered oldest first.
// The slice is private to the caller; the messages it points to are shared
// and must not be mutated.
type View []*Message

// buffer is the bounded per-channel message sequence. All access is guarded
// by the owning channel's mutex.
type buffer struct {
	msgs []*Message
}

// append adds m and enforces the count bound, returning any messages evicted
// from the front.
func (b *buffer) append(m *Message, maxCount int) (evicted []*Message) {
	b.msgs = append(b.msgs, m)
	if maxCount > 0 && len(b.msgs) > maxCount {
		n := len(b.msgs) - maxCount
		evicted = b.msgs[:n:n]
		b.msgs = append([]*Message(nil), b.msgs[n:]...)
	}
	return evicted
}

// expire drops messages created before cutoff. Count pressure is handled on
// append; retention only fires during sweeps.
func (b *buffer) expire(cutoff time.Time) (evicted []*Message) {
	i := 0
	for i < len(b.msgs) && b.msgs[i].CreatedAt.Before(cutoff) {
		i++
	}
	if i == 0 {
		return nil
	}
	evicted = b.msgs[:i:i]
	b.msgs = append([]*Message(nil), b.msgs[i:]...)
	return evicted
}

// evictOldest removes and returns the single oldest message, or nil when the
// buffer is empty. Used by the global admission-pressure pass.
func (b *buffer) evictOldest() *Message {
	if len(b.msgs) == 0 {
		return nil
	}
	m := b.msgs[0]
	b.msgs = append([]*Message(nil), b.msgs[1:]...)
	return m
}

func (b *buffer) len() int { return len(b.msgs) }

func (b *buffer) oldest() *Message {
	if len(b.msgs) == 0 {
		return nil
	}
	return b.msgs[0]
}

// snapshot copies the slice header so readers are isolated from later
// appends and evictions.
func (b *buffer) snapshot() View {
	if len(b.msgs) == 0 {
		return nil
	}
	return append(View(nil), b.msgs...)
}

// drop empties the buffer, returning the total footprint released.
func (b *buffer) drop() (freed int64, count int) {
	for _, m := range b.msgs {
		freed += m.size()
	}
	count = len(b.msgs)
	b.msgs = nil
	return freed, count
}
