package cursor

import (
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrymomot/streamhub/core/broker"
)

// Cursor is a client-held resumption position. The zero value means "no
// cursor": deliver nothing old, only future messages.
type Cursor struct {
	// Time and Tag form the compound position of the last message the
	// client has seen. Time has second resolution; Tag breaks ties inside
	// the second. HasTime distinguishes an explicit epoch-zero cursor
	// ("from the beginning") from no cursor at all.
	Time    time.Time
	Tag     uint32
	HasTime bool

	// LastEventID resumes after the message carrying this event id. It
	// takes priority over the (time, tag) pair.
	LastEventID string

	// Backtrack requests the last N buffered messages and only applies when
	// no other cursor component is present.
	Backtrack    uint32
	HasBacktrack bool
}

// FromRequest extracts the cursor from conditional headers: If-Modified-Since
// for the time, If-None-Match for the tag, and Last-Event-Id for the event id
// cursor. Malformed input fails open to "no cursor": an unparseable time, or
// a non-empty tag that is not an unsigned integer, drops the whole
// (time, tag) pair rather than resuming from a position the client never
// held. An absent tag alongside a valid time is tag 0.
func FromRequest(r *http.Request) Cursor {
	var c Cursor
	if v := r.Header.Get("Last-Event-Id"); v != "" {
		c.LastEventID = v
	}
	if v := r.Header.Get("If-Modified-Since"); v != "" {
		t, err := http.ParseTime(v)
		if err != nil {
			return c
		}
		tag, ok := parseTag(r.Header.Get("If-None-Match"))
		if !ok {
			return c
		}
		c.Time = t.Truncate(time.Second)
		c.HasTime = true
		c.Tag = tag
	}
	return c
}

// parseTag reads the tag from an entity-tag value, tolerating weak markers
// and quotes. An absent tag is tag 0; anything non-empty that does not parse
// as an unsigned integer is malformed.
func parseTag(etag string) (uint32, bool) {
	etag = strings.TrimPrefix(etag, "W/")
	etag = strings.Trim(etag, `"`)
	if etag == "" {
		return 0, true
	}
	tag, err := strconv.ParseUint(etag, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(tag), true
}

// Apply sets the response headers a client echoes back to resume: the time
// as Last-Modified and the tag as Etag. No-op when the cursor has no time
// component.
func (c Cursor) Apply(h http.Header) {
	if !c.HasTime {
		return
	}
	h.Set("Last-Modified", c.Time.UTC().Format(http.TimeFormat))
	h.Set("Etag", strconv.FormatUint(uint64(c.Tag), 10))
}

// ForRef returns the effective cursor for one requested channel: a
// channel-qualified backtrack suffix overrides the request-wide backtrack
// for that channel only.
func (c Cursor) ForRef(ref Ref) Cursor {
	if ref.HasBacktrack {
		c.Backtrack = ref.Backtrack
		c.HasBacktrack = true
	}
	return c
}

// Resolve returns the index in view of the first message to deliver.
// len(view) means nothing old. Priority: last-event-id, then (time, tag),
// then backtrack, then end.
func Resolve(view broker.View, c Cursor) int {
	if c.LastEventID != "" {
		// Most recent occurrence wins if the same event id was reused.
		for i := len(view) - 1; i >= 0; i-- {
			if view[i].EventID == c.LastEventID {
				return i + 1
			}
		}
		return len(view)
	}
	if c.HasTime {
		for i, m := range view {
			if m.CreatedAt.After(c.Time) || (m.CreatedAt.Equal(c.Time) && m.Tag > c.Tag) {
				return i
			}
		}
		return len(view)
	}
	if c.HasBacktrack {
		if int(c.Backtrack) >= len(view) {
			return 0
		}
		return len(view) - int(c.Backtrack)
	}
	return len(view)
}

// Advance returns the cursor to report after delivering msgs: the (time,
// tag) of the last delivered message, or the request cursor unchanged when
// nothing was delivered, so repeated empty polls are idempotent. Pings never
// advance the cursor; a channel-deleted notice does, so polling clients move
// past it.
func Advance(c Cursor, msgs []*broker.Message) Cursor {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Kind == broker.KindPing {
			continue
		}
		return Cursor{Time: msgs[i].CreatedAt, Tag: msgs[i].Tag, HasTime: true}
	}
	return c
}

// Merge interleaves per-channel catch-up slices, each already ordered, by
// increasing (time, tag). Tags are channel-local, so identical pairs across
// channels are broken by the order the channels were named in the request.
func Merge(slices []broker.View) []*broker.Message {
	switch len(slices) {
	case 0:
		return nil
	case 1:
		return slices[0]
	}
	type entry struct {
		m   *broker.Message
		ord int
	}
	var entries []entry
	for ord, sl := range slices {
		for _, m := range sl {
			entries = append(entries, entry{m: m, ord: ord})
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.m.CreatedAt.Equal(b.m.CreatedAt) {
			return a.m.CreatedAt.Before(b.m.CreatedAt)
		}
		if a.m.Tag != b.m.Tag {
			return a.m.Tag < b.m.Tag
		}
		return a.ord < b.ord
	})
	out := make([]*broker.Message, len(entries))
	for i, e := range entries {
		out[i] = e.m
	}
	return out
}
