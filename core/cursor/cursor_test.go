package cursor_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/streamhub/core/broker"
	"github.com/dmitrymomot/streamhub/core/cursor"
)

var base = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

// msg builds a stored data message with second-resolution timestamps.
func msg(id int64, at time.Time, tag uint32, eventID string) *broker.Message {
	return &broker.Message{
		ID:        id,
		Tag:       tag,
		Channel:   "news",
		Body:      []byte("m"),
		EventID:   eventID,
		CreatedAt: at.Truncate(time.Second),
		Kind:      broker.KindData,
	}
}

func ids(msgs []*broker.Message) []int64 {
	out := make([]int64, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func TestFromRequest(t *testing.T) {
	t.Parallel()

	t.Run("time and tag", func(t *testing.T) {
		t.Parallel()
		r := httptest.NewRequest(http.MethodGet, "/sub/news", nil)
		r.Header.Set("If-Modified-Since", base.Format(http.TimeFormat))
		r.Header.Set("If-None-Match", "3")
		c := cursor.FromRequest(r)
		assert.True(t, c.HasTime)
		assert.True(t, c.Time.Equal(base))
		assert.Equal(t, uint32(3), c.Tag)
	})

	t.Run("weak and quoted etag", func(t *testing.T) {
		t.Parallel()
		r := httptest.NewRequest(http.MethodGet, "/sub/news", nil)
		r.Header.Set("If-Modified-Since", base.Format(http.TimeFormat))
		r.Header.Set("If-None-Match", `W/"7"`)
		c := cursor.FromRequest(r)
		assert.Equal(t, uint32(7), c.Tag)
	})

	t.Run("last event id", func(t *testing.T) {
		t.Parallel()
		r := httptest.NewRequest(http.MethodGet, "/sub/news", nil)
		r.Header.Set("Last-Event-Id", "event 2")
		c := cursor.FromRequest(r)
		assert.Equal(t, "event 2", c.LastEventID)
		assert.False(t, c.HasTime)
	})

	t.Run("malformed time fails open", func(t *testing.T) {
		t.Parallel()
		r := httptest.NewRequest(http.MethodGet, "/sub/news", nil)
		r.Header.Set("If-Modified-Since", "not a date")
		r.Header.Set("If-None-Match", "3")
		c := cursor.FromRequest(r)
		assert.False(t, c.HasTime, "malformed headers mean no cursor, not an error")
		assert.Equal(t, uint32(0), c.Tag)
	})

	t.Run("malformed etag drops the compound cursor", func(t *testing.T) {
		t.Parallel()
		r := httptest.NewRequest(http.MethodGet, "/sub/news", nil)
		r.Header.Set("If-Modified-Since", base.Format(http.TimeFormat))
		r.Header.Set("If-None-Match", "banana")
		c := cursor.FromRequest(r)
		assert.False(t, c.HasTime,
			"a garbage tag invalidates the pair; no cursor means nothing old")
		assert.Equal(t, uint32(0), c.Tag)
	})

	t.Run("absent etag means tag zero", func(t *testing.T) {
		t.Parallel()
		r := httptest.NewRequest(http.MethodGet, "/sub/news", nil)
		r.Header.Set("If-Modified-Since", base.Format(http.TimeFormat))
		c := cursor.FromRequest(r)
		assert.True(t, c.HasTime)
		assert.Equal(t, uint32(0), c.Tag)
	})

	t.Run("no headers means no cursor", func(t *testing.T) {
		t.Parallel()
		r := httptest.NewRequest(http.MethodGet, "/sub/news", nil)
		c := cursor.FromRequest(r)
		assert.Equal(t, cursor.Cursor{}, c)
	})
}

func TestResolve_TimeAndTag(t *testing.T) {
	t.Parallel()

	// Four messages: two in the first second (tags 0, 1), two a second later.
	view := broker.View{
		msg(1, base, 0, ""),
		msg(2, base, 1, ""),
		msg(3, base.Add(time.Second), 0, ""),
		msg(4, base.Add(time.Second), 1, ""),
	}

	// A client that saw (base, tag 1) resumes at id 3.
	start := cursor.Resolve(view, cursor.Cursor{Time: base, Tag: 1, HasTime: true})
	assert.Equal(t, []int64{3, 4}, ids(view[start:]))

	// Same second, lower tag: the second message of that second is due.
	start = cursor.Resolve(view, cursor.Cursor{Time: base, Tag: 0, HasTime: true})
	assert.Equal(t, []int64{2, 3, 4}, ids(view[start:]))

	// Epoch-zero pair replays everything.
	start = cursor.Resolve(view, cursor.Cursor{Time: time.Unix(0, 0), HasTime: true})
	assert.Equal(t, 0, start)

	// Cursor past the end delivers nothing.
	start = cursor.Resolve(view, cursor.Cursor{Time: base.Add(time.Hour), HasTime: true})
	assert.Equal(t, len(view), start)
}

func TestResolve_LastEventID(t *testing.T) {
	t.Parallel()

	view := broker.View{
		msg(1, base, 0, "event 1"),
		msg(2, base, 1, "event 2"),
		msg(3, base.Add(time.Second), 0, ""),
		msg(4, base.Add(2*time.Second), 0, "event 4"),
	}

	start := cursor.Resolve(view, cursor.Cursor{LastEventID: "event 2"})
	assert.Equal(t, []int64{3, 4}, ids(view[start:]))

	// An unknown event id resolves to the end, not an error.
	start = cursor.Resolve(view, cursor.Cursor{LastEventID: "nope"})
	assert.Equal(t, len(view), start)

	// The event id cursor wins over an older (time, tag) pair.
	start = cursor.Resolve(view, cursor.Cursor{
		LastEventID: "event 4",
		Time:        base,
		HasTime:     true,
	})
	assert.Equal(t, len(view), start)
}

func TestResolve_LastEventID_ReusedIDTakesLatest(t *testing.T) {
	t.Parallel()

	view := broker.View{
		msg(1, base, 0, "dup"),
		msg(2, base, 1, ""),
		msg(3, base.Add(time.Second), 0, "dup"),
		msg(4, base.Add(2*time.Second), 0, ""),
	}
	start := cursor.Resolve(view, cursor.Cursor{LastEventID: "dup"})
	assert.Equal(t, []int64{4}, ids(view[start:]))
}

func TestResolve_Backtrack(t *testing.T) {
	t.Parallel()

	// Ten published, only the last four stored.
	view := broker.View{
		msg(7, base, 0, ""),
		msg(8, base, 1, ""),
		msg(9, base.Add(time.Second), 0, ""),
		msg(10, base.Add(time.Second), 1, ""),
	}

	start := cursor.Resolve(view, cursor.Cursor{Backtrack: 2, HasBacktrack: true})
	assert.Equal(t, []int64{9, 10}, ids(view[start:]))

	// Backtrack past the stored range clamps to the whole buffer.
	start = cursor.Resolve(view, cursor.Cursor{Backtrack: 10, HasBacktrack: true})
	assert.Equal(t, []int64{7, 8, 9, 10}, ids(view[start:]))

	// Backtrack zero asks for nothing old.
	start = cursor.Resolve(view, cursor.Cursor{Backtrack: 0, HasBacktrack: true})
	assert.Equal(t, len(view), start)
}

func TestResolve_NoCursorMeansEnd(t *testing.T) {
	t.Parallel()

	view := broker.View{msg(1, base, 0, ""), msg(2, base, 1, "")}
	assert.Equal(t, len(view), cursor.Resolve(view, cursor.Cursor{}))
}

func TestAdvance(t *testing.T) {
	t.Parallel()

	req := cursor.Cursor{Time: base, Tag: 1, HasTime: true}

	t.Run("moves to last delivered", func(t *testing.T) {
		t.Parallel()
		msgs := []*broker.Message{
			msg(3, base.Add(time.Second), 0, ""),
			msg(4, base.Add(time.Second), 1, ""),
		}
		c := cursor.Advance(req, msgs)
		assert.True(t, c.Time.Equal(base.Add(time.Second)))
		assert.Equal(t, uint32(1), c.Tag)
	})

	t.Run("empty delivery keeps request cursor", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, req, cursor.Advance(req, nil), "repeated empty polls are idempotent")
	})

	t.Run("pings never advance", func(t *testing.T) {
		t.Parallel()
		c := cursor.Advance(req, []*broker.Message{broker.Ping()})
		assert.Equal(t, req, c)
	})

	t.Run("deleted notice advances", func(t *testing.T) {
		t.Parallel()
		notice := &broker.Message{
			ID:        5,
			Channel:   "news",
			CreatedAt: base.Add(3 * time.Second),
			Kind:      broker.KindChannelDeleted,
		}
		c := cursor.Advance(req, []*broker.Message{notice})
		assert.True(t, c.Time.Equal(base.Add(3*time.Second)),
			"polling clients must move past the deletion")
	})
}

func TestApply(t *testing.T) {
	t.Parallel()

	h := make(http.Header)
	cursor.Cursor{Time: base, Tag: 2, HasTime: true}.Apply(h)
	assert.Equal(t, base.UTC().Format(http.TimeFormat), h.Get("Last-Modified"))
	assert.Equal(t, "2", h.Get("Etag"))

	// Round trip: the echoed headers resolve back to the same position.
	r := httptest.NewRequest(http.MethodGet, "/sub/news", nil)
	r.Header.Set("If-Modified-Since", h.Get("Last-Modified"))
	r.Header.Set("If-None-Match", h.Get("Etag"))
	c := cursor.FromRequest(r)
	assert.True(t, c.Time.Equal(base))
	assert.Equal(t, uint32(2), c.Tag)

	empty := make(http.Header)
	cursor.Cursor{}.Apply(empty)
	assert.Empty(t, empty, "no time component, no headers")
}

func TestMerge(t *testing.T) {
	t.Parallel()

	a := broker.View{
		msg(1, base, 0, ""),
		msg(2, base.Add(2*time.Second), 0, ""),
	}
	b := broker.View{
		msg(1, base.Add(time.Second), 0, ""),
		msg(2, base.Add(2*time.Second), 0, ""),
	}
	for _, m := range b {
		m.Channel = "sports"
	}

	merged := cursor.Merge([]broker.View{a, b})
	require.Len(t, merged, 4)
	assert.Equal(t, "news", merged[0].Channel)
	assert.Equal(t, "sports", merged[1].Channel)
	// Identical (time, tag) across channels: request order breaks the tie.
	assert.Equal(t, "news", merged[2].Channel)
	assert.Equal(t, "sports", merged[3].Channel)
}

func TestForRef(t *testing.T) {
	t.Parallel()

	c := cursor.Cursor{Backtrack: 2, HasBacktrack: true}
	eff := c.ForRef(cursor.Ref{Name: "news", Backtrack: 5, HasBacktrack: true})
	assert.Equal(t, uint32(5), eff.Backtrack, "channel-qualified backtrack wins")

	eff = c.ForRef(cursor.Ref{Name: "news"})
	assert.Equal(t, uint32(2), eff.Backtrack)
}
