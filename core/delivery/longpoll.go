package delivery

import (
	"net/http"
	"time"

	"github.com/dmitrymomot/streamhub/core/broker"
	"github.com/dmitrymomot/streamhub/core/cursor"
)

// servePoll answers immediately: the catch-up set with the advanced cursor,
// or 304 with the request cursor unchanged. It never blocks and never
// registers a subscriber.
func (e *Engine) servePoll(w http.ResponseWriter, r *http.Request, refs []cursor.Ref) error {
	ses, err := e.prepare(r, refs, false)
	if err != nil {
		return err
	}
	if len(ses.catchup) == 0 {
		ses.reqCur.Apply(w.Header())
		w.WriteHeader(http.StatusNotModified)
		return nil
	}
	return e.writeBatch(w, ses.cur, ses.catchup)
}

// serveLongPoll emits the catch-up set when one exists, otherwise blocks
// until the first new message (delivered as a batch with anything that
// arrived together) or the request deadline, which answers 304.
func (e *Engine) serveLongPoll(w http.ResponseWriter, r *http.Request, refs []cursor.Ref) error {
	ses, err := e.prepare(r, refs, true)
	if err != nil {
		return err
	}
	defer e.store.Unsubscribe(ses.sub)

	if len(ses.catchup) > 0 {
		return e.writeBatch(w, ses.cur, ses.catchup)
	}

	var deadlineC <-chan time.Time
	if timeout := e.longPollDeadline(); timeout > 0 {
		deadline := e.clock.Timer(timeout)
		defer deadline.Stop()
		deadlineC = deadline.C
	}

	for {
		select {
		case <-r.Context().Done():
			return nil

		case <-deadlineC:
			cur := ses.reqCur
			if !cur.HasTime {
				// Give cursorless clients a position so the next poll
				// resumes from here instead of blocking on history again.
				cur = cursor.Cursor{Time: e.clock.Now().Truncate(time.Second), HasTime: true}
			}
			cur.Apply(w.Header())
			w.WriteHeader(http.StatusNotModified)
			return nil

		case m := <-ses.sub.C():
			if m.Kind == broker.KindPing || ses.stale(m) {
				continue
			}
			batch := []*broker.Message{m}
			batch = append(batch, ses.drain()...)
			return e.writeBatch(w, cursor.Advance(ses.reqCur, batch), batch)
		}
	}
}

// drain collects whatever else is already queued so messages published
// together leave in one response.
func (ses *session) drain() []*broker.Message {
	var more []*broker.Message
	for {
		select {
		case m := <-ses.sub.C():
			if m.Kind == broker.KindPing || ses.stale(m) {
				continue
			}
			more = append(more, m)
		default:
			return more
		}
	}
}

// longPollDeadline picks the effective deadline: the long-polling timeout
// overrides the general connection deadline for this one request; when both
// are configured the shorter wins.
func (e *Engine) longPollDeadline() time.Duration {
	lp, conn := e.cfg.LongPollTimeout, e.cfg.ConnectionTimeout
	switch {
	case lp > 0 && conn > 0:
		if lp < conn {
			return lp
		}
		return conn
	case lp > 0:
		return lp
	default:
		return conn
	}
}

// writeBatch emits a finite message set with the cursor headers the client
// echoes to resume.
func (e *Engine) writeBatch(w http.ResponseWriter, cur cursor.Cursor, msgs []*broker.Message) error {
	fr := plainFramer{cfg: e.cfg, tpl: e.tpl}
	h := w.Header()
	h.Set("Content-Type", fr.contentType())
	h.Set("Cache-Control", "no-cache")
	cur.Apply(h)
	w.WriteHeader(http.StatusOK)
	for _, m := range msgs {
		if err := fr.frame(w, m); err != nil {
			return nil
		}
	}
	e.store.NoteDelivered(len(msgs))
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
	return nil
}
