package delivery

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dmitrymomot/streamhub/core/broker"
	"github.com/dmitrymomot/streamhub/core/cursor"
)

// serveStream runs the persistent streaming loop shared by the plain
// streaming and event-stream modes: emit header and catch-up, then stay open
// relaying new messages until disconnect, deadline or channel deletion.
func (e *Engine) serveStream(w http.ResponseWriter, r *http.Request, refs []cursor.Ref, fr framer) error {
	ses, err := e.prepare(r, refs, true)
	if err != nil {
		return err
	}
	defer e.store.Unsubscribe(ses.sub)

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return nil
	}

	h := w.Header()
	h.Set("Content-Type", fr.contentType())
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if err := fr.open(w); err != nil {
		return nil
	}
	for _, m := range ses.catchup {
		if err := fr.frame(w, m); err != nil {
			return nil
		}
	}
	e.store.NoteDelivered(len(ses.catchup))
	flusher.Flush()

	var pingC <-chan time.Time
	var pinger *clock.Ticker
	if e.cfg.PingInterval > 0 {
		pinger = e.clock.Ticker(e.cfg.PingInterval)
		defer pinger.Stop()
		pingC = pinger.C
	}
	var deadlineC <-chan time.Time
	if e.cfg.ConnectionTimeout > 0 {
		deadline := e.clock.Timer(e.cfg.ConnectionTimeout)
		defer deadline.Stop()
		deadlineC = deadline.C
	}

	for {
		select {
		case <-r.Context().Done():
			return nil

		case <-pingC:
			if err := fr.ping(w); err != nil {
				return nil
			}
			flusher.Flush()

		case <-deadlineC:
			_ = fr.footer(w)
			flusher.Flush()
			return nil

		case m := <-ses.sub.C():
			if ses.stale(m) {
				continue
			}
			if err := fr.frame(w, m); err != nil {
				return nil
			}
			e.store.NoteDelivered(1)
			flusher.Flush()
			if pinger != nil {
				pinger.Reset(e.cfg.PingInterval)
			}
			if m.Kind == broker.KindChannelDeleted {
				_ = fr.footer(w)
				flusher.Flush()
				e.log.Debug("closing stream after channel deletion",
					slog.String("channel", m.Channel),
					slog.String("subscriber", ses.sub.ID().String()))
				return nil
			}
		}
	}
}
