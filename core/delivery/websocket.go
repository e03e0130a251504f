package delivery

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dmitrymomot/streamhub/core/broker"
	"github.com/dmitrymomot/streamhub/core/cursor"
)

const wsControlWriteWait = 10 * time.Second

// serveWebSocket upgrades the connection and runs the streaming loop over
// websocket frames. Payload length encoding (7-bit inline, 16-bit and 64-bit
// extended) and the ping/pong/close control frames follow RFC 6455 via
// gorilla. Quotas are checked before the upgrade so a rejected subscribe
// never creates adapter state.
func (e *Engine) serveWebSocket(w http.ResponseWriter, r *http.Request, refs []cursor.Ref) error {
	ses, err := e.prepare(r, refs, true)
	if err != nil {
		return err
	}
	defer e.store.Unsubscribe(ses.sub)

	conn, err := e.upgrader.Upgrade(w, r, nil)
	if err != nil {
		e.log.Debug("websocket upgrade failed", slog.Any("error", err))
		return nil
	}
	defer conn.Close()

	// Reader goroutine: consumes pongs and client close frames, and flags
	// the disconnect. Client data frames are read and discarded.
	disconnected := make(chan struct{})
	go func() {
		defer close(disconnected)
		conn.SetPongHandler(func(string) error { return nil })
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for _, m := range ses.catchup {
		if err := conn.WriteMessage(websocket.TextMessage, e.tpl.Render(m)); err != nil {
			return nil
		}
	}
	e.store.NoteDelivered(len(ses.catchup))

	var pingC <-chan time.Time
	if e.cfg.PingInterval > 0 {
		pinger := e.clock.Ticker(e.cfg.PingInterval)
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
		case <-disconnected:
			return nil

		case <-r.Context().Done():
			return nil

		case <-pingC:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsControlWriteWait)); err != nil {
				return nil
			}

		case <-deadlineC:
			e.wsClose(conn, websocket.CloseNormalClosure)
			return nil

		case m := <-ses.sub.C():
			if ses.stale(m) {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, e.tpl.Render(m)); err != nil {
				return nil
			}
			e.store.NoteDelivered(1)
			if m.Kind == broker.KindChannelDeleted {
				e.wsClose(conn, websocket.CloseGoingAway)
				return nil
			}
		}
	}
}

func (e *Engine) wsClose(conn *websocket.Conn, code int) {
	msg := websocket.FormatCloseMessage(code, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsControlWriteWait))
}
