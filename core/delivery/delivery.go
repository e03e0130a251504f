package delivery

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"

	"github.com/dmitrymomot/streamhub/core/broker"
	"github.com/dmitrymomot/streamhub/core/cursor"
	"github.com/dmitrymomot/streamhub/core/format"
)

// Mode selects the transport-specific delivery semantics.
type Mode uint8

const (
	ModeStreaming Mode = iota
	ModeLongPolling
	ModePolling
	ModeEventSource
	ModeWebSocket
)

func (m Mode) String() string {
	switch m {
	case ModeStreaming:
		return "streaming"
	case ModeLongPolling:
		return "long-polling"
	case ModePolling:
		return "polling"
	case ModeEventSource:
		return "eventsource"
	case ModeWebSocket:
		return "websocket"
	default:
		return "unknown"
	}
}

// Response renders one subscribe request, matching the shape handlers wrap
// with their error mapping.
type Response func(w http.ResponseWriter, r *http.Request) error

// Engine implements the shared skeleton all modes run on: cursor resolution,
// catch-up merge, and the await loop.
type Engine struct {
	store    *broker.Store
	cfg      Config
	tpl      *format.Template
	log      *slog.Logger
	clock    clock.Clock
	upgrader *websocket.Upgrader
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger for delivery errors and disconnects.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.log = logger
		}
	}
}

// WithClock injects the clock driving ping and deadline timers.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

// WithCheckOrigin sets the websocket origin check. The default accepts any
// origin, matching the other modes which carry no origin restriction.
func WithCheckOrigin(fn func(r *http.Request) bool) Option {
	return func(e *Engine) {
		e.upgrader.CheckOrigin = fn
	}
}

// New creates an Engine over the given store.
func New(store *broker.Store, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		store: store,
		cfg:   cfg,
		tpl:   format.New(cfg.MessageTemplate),
		log:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		clock: clock.New(),
		upgrader: &websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Serve returns the response renderer for one subscribe request.
func (e *Engine) Serve(mode Mode, refs []cursor.Ref) Response {
	return func(w http.ResponseWriter, r *http.Request) error {
		switch mode {
		case ModePolling:
			return e.servePoll(w, r, refs)
		case ModeLongPolling:
			return e.serveLongPoll(w, r, refs)
		case ModeStreaming:
			return e.serveStream(w, r, refs, plainFramer{cfg: e.cfg, tpl: e.tpl})
		case ModeEventSource:
			return e.serveStream(w, r, refs, eventSourceFramer{cfg: e.cfg, tpl: e.tpl})
		case ModeWebSocket:
			return e.serveWebSocket(w, r, refs)
		default:
			http.Error(w, "unsupported delivery mode", http.StatusNotImplemented)
			return nil
		}
	}
}

// session is the per-request delivery state shared by all modes.
type session struct {
	sub     *broker.Subscriber
	catchup []*broker.Message
	reqCur  cursor.Cursor
	cur     cursor.Cursor // advanced past the catch-up set
	lastID  map[string]int64
}

// prepare resolves the request cursor against every requested channel and
// computes the merged catch-up set. Blocking modes register the subscriber
// first so nothing published around connect time is lost; the snapshot
// overlap is deduplicated by id in the live phase.
func (e *Engine) prepare(r *http.Request, refs []cursor.Ref, blocking bool) (*session, error) {
	ses := &session{
		reqCur: cursor.FromRequest(r),
		lastID: make(map[string]int64, len(refs)),
	}
	names := cursor.Names(refs)
	if blocking {
		sub, err := e.store.Subscribe(names)
		if err != nil {
			return nil, err
		}
		ses.sub = sub
	}
	views, err := e.store.Views(names)
	if err != nil {
		e.store.Unsubscribe(ses.sub)
		return nil, err
	}
	slices := make([]broker.View, len(refs))
	for i, ref := range refs {
		view := views[i]
		if n := len(view); n > 0 {
			ses.lastID[ref.Name] = view[n-1].ID
		}
		start := cursor.Resolve(view, ses.reqCur.ForRef(ref))
		slices[i] = view[start:]
	}
	ses.catchup = cursor.Merge(slices)
	ses.cur = cursor.Advance(ses.reqCur, ses.catchup)
	return ses, nil
}

// stale reports whether a live message was already covered by the catch-up
// snapshot for its channel.
func (ses *session) stale(m *broker.Message) bool {
	return m.Kind == broker.KindData && m.ID <= ses.lastID[m.Channel]
}
