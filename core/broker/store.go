package broker

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
)

// Store is the shared channel map. All connection goroutines operate against
// one Store; an optional mirror hook forwards locally published messages to
// other execution units (see integration/relay).
type Store struct {
	mu       sync.RWMutex
	channels map[string]*Channel
	cfg      Config // guarded by mu so Reload is race-free

	arena  arena
	clock  clock.Clock
	log    *slog.Logger
	mirror func(context.Context, *Message)

	instance  uuid.UUID
	startedAt time.Time

	publishedTotal atomic.Int64
	deliveredTotal atomic.Int64
	evictedTotal   atomic.Int64
	droppedTotal   atomic.Int64
	subscribers    atomic.Int64
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger for store operations.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.log = logger
		}
	}
}

// WithClock injects the clock used for message timestamps, retention and
// idle accounting. Tests use a mock clock to pin the wall-clock second.
func WithClock(c clock.Clock) Option {
	return func(s *Store) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithMirror registers a hook invoked after every successful locally
// originated publish. The hook must not block; relays forward the message to
// other instances from here.
func WithMirror(fn func(context.Context, *Message)) Option {
	return func(s *Store) {
		s.mirror = fn
	}
}

// New creates a Store with the given configuration.
func New(cfg Config, opts ...Option) *Store {
	cfg.normalize()
	s := &Store{
		channels: make(map[string]*Channel),
		cfg:      cfg,
		clock:    clock.New(),
		log:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		instance: uuid.New(),
	}
	s.arena.capacity = cfg.ArenaCapacity
	for _, opt := range opts {
		opt(s)
	}
	s.startedAt = s.clock.Now()
	return s
}

// Instance identifies this execution unit in stats and relay envelopes.
func (s *Store) Instance() uuid.UUID { return s.instance }

func (s *Store) config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Publish appends a message to the named channel, creating the channel when
// absent, and notifies current subscribers. It returns the stored message
// and the channel's buffer length after the append. The only failure modes
// are ErrOutOfMemory (retryable after the next sweep) and ErrQuotaExceeded
// when the channel count limit blocks creation.
func (s *Store) Publish(ctx context.Context, channel string, body []byte, eventID, eventType string) (*Message, int, error) {
	m, stored, err := s.publish(channel, body, eventID, eventType)
	if err != nil {
		return nil, 0, err
	}
	if s.mirror != nil {
		s.mirror(ctx, m)
	}
	return m, stored, nil
}

// PublishForwarded stores a publish mirrored from another execution unit
// without re-mirroring it. The message is re-admitted locally and assigned
// local ids, preserving per-channel contiguity on this instance.
func (s *Store) PublishForwarded(channel string, body []byte, eventID, eventType string) (*Message, int, error) {
	return s.publish(channel, body, eventID, eventType)
}

func (s *Store) publish(channel string, body []byte, eventID, eventType string) (*Message, int, error) {
	ch, err := s.channel(channel, true)
	if err != nil {
		return nil, 0, err
	}
	cfg := s.config()

	m := &Message{
		Channel:   ch.name,
		Body:      body,
		EventID:   eventID,
		EventType: eventType,
		Kind:      KindData,
	}

	// Admission happens before the channel lock is taken: the global
	// eviction pass locks other channels and must not run under this one.
	if cfg.StoreMessages {
		if err := s.admit(m.size()); err != nil {
			return nil, 0, err
		}
	}

	ch.mu.Lock()
	now := s.clock.Now().Truncate(time.Second)
	sec := now.Unix()
	m.CreatedAt = now
	if sec == ch.lastSecond && ch.lastID > 0 {
		m.Tag = ch.lastTag + 1
	}
	m.ID = ch.lastID + 1
	ch.lastID = m.ID
	ch.lastSecond = sec
	ch.lastTag = m.Tag
	ch.lastActivity = now
	ch.published.Add(1)
	s.publishedTotal.Add(1)

	var stored int
	var evicted []*Message
	if cfg.StoreMessages {
		evicted = ch.buf.append(m, cfg.MaxMessages)
		stored = ch.buf.len()
	}
	subs := make([]*Subscriber, 0, len(ch.subs))
	for sub := range ch.subs {
		subs = append(subs, sub)
	}
	ch.mu.Unlock()

	for _, old := range evicted {
		s.arena.release(old.size())
		s.evictedTotal.Add(1)
	}

	// Fire-and-forget relative to the publisher: a slow subscriber drops
	// the message instead of delaying the response. Enqueueing is not
	// delivery; the adapters report via NoteDelivered once the frame is on
	// the wire.
	for _, sub := range subs {
		if !sub.deliver(m) {
			s.droppedTotal.Add(1)
		}
	}
	return m, stored, nil
}

// admit charges extra bytes against the arena, attempting a global
// oldest-first eviction pass before giving up.
func (s *Store) admit(extra int64) error {
	if s.arena.reserve(extra) {
		return nil
	}
	s.evictGlobalOldest(extra)
	if s.arena.reserve(extra) {
		return nil
	}
	return ErrOutOfMemory
}

// evictGlobalOldest frees at least need bytes by repeatedly evicting the
// globally oldest stored message, across all channels.
func (s *Store) evictGlobalOldest(need int64) {
	var freed int64
	for freed < need {
		s.mu.RLock()
		chans := make([]*Channel, 0, len(s.channels))
		for _, ch := range s.channels {
			chans = append(chans, ch)
		}
		s.mu.RUnlock()

		var target *Channel
		var oldestAt time.Time
		for _, ch := range chans {
			ch.mu.Lock()
			m := ch.buf.oldest()
			ch.mu.Unlock()
			if m != nil && (target == nil || m.CreatedAt.Before(oldestAt)) {
				target = ch
				oldestAt = m.CreatedAt
			}
		}
		if target == nil {
			return
		}
		target.mu.Lock()
		m := target.buf.evictOldest()
		target.mu.Unlock()
		if m == nil {
			continue
		}
		s.arena.release(m.size())
		s.evictedTotal.Add(1)
		freed += m.size()
	}
}

// channel returns the named channel, creating it when create is true. The
// double-checked locking keeps the common lookup on the read lock.
func (s *Store) channel(name string, create bool) (*Channel, error) {
	s.mu.RLock()
	ch := s.channels[name]
	s.mu.RUnlock()
	if ch != nil {
		return ch, nil
	}
	if !create {
		return nil, ErrChannelNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if ch := s.channels[name]; ch != nil {
		return ch, nil
	}
	if s.cfg.MaxChannels > 0 && len(s.channels) >= s.cfg.MaxChannels {
		return nil, ErrQuotaExceeded
	}
	if !s.arena.reserve(channelOverheadBytes) {
		return nil, ErrOutOfMemory
	}
	now := s.clock.Now()
	ch = &Channel{
		name:         name,
		broadcast:    s.cfg.BroadcastChannelPrefix != "" && strings.HasPrefix(name, s.cfg.BroadcastChannelPrefix),
		subs:         make(map[*Subscriber]struct{}),
		createdAt:    now,
		lastActivity: now,
	}
	s.channels[name] = ch
	return ch, nil
}

// DeleteChannel broadcasts a channel-deleted notice to current subscribers
// and removes the channel. It reports whether the channel existed. The
// notice is best-effort: a subscriber that disconnects before delivery
// simply never sees it.
func (s *Store) DeleteChannel(name string) bool {
	s.mu.Lock()
	ch := s.channels[name]
	if ch == nil {
		s.mu.Unlock()
		return false
	}
	delete(s.channels, name)
	s.mu.Unlock()

	ch.mu.Lock()
	now := s.clock.Now().Truncate(time.Second)
	notice := &Message{
		Channel:   ch.name,
		CreatedAt: now,
		Kind:      KindChannelDeleted,
		ID:        ch.lastID + 1,
	}
	if now.Unix() == ch.lastSecond && ch.lastID > 0 {
		notice.Tag = ch.lastTag + 1
	}
	freed, dropped := ch.buf.drop()
	subs := make([]*Subscriber, 0, len(ch.subs))
	for sub := range ch.subs {
		subs = append(subs, sub)
	}
	ch.subs = make(map[*Subscriber]struct{})
	ch.mu.Unlock()

	s.arena.release(freed + channelOverheadBytes)
	s.evictedTotal.Add(int64(dropped))
	s.subscribers.Add(int64(-len(subs)))

	for _, sub := range subs {
		if !sub.deliver(notice) {
			s.droppedTotal.Add(1)
		}
	}
	s.log.Info("channel deleted",
		slog.String("channel", name),
		slog.Int("subscribers_notified", len(subs)),
		slog.Int("messages_dropped", dropped))
	return true
}

// Subscribe attaches a new subscriber to the named channels, creating
// missing channels when permitted. Quota violations are detected before any
// registration survives, so a rejected subscribe leaves no partial state.
func (s *Store) Subscribe(names []string) (*Subscriber, error) {
	cfg := s.config()
	if cfg.MaxChannelsPerRequest > 0 && len(names) > cfg.MaxChannelsPerRequest {
		return nil, ErrQuotaExceeded
	}

	chans := make([]*Channel, 0, len(names))
	broadcastCount := 0
	for _, name := range names {
		ch, err := s.channel(name, cfg.CreateOnSubscribe)
		if err != nil {
			return nil, err
		}
		if ch.IsBroadcast() {
			broadcastCount++
		}
		chans = append(chans, ch)
	}
	if cfg.MaxBroadcastPerRequest > 0 && broadcastCount > cfg.MaxBroadcastPerRequest {
		return nil, ErrQuotaExceeded
	}

	sub := &Subscriber{
		id:       uuid.New(),
		channels: append([]string(nil), names...),
		ch:       make(chan *Message, cfg.SubscriberBuffer),
	}
	now := s.clock.Now()
	for i, ch := range chans {
		ch.mu.Lock()
		if cfg.MaxSubscribersPerChannel > 0 && len(ch.subs) >= cfg.MaxSubscribersPerChannel {
			ch.mu.Unlock()
			s.detach(sub, chans[:i])
			return nil, ErrQuotaExceeded
		}
		ch.subs[sub] = struct{}{}
		ch.lastActivity = now
		ch.mu.Unlock()
		s.subscribers.Add(1)
	}
	return sub, nil
}

// Unsubscribe detaches the subscriber from every channel it watched and
// stops further delivery. It is idempotent.
func (s *Store) Unsubscribe(sub *Subscriber) {
	if sub == nil || !sub.closed.CompareAndSwap(false, true) {
		return
	}
	now := s.clock.Now()
	for _, name := range sub.channels {
		s.mu.RLock()
		ch := s.channels[name]
		s.mu.RUnlock()
		if ch == nil {
			continue
		}
		ch.mu.Lock()
		if _, ok := ch.subs[sub]; ok {
			delete(ch.subs, sub)
			ch.lastActivity = now
			s.subscribers.Add(-1)
		}
		ch.mu.Unlock()
	}
}

func (s *Store) detach(sub *Subscriber, chans []*Channel) {
	for _, ch := range chans {
		ch.mu.Lock()
		if _, ok := ch.subs[sub]; ok {
			delete(ch.subs, sub)
			s.subscribers.Add(-1)
		}
		ch.mu.Unlock()
	}
}

// Snapshot returns a read-only view of the named channel's buffer. The
// second return value reports whether the channel exists.
func (s *Store) Snapshot(name string) (View, bool) {
	s.mu.RLock()
	ch := s.channels[name]
	s.mu.RUnlock()
	if ch == nil {
		return nil, false
	}
	ch.mu.Lock()
	v := ch.buf.snapshot()
	ch.mu.Unlock()
	return v, true
}

// Views resolves buffer views for a set of channels, creating missing
// channels when subscriber-side creation is permitted. Used by the
// non-blocking polling path, which never registers a subscriber.
func (s *Store) Views(names []string) ([]View, error) {
	cfg := s.config()
	views := make([]View, 0, len(names))
	for _, name := range names {
		ch, err := s.channel(name, cfg.CreateOnSubscribe)
		if err != nil {
			return nil, err
		}
		ch.mu.Lock()
		views = append(views, ch.buf.snapshot())
		ch.mu.Unlock()
	}
	return views, nil
}

// NoteDelivered adds n to the delivered-message total. Delivery adapters
// call it for every message they write to the wire, catch-up and live
// alike; it is the single accounting point, so a message enqueued into a
// subscriber queue but never written does not count.
func (s *Store) NoteDelivered(n int) {
	if n > 0 {
		s.deliveredTotal.Add(int64(n))
	}
}

// Sweep performs one lifecycle pass: retention-expired messages are dropped
// and channels idle past the configured threshold are removed. It returns
// the number of expired messages and removed channels.
func (s *Store) Sweep() (expired, removed int) {
	cfg := s.config()
	now := s.clock.Now()

	s.mu.RLock()
	chans := make([]*Channel, 0, len(s.channels))
	for _, ch := range s.channels {
		chans = append(chans, ch)
	}
	s.mu.RUnlock()

	var idle []*Channel
	for _, ch := range chans {
		ch.mu.Lock()
		if cfg.MessageRetention > 0 {
			evicted := ch.buf.expire(now.Add(-cfg.MessageRetention))
			for _, m := range evicted {
				s.arena.release(m.size())
			}
			s.evictedTotal.Add(int64(len(evicted)))
			expired += len(evicted)
		}
		if cfg.ChannelIdleTimeout > 0 &&
			ch.buf.len() == 0 && len(ch.subs) == 0 &&
			now.Sub(ch.lastActivity) >= cfg.ChannelIdleTimeout {
			idle = append(idle, ch)
		}
		ch.mu.Unlock()
	}

	for _, ch := range idle {
		if s.removeIdle(ch, now, cfg) {
			removed++
		}
	}
	return expired, removed
}

// removeIdle deletes a channel that was observed idle, rechecking under both
// locks because a publish or subscribe may have raced the sweep.
func (s *Store) removeIdle(ch *Channel, now time.Time, cfg Config) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.channels[ch.name] != ch {
		return false
	}
	ch.mu.Lock()
	stillIdle := ch.buf.len() == 0 && len(ch.subs) == 0 &&
		now.Sub(ch.lastActivity) >= cfg.ChannelIdleTimeout
	ch.mu.Unlock()
	if !stillIdle {
		return false
	}
	delete(s.channels, ch.name)
	s.arena.release(channelOverheadBytes)
	return true
}

// Reload applies a new configuration. Every field takes effect immediately
// except the arena capacity, which cannot change while the arena holds live
// data; such a resize is rejected and logged, and the previous capacity
// stays in force. Reload never fails.
func (s *Store) Reload(cfg Config) {
	cfg.normalize()
	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg.ArenaCapacity != s.cfg.ArenaCapacity {
		if s.arena.resize(cfg.ArenaCapacity) {
			s.log.Info("arena capacity changed",
				slog.Int64("capacity_bytes", cfg.ArenaCapacity))
		} else {
			s.log.Warn("arena resize rejected: arena holds live data, keeping previous capacity",
				slog.Int64("requested_bytes", cfg.ArenaCapacity),
				slog.Int64("capacity_bytes", s.cfg.ArenaCapacity))
			cfg.ArenaCapacity = s.cfg.ArenaCapacity
		}
	}
	s.cfg = cfg
}
