// Package broker implements the in-memory channel message store at the heart
// of streamhub: named channels with bounded, ordered message buffers, a
// subscriber registry with fire-and-forget fan-out, arena-based admission
// control, and the periodic sweeper that ages out messages and idle channels.
//
// One Store is shared by every connection goroutine in the process. The
// channel map is guarded by a coarse RWMutex; each channel guards its own
// buffer and subscriber set with a finer mutex, so publishes to different
// channels never contend.
//
// Basic usage:
//
//	store := broker.New(broker.Config{MaxMessages: 100, MessageRetention: 30 * time.Minute})
//
//	msg, stored, err := store.Publish(ctx, "news", []byte("hello"), "", "")
//
//	sub, err := store.Subscribe([]string{"news"})
//	defer store.Unsubscribe(sub)
//	for msg := range sub.C() {
//		// deliver msg
//	}
//
// Messages carry strictly increasing per-channel ids starting at 1 and a
// per-second tag ordinal that makes the (time, tag) pair a total order even
// though HTTP conditional headers only resolve to whole seconds. Control
// messages (keep-alive pings and channel-deleted notices) are modeled as
// Kind variants rather than magic ids so adapters can handle them
// exhaustively.
package broker
