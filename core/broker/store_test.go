package broker_test

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/streamhub/core/broker"
)

func newMockClock(t *testing.T) *clock.Mock {
	t.Helper()
	mock := clock.NewMock()
	mock.Set(time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC))
	return mock
}

func TestStore_Publish_AssignsContiguousIDs(t *testing.T) {
	t.Parallel()

	store := broker.New(broker.Config{StoreMessages: true})
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		m, stored, err := store.Publish(ctx, "news", []byte("hello"), "", "")
		require.NoError(t, err)
		assert.Equal(t, int64(i), m.ID)
		assert.Equal(t, i, stored)
	}

	view, ok := store.Snapshot("news")
	require.True(t, ok)
	require.Len(t, view, 5)
	for i, m := range view {
		assert.Equal(t, int64(i+1), m.ID)
		assert.Equal(t, m.ID, m.WireID())
	}
}

func TestStore_Publish_TagOrdinalsResetEachSecond(t *testing.T) {
	t.Parallel()

	mock := newMockClock(t)
	store := broker.New(broker.Config{StoreMessages: true}, broker.WithClock(mock))
	ctx := context.Background()

	m1, _, err := store.Publish(ctx, "news", []byte("a"), "", "")
	require.NoError(t, err)
	m2, _, err := store.Publish(ctx, "news", []byte("b"), "", "")
	require.NoError(t, err)
	assert.Equal(t, uint32(0), m1.Tag)
	assert.Equal(t, uint32(1), m2.Tag)
	assert.Equal(t, m1.CreatedAt, m2.CreatedAt)

	mock.Add(time.Second)
	m3, _, err := store.Publish(ctx, "news", []byte("c"), "", "")
	require.NoError(t, err)
	assert.Equal(t, uint32(0), m3.Tag, "tag resets when the second advances")
	assert.True(t, m3.CreatedAt.After(m2.CreatedAt))

	// Ids keep increasing across the second boundary.
	assert.Equal(t, []int64{1, 2, 3}, []int64{m1.ID, m2.ID, m3.ID})
}

func TestStore_Publish_CountBoundEvictsOldest(t *testing.T) {
	t.Parallel()

	store := broker.New(broker.Config{StoreMessages: true, MaxMessages: 3})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _, err := store.Publish(ctx, "news", []byte{byte('a' + i)}, "", "")
		require.NoError(t, err)
	}

	view, ok := store.Snapshot("news")
	require.True(t, ok)
	require.Len(t, view, 3)
	assert.Equal(t, int64(3), view[0].ID, "oldest two evicted")
	assert.Equal(t, int64(5), view[2].ID)

	// Eviction never rewinds the id sequence.
	m, _, err := store.Publish(ctx, "news", []byte("f"), "", "")
	require.NoError(t, err)
	assert.Equal(t, int64(6), m.ID)

	stats, ok := store.ChannelStats("news")
	require.True(t, ok)
	assert.Equal(t, int64(6), stats.PublishedMessages, "published count survives eviction")
	assert.Equal(t, 3, stats.StoredMessages)
}

func TestStore_Publish_ArenaExhaustion(t *testing.T) {
	t.Parallel()

	// Room for the channel plus roughly two small messages.
	store := broker.New(broker.Config{
		StoreMessages: true,
		ArenaCapacity: 500,
	})
	ctx := context.Background()

	_, _, err := store.Publish(ctx, "news", []byte("one"), "", "")
	require.NoError(t, err)
	_, _, err = store.Publish(ctx, "news", []byte("two"), "", "")
	require.NoError(t, err)

	// The global eviction pass frees the oldest message to admit the new one.
	m, _, err := store.Publish(ctx, "news", []byte("three"), "", "")
	require.NoError(t, err)
	assert.Equal(t, int64(3), m.ID)

	view, ok := store.Snapshot("news")
	require.True(t, ok)
	assert.Less(t, len(view), 3, "admission evicted at least one older message")
}

func TestStore_Publish_OutOfMemoryWhenNothingToEvict(t *testing.T) {
	t.Parallel()

	// Too small even for the channel overhead.
	store := broker.New(broker.Config{StoreMessages: true, ArenaCapacity: 100})

	_, _, err := store.Publish(context.Background(), "news", []byte("x"), "", "")
	require.ErrorIs(t, err, broker.ErrOutOfMemory)
}

func TestStore_Publish_RetrySucceedsAfterSweep(t *testing.T) {
	t.Parallel()

	mock := newMockClock(t)
	store := broker.New(broker.Config{
		StoreMessages:    true,
		ArenaCapacity:    800,
		MessageRetention: time.Minute,
	}, broker.WithClock(mock))
	ctx := context.Background()

	_, _, err := store.Publish(ctx, "news", make([]byte, 300), "", "")
	require.NoError(t, err)
	_, _, err = store.Publish(ctx, "other", make([]byte, 80), "", "")
	require.ErrorIs(t, err, broker.ErrOutOfMemory,
		"second channel overhead plus payload exceeds the arena")

	mock.Add(2 * time.Minute)
	expired, _ := store.Sweep()
	assert.Equal(t, 1, expired)

	_, _, err = store.Publish(ctx, "other", make([]byte, 80), "", "")
	require.NoError(t, err, "publish is retryable once the sweep freed memory")
}

func TestStore_PublishForwarded_AssignsLocalIDs(t *testing.T) {
	t.Parallel()

	mirrored := 0
	store := broker.New(broker.Config{StoreMessages: true},
		broker.WithMirror(func(context.Context, *broker.Message) { mirrored++ }))

	_, _, err := store.Publish(context.Background(), "news", []byte("local"), "", "")
	require.NoError(t, err)
	assert.Equal(t, 1, mirrored)

	m, _, err := store.PublishForwarded("news", []byte("remote"), "ev-9", "tick")
	require.NoError(t, err)
	assert.Equal(t, 1, mirrored, "forwarded publishes are not re-mirrored")
	assert.Equal(t, int64(2), m.ID, "forwarded messages get local ids")
	assert.Equal(t, "ev-9", m.EventID)
	assert.Equal(t, "tick", m.EventType)
}

func TestStore_Subscribe_DeliversLiveMessages(t *testing.T) {
	t.Parallel()

	store := broker.New(broker.Config{StoreMessages: true, CreateOnSubscribe: true})
	sub, err := store.Subscribe([]string{"news"})
	require.NoError(t, err)
	defer store.Unsubscribe(sub)

	_, _, err = store.Publish(context.Background(), "news", []byte("hello"), "", "")
	require.NoError(t, err)

	select {
	case m := <-sub.C():
		assert.Equal(t, "news", m.Channel)
		assert.Equal(t, []byte("hello"), m.Body)
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}

	st := store.Stats(false)
	assert.Equal(t, int64(0), st.DeliveredMessages,
		"enqueueing is not delivery; adapters report via NoteDelivered")
	assert.Equal(t, int64(0), st.DroppedMessages)
}

func TestStore_Subscribe_ChannelNotFound(t *testing.T) {
	t.Parallel()

	store := broker.New(broker.Config{CreateOnSubscribe: false})
	_, err := store.Subscribe([]string{"missing"})
	require.ErrorIs(t, err, broker.ErrChannelNotFound)
}

func TestStore_Subscribe_QuotaLeavesNoPartialState(t *testing.T) {
	t.Parallel()

	store := broker.New(broker.Config{
		StoreMessages:            true,
		CreateOnSubscribe:        true,
		MaxSubscribersPerChannel: 1,
	})

	first, err := store.Subscribe([]string{"b"})
	require.NoError(t, err)
	defer store.Unsubscribe(first)

	// Second subscriber passes channel "a" but hits the quota on "b"; the
	// registration on "a" must be rolled back.
	_, err = store.Subscribe([]string{"a", "b"})
	require.ErrorIs(t, err, broker.ErrQuotaExceeded)

	statsA, ok := store.ChannelStats("a")
	require.True(t, ok)
	assert.Equal(t, 0, statsA.Subscribers)
	assert.Equal(t, int64(1), store.Stats(false).Subscribers)
}

func TestStore_Subscribe_PerRequestQuotas(t *testing.T) {
	t.Parallel()

	store := broker.New(broker.Config{
		CreateOnSubscribe:      true,
		MaxChannelsPerRequest:  2,
		MaxBroadcastPerRequest: 1,
		BroadcastChannelPrefix: "bcast_",
	})

	_, err := store.Subscribe([]string{"a", "b", "c"})
	require.ErrorIs(t, err, broker.ErrQuotaExceeded)

	_, err = store.Subscribe([]string{"bcast_a", "bcast_b"})
	require.ErrorIs(t, err, broker.ErrQuotaExceeded)

	sub, err := store.Subscribe([]string{"a", "bcast_a"})
	require.NoError(t, err)
	store.Unsubscribe(sub)
}

func TestStore_Unsubscribe_Idempotent(t *testing.T) {
	t.Parallel()

	store := broker.New(broker.Config{CreateOnSubscribe: true})
	sub, err := store.Subscribe([]string{"news"})
	require.NoError(t, err)

	store.Unsubscribe(sub)
	store.Unsubscribe(sub)
	assert.Equal(t, int64(0), store.Stats(false).Subscribers)
}

func TestStore_DeleteChannel_NotifiesSubscribers(t *testing.T) {
	t.Parallel()

	store := broker.New(broker.Config{StoreMessages: true, CreateOnSubscribe: true})
	ctx := context.Background()

	_, _, err := store.Publish(ctx, "news", []byte("a"), "", "")
	require.NoError(t, err)

	sub, err := store.Subscribe([]string{"news"})
	require.NoError(t, err)

	require.True(t, store.DeleteChannel("news"))
	require.False(t, store.DeleteChannel("news"), "second delete reports absence")

	select {
	case m := <-sub.C():
		assert.Equal(t, broker.KindChannelDeleted, m.Kind)
		assert.Equal(t, broker.ChannelDeletedWireID, m.WireID())
		assert.Equal(t, int64(2), m.ID, "notice continues the id sequence")
	case <-time.After(time.Second):
		t.Fatal("channel-deleted notice not delivered")
	}

	_, ok := store.Snapshot("news")
	assert.False(t, ok)
	assert.Equal(t, int64(0), store.Stats(false).Subscribers)
}

func TestStore_StoreMessagesDisabled(t *testing.T) {
	t.Parallel()

	store := broker.New(broker.Config{StoreMessages: false, CreateOnSubscribe: true})
	sub, err := store.Subscribe([]string{"news"})
	require.NoError(t, err)
	defer store.Unsubscribe(sub)

	m, stored, err := store.Publish(context.Background(), "news", []byte("live"), "", "")
	require.NoError(t, err)
	assert.Equal(t, 0, stored)
	assert.Equal(t, int64(1), m.ID)

	select {
	case got := <-sub.C():
		assert.Equal(t, []byte("live"), got.Body)
	case <-time.After(time.Second):
		t.Fatal("live delivery must work without buffering")
	}

	view, ok := store.Snapshot("news")
	require.True(t, ok)
	assert.Empty(t, view, "nothing retained for catch-up")
}

func TestStore_Sweep_RemovesIdleChannels(t *testing.T) {
	t.Parallel()

	mock := newMockClock(t)
	store := broker.New(broker.Config{
		StoreMessages:      true,
		CreateOnSubscribe:  true,
		MessageRetention:   time.Minute,
		ChannelIdleTimeout: 30 * time.Second,
	}, broker.WithClock(mock))
	ctx := context.Background()

	_, _, err := store.Publish(ctx, "stale", []byte("x"), "", "")
	require.NoError(t, err)

	sub, err := store.Subscribe([]string{"held"})
	require.NoError(t, err)
	defer store.Unsubscribe(sub)

	// One pass both expires the message and collects the now-empty channel:
	// the last activity was the publish, well past the idle threshold.
	mock.Add(2 * time.Minute)
	expired, removed := store.Sweep()
	assert.Equal(t, 1, expired)
	assert.Equal(t, 1, removed)

	_, ok := store.Snapshot("stale")
	assert.False(t, ok)
	_, ok = store.Snapshot("held")
	assert.True(t, ok, "channels with subscribers are never idle-collected")
}

func TestStore_Reload_RejectsArenaResizeHoldingData(t *testing.T) {
	t.Parallel()

	cfg := broker.Config{StoreMessages: true, ArenaCapacity: 10_000}
	store := broker.New(cfg)
	ctx := context.Background()

	_, _, err := store.Publish(ctx, "news", []byte("x"), "", "")
	require.NoError(t, err)

	next := cfg
	next.ArenaCapacity = 20_000
	next.MaxMessages = 7
	store.Reload(next)

	assert.Equal(t, int64(10_000), store.Stats(false).ArenaCapacity,
		"resize rejected while the arena holds live data")

	// Other fields still took effect: the new count bound applies.
	for i := 0; i < 10; i++ {
		_, _, err := store.Publish(ctx, "news", []byte("y"), "", "")
		require.NoError(t, err)
	}
	view, _ := store.Snapshot("news")
	assert.Len(t, view, 7)
}

func TestStore_Reload_AppliesArenaResizeWhenEmpty(t *testing.T) {
	t.Parallel()

	cfg := broker.Config{StoreMessages: true, ArenaCapacity: 10_000}
	store := broker.New(cfg)

	next := cfg
	next.ArenaCapacity = 20_000
	store.Reload(next)

	assert.Equal(t, int64(20_000), store.Stats(false).ArenaCapacity)
}

func TestStore_Stats(t *testing.T) {
	t.Parallel()

	store := broker.New(broker.Config{
		StoreMessages:          true,
		CreateOnSubscribe:      true,
		BroadcastChannelPrefix: "bcast_",
	})
	ctx := context.Background()

	_, _, err := store.Publish(ctx, "news", []byte("a"), "", "")
	require.NoError(t, err)
	_, _, err = store.Publish(ctx, "bcast_all", []byte("b"), "", "")
	require.NoError(t, err)

	sub, err := store.Subscribe([]string{"news"})
	require.NoError(t, err)
	defer store.Unsubscribe(sub)

	st := store.Stats(true)
	assert.Equal(t, 2, st.Channels)
	assert.Equal(t, 1, st.BroadcastChannels)
	assert.Equal(t, int64(2), st.PublishedMessages)
	assert.Equal(t, 2, st.StoredMessages)
	assert.Equal(t, int64(1), st.Subscribers)
	assert.Positive(t, st.ArenaUsedBytes)
	assert.Len(t, st.ByChannel, 2)
	assert.NotEmpty(t, st.Instance)

	cs, ok := store.ChannelStats("bcast_all")
	require.True(t, ok)
	assert.True(t, cs.IsBroadcast)
}

func TestStore_MaxChannelsQuota(t *testing.T) {
	t.Parallel()

	store := broker.New(broker.Config{StoreMessages: true, MaxChannels: 2})
	ctx := context.Background()

	_, _, err := store.Publish(ctx, "a", []byte("x"), "", "")
	require.NoError(t, err)
	_, _, err = store.Publish(ctx, "b", []byte("x"), "", "")
	require.NoError(t, err)

	_, _, err = store.Publish(ctx, "c", []byte("x"), "", "")
	require.ErrorIs(t, err, broker.ErrQuotaExceeded)

	// Existing channels keep accepting messages at the limit.
	_, _, err = store.Publish(ctx, "a", []byte("y"), "", "")
	require.NoError(t, err)
}
