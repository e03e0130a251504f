package broker

// ChannelStats is the read-only counter snapshot for one channel.
type ChannelStats struct {
	Channel           string `json:"channel"`
	PublishedMessages int64  `json:"published_messages"`
	StoredMessages    int    `json:"stored_messages"`
	Subscribers       int    `json:"subscribers"`
	IsBroadcast       bool   `json:"is_broadcast,omitempty"`
}

// Stats aggregates counters across all channels of this execution unit.
type Stats struct {
	Instance          string         `json:"instance"`
	Channels          int            `json:"channels"`
	BroadcastChannels int            `json:"broadcast_channels"`
	PublishedMessages int64          `json:"published_messages"`
	StoredMessages    int            `json:"stored_messages"`
	DeliveredMessages int64          `json:"delivered_messages"`
	EvictedMessages   int64          `json:"evicted_messages"`
	DroppedMessages   int64          `json:"dropped_messages"`
	Subscribers       int64          `json:"subscribers"`
	ArenaUsedBytes    int64          `json:"arena_used_bytes"`
	ArenaCapacity     int64          `json:"arena_capacity_bytes,omitempty"`
	UptimeSeconds     int64          `json:"uptime_seconds"`
	ByChannel         []ChannelStats `json:"channel_details,omitempty"`
}

// ChannelStats returns the counter snapshot for one channel.
func (s *Store) ChannelStats(name string) (ChannelStats, bool) {
	s.mu.RLock()
	ch := s.channels[name]
	s.mu.RUnlock()
	if ch == nil {
		return ChannelStats{}, false
	}
	return s.channelStats(ch), true
}

func (s *Store) channelStats(ch *Channel) ChannelStats {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ChannelStats{
		Channel:           ch.name,
		PublishedMessages: ch.published.Load(),
		StoredMessages:    ch.buf.len(),
		Subscribers:       len(ch.subs),
		IsBroadcast:       ch.broadcast,
	}
}

// Stats returns the aggregate snapshot; when detailed is true it includes
// one entry per channel, ordered arbitrarily.
func (s *Store) Stats(detailed bool) Stats {
	s.mu.RLock()
	chans := make([]*Channel, 0, len(s.channels))
	for _, ch := range s.channels {
		chans = append(chans, ch)
	}
	s.mu.RUnlock()

	st := Stats{
		Instance:          s.instance.String(),
		Channels:          len(chans),
		PublishedMessages: s.publishedTotal.Load(),
		DeliveredMessages: s.deliveredTotal.Load(),
		EvictedMessages:   s.evictedTotal.Load(),
		DroppedMessages:   s.droppedTotal.Load(),
		Subscribers:       s.subscribers.Load(),
		ArenaUsedBytes:    s.arena.usedBytes(),
		ArenaCapacity:     s.arena.capacityBytes(),
		UptimeSeconds:     int64(s.clock.Since(s.startedAt).Seconds()),
	}
	for _, ch := range chans {
		cs := s.channelStats(ch)
		st.StoredMessages += cs.StoredMessages
		if cs.IsBroadcast {
			st.BroadcastChannels++
		}
		if detailed {
			st.ByChannel = append(st.ByChannel, cs)
		}
	}
	return st
}
