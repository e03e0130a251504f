package broker

import "time"

// Config controls buffering, retention, quotas and admission for a Store.
// Zero values mean "unlimited" for counts and capacities.
type Config struct {
	// StoreMessages disables buffering entirely when false: publishes still
	// fan out to connected subscribers and count as published, but nothing
	// is retained for catch-up.
	StoreMessages bool `env:"BROKER_STORE_MESSAGES" envDefault:"true"`

	// MaxMessages bounds the number of stored messages per channel; the
	// oldest is evicted first on overflow.
	MaxMessages int `env:"BROKER_MAX_MESSAGES" envDefault:"0"`

	// MessageRetention is the minimum time a stored message survives before
	// the sweeper may drop it. Retention and MaxMessages are independent
	// bounds; whichever fires first evicts.
	MessageRetention time.Duration `env:"BROKER_MESSAGE_RETENTION" envDefault:"30m"`

	// ChannelIdleTimeout is how long a channel with no messages and no
	// subscribers survives before the sweeper removes it.
	ChannelIdleTimeout time.Duration `env:"BROKER_CHANNEL_IDLE_TIMEOUT" envDefault:"30s"`

	// SweepInterval is the fixed period of the sweeper pass.
	SweepInterval time.Duration `env:"BROKER_SWEEP_INTERVAL" envDefault:"10s"`

	// ArenaCapacity caps the logical byte footprint of all channel state.
	// It cannot change on reload while the arena holds live data.
	ArenaCapacity int64 `env:"BROKER_ARENA_CAPACITY" envDefault:"0"`

	// CreateOnSubscribe permits subscribers to create missing channels.
	CreateOnSubscribe bool `env:"BROKER_CREATE_ON_SUBSCRIBE" envDefault:"true"`

	MaxChannels              int `env:"BROKER_MAX_CHANNELS" envDefault:"0"`
	MaxChannelsPerRequest    int `env:"BROKER_MAX_CHANNELS_PER_REQUEST" envDefault:"0"`
	MaxBroadcastPerRequest   int `env:"BROKER_MAX_BROADCAST_PER_REQUEST" envDefault:"0"`
	MaxSubscribersPerChannel int `env:"BROKER_MAX_SUBSCRIBERS_PER_CHANNEL" envDefault:"0"`

	// BroadcastChannelPrefix flags channels whose name starts with this
	// prefix as broadcast channels. Empty disables the distinction.
	BroadcastChannelPrefix string `env:"BROKER_BROADCAST_CHANNEL_PREFIX" envDefault:""`

	// SubscriberBuffer is the per-subscriber delivery queue length.
	SubscriberBuffer int `env:"BROKER_SUBSCRIBER_BUFFER" envDefault:"64"`
}

func (c *Config) normalize() {
	if c.SubscriberBuffer <= 0 {
		c.SubscriberBuffer = 64
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 10 * time.Second
	}
}
