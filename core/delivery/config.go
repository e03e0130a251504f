package delivery

import "time"

// Config controls framing and timing for all delivery modes.
type Config struct {
	// PingInterval is the keep-alive period for streaming-style modes.
	// Zero disables pings.
	PingInterval time.Duration `env:"DELIVERY_PING_INTERVAL" envDefault:"30s"`

	// ConnectionTimeout is the hard upper bound on any subscriber
	// connection. Zero means unlimited.
	ConnectionTimeout time.Duration `env:"DELIVERY_CONNECTION_TIMEOUT" envDefault:"0"`

	// LongPollTimeout bounds a single long-polling request. When both this
	// and ConnectionTimeout are set, the shorter wins; only this one resets
	// on each new request.
	LongPollTimeout time.Duration `env:"DELIVERY_LONGPOLL_TIMEOUT" envDefault:"25s"`

	// MessageTemplate is the wire-text template applied to every delivered
	// message (see package format).
	MessageTemplate string `env:"DELIVERY_MESSAGE_TEMPLATE" envDefault:"~text~"`

	// HeaderText and FooterText open and close streaming responses when
	// non-empty. Event-stream mode emits them as comment lines.
	HeaderText string `env:"DELIVERY_HEADER_TEXT" envDefault:""`
	FooterText string `env:"DELIVERY_FOOTER_TEXT" envDefault:""`

	// PingText is the keep-alive body for plain streaming mode.
	PingText string `env:"DELIVERY_PING_TEXT" envDefault:" "`
}
