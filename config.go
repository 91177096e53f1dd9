package kissio

import (
	"errors"
	"fmt"
	"time"

	"github.com/joeshaw/envdecode"

	"github.com/ramory-l/kissio/engineio"
)

// Config represents Socket.IO server configuration. Every field can be
// loaded from the environment with ConfigFromEnv.
type Config struct {
	// Path the server answers under. ENV: KISSIO_PATH
	Path string `env:"KISSIO_PATH,default=/socket.io/"`
	// ENV: KISSIO_PING_INTERVAL
	PingInterval time.Duration `env:"KISSIO_PING_INTERVAL,default=25s"`
	// ENV: KISSIO_PING_TIMEOUT
	PingTimeout time.Duration `env:"KISSIO_PING_TIMEOUT,default=20s"`
	// MaxPayload in bytes. ENV: KISSIO_MAX_PAYLOAD
	MaxPayload int64 `env:"KISSIO_MAX_PAYLOAD,default=1000000"`
	// MessageRate caps inbound messages per second per connection; zero
	// disables it. ENV: KISSIO_MESSAGE_RATE
	MessageRate float64 `env:"KISSIO_MESSAGE_RATE,default=0"`
	// ENV: KISSIO_MESSAGE_BURST
	MessageBurst int `env:"KISSIO_MESSAGE_BURST,default=0"`
	// Compression enables permessage-deflate. ENV: KISSIO_COMPRESSION
	Compression bool `env:"KISSIO_COMPRESSION,default=false"`
	// ConnectDefault joins every new connection to "/" without waiting for
	// a CONNECT packet. ENV: KISSIO_CONNECT_DEFAULT
	ConnectDefault bool `env:"KISSIO_CONNECT_DEFAULT,default=true"`
}

// DefaultConfig returns the configuration used when NewServer gets nil.
func DefaultConfig() *Config {
	return &Config{
		Path:           "/socket.io/",
		PingInterval:   25 * time.Second,
		PingTimeout:    20 * time.Second,
		MaxPayload:     1e6,
		ConnectDefault: true,
	}
}

// ConfigFromEnv loads a Config from the environment, falling back to the
// tag defaults. A value that does not parse is an error.
func ConfigFromEnv() (*Config, error) {
	var cfg Config
	if err := envdecode.StrictDecode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) engineio() *engineio.Config {
	return &engineio.Config{
		PingInterval:      c.PingInterval,
		PingTimeout:       c.PingTimeout,
		MaxPayload:        c.MaxPayload,
		MessageRate:       c.MessageRate,
		MessageBurst:      c.MessageBurst,
		EnableCompression: c.Compression,
	}
}
