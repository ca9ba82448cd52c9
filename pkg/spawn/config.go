// ABOUTME: Client configuration with environment loading and defaults.
// ABOUTME: All knobs come from SPAWN_* variables or explicit construction.

package spawn

import (
	"errors"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// ErrMissingToken indicates no connection token was configured.
var ErrMissingToken = errors.New("spawn: token required")

// Config holds client connection settings.
type Config struct {
	RelayURL string `envconfig:"RELAY_URL" default:"wss://relay.spawn.io/v1/agent"`
	Token    string `envconfig:"TOKEN"`

	HeartbeatInterval time.Duration `envconfig:"HEARTBEAT_INTERVAL" default:"30s"`
	ConnectTimeout    time.Duration `envconfig:"CONNECT_TIMEOUT" default:"10s"`

	// Reconnect backoff: sleep min(attempt*ReconnectBase, ReconnectCap)
	// before each attempt, giving up after MaxReconnectAttempts.
	ReconnectBase        time.Duration `envconfig:"RECONNECT_BASE" default:"2s"`
	ReconnectCap         time.Duration `envconfig:"RECONNECT_CAP" default:"10s"`
	MaxReconnectAttempts int           `envconfig:"MAX_RECONNECT_ATTEMPTS" default:"5"`
}

// ConfigFromEnv loads configuration from SPAWN_* environment variables.
func ConfigFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("SPAWN", &cfg); err != nil {
		return nil, err
	}
	if cfg.Token == "" {
		return nil, ErrMissingToken
	}
	return &cfg, nil
}

// fillDefaults backstops zero values for explicitly constructed configs.
func (c *Config) fillDefaults() {
	if c.RelayURL == "" {
		c.RelayURL = "wss://relay.spawn.io/v1/agent"
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.ReconnectBase <= 0 {
		c.ReconnectBase = 2 * time.Second
	}
	if c.ReconnectCap <= 0 {
		c.ReconnectCap = 10 * time.Second
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = 5
	}
}
