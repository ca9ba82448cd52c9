// ABOUTME: Tests for SDK configuration loading from the environment.

package spawn

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("SPAWN_TOKEN", "tok-123")
	t.Setenv("SPAWN_RELAY_URL", "wss://relay.example.com/v1/agent")
	t.Setenv("SPAWN_HEARTBEAT_INTERVAL", "45s")
	t.Setenv("SPAWN_MAX_RECONNECT_ATTEMPTS", "8")

	cfg, err := ConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "tok-123", cfg.Token)
	assert.Equal(t, "wss://relay.example.com/v1/agent", cfg.RelayURL)
	assert.Equal(t, 45*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 8, cfg.MaxReconnectAttempts)
}

func TestConfigFromEnvDefaults(t *testing.T) {
	t.Setenv("SPAWN_TOKEN", "tok-123")

	cfg, err := ConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "wss://relay.spawn.io/v1/agent", cfg.RelayURL)
	assert.Equal(t, 30*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 10*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, 2*time.Second, cfg.ReconnectBase)
	assert.Equal(t, 10*time.Second, cfg.ReconnectCap)
	assert.Equal(t, 5, cfg.MaxReconnectAttempts)
}

func TestConfigFromEnvRequiresToken(t *testing.T) {
	t.Setenv("SPAWN_TOKEN", "")

	_, err := ConfigFromEnv()
	assert.ErrorIs(t, err, ErrMissingToken)
}
