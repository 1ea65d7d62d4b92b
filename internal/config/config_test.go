package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate runs Load in an empty directory so no .env or config/ from the repo leaks in.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	t.Setenv("APP_ENV", "production")
	t.Setenv("CONFIG_PATH", "")
	for _, k := range []string{"WS_URL", "MOCK_WEBSOCKET", "USER_ID", "RECONNECT_INTERVAL_MS", "SIM_DELAY_MS", "ACK_TIMEOUT_MS", "SEED_DEMO"} {
		t.Setenv(k, "")
	}
	return dir
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)

	cfg := Load()
	assert.True(t, cfg.MockWebSocket, "empty ws_url forces the simulator")
	assert.Equal(t, "1", cfg.UserID)
	assert.Equal(t, 3*time.Second, cfg.ReconnectInterval)
	assert.Equal(t, 5, cfg.MaxReconnectAttempts)
	assert.Equal(t, 100*time.Millisecond, cfg.SimDelay)
	assert.Equal(t, 5*time.Second, cfg.TypingTimeout)
	assert.Equal(t, 10*time.Second, cfg.AckTimeout)
	assert.False(t, cfg.SeedDemo)
}

func TestLoadYAMLAndEnvOverride(t *testing.T) {
	dir := isolate(t)

	path := filepath.Join(dir, "messaging.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
ws_url: wss://chat.example.com/ws
user_id: "42"
reconnect_interval_ms: 500
max_reconnect_attempts: 2
seed_demo: true
`), 0o600))
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("USER_ID", "7")
	t.Setenv("ACK_TIMEOUT_MS", "250")

	cfg := Load()
	assert.Equal(t, "wss://chat.example.com/ws", cfg.WSURL)
	assert.False(t, cfg.MockWebSocket)
	assert.Equal(t, "7", cfg.UserID)
	assert.Equal(t, 500*time.Millisecond, cfg.ReconnectInterval)
	assert.Equal(t, 2, cfg.MaxReconnectAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.AckTimeout)
	assert.True(t, cfg.SeedDemo)

	t.Setenv("MOCK_WEBSOCKET", "true")
	assert.True(t, Load().MockWebSocket)
}

func TestLoadBrokenYAMLFallsBack(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("ws_url: [unclosed"), 0o600))
	t.Setenv("CONFIG_PATH", path)

	cfg := Load()
	assert.Empty(t, cfg.WSURL)
	assert.Equal(t, 5, cfg.MaxReconnectAttempts)
}
