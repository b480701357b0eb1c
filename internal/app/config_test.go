package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	require.Equal(t, "http://localhost:8000", cfg.Server.APIURL)
	require.Equal(t, "ws://localhost:8000", cfg.Server.StreamURL)
	require.Equal(t, time.Second, cfg.Stream.BackoffBase)
	require.Equal(t, 10*time.Second, cfg.Stream.BackoffCap)
	require.Equal(t, 5, cfg.Stream.MaxAttempts)
	require.Equal(t, 10*time.Second, cfg.Sync.EchoWindow)
	require.Equal(t, 50, cfg.Sync.HistoryLimit)
	require.Equal(t, 30*time.Second, cfg.Presence.RefreshInterval)
	require.Equal(t, "info", cfg.Log.Level)
}

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "boardsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  api_url: https://board.example.com
  stream_url: wss://board.example.com
stream:
  backoff_base: 500ms
  max_attempts: 3
sync:
  echo_window: 5s
log:
  level: debug
`), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	require.Equal(t, "https://board.example.com", cfg.Server.APIURL)
	require.Equal(t, 500*time.Millisecond, cfg.Stream.BackoffBase)
	require.Equal(t, 3, cfg.Stream.MaxAttempts)
	require.Equal(t, 5*time.Second, cfg.Sync.EchoWindow)
	require.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("BOARDSYNC_SERVER_API_URL", "https://env.example.com")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	require.Equal(t, "https://env.example.com", cfg.Server.APIURL)
}

func TestLoadConfigMissingFileFails(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestValidateRejectsBadRanges(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	cfg.Stream.MaxAttempts = -1
	require.Error(t, cfg.Validate())

	cfg.Stream.MaxAttempts = 5
	cfg.Sync.HistoryLimit = -2
	require.Error(t, cfg.Validate())

	cfg.Sync.HistoryLimit = 10
	cfg.Server.APIURL = ""
	require.Error(t, cfg.Validate())
}
