package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(nil)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Service.HTTPAddr)
	assert.Equal(t, "im_notify.events", cfg.AMQP.Exchange)
	assert.Equal(t, 0, cfg.RuntimeDelayMs)
	assert.Equal(t, time.Second, cfg.Coalescer.DedupWindow())
	assert.Equal(t, []string{"message_seen"}, cfg.Coalescer.BypassKinds)
	assert.Equal(t, 30*time.Minute, cfg.Hub.IdleTimeout)
}

func TestLoadConfig_FlagsEnvAndFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "coalescer.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
service:
  http_addr: ":7000"
  log_level: debug
coalescer:
  buffer_delay_ms: 300
  late_factor: 2
hub:
  session_buffer: 8
`), 0o644))

	t.Setenv("COALESCER_BUFFER_DELAY_MS", "500")
	t.Setenv("COALESCER_SERVICE_LOG_LEVEL", "warn")

	cfg, err := LoadConfig([]string{"--config_file", path, "--http-addr", ":7100"})
	require.NoError(t, err)

	assert.Equal(t, ":7100", cfg.Service.HTTPAddr, "flag beats file")
	assert.Equal(t, "warn", cfg.Service.LogLevel, "env beats file")
	assert.Equal(t, 500, cfg.RuntimeDelayMs)
	assert.Equal(t, 300, cfg.Coalescer.BufferDelayMs)
	assert.Equal(t, 2.0, cfg.Coalescer.LateFactor)
	assert.Equal(t, 8, cfg.Hub.SessionBuffer)
	assert.Equal(t, path, cfg.File)
}

func TestLoadConfig_Invalid(t *testing.T) {
	_, err := LoadConfig([]string{"--late-factor", "0"})
	require.Error(t, err)

	_, err = LoadConfig([]string{"--config_file", filepath.Join(t.TempDir(), "missing.yaml")})
	require.Error(t, err)
}
