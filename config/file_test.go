package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, `
listenAddr: 127.0.0.1
port: 2323
mode: relay
backend: 127.0.0.1:6379
maxSessions: 20
acceptRate: 1.5
idleTimeout: 5m
metricsAddr: 127.0.0.1:9100
tunnel: ops@bastion
autoReconnect: true
`)

	cfg := Default()
	require.NoError(t, LoadFile(path, cfg))

	assert.Equal(t, "127.0.0.1", cfg.ListenAddr)
	assert.Equal(t, 2323, cfg.Port)
	assert.Equal(t, ModeRelay, cfg.Mode)
	assert.Equal(t, "127.0.0.1:6379", cfg.Backend)
	assert.Equal(t, 20, cfg.MaxSessions)
	assert.Equal(t, 1.5, cfg.AcceptRate)
	assert.Equal(t, 5*time.Minute, cfg.IdleTimeout)
	assert.Equal(t, "127.0.0.1:9100", cfg.MetricsAddr)
	assert.Equal(t, "ops@bastion", cfg.TunnelSpec)
	assert.True(t, cfg.AutoReconnect)

	// Keys not in the file keep their defaults.
	assert.Equal(t, DefaultBufferSize, cfg.BufferSize)
	assert.Equal(t, DefaultGreeting, cfg.Greeting)
	assert.Equal(t, DefaultGracePeriod, cfg.GracePeriod)
}

func TestLoadFile_Empty(t *testing.T) {
	cfg := Default()
	require.NoError(t, LoadFile(writeFile(t, "\n  \n"), cfg))
	assert.Equal(t, Default(), cfg)
}

func TestLoadFile_UnknownKey(t *testing.T) {
	err := LoadFile(writeFile(t, "prot: 23\n"), Default())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prot")
}

func TestLoadFile_Missing(t *testing.T) {
	err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"), Default())
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadFile_EnvWins(t *testing.T) {
	t.Setenv("GRID_PORT", "4000")

	cfg := Default()
	require.NoError(t, LoadFile(writeFile(t, "port: 2323\n"), cfg))
	LoadFromEnv(cfg)
	assert.Equal(t, 4000, cfg.Port)
}
