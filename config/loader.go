package config

// loader.go - configuration loading from environment variables.
//
// Precedence order (highest wins):
//   1. CLI flags  (handled by cmd/root.go)
//   2. Environment variables  (this file)
//   3. Config file  (file.go)
//   4. Defaults   (defaults.go)

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// ── Environment variable mapping ─────────────────────────────────────
//
// Every supported env var uses the GRID_ prefix.  Boolean values
// accept "1", "true", "yes" (case-insensitive).  Durations accept Go
// syntax ("90s", "2m") or a plain number of seconds.

// LoadFromEnv overlays environment variables onto cfg.  Only non-empty,
// well-formed env vars override the existing value.  This should be
// called BEFORE CLI flag parsing so that flags take precedence.
func LoadFromEnv(cfg *Config) {
	// Listener
	if v := os.Getenv("GRID_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("GRID_PORT"); v != "" {
		if port, err := ParsePort(v); err == nil {
			cfg.Port = port
		}
	}
	if v, ok := envInt("GRID_BUFFER_SIZE"); ok {
		cfg.BufferSize = v
	}

	// Sessions
	if v := os.Getenv("GRID_MODE"); v != "" {
		cfg.Mode = strings.ToLower(v)
	}
	if v := os.Getenv("GRID_GREETING"); v != "" {
		cfg.Greeting = v
	}
	if v := os.Getenv("GRID_BACKEND"); v != "" {
		cfg.Backend = v
	}
	if v := os.Getenv("GRID_EXEC"); v != "" {
		cfg.Execute = v
	}
	if v := os.Getenv("GRID_COMMAND"); v != "" {
		cfg.Command = v
	}
	if v, ok := envDuration("GRID_DIAL_TIMEOUT"); ok {
		cfg.DialTimeout = v
	}

	// Limits
	if v, ok := envInt("GRID_MAX_SESSIONS"); ok {
		cfg.MaxSessions = v
	}
	if v, ok := envFloat("GRID_ACCEPT_RATE"); ok {
		cfg.AcceptRate = v
	}
	if v, ok := envInt("GRID_ACCEPT_BURST"); ok {
		cfg.AcceptBurst = v
	}
	if v, ok := envDuration("GRID_IDLE_TIMEOUT"); ok {
		cfg.IdleTimeout = v
	}
	if v, ok := envDuration("GRID_GRACE_PERIOD"); ok {
		cfg.GracePeriod = v
	}

	// Observability
	if v := os.Getenv("GRID_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	if v, ok := envInt("GRID_VERBOSE"); ok && v > 0 {
		cfg.Verbose = v
	}
	if envBool("GRID_TIMESTAMPS") {
		cfg.Timestamps = true
	}

	// SSH tunnel
	if v := os.Getenv("GRID_TUNNEL"); v != "" {
		cfg.TunnelSpec = v
	}
	if v := os.Getenv("GRID_SSH_KEY"); v != "" {
		cfg.SSHKeyPath = v
	}
	if envBool("GRID_SSH_PASSWORD") {
		cfg.SSHPassword = true
	}
	if envBool("GRID_SSH_AGENT") {
		cfg.UseSSHAgent = true
	}
	if envBool("GRID_STRICT_HOSTKEY") {
		cfg.StrictHostKey = true
	}
	if v := os.Getenv("GRID_KNOWN_HOSTS"); v != "" {
		cfg.KnownHostsPath = v
	}
	if v, ok := envDuration("GRID_KEEP_ALIVE"); ok {
		cfg.KeepAlive = v
	}
	if envBool("GRID_AUTO_RECONNECT") {
		cfg.AutoReconnect = true
	}
}

// ── helpers ──────────────────────────────────────────────────────────

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envFloat(key string) (float64, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func envBool(key string) bool {
	v := strings.ToLower(os.Getenv(key))
	return v == "1" || v == "true" || v == "yes"
}

func envDuration(key string) (time.Duration, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d, true
	}
	if sec, err := strconv.Atoi(v); err == nil {
		return secondsDuration(sec), true
	}
	return 0, false
}

func secondsDuration(sec int) time.Duration {
	return time.Duration(sec) * time.Second
}
