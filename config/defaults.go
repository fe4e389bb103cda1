package config

import "time"

// ── Default values ───────────────────────────────────────────────────
//
// All tuneable defaults live here so they are easy to audit and reuse
// across CLI flags, config file parsing, and environment variable
// loading.

const (
	// DefaultPort is the Telnet port the gateway binds.
	DefaultPort = 9000

	// DefaultListenAddress binds every interface.
	DefaultListenAddress = "0.0.0.0"

	// DefaultBufferSize is the Telnet decoder's read buffer.
	DefaultBufferSize = 1024

	// DefaultGreeting is sent to every client in greeting and echo mode.
	DefaultGreeting = "Test message\n"

	// DefaultSSHPort is the standard SSH port.
	DefaultSSHPort = 22

	// DefaultKeepAliveInterval is the SSH keepalive interval.
	DefaultKeepAliveInterval = 30 * time.Second

	// DefaultConnTimeout is the TCP/SSH connection timeout.
	DefaultConnTimeout = 30 * time.Second

	// DefaultAcceptBurst is the token bucket size when an accept rate
	// is configured.
	DefaultAcceptBurst = 10

	// DefaultGracePeriod is how long shutdown waits for sessions to
	// finish.
	DefaultGracePeriod = 5 * time.Second
)
