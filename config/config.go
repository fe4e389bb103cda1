// Package config defines the runtime configuration for grid-gateway and
// provides helpers for parsing tunnel specifications and ports.
package config

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	gwerr "github.com/Bemazed/grid-gateway/internal/errors"
	"github.com/Bemazed/grid-gateway/util"
)

// Session modes select the capability run on every accepted connection.
const (
	ModeGreeting = "greeting"
	ModeEcho     = "echo"
	ModeRelay    = "relay"
	ModeExec     = "exec"
)

// Modes lists every accepted value of Config.Mode.
var Modes = []string{ModeGreeting, ModeEcho, ModeRelay, ModeExec}

// Config holds every tuneable for a gateway process.
type Config struct {
	// ── Listener ─────────────────────────────────────────────────────
	ListenAddr string `yaml:"listenAddr"`
	Port       int    `yaml:"port"`
	BufferSize int    `yaml:"bufferSize"`

	// ── Sessions ─────────────────────────────────────────────────────
	Mode        string        `yaml:"mode"`
	Greeting    string        `yaml:"greeting"`
	Backend     string        `yaml:"backend"`     // relay: host:port
	Execute     string        `yaml:"exec"`        // exec: program path
	Command     string        `yaml:"command"`     // exec: shell command
	DialTimeout time.Duration `yaml:"dialTimeout"` // relay backend dial

	// ── Limits ───────────────────────────────────────────────────────
	MaxSessions int           `yaml:"maxSessions"` // 0 = unlimited
	AcceptRate  float64       `yaml:"acceptRate"`  // per second, 0 = unlimited
	AcceptBurst int           `yaml:"acceptBurst"`
	IdleTimeout time.Duration `yaml:"idleTimeout"` // 0 = none
	GracePeriod time.Duration `yaml:"gracePeriod"`

	// ── Observability ────────────────────────────────────────────────
	MetricsAddr string `yaml:"metricsAddr"` // empty = disabled
	Verbose     int    `yaml:"verbose"`
	Timestamps  bool   `yaml:"timestamps"`

	// ── SSH reverse tunnel ───────────────────────────────────────────
	TunnelSpec     string        `yaml:"tunnel"` // raw [user@]host[:port]
	TunnelEnabled  bool          `yaml:"-"`
	TunnelUser     string        `yaml:"-"`
	TunnelHost     string        `yaml:"-"`
	TunnelPort     int           `yaml:"-"`
	SSHKeyPath     string        `yaml:"sshKey"`
	SSHPassword    bool          `yaml:"sshPassword"` // true → prompt interactively
	UseSSHAgent    bool          `yaml:"sshAgent"`
	StrictHostKey  bool          `yaml:"strictHostKey"`
	KnownHostsPath string        `yaml:"knownHosts"`
	KeepAlive      time.Duration `yaml:"keepAlive"`
	AutoReconnect  bool          `yaml:"autoReconnect"`
}

// Default returns a Config populated from defaults.go.
func Default() *Config {
	return &Config{
		ListenAddr:  DefaultListenAddress,
		Port:        DefaultPort,
		BufferSize:  DefaultBufferSize,
		Mode:        ModeGreeting,
		Greeting:    DefaultGreeting,
		DialTimeout: DefaultConnTimeout,
		AcceptBurst: DefaultAcceptBurst,
		GracePeriod: DefaultGracePeriod,
		KeepAlive:   DefaultKeepAliveInterval,
	}
}

// Address is the host:port the listener binds.  With a tunnel it is
// interpreted on the SSH server.
func (c *Config) Address() string {
	return util.FormatAddr(c.ListenAddr, c.Port)
}

// ── Port helpers ─────────────────────────────────────────────────────

// ParsePort accepts a decimal port in 0-65535.  Zero asks the system
// for an ephemeral port.
func ParsePort(spec string) (int, error) {
	port, err := strconv.Atoi(strings.TrimSpace(spec))
	if err != nil {
		return 0, fmt.Errorf("invalid port %q", spec)
	}
	if port < 0 || port > 65535 {
		return 0, fmt.Errorf("port %d out of range 0-65535", port)
	}
	return port, nil
}

// ── Tunnel-spec parser ───────────────────────────────────────────────

// tunnelRe matches [user@]host[:port].
var tunnelRe = regexp.MustCompile(`^(?:([^@]+)@)?([^:]+)(?::(\d+))?$`)

// ParseTunnelSpec extracts user, host, and port from a string such as
// "admin@bastion.example.com:2222".  Port defaults to 22.
func ParseTunnelSpec(spec string) (user, host string, port int, err error) {
	m := tunnelRe.FindStringSubmatch(spec)
	if m == nil {
		return "", "", 0, fmt.Errorf("invalid tunnel spec %q – expected [user@]host[:port]", spec)
	}
	user = m[1]
	host = m[2]
	port = DefaultSSHPort
	if m[3] != "" {
		port, err = strconv.Atoi(m[3])
		if err != nil || port < 1 || port > 65535 {
			return "", "", 0, fmt.Errorf("invalid tunnel port %q", m[3])
		}
	}
	return user, host, port, nil
}

// ApplyTunnelSpec parses TunnelSpec into the Tunnel* fields.  An empty
// spec disables the tunnel.
func (c *Config) ApplyTunnelSpec() error {
	if c.TunnelSpec == "" {
		c.TunnelEnabled = false
		return nil
	}
	user, host, port, err := ParseTunnelSpec(c.TunnelSpec)
	if err != nil {
		return &gwerr.ConfigError{
			Field:   "tunnel",
			Value:   c.TunnelSpec,
			Message: err.Error(),
			Hint:    "use [user@]host[:port], e.g. admin@bastion.example.com:2222",
		}
	}
	c.TunnelEnabled = true
	c.TunnelUser = user
	c.TunnelHost = host
	c.TunnelPort = port
	return nil
}

// ── Validation ───────────────────────────────────────────────────────

// Validate checks that the configuration is internally consistent.
// Every failure is a *errors.ConfigError.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return &gwerr.ConfigError{Field: "port", Value: c.Port, Message: "out of range 0-65535"}
	}
	if c.BufferSize <= 0 {
		return &gwerr.ConfigError{
			Field:   "buffer-size",
			Value:   c.BufferSize,
			Message: "must be positive",
			Hint:    fmt.Sprintf("the default is %d", DefaultBufferSize),
		}
	}

	switch c.Mode {
	case ModeGreeting, ModeEcho:
	case ModeRelay:
		if c.Backend == "" {
			return &gwerr.ConfigError{
				Field:   "backend",
				Message: "relay mode requires a backend address",
				Hint:    "pass --backend host:port",
			}
		}
	case ModeExec:
		if c.Execute == "" && c.Command == "" {
			return &gwerr.ConfigError{
				Field:   "exec",
				Message: "exec mode requires a program or a command",
				Hint:    "pass -e /path/to/program or -c 'shell command'",
			}
		}
	default:
		return &gwerr.ConfigError{
			Field:   "mode",
			Value:   c.Mode,
			Message: "unknown session mode",
			Hint:    "one of " + strings.Join(Modes, ", "),
		}
	}

	if c.Execute != "" && c.Command != "" {
		return &gwerr.ConfigError{Field: "exec", Message: "-e and -c are mutually exclusive"}
	}

	if c.MaxSessions < 0 {
		return &gwerr.ConfigError{Field: "max-sessions", Value: c.MaxSessions, Message: "must not be negative"}
	}
	if c.AcceptRate < 0 {
		return &gwerr.ConfigError{Field: "accept-rate", Value: c.AcceptRate, Message: "must not be negative"}
	}
	if c.AcceptRate > 0 && c.AcceptBurst < 1 {
		return &gwerr.ConfigError{
			Field:   "accept-burst",
			Value:   c.AcceptBurst,
			Message: "must be at least 1 when a rate is set",
		}
	}
	if c.IdleTimeout < 0 {
		return &gwerr.ConfigError{Field: "idle-timeout", Value: c.IdleTimeout, Message: "must not be negative"}
	}
	if c.GracePeriod < 0 {
		return &gwerr.ConfigError{Field: "grace-period", Value: c.GracePeriod, Message: "must not be negative"}
	}

	if c.TunnelEnabled && c.TunnelHost == "" {
		return &gwerr.ConfigError{Field: "tunnel", Message: "tunnel host is required"}
	}
	if c.SSHPassword && c.UseSSHAgent {
		return &gwerr.ConfigError{
			Field:   "ssh-password",
			Message: "--ssh-password and --ssh-agent are mutually exclusive",
		}
	}
	if !c.TunnelEnabled && (c.SSHKeyPath != "" || c.SSHPassword || c.UseSSHAgent || c.AutoReconnect) {
		return &gwerr.ConfigError{
			Field:   "tunnel",
			Message: "SSH options given without a tunnel",
			Hint:    "add -T user@bastion to publish through an SSH server",
		}
	}

	return nil
}
