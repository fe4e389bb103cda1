package core

import (
	"fmt"

	"github.com/Bemazed/grid-gateway/config"
	"github.com/Bemazed/grid-gateway/internal/capability"
	"github.com/Bemazed/grid-gateway/internal/metrics"
	"github.com/Bemazed/grid-gateway/internal/retry"
	"github.com/Bemazed/grid-gateway/internal/transport"
	"github.com/Bemazed/grid-gateway/util"
)

// Build constructs the gateway described by cfg.  cfg must already be
// validated.
func Build(cfg *config.Config, logger *util.Logger) (Mode, error) {
	capab, err := buildCapability(cfg, logger)
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	return &Gateway{
		Listener:    buildListener(cfg, logger, m),
		Address:     cfg.Address(),
		Capability:  capab,
		Logger:      logger,
		Metrics:     m,
		BufferSize:  cfg.BufferSize,
		MaxSessions: cfg.MaxSessions,
		AcceptRate:  cfg.AcceptRate,
		AcceptBurst: cfg.AcceptBurst,
		IdleTimeout: cfg.IdleTimeout,
		GracePeriod: cfg.GracePeriod,
		MetricsAddr: cfg.MetricsAddr,
	}, nil
}

// ── shared helpers ───────────────────────────────────────────────────

// buildListener publishes the gateway locally, or on the SSH server
// when a tunnel is configured.
func buildListener(cfg *config.Config, logger *util.Logger, m *metrics.Collector) transport.Listener {
	if !cfg.TunnelEnabled {
		return transport.NewTCPListener()
	}

	l := transport.NewSSHListener(transport.SSHConfig{
		User:          cfg.TunnelUser,
		Host:          cfg.TunnelHost,
		Port:          cfg.TunnelPort,
		KeyPath:       cfg.SSHKeyPath,
		PromptPass:    cfg.SSHPassword,
		UseAgent:      cfg.UseSSHAgent,
		StrictHostKey: cfg.StrictHostKey,
		KnownHosts:    cfg.KnownHostsPath,
		ConnTimeout:   config.DefaultConnTimeout,
		KeepAlive:     cfg.KeepAlive,
		Reconnect:     cfg.AutoReconnect,
	}, logger)
	l.OnReconnect = m.TunnelReconnect
	return l
}

// buildCapability selects the per-connection behaviour.
func buildCapability(cfg *config.Config, logger *util.Logger) (capability.Capability, error) {
	switch cfg.Mode {
	case config.ModeGreeting, "":
		return &capability.Greeting{Message: cfg.Greeting}, nil
	case config.ModeEcho:
		return &capability.Echo{Greeting: cfg.Greeting, BufferSize: cfg.BufferSize}, nil
	case config.ModeRelay:
		breaker := retry.DefaultCircuitBreakerConfig()
		breaker.OnStateChange = func(from, to retry.State) {
			logger.Warn("backend %s: circuit %s → %s", cfg.Backend, from, to)
		}
		return &capability.Relay{
			Backend: cfg.Backend,
			Dialer:  &transport.TCPDialer{Timeout: cfg.DialTimeout},
			Breaker: retry.NewCircuitBreaker(breaker),
		}, nil
	case config.ModeExec:
		return &capability.Exec{
			Program: cfg.Execute,
			Command: cfg.Command,
		}, nil
	}
	return nil, fmt.Errorf("unknown mode %q", cfg.Mode)
}
