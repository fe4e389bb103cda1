// Package cmd wires up the CLI flags and dispatches to the gateway core.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/Bemazed/grid-gateway/config"
	"github.com/Bemazed/grid-gateway/internal/core"
	"github.com/Bemazed/grid-gateway/util"
)

// version is overridable at link time:
//
//	go build -ldflags "-X github.com/Bemazed/grid-gateway/cmd.version=2.0.0"
var version = "1.0.0" //nolint:gochecknoglobals

// out receives --help, --version and --dry-run output.
var out io.Writer = os.Stderr //nolint:gochecknoglobals

// Execute parses args and runs the gateway.
func Execute(ctx context.Context, args []string) error {
	cfg, act, err := parse(args)
	if err != nil {
		return err
	}

	switch act {
	case actHelp, actVersion:
		return nil
	case actDryRun:
		printSummary(cfg)
		return nil
	}

	// ── build components ─────────────────────────────────────────
	logger := util.NewLogger(cfg.Verbose)
	logger.SetTimestamps(cfg.Timestamps)

	mode, err := core.Build(cfg, logger)
	if err != nil {
		return err
	}
	return mode.Run(ctx)
}

type action int

const (
	actRun action = iota
	actHelp
	actVersion
	actDryRun
)

// parse builds a validated Config from args.
//
// Settings are layered: defaults, then the --config YAML file, then
// GRID_* environment variables, then flags.
func parse(args []string) (*config.Config, action, error) {
	cfg := config.Default()

	if path := configPath(args); path != "" {
		if err := config.LoadFile(path, cfg); err != nil {
			return nil, actRun, err
		}
	}
	config.LoadFromEnv(cfg)

	fs := flag.NewFlagSet("grid-gateway", flag.ContinueOnError)
	fs.SetOutput(out)

	var cfgFile string
	fs.StringVar(&cfgFile, "config", "", "YAML configuration file")

	// ── listener ─────────────────────────────────────────────────
	fs.StringVarP(&cfg.ListenAddr, "listen", "l", cfg.ListenAddr, "Address to bind")
	fs.IntVarP(&cfg.Port, "port", "p", cfg.Port, "Telnet port (0 picks a free one)")
	fs.IntVar(&cfg.BufferSize, "buffer-size", cfg.BufferSize, "Telnet decoder buffer size in bytes")

	// ── sessions ─────────────────────────────────────────────────
	fs.StringVarP(&cfg.Mode, "mode", "m", cfg.Mode, "Session mode: "+strings.Join(config.Modes, ", "))
	fs.StringVarP(&cfg.Greeting, "greeting", "g", cfg.Greeting, "Greeting sent to each client")
	fs.StringVarP(&cfg.Backend, "backend", "b", cfg.Backend, "Relay target host:port")
	fs.DurationVar(&cfg.DialTimeout, "dial-timeout", cfg.DialTimeout, "Relay backend dial timeout")
	fs.StringVarP(&cfg.Execute, "exec", "e", cfg.Execute, "Program to run per session")
	fs.StringVarP(&cfg.Command, "command", "c", cfg.Command, "Shell command to run per session")

	// ── limits ───────────────────────────────────────────────────
	fs.IntVar(&cfg.MaxSessions, "max-sessions", cfg.MaxSessions, "Concurrent session limit (0 = unlimited)")
	fs.Float64Var(&cfg.AcceptRate, "accept-rate", cfg.AcceptRate, "Accepted connections per second (0 = unlimited)")
	fs.IntVar(&cfg.AcceptBurst, "accept-burst", cfg.AcceptBurst, "Burst allowance for --accept-rate")
	fs.DurationVar(&cfg.IdleTimeout, "idle-timeout", cfg.IdleTimeout, "Close sessions silent this long (0 = never)")
	fs.DurationVar(&cfg.GracePeriod, "grace-period", cfg.GracePeriod, "Shutdown wait for active sessions")

	// ── SSH tunnel ───────────────────────────────────────────────
	fs.StringVarP(&cfg.TunnelSpec, "tunnel", "T", cfg.TunnelSpec, "Publish through SSH server [user@]host[:port]")
	fs.StringVar(&cfg.SSHKeyPath, "ssh-key", cfg.SSHKeyPath, "SSH private key file")
	fs.BoolVar(&cfg.SSHPassword, "ssh-password", cfg.SSHPassword, "Prompt for SSH password")
	fs.BoolVar(&cfg.UseSSHAgent, "ssh-agent", cfg.UseSSHAgent, "Use SSH agent")
	fs.BoolVar(&cfg.StrictHostKey, "strict-hostkey", cfg.StrictHostKey, "Verify SSH host keys")
	fs.StringVar(&cfg.KnownHostsPath, "known-hosts", cfg.KnownHostsPath, "Custom known_hosts path")
	fs.DurationVar(&cfg.KeepAlive, "keep-alive", cfg.KeepAlive, "SSH keepalive interval (0 = off)")
	fs.BoolVar(&cfg.AutoReconnect, "auto-reconnect", cfg.AutoReconnect, "Re-establish a dropped tunnel")

	// ── output ───────────────────────────────────────────────────
	fs.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, "Serve Prometheus metrics on host:port")
	verbose := cfg.Verbose // CountVarP zeroes its target
	fs.CountVarP(&cfg.Verbose, "verbose", "v", "Increase verbosity (repeatable)")
	fs.BoolVar(&cfg.Timestamps, "timestamps", cfg.Timestamps, "Prefix log lines with the time")

	var showVersion, showHelp, dryRun bool
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	fs.BoolVarP(&showHelp, "help", "h", false, "Show this help")
	fs.BoolVar(&dryRun, "dry-run", false, "Validate configuration and exit")

	fs.Usage = func() { printUsage(fs) }

	// ── parse ────────────────────────────────────────────────────
	if err := fs.Parse(args); err != nil {
		return nil, actRun, err
	}

	if showHelp {
		printUsage(fs)
		return cfg, actHelp, nil
	}
	if showVersion {
		fmt.Fprintf(out, "grid-gateway %s\n", version)
		return cfg, actVersion, nil
	}
	if fs.NArg() > 0 {
		return nil, actRun, fmt.Errorf("unexpected argument %q (use --help for usage)", fs.Arg(0))
	}
	if !fs.Changed("verbose") {
		cfg.Verbose = verbose
	}

	cfg.Mode = strings.ToLower(cfg.Mode)
	if err := cfg.ApplyTunnelSpec(); err != nil {
		return nil, actRun, err
	}

	// ── validate ─────────────────────────────────────────────────
	if err := cfg.Validate(); err != nil {
		return nil, actRun, err
	}

	if dryRun {
		return cfg, actDryRun, nil
	}
	return cfg, actRun, nil
}

// ── helpers ──────────────────────────────────────────────────────────

// configPath finds --config ahead of the full parse, since the file
// supplies the defaults the flags are declared with.
func configPath(args []string) string {
	for i, a := range args {
		if a == "--" {
			break
		}
		if v, ok := strings.CutPrefix(a, "--config="); ok {
			return v
		}
		if a == "--config" && i+1 < len(args) {
			return args[i+1]
		}
	}
	return os.Getenv("GRID_CONFIG")
}

func printSummary(cfg *config.Config) {
	fmt.Fprintf(out, "configuration OK\n")
	fmt.Fprintf(out, "  listen:   %s\n", cfg.Address())
	fmt.Fprintf(out, "  mode:     %s\n", cfg.Mode)
	switch cfg.Mode {
	case config.ModeRelay:
		fmt.Fprintf(out, "  backend:  %s\n", cfg.Backend)
	case config.ModeExec:
		fmt.Fprintf(out, "  exec:     %s%s\n", cfg.Execute, cfg.Command)
	}
	if cfg.TunnelEnabled {
		fmt.Fprintf(out, "  tunnel:   %s@%s:%d\n", cfg.TunnelUser, cfg.TunnelHost, cfg.TunnelPort)
	}
	if cfg.MetricsAddr != "" {
		fmt.Fprintf(out, "  metrics:  http://%s/metrics\n", cfg.MetricsAddr)
	}
}

func printUsage(fs *flag.FlagSet) {
	fmt.Fprintf(out, `grid-gateway – Telnet gateway v%s

Accepts Telnet clients, strips protocol negotiation from their input,
and runs a session behaviour on the clean byte stream.

Usage:
  grid-gateway [options]

Options:
`, version)
	fs.PrintDefaults()
	fmt.Fprintf(out, `
Environment:
  Every option has a GRID_* variable (GRID_PORT, GRID_MODE, ...).
  GRID_CONFIG names a YAML file like --config.  Flags win over the
  environment, which wins over the file.

Examples:
  grid-gateway                                  Greet clients on :9000
  grid-gateway -m echo -p 2323                  Echo server on :2323
  grid-gateway -m relay -b 127.0.0.1:6379       Telnet front for a TCP service
  grid-gateway -m exec -c 'uptime'              Run a command per client
  grid-gateway -T ops@bastion -p 0 -m echo      Publish through an SSH server
  grid-gateway --metrics 127.0.0.1:9100 -v      Expose Prometheus metrics
`)
}
