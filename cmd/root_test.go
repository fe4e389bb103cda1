package cmd

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	gwerr "github.com/Bemazed/grid-gateway/internal/errors"
	"github.com/Bemazed/grid-gateway/util"
)

// quiet discards CLI output for the duration of a test.
func quiet(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := out
	out = &buf
	t.Cleanup(func() { out = prev })
	return &buf
}

// TestExecute_Version verifies --version prints a version string.
func TestExecute_Version(t *testing.T) {
	buf := quiet(t)
	if err := Execute(context.Background(), []string{"--version"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(buf.String(), "grid-gateway ") {
		t.Errorf("output = %q", buf.String())
	}
}

// TestExecute_Help verifies --help returns without error and prints
// the options.
func TestExecute_Help(t *testing.T) {
	for _, args := range [][]string{{"--help"}, {"-h"}} {
		t.Run(args[0], func(t *testing.T) {
			buf := quiet(t)
			if err := Execute(context.Background(), args); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !strings.Contains(buf.String(), "--buffer-size") {
				t.Error("usage should list --buffer-size")
			}
		})
	}
}

// TestExecute_DryRun verifies --dry-run validates and exits cleanly.
func TestExecute_DryRun(t *testing.T) {
	buf := quiet(t)
	err := Execute(context.Background(), []string{"-m", "relay", "-b", "127.0.0.1:6379", "--dry-run"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(buf.String(), "backend:  127.0.0.1:6379") {
		t.Errorf("summary = %q", buf.String())
	}
}

// TestExecute_DryRunInvalid verifies --dry-run still catches bad configs.
func TestExecute_DryRunInvalid(t *testing.T) {
	quiet(t)
	err := Execute(context.Background(), []string{"-m", "relay", "--dry-run"})
	var ce *gwerr.ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("expected a ConfigError, got %v", err)
	}
	if ce.Field != "backend" {
		t.Errorf("Field = %q", ce.Field)
	}
}

// TestExecute_InvalidFlags verifies unknown flags produce an error.
func TestExecute_InvalidFlags(t *testing.T) {
	quiet(t)
	if err := Execute(context.Background(), []string{"--nonexistent-flag"}); err == nil {
		t.Fatal("expected error for unknown flag")
	}
}

// TestExecute_StrayArgument verifies positional arguments are rejected.
func TestExecute_StrayArgument(t *testing.T) {
	quiet(t)
	if err := Execute(context.Background(), []string{"example.com"}); err == nil {
		t.Fatal("expected error for a positional argument")
	}
}

// TestExecute_ConflictingFlags verifies -e and -c conflict is caught.
func TestExecute_ConflictingFlags(t *testing.T) {
	quiet(t)
	err := Execute(context.Background(), []string{"-m", "exec", "-e", "cat", "-c", "ls", "--dry-run"})
	if err == nil {
		t.Fatal("expected error for -e and -c conflict")
	}
	if !strings.Contains(err.Error(), "mutually exclusive") {
		t.Errorf("error should mention mutually exclusive: %v", err)
	}
}

// TestExecute_BadTunnel verifies a malformed tunnel spec is reported.
func TestExecute_BadTunnel(t *testing.T) {
	quiet(t)
	err := Execute(context.Background(), []string{"-T", "ops@bastion:99999", "--dry-run"})
	if err == nil || !strings.Contains(err.Error(), "tunnel") {
		t.Fatalf("expected tunnel error, got %v", err)
	}
}

// ── precedence ───────────────────────────────────────────────────────

func TestParse_Defaults(t *testing.T) {
	quiet(t)
	cfg, act, err := parse(nil)
	if err != nil {
		t.Fatal(err)
	}
	if act != actRun {
		t.Errorf("action = %v, want run", act)
	}
	if cfg.Port != 9000 || cfg.BufferSize != 1024 || cfg.Greeting != "Test message\n" {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
}

func TestParse_Precedence(t *testing.T) {
	quiet(t)
	path := filepath.Join(t.TempDir(), "gw.yaml")
	body := "port: 2323\nmode: echo\nmaxSessions: 7\nidleTimeout: 1m\nverbose: 1\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("GRID_PORT", "4000")
	t.Setenv("GRID_MAX_SESSIONS", "9")

	cfg, _, err := parse([]string{"--config", path, "-p", "5000", "-T", "ops@bastion"})
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Port != 5000 {
		t.Errorf("Port = %d, flag should win", cfg.Port)
	}
	if cfg.MaxSessions != 9 {
		t.Errorf("MaxSessions = %d, env should beat the file", cfg.MaxSessions)
	}
	if cfg.Mode != "echo" {
		t.Errorf("Mode = %q, file should beat the default", cfg.Mode)
	}
	if cfg.IdleTimeout != time.Minute {
		t.Errorf("IdleTimeout = %v", cfg.IdleTimeout)
	}
	if cfg.Verbose != 1 {
		t.Errorf("Verbose = %d, file value should survive the count flag", cfg.Verbose)
	}
	if !cfg.TunnelEnabled || cfg.TunnelHost != "bastion" || cfg.TunnelPort != 22 {
		t.Errorf("tunnel not applied: %+v", cfg)
	}
}

func TestParse_ConfigFromEnv(t *testing.T) {
	quiet(t)
	path := filepath.Join(t.TempDir(), "gw.yaml")
	if err := os.WriteFile(path, []byte("mode: ECHO\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("GRID_CONFIG", path)

	cfg, _, err := parse([]string{"-vv"})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Mode != "echo" {
		t.Errorf("Mode = %q", cfg.Mode)
	}
	if cfg.Verbose != 2 {
		t.Errorf("Verbose = %d, want 2", cfg.Verbose)
	}
}

func TestParse_MissingConfigFile(t *testing.T) {
	quiet(t)
	_, _, err := parse([]string{"--config=" + filepath.Join(t.TempDir(), "nope.yaml")})
	if err == nil {
		t.Fatal("expected error for a missing config file")
	}
}

// ── end to end ───────────────────────────────────────────────────────

// TestExecute_Serves runs the gateway on a free port and checks a
// client receives the greeting.
func TestExecute_Serves(t *testing.T) {
	quiet(t)
	port, err := util.FindFreePort()
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := make(chan error, 1)
	go func() {
		errc <- Execute(ctx, []string{"-l", "127.0.0.1", "-p", strconv.Itoa(port), "-g", "hello\r\n"})
	}()

	var conn net.Conn
	deadline := time.Now().Add(3 * time.Second)
	for {
		conn, err = net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
		if err == nil || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	got, err := io.ReadAll(conn)
	conn.Close()
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello\r\n" {
		t.Errorf("greeting = %q", got)
	}

	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("Execute returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Execute did not return after cancel")
	}
}
