package capability

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"time"

	"github.com/Bemazed/grid-gateway/internal/session"
)

// Exec runs a child process per session with its stdio wired to the
// decoded stream.  Either Program or Command must be set.
type Exec struct {
	Program string   // executed directly
	Args    []string // arguments for Program
	Command string   // executed via the system shell
}

// Handle starts the process and waits for it to exit.
func (e *Exec) Handle(ctx context.Context, sess *session.Session) error {
	var cmd *exec.Cmd

	switch {
	case e.Command != "":
		if runtime.GOOS == "windows" {
			cmd = exec.CommandContext(ctx, "cmd.exe", "/C", e.Command)
		} else {
			cmd = exec.CommandContext(ctx, "/bin/sh", "-c", e.Command)
		}
	case e.Program != "":
		cmd = exec.CommandContext(ctx, e.Program, e.Args...)
	default:
		return errors.New("exec: no program or command configured")
	}

	cmd.Stdin = sess
	cmd.Stdout = sess
	cmd.Stderr = sess
	// The stdin copier stays blocked on the client after the process
	// exits; the session close releases it.
	cmd.WaitDelay = 100 * time.Millisecond

	sess.Logger.Debug("exec: %s", cmd.String())

	err := cmd.Run()
	if errors.Is(err, exec.ErrWaitDelay) {
		err = nil
	}
	if err != nil {
		return fmt.Errorf("exec %q: %w", cmd.Path, err)
	}
	return nil
}
