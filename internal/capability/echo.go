package capability

import (
	"bytes"
	"context"
	"errors"
	"io"

	gwerr "github.com/Bemazed/grid-gateway/internal/errors"
	"github.com/Bemazed/grid-gateway/internal/session"
)

const maxEchoLine = 256

// Echo greets the client, then writes back every decoded chunk it
// receives.  A line consisting of QuitWord ends the session.
type Echo struct {
	Greeting   string
	QuitWord   string // default "quit"
	Farewell   string // sent before closing on QuitWord; default "bye\r\n"
	BufferSize int    // default 1024
}

// Handle runs the echo loop.
func (e *Echo) Handle(ctx context.Context, sess *session.Session) error {
	quit := []byte(e.QuitWord)
	if len(quit) == 0 {
		quit = []byte("quit")
	}
	farewell := e.Farewell
	if farewell == "" {
		farewell = "bye\r\n"
	}
	size := e.BufferSize
	if size <= 0 {
		size = 1024
	}

	if e.Greeting != "" {
		if _, err := sess.WriteString(e.Greeting); err != nil {
			return closedOK(ctx, err)
		}
	}

	// Cancellation closes the session to unblock the pending Read.
	stop := context.AfterFunc(ctx, func() { sess.Close() })
	defer stop()

	buf := make([]byte, size)
	line := make([]byte, 0, maxEchoLine)
	for {
		n, err := sess.Read(buf)
		if n > 0 {
			if _, werr := sess.Write(buf[:n]); werr != nil {
				return closedOK(ctx, werr)
			}
			for _, b := range buf[:n] {
				if b != '\r' && b != '\n' {
					if len(line) < maxEchoLine {
						line = append(line, b)
					}
					continue
				}
				if bytes.EqualFold(bytes.TrimSpace(line), quit) {
					sess.Logger.Verbose("echo: client sent %q", quit)
					_, werr := sess.WriteString(farewell)
					return closedOK(ctx, werr)
				}
				line = line[:0]
			}
		}
		if err != nil {
			return closedOK(ctx, err)
		}
	}
}

// closedOK maps the expected ways a session ends (client EOF, or a
// close caused by cancellation) to nil.
func closedOK(ctx context.Context, err error) error {
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	if ctx.Err() != nil && gwerr.IsClosed(err) {
		return nil
	}
	return err
}
