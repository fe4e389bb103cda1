// Package capability defines what the gateway does with a decoded
// Telnet session.  Each Capability encapsulates one behaviour (greet,
// echo, relay to a backend, run a program) and operates on a Session
// rather than a raw connection, so it never sees protocol bytes.
package capability

import (
	"context"

	"github.com/Bemazed/grid-gateway/internal/session"
)

// Capability handles a single session.
type Capability interface {
	// Handle runs against sess until the exchange is complete, the
	// client goes away or ctx is cancelled.  The caller closes sess.
	Handle(ctx context.Context, sess *session.Session) error
}

// Func adapts an ordinary function to Capability.
type Func func(ctx context.Context, sess *session.Session) error

// Handle calls f.
func (f Func) Handle(ctx context.Context, sess *session.Session) error { return f(ctx, sess) }
