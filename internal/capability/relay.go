package capability

import (
	"context"
	"net"
	"time"

	"github.com/dustin/go-humanize"

	gwerr "github.com/Bemazed/grid-gateway/internal/errors"
	"github.com/Bemazed/grid-gateway/internal/retry"
	"github.com/Bemazed/grid-gateway/internal/session"
	"github.com/Bemazed/grid-gateway/internal/transport"
	"github.com/Bemazed/grid-gateway/util"
)

// Relay connects each session to a raw TCP backend and copies bytes
// both ways: decoded client input to the backend, backend output to
// the client verbatim.
type Relay struct {
	Backend string // host:port
	Dialer  transport.Dialer
	Breaker *retry.CircuitBreaker
	Timeout time.Duration // dial timeout when Dialer is nil; default 10s
}

// Handle dials the backend and bridges until either side closes.
func (r *Relay) Handle(ctx context.Context, sess *session.Session) error {
	d := r.Dialer
	if d == nil {
		timeout := r.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		d = &transport.TCPDialer{Timeout: timeout}
	}

	var backend net.Conn
	dial := func() error {
		c, err := d.Dial(ctx, "tcp", r.Backend)
		if err != nil {
			return err
		}
		backend = c
		return nil
	}

	var err error
	if r.Breaker != nil {
		err = r.Breaker.Execute(dial)
	} else {
		err = dial()
	}
	if err != nil {
		sess.WriteString("backend unavailable\r\n") //nolint:errcheck
		if gwerr.Is(err, gwerr.ErrCircuitOpen) {
			return err
		}
		return gwerr.Wrap("dial", r.Backend, err)
	}

	sess.Logger.Verbose("relay: connected to %s", r.Backend)
	up, down, err := util.Bridge(ctx, sess, backend)
	sess.Logger.Debug("relay: %s up, %s down",
		humanize.Bytes(uint64(up)), humanize.Bytes(uint64(down)))
	return err
}
