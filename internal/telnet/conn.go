// Package telnet decodes the Telnet protocol (RFC 854/855) on top of a
// transport.Transport.
//
// A Conn strips IAC command sequences, option negotiation and
// subnegotiation blocks from the inbound stream and hands the caller
// only application bytes.  Every option the peer offers or requests is
// refused, once per option per direction.  Outbound bytes are written
// to the transport unmodified.
//
// Conn satisfies transport.Transport itself, so it can be used wherever
// a raw transport is expected.
package telnet

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	gwerr "github.com/Bemazed/grid-gateway/internal/errors"
	"github.com/Bemazed/grid-gateway/internal/transport"
	"github.com/Bemazed/grid-gateway/util"
)

// DefaultBufferSize is the internal read buffer capacity used when the
// caller has no preference.
const DefaultBufferSize = 1024

type parseState int

const (
	stateReady parseState = iota
	stateIAC
	stateWill
	stateWont
	stateDo
	stateDont
)

// Observer receives protocol events from a Conn.  Implementations must
// be safe for concurrent use; calls are made while the read lock is
// held, so they should return quickly.
type Observer interface {
	// Command is called for every recognised command byte after IAC.
	Command(cmd byte)
	// Negotiated is called for every WILL/WONT/DO/DONT.  replied is
	// false when the option had already been answered.
	Negotiated(cmd, opt byte, replied bool)
}

type nopObserver struct{}

func (nopObserver) Command(byte)                {}
func (nopObserver) Negotiated(byte, byte, bool) {}

// Option configures a Conn.
type Option func(*Conn)

// WithObserver attaches an Observer.
func WithObserver(o Observer) Option {
	return func(c *Conn) {
		if o != nil {
			c.observer = o
		}
	}
}

// WithLogger routes per-command debug output to l.
func WithLogger(l *util.Logger) Option {
	return func(c *Conn) {
		if l != nil {
			c.logger = l
		}
	}
}

// Conn is a Telnet decoder wrapping a transport it owns exclusively.
type Conn struct {
	tr       transport.Transport
	observer Observer
	logger   *util.Logger
	closed   atomic.Bool

	// mu guards the read window and parser state; it is shared by
	// Read and Available.
	mu      sync.Mutex
	buf     []byte
	pos     int // next undecoded byte in buf
	high    int // end of valid data in buf
	refill  int // byte count returned by the most recent transport read
	state   parseState
	subneg  bool
	eof     bool // sticky end-of-stream
	lateEOF bool // transport returned data and io.EOF together

	opts options
}

// New wraps tr in a Telnet decoder with an internal read buffer of
// bufferSize bytes.  A non-positive size is rejected.
func New(tr transport.Transport, bufferSize int, opts ...Option) (*Conn, error) {
	if bufferSize <= 0 {
		return nil, &gwerr.ConfigError{
			Field:   "buffer-size",
			Value:   bufferSize,
			Message: "must be positive",
			Hint:    fmt.Sprintf("the default is %d", DefaultBufferSize),
		}
	}
	c := &Conn{
		tr:       tr,
		observer: nopObserver{},
		logger:   util.NewLogger(0),
		buf:      make([]byte, bufferSize),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Read decodes transport bytes into p.  It blocks until at least one
// application byte is available or the stream ends, and keeps decoding
// already-arrived negotiation traffic before returning so that a burst
// of commands costs one call.  End of stream is reported as io.EOF and
// is sticky.
func (c *Conn) Read(p []byte) (int, error) {
	if c.closed.Load() {
		return 0, gwerr.ErrTransportClosed
	}
	if len(p) == 0 {
		return 0, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.eof {
		return 0, io.EOF
	}

	out := 0
	for {
		if c.pos >= c.high {
			if c.lateEOF {
				c.eof = true
				break
			}
			n, err := c.tr.Read(c.buf)
			if n < 0 {
				n = 0
			}
			c.pos, c.high, c.refill = 0, n, n
			if err != nil {
				if !errors.Is(err, io.EOF) {
					return out, err
				}
				if n == 0 {
					c.eof = true
					break
				}
				c.lateEOF = true
			}
		}

		if c.pos < c.high {
			b := c.buf[c.pos]
			c.pos++
			o, emit, err := c.step(b)
			if emit {
				p[out] = o
				out++
			}
			if err != nil {
				return out, err
			}
		}

		if out >= len(p) {
			break
		}
		if c.pos < c.high || out == 0 {
			continue
		}
		if c.refill <= 0 || c.lateEOF {
			break
		}
		avail, err := c.tr.Available()
		if err != nil {
			return out, err
		}
		if avail <= 0 {
			break
		}
	}

	if out > 0 {
		return out, nil
	}
	return 0, io.EOF
}

// step feeds one byte through the state machine.  It returns the
// application byte to emit, if any, and the error from any reply sent
// to the peer.
func (c *Conn) step(b byte) (byte, bool, error) {
	switch c.state {
	case stateReady:
		if b == IAC {
			c.state = stateIAC
			return 0, false, nil
		}
		return c.data(b)

	case stateIAC:
		c.state = stateReady
		switch b {
		case WILL:
			c.state = stateWill
		case WONT:
			c.state = stateWont
		case DO:
			c.state = stateDo
		case DONT:
			c.state = stateDont
		case AYT:
			c.observer.Command(b)
			return 0, false, c.tr.Send([]byte{NUL})
		case EC:
			c.observer.Command(b)
			return BS, true, nil
		case EL:
			c.observer.Command(b)
			return NAK, true, nil
		case SB:
			c.subneg = true
		case SE:
			c.subneg = false
		case NOP, DM, BRK, IP, AO, GA:
		case IAC:
			// Escaped 0xFF.
			return c.data(b)
		default:
			// Unknown commands pass through as data.
			return c.data(b)
		}
		c.observer.Command(b)
		return 0, false, nil

	case stateWill:
		c.state = stateReady
		return 0, false, c.negotiate(WILL, b)
	case stateWont:
		c.state = stateReady
		return 0, false, c.negotiate(WONT, b)
	case stateDo:
		c.state = stateReady
		return 0, false, c.negotiate(DO, b)
	case stateDont:
		c.state = stateReady
		return 0, false, c.negotiate(DONT, b)
	}

	c.state = stateReady
	return 0, false, nil
}

// data emits b unless a subnegotiation block is open.
func (c *Conn) data(b byte) (byte, bool, error) {
	if c.subneg {
		return 0, false, nil
	}
	return b, true, nil
}

// Available returns the transport's estimate plus the undecoded bytes
// already buffered.  Protocol bytes in that count decode to nothing, so
// it is an upper bound on what the next Read yields.
func (c *Conn) Available() (int, error) {
	if c.closed.Load() {
		return 0, gwerr.ErrTransportClosed
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	n, err := c.tr.Available()
	if err != nil {
		return 0, err
	}
	return n + (c.high - c.pos), nil
}

// Send writes p to the transport unmodified.
func (c *Conn) Send(p []byte) error {
	if c.closed.Load() {
		return gwerr.ErrTransportClosed
	}
	return c.tr.Send(p)
}

// SendN writes the first n bytes of p to the transport unmodified.
func (c *Conn) SendN(p []byte, n int) error {
	if c.closed.Load() {
		return gwerr.ErrTransportClosed
	}
	return c.tr.SendN(p, n)
}

// Write implements io.Writer on top of Send.
func (c *Conn) Write(p []byte) (int, error) {
	if err := c.Send(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close closes the underlying transport.  It does not wait for an
// in-flight Read; closing the transport makes that Read fail.
func (c *Conn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.tr.Close()
}

// RemoteAddr returns the peer address when the transport knows it.
func (c *Conn) RemoteAddr() net.Addr {
	if a, ok := c.tr.(interface{ RemoteAddr() net.Addr }); ok {
		return a.RemoteAddr()
	}
	return nil
}

// SetDeadline forwards to the transport when it supports deadlines.
func (c *Conn) SetDeadline(t time.Time) error {
	if d, ok := c.tr.(interface{ SetDeadline(time.Time) error }); ok {
		return d.SetDeadline(t)
	}
	return nil
}
