package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	gwerr "github.com/Bemazed/grid-gateway/internal/errors"
)

// DefaultReadBufferSize is the socket-side buffer that backs Available.
const DefaultReadBufferSize = 4096

// Conn is a Transport over a net.Conn: a TCP socket or a forwarded SSH
// channel.
type Conn struct {
	conn net.Conn
	r    *bufio.Reader

	wmu sync.Mutex // serialises Send
	rmu sync.Mutex // serialises Read

	buffered atomic.Int64 // r.Buffered() after the last Read
	idle     atomic.Int64 // read deadline extension, 0 = none
	closed   atomic.Bool
}

// NewConn wraps c.  The returned transport owns c.
func NewConn(c net.Conn) *Conn {
	return &Conn{
		conn: c,
		r:    bufio.NewReaderSize(c, DefaultReadBufferSize),
	}
}

// Send writes all of p.
func (c *Conn) Send(p []byte) error {
	return c.SendN(p, len(p))
}

// SendN writes the first n bytes of p.
func (c *Conn) SendN(p []byte, n int) error {
	if n < 0 || n > len(p) {
		return fmt.Errorf("send: length %d out of range [0,%d]", n, len(p))
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()

	if c.closed.Load() {
		return gwerr.ErrTransportClosed
	}
	if n == 0 {
		return nil
	}
	if _, err := c.conn.Write(p[:n]); err != nil {
		return c.mapErr("send", err)
	}
	return nil
}

// Read returns bytes from the socket, blocking until at least one is
// available.  It is not serialised with Send.
func (c *Conn) Read(p []byte) (int, error) {
	if c.closed.Load() {
		return 0, gwerr.ErrTransportClosed
	}

	c.rmu.Lock()
	defer c.rmu.Unlock()

	if d := time.Duration(c.idle.Load()); d > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(d))
	}
	n, err := c.r.Read(p)
	c.buffered.Store(int64(c.r.Buffered()))
	if err != nil {
		return n, c.mapErr("read", err)
	}
	return n, nil
}

// SetIdleTimeout makes every later Read fail with errors.ErrTimeout
// when the peer stays silent for d.  Zero disables the limit.
func (c *Conn) SetIdleTimeout(d time.Duration) {
	c.idle.Store(int64(d))
}

// Available reports the bytes already pulled off the socket but not yet
// returned by Read.  It never blocks.
func (c *Conn) Available() (int, error) {
	if c.closed.Load() {
		return 0, gwerr.ErrTransportClosed
	}
	return int(c.buffered.Load()), nil
}

// Close closes the socket.  A Read blocked in another goroutine returns
// ErrTransportClosed.
func (c *Conn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.conn.Close()
}

// CloseWrite half-closes the socket when the underlying connection
// supports it.
func (c *Conn) CloseWrite() error {
	if cw, ok := c.conn.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}
	return nil
}

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// LocalAddr returns the local address.
func (c *Conn) LocalAddr() net.Addr { return c.conn.LocalAddr() }

// SetDeadline sets the read and write deadlines on the socket.
func (c *Conn) SetDeadline(t time.Time) error { return c.conn.SetDeadline(t) }

// SetReadDeadline sets the read deadline on the socket.
func (c *Conn) SetReadDeadline(t time.Time) error { return c.conn.SetReadDeadline(t) }

func (c *Conn) mapErr(op string, err error) error {
	if errors.Is(err, io.EOF) {
		return io.EOF
	}
	if c.closed.Load() || errors.Is(err, net.ErrClosed) {
		return gwerr.ErrTransportClosed
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, gwerr.ErrTimeout)
	}
	addr := ""
	if ra := c.conn.RemoteAddr(); ra != nil {
		addr = ra.String()
	}
	return gwerr.Wrap(op, addr, err)
}

// ── TCPListener ──────────────────────────────────────────────────────

// TCPListener accepts TCP connections and wraps them in a Conn.
type TCPListener struct {
	mu     sync.Mutex
	ln     net.Listener
	closed bool

	// KeepAlive is passed to net.ListenConfig.  Zero uses the
	// platform default.
	KeepAlive time.Duration
}

// NewTCPListener returns an unbound listener.
func NewTCPListener() *TCPListener {
	return &TCPListener{}
}

// Open binds to address ("host:port", ":port").
func (l *TCPListener) Open(ctx context.Context, address string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.ln != nil {
		return gwerr.ErrAlreadyBound
	}
	if l.closed {
		return gwerr.ErrListenerClosed
	}

	lc := net.ListenConfig{KeepAlive: l.KeepAlive}
	ln, err := lc.Listen(ctx, "tcp", address)
	if err != nil {
		return gwerr.Wrap("listen", address, err)
	}
	l.ln = ln
	return nil
}

// Accept blocks for the next connection.
func (l *TCPListener) Accept() (Transport, error) {
	l.mu.Lock()
	ln, closed := l.ln, l.closed
	l.mu.Unlock()

	if closed {
		return nil, gwerr.ErrListenerClosed
	}
	if ln == nil {
		return nil, gwerr.ErrNotBound
	}

	c, err := ln.Accept()
	if err != nil {
		if l.isClosed() || errors.Is(err, net.ErrClosed) {
			return nil, gwerr.ErrListenerClosed
		}
		return nil, gwerr.Wrap("accept", ln.Addr().String(), err)
	}
	return NewConn(c), nil
}

// Close stops the listener.  Safe to call more than once.
func (l *TCPListener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	if l.ln != nil {
		return l.ln.Close()
	}
	return nil
}

// Addr returns the bound address, or nil before Open.
func (l *TCPListener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln == nil {
		return nil
	}
	return l.ln.Addr()
}

func (l *TCPListener) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}
