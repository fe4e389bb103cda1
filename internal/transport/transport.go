// Package transport moves raw bytes between the gateway and its peers.
// A Transport is a bidirectional byte stream with an explicit Close and
// a cheap estimate of how much input is already buffered; a Listener
// yields inbound Transports.  Nothing here knows about Telnet.
package transport

import (
	"context"
	"net"
)

// Transport is the byte channel a decoder runs on.  Send and Read may
// be called from different goroutines; after Close every data-path
// call fails with errors.ErrTransportClosed.
type Transport interface {
	// Send writes all of p.
	Send(p []byte) error

	// SendN writes the first n bytes of p.
	SendN(p []byte, n int) error

	// Read blocks until at least one byte is available and returns it.
	// End of stream is (0, io.EOF).
	Read(p []byte) (int, error)

	// Available returns a best-effort count of bytes that Read can
	// return without blocking.
	Available() (int, error)

	// Close releases the connection.  It is idempotent and unblocks a
	// Read in progress.
	Close() error
}

// Listener accepts inbound transports.
type Listener interface {
	// Open binds the listener to address.  A second Open fails with
	// errors.ErrAlreadyBound.
	Open(ctx context.Context, address string) error

	// Accept blocks for the next inbound connection.
	Accept() (Transport, error)

	// Close stops accepting and unblocks a pending Accept.
	Close() error

	// Addr returns the bound address, or nil before Open.
	Addr() net.Addr
}

// Dialer opens outbound network connections, used by capabilities that
// relay a session to a backend service.
type Dialer interface {
	// Dial establishes a connection to the given network address.
	Dial(ctx context.Context, network, address string) (net.Conn, error)

	// Close releases any long-lived resources held by the dialer.
	// Stateless dialers return nil.
	Close() error
}
