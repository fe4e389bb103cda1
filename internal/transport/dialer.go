package transport

import (
	"context"
	"net"
	"time"
)

// TCPDialer opens connections to relay backends.
type TCPDialer struct {
	Timeout   time.Duration
	KeepAlive time.Duration // 0 uses the net package default, <0 disables
}

// Dial connects to address.  Nagle is turned off on the result since
// relayed Telnet traffic is mostly single keystrokes.
func (d *TCPDialer) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	nd := net.Dialer{Timeout: d.Timeout, KeepAlive: d.KeepAlive}
	c, err := nd.DialContext(ctx, network, address)
	if err != nil {
		return nil, err
	}
	if tc, ok := c.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	return c, nil
}

// Close is a no-op; the dialer holds no connections.
func (d *TCPDialer) Close() error { return nil }
