package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	gwerr "github.com/Bemazed/grid-gateway/internal/errors"
	"github.com/Bemazed/grid-gateway/internal/retry"
	"github.com/Bemazed/grid-gateway/util"
)

// SSHConfig describes the SSH gateway a reverse-tunnel listener dials.
type SSHConfig struct {
	User          string
	Host          string
	Port          int
	KeyPath       string
	PromptPass    bool
	UseAgent      bool
	StrictHostKey bool
	KnownHosts    string
	ConnTimeout   time.Duration

	// KeepAlive is the interval between keepalive@openssh.com probes.
	// Zero disables them.
	KeepAlive time.Duration

	// Reconnect re-establishes the tunnel when the SSH connection drops
	// instead of failing Accept.
	Reconnect bool

	// Auth, when non-empty, replaces the methods built from the fields
	// above.
	Auth []ssh.AuthMethod
}

func (c *SSHConfig) addr() string {
	return util.FormatAddr(c.Host, c.Port)
}

// errTunnelDown is returned by forwardListener.accept when the SSH
// connection underneath it has gone away.
var errTunnelDown = errors.New("ssh connection lost")

// SSHListener is a Listener that publishes the gateway on a remote SSH
// server through a tcpip-forward request, so clients can reach it via
// a bastion without any inbound port on this host.
type SSHListener struct {
	cfg    SSHConfig
	logger *util.Logger

	// Backoff schedules connect attempts.  Nil uses retry.DefaultBackoff.
	Backoff *retry.Backoff

	// OnReconnect is called each time a lost tunnel is re-established.
	OnReconnect func()

	mu       sync.Mutex
	cancel   context.CancelFunc
	ctx      context.Context
	client   *ssh.Client
	fwd      *forwardListener
	bindHost string
	bindPort int
	bound    bool
	closed   bool
}

// NewSSHListener returns an unbound SSH reverse-tunnel listener.
func NewSSHListener(cfg SSHConfig, logger *util.Logger) *SSHListener {
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.ConnTimeout == 0 {
		cfg.ConnTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = util.NewLogger(0)
	}
	return &SSHListener{cfg: cfg, logger: logger}
}

// Open connects to the SSH server and asks it to listen on address
// ("host:port" on the server side; port 0 lets the server choose).
func (l *SSHListener) Open(ctx context.Context, address string) error {
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return gwerr.Wrap("listen", address, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 65535 {
		return gwerr.Wrap("listen", address, fmt.Errorf("invalid port %q", portStr))
	}

	l.mu.Lock()
	switch {
	case l.bound:
		l.mu.Unlock()
		return gwerr.ErrAlreadyBound
	case l.closed:
		l.mu.Unlock()
		return gwerr.ErrListenerClosed
	}
	l.bound = true
	l.mu.Unlock()

	client, fwd, err := l.establish(ctx, host, port)
	if err != nil {
		l.mu.Lock()
		l.bound = false
		l.mu.Unlock()
		return err
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		fwd.close()
		client.Close()
		return gwerr.ErrListenerClosed
	}
	l.ctx, l.cancel = context.WithCancel(context.Background())
	l.client, l.fwd = client, fwd
	l.bindHost, l.bindPort = host, int(fwd.port)
	kctx := l.ctx
	l.mu.Unlock()

	l.logger.Info("ssh: listening on %s:%d via %s", host, fwd.port, l.cfg.addr())
	go l.keepAlive(kctx, client)
	return nil
}

// Accept waits for the next forwarded connection.
func (l *SSHListener) Accept() (Transport, error) {
	for {
		l.mu.Lock()
		fwd, closed := l.fwd, l.closed
		l.mu.Unlock()

		if closed {
			return nil, gwerr.ErrListenerClosed
		}
		if fwd == nil {
			return nil, gwerr.ErrNotBound
		}

		c, err := fwd.accept()
		if err == nil {
			return NewConn(c), nil
		}
		if l.isClosed() {
			return nil, gwerr.ErrListenerClosed
		}
		if !errors.Is(err, errTunnelDown) || !l.cfg.Reconnect {
			return nil, gwerr.WrapSSH("accept", l.cfg.Host, l.cfg.Port, err)
		}
		if err := l.reconnect(); err != nil {
			return nil, err
		}
	}
}

// Close cancels the remote forward and disconnects.  Safe to call more
// than once.
func (l *SSHListener) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	cancel, fwd, client := l.cancel, l.fwd, l.client
	l.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if fwd != nil {
		fwd.close()
	}
	if client != nil {
		return client.Close()
	}
	return nil
}

// Addr returns the address bound on the SSH server, or nil before Open.
func (l *SSHListener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fwd == nil {
		return nil
	}
	return &net.TCPAddr{IP: net.ParseIP(l.bindHost), Port: l.bindPort}
}

func (l *SSHListener) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// ── connection management ────────────────────────────────────────────

// establish dials the server and requests the forward, retrying with
// backoff.  Authentication failures and refused forwards are final.
func (l *SSHListener) establish(ctx context.Context, host string, port int) (*ssh.Client, *forwardListener, error) {
	b := l.Backoff
	if b == nil {
		b = retry.DefaultBackoff()
	}

	var (
		client *ssh.Client
		fwd    *forwardListener
	)
	err := b.Do(ctx, func(attempt int) error {
		c, err := l.dial(ctx)
		if err != nil {
			if errors.Is(err, gwerr.ErrAuthFailed) {
				return retry.Permanent(err)
			}
			l.logger.Warn("ssh: connect to %s (attempt %d): %v", l.cfg.addr(), attempt, err)
			return err
		}
		f, err := listenRemoteForward(c, host, port)
		if err != nil {
			c.Close()
			return retry.Permanent(gwerr.WrapSSH("forward", l.cfg.Host, l.cfg.Port, err))
		}
		client, fwd = c, f
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return client, fwd, nil
}

func (l *SSHListener) dial(ctx context.Context) (*ssh.Client, error) {
	methods := l.cfg.Auth
	if len(methods) == 0 {
		var err error
		if methods, err = authMethods(&l.cfg); err != nil {
			return nil, gwerr.WrapSSH("auth", l.cfg.Host, l.cfg.Port, fmt.Errorf("%w: %v", gwerr.ErrAuthFailed, err))
		}
	}
	hk, err := hostKeyCallback(&l.cfg)
	if err != nil {
		return nil, gwerr.WrapSSH("hostkey", l.cfg.Host, l.cfg.Port, err)
	}

	sshCfg := &ssh.ClientConfig{
		User:            l.cfg.User,
		Auth:            methods,
		HostKeyCallback: hk,
		Timeout:         l.cfg.ConnTimeout,
		BannerCallback: func(message string) error {
			l.logger.Info("ssh: %s", strings.TrimSpace(message))
			return nil
		},
	}

	addr := l.cfg.addr()
	l.logger.Debug("ssh: dialing %s as %s", addr, l.cfg.User)

	d := net.Dialer{Timeout: l.cfg.ConnTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, gwerr.Wrap("dial", addr, err)
	}

	sc, chans, reqs, err := ssh.NewClientConn(conn, addr, sshCfg)
	if err != nil {
		conn.Close()
		if strings.Contains(err.Error(), "unable to authenticate") {
			err = fmt.Errorf("%w: %v", gwerr.ErrAuthFailed, err)
		}
		return nil, gwerr.WrapSSH("handshake", l.cfg.Host, l.cfg.Port, err)
	}
	return ssh.NewClient(sc, chans, reqs), nil
}

// reconnect replaces a dead tunnel, rebinding the same remote port.
func (l *SSHListener) reconnect() error {
	l.mu.Lock()
	ctx, old := l.ctx, l.client
	host, port := l.bindHost, l.bindPort
	l.mu.Unlock()

	if old != nil {
		old.Close()
	}
	l.logger.Warn("ssh: tunnel to %s lost, reconnecting", l.cfg.addr())
	if l.OnReconnect != nil {
		l.OnReconnect()
	}

	client, fwd, err := l.establish(ctx, host, port)
	if err != nil {
		if l.isClosed() {
			return gwerr.ErrListenerClosed
		}
		return err
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		fwd.close()
		client.Close()
		return gwerr.ErrListenerClosed
	}
	l.client, l.fwd = client, fwd
	l.mu.Unlock()

	l.logger.Info("ssh: tunnel re-established")
	go l.keepAlive(ctx, client)
	return nil
}

// keepAlive probes the server periodically and closes the client when
// a probe fails, which surfaces as errTunnelDown in Accept.
func (l *SSHListener) keepAlive(ctx context.Context, client *ssh.Client) {
	if l.cfg.KeepAlive <= 0 {
		return
	}
	t := time.NewTicker(l.cfg.KeepAlive)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		if _, _, err := client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
			l.logger.Warn("ssh: keepalive failed: %v", err)
			client.Close()
			return
		}
		l.logger.Debug("ssh: keepalive ok")
	}
}

// ── remote forward (RFC 4254 §7) ─────────────────────────────────────

type channelForwardMsg struct {
	Addr string
	Port uint32
}

type forwardReply struct {
	Port uint32
}

type forwardedTCPPayload struct {
	Addr       string
	Port       uint32
	OriginAddr string
	OriginPort uint32
}

// forwardListener hands out forwarded-tcpip channels.  It accepts every
// channel regardless of the bind address the server echoes back, which
// ssh.Client.Listen does not.
type forwardListener struct {
	client   *ssh.Client
	addr     string
	port     uint32
	incoming <-chan ssh.NewChannel
	done     chan struct{}
	once     sync.Once
}

func listenRemoteForward(client *ssh.Client, addr string, port int) (*forwardListener, error) {
	incoming := client.HandleChannelOpen("forwarded-tcpip")
	if incoming == nil {
		return nil, errors.New("forwarded-tcpip handler already registered")
	}

	msg := channelForwardMsg{Addr: addr, Port: uint32(port)}
	ok, payload, err := client.SendRequest("tcpip-forward", true, ssh.Marshal(&msg))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("tcpip-forward %s denied by server", net.JoinHostPort(addr, strconv.Itoa(port)))
	}

	if port == 0 {
		var reply forwardReply
		if err := ssh.Unmarshal(payload, &reply); err == nil {
			msg.Port = reply.Port
		}
	}

	return &forwardListener{
		client:   client,
		addr:     addr,
		port:     msg.Port,
		incoming: incoming,
		done:     make(chan struct{}),
	}, nil
}

func (f *forwardListener) accept() (net.Conn, error) {
	select {
	case <-f.done:
		return nil, gwerr.ErrListenerClosed
	case nc, ok := <-f.incoming:
		if !ok {
			return nil, errTunnelDown
		}
		ch, reqs, err := nc.Accept()
		if err != nil {
			return nil, fmt.Errorf("channel accept: %w", err)
		}
		go ssh.DiscardRequests(reqs)

		var raddr net.Addr = &net.TCPAddr{}
		var p forwardedTCPPayload
		if err := ssh.Unmarshal(nc.ExtraData(), &p); err == nil {
			raddr = &net.TCPAddr{IP: net.ParseIP(p.OriginAddr), Port: int(p.OriginPort)}
		}
		return &chanConn{Channel: ch, raddr: raddr}, nil
	}
}

func (f *forwardListener) close() {
	f.once.Do(func() {
		close(f.done)
		msg := channelForwardMsg{Addr: f.addr, Port: f.port}
		f.client.SendRequest("cancel-tcpip-forward", false, ssh.Marshal(&msg)) //nolint:errcheck
	})
}

// chanConn adapts an ssh.Channel to net.Conn.  Deadlines are not
// supported by SSH channels and are ignored.
type chanConn struct {
	ssh.Channel
	raddr net.Addr
}

func (c *chanConn) LocalAddr() net.Addr                { return &net.TCPAddr{} }
func (c *chanConn) RemoteAddr() net.Addr               { return c.raddr }
func (c *chanConn) SetDeadline(_ time.Time) error      { return nil }
func (c *chanConn) SetReadDeadline(_ time.Time) error  { return nil }
func (c *chanConn) SetWriteDeadline(_ time.Time) error { return nil }
