package transport

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"io"
	"net"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	gwerr "github.com/Bemazed/grid-gateway/internal/errors"
	"github.com/Bemazed/grid-gateway/internal/retry"
)

const testForwardPort = 2222

type forwardGrant struct {
	conn      *ssh.ServerConn
	requested channelForwardMsg
}

// sshServer is a minimal in-process SSH server that grants
// tcpip-forward requests and lets tests push forwarded channels.
type sshServer struct {
	ln          net.Listener
	password    string
	denyForward bool
	grants      chan forwardGrant
	handshakes  atomic.Int32
}

func startSSHServer(t *testing.T, password string) *sshServer {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(priv)
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	s := &sshServer{ln: ln, password: password, grants: make(chan forwardGrant, 4)}
	cfg := &ssh.ServerConfig{
		PasswordCallback: func(_ ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if string(pass) == s.password {
				return nil, nil
			}
			return nil, errors.New("password rejected")
		},
	}
	cfg.AddHostKey(signer)

	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go s.serve(c, cfg)
		}
	}()
	return s
}

func (s *sshServer) serve(c net.Conn, cfg *ssh.ServerConfig) {
	s.handshakes.Add(1)
	sc, chans, reqs, err := ssh.NewServerConn(c, cfg)
	if err != nil {
		c.Close()
		return
	}
	go func() {
		for nc := range chans {
			_ = nc.Reject(ssh.Prohibited, "no sessions")
		}
	}()
	for req := range reqs {
		switch req.Type {
		case "tcpip-forward":
			if s.denyForward {
				_ = req.Reply(false, nil)
				continue
			}
			var msg channelForwardMsg
			_ = ssh.Unmarshal(req.Payload, &msg)
			_ = req.Reply(true, ssh.Marshal(&forwardReply{Port: testForwardPort}))
			s.grants <- forwardGrant{conn: sc, requested: msg}
		default:
			if req.WantReply {
				_ = req.Reply(false, nil)
			}
		}
	}
}

func (s *sshServer) config(password string) SSHConfig {
	host, port, _ := net.SplitHostPort(s.ln.Addr().String())
	p, _ := strconv.Atoi(port)
	return SSHConfig{
		User:        "grid",
		Host:        host,
		Port:        p,
		ConnTimeout: 2 * time.Second,
		Auth:        []ssh.AuthMethod{ssh.Password(password)},
	}
}

func nextGrant(t *testing.T, s *sshServer) forwardGrant {
	t.Helper()
	select {
	case g := <-s.grants:
		return g
	case <-time.After(5 * time.Second):
		t.Fatal("no tcpip-forward request reached the server")
		return forwardGrant{}
	}
}

// pushChannel opens a forwarded-tcpip channel from the server side and
// returns it once the client has accepted.
func pushChannel(t *testing.T, sc *ssh.ServerConn) <-chan ssh.Channel {
	t.Helper()
	out := make(chan ssh.Channel, 1)
	go func() {
		payload := ssh.Marshal(&forwardedTCPPayload{
			Addr: "0.0.0.0", Port: testForwardPort,
			OriginAddr: "10.1.2.3", OriginPort: 5555,
		})
		ch, reqs, err := sc.OpenChannel("forwarded-tcpip", payload)
		if err != nil {
			close(out)
			return
		}
		go ssh.DiscardRequests(reqs)
		out <- ch
	}()
	return out
}

func quickBackoff() *retry.Backoff {
	return &retry.Backoff{InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, MaxAttempts: 3}
}

func TestSSHListener_ForwardedConnection(t *testing.T) {
	srv := startSSHServer(t, "secret")

	l := NewSSHListener(srv.config("secret"), nil)
	l.Backoff = quickBackoff()
	require.NoError(t, l.Open(context.Background(), "0.0.0.0:0"))
	defer l.Close()

	assert.ErrorIs(t, l.Open(context.Background(), "0.0.0.0:0"), gwerr.ErrAlreadyBound)
	assert.Equal(t, testForwardPort, l.Addr().(*net.TCPAddr).Port, "server-assigned port")

	g := nextGrant(t, srv)
	assert.Equal(t, "0.0.0.0", g.requested.Addr)
	chc := pushChannel(t, g.conn)

	tr, err := l.Accept()
	require.NoError(t, err)
	defer tr.Close()

	ch := <-chc
	require.NotNil(t, ch)
	defer ch.Close()

	assert.Equal(t, "10.1.2.3:5555", tr.(*Conn).RemoteAddr().String())

	_, err = ch.Write([]byte("hello"))
	require.NoError(t, err)
	buf := make([]byte, 5)
	_, err = io.ReadFull(readerFunc(tr.Read), buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf))

	require.NoError(t, tr.Send([]byte("back")))
	_, err = io.ReadFull(ch, buf[:4])
	require.NoError(t, err)
	assert.Equal(t, "back", string(buf[:4]))
}

func TestSSHListener_AuthFailureIsNotRetried(t *testing.T) {
	srv := startSSHServer(t, "secret")

	l := NewSSHListener(srv.config("wrong"), nil)
	l.Backoff = quickBackoff()

	err := l.Open(context.Background(), "0.0.0.0:0")
	assert.ErrorIs(t, err, gwerr.ErrAuthFailed)
	assert.Equal(t, int32(1), srv.handshakes.Load())
	assert.Nil(t, l.Addr())
}

func TestSSHListener_ForwardDenied(t *testing.T) {
	srv := startSSHServer(t, "secret")
	srv.denyForward = true

	l := NewSSHListener(srv.config("secret"), nil)
	l.Backoff = quickBackoff()

	err := l.Open(context.Background(), "0.0.0.0:0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "denied")
	assert.Equal(t, int32(1), srv.handshakes.Load())
}

func TestSSHListener_ConnectRetriesThenFails(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().(*net.TCPAddr)
	ln.Close()

	var attempts []int
	l := NewSSHListener(SSHConfig{Host: "127.0.0.1", Port: addr.Port, User: "grid",
		Auth: []ssh.AuthMethod{ssh.Password("x")}}, nil)
	l.Backoff = quickBackoff()
	l.Backoff.OnRetry = func(attempt int, _ error, _ time.Duration) { attempts = append(attempts, attempt) }

	err = l.Open(context.Background(), "0.0.0.0:0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max retries (3) exceeded")
	assert.Equal(t, []int{1, 2}, attempts)
}

func TestSSHListener_Reconnect(t *testing.T) {
	srv := startSSHServer(t, "secret")

	cfg := srv.config("secret")
	cfg.Reconnect = true
	var reconnects atomic.Int32

	l := NewSSHListener(cfg, nil)
	l.Backoff = quickBackoff()
	l.OnReconnect = func() { reconnects.Add(1) }
	require.NoError(t, l.Open(context.Background(), "0.0.0.0:0"))
	defer l.Close()

	first := nextGrant(t, srv)

	accepted := make(chan Transport, 1)
	go func() {
		tr, err := l.Accept()
		if err == nil {
			accepted <- tr
		}
	}()

	first.conn.Close()

	second := nextGrant(t, srv)
	assert.Equal(t, uint32(testForwardPort), second.requested.Port, "rebinds the assigned port")
	chc := pushChannel(t, second.conn)

	select {
	case tr := <-accepted:
		tr.Close()
	case <-time.After(5 * time.Second):
		t.Fatal("Accept did not survive the reconnect")
	}
	if ch := <-chc; ch != nil {
		ch.Close()
	}
	assert.Equal(t, int32(1), reconnects.Load())
}

func TestSSHListener_CloseUnblocksAccept(t *testing.T) {
	srv := startSSHServer(t, "secret")

	l := NewSSHListener(srv.config("secret"), nil)
	l.Backoff = quickBackoff()
	require.NoError(t, l.Open(context.Background(), "0.0.0.0:0"))

	errc := make(chan error, 1)
	go func() {
		_, err := l.Accept()
		errc <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, gwerr.ErrListenerClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("Accept did not return after Close")
	}
}

func TestSSHListener_NotBound(t *testing.T) {
	l := NewSSHListener(SSHConfig{Host: "127.0.0.1"}, nil)
	_, err := l.Accept()
	assert.ErrorIs(t, err, gwerr.ErrNotBound)

	assert.Error(t, l.Open(context.Background(), "no-port"))
}
