package telnet_test

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	gwerr "github.com/Bemazed/grid-gateway/internal/errors"
	"github.com/Bemazed/grid-gateway/internal/telnet"
)

// scriptedTransport replays a fixed list of read chunks and captures
// everything sent to it.  Once the script runs out, Read returns
// (0, io.EOF), or readErr when set.
type scriptedTransport struct {
	mu         sync.Mutex
	chunks     [][]byte
	lateEOF    bool // return the final chunk together with io.EOF
	readErr    error
	sendErr    error
	extraAvail int
	sent       bytes.Buffer
	reads      int
	closes     int
	closed     bool
}

func newScripted(chunks ...[]byte) *scriptedTransport {
	return &scriptedTransport{chunks: chunks}
}

func (s *scriptedTransport) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	if s.closed {
		return 0, gwerr.ErrTransportClosed
	}
	if len(s.chunks) == 0 {
		if s.readErr != nil {
			return 0, s.readErr
		}
		return 0, io.EOF
	}
	n := copy(p, s.chunks[0])
	if n < len(s.chunks[0]) {
		s.chunks[0] = s.chunks[0][n:]
	} else {
		s.chunks = s.chunks[1:]
	}
	if s.lateEOF && len(s.chunks) == 0 {
		return n, io.EOF
	}
	return n, nil
}

func (s *scriptedTransport) Available() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, gwerr.ErrTransportClosed
	}
	n := s.extraAvail
	for _, c := range s.chunks {
		n += len(c)
	}
	return n, nil
}

func (s *scriptedTransport) Send(p []byte) error {
	return s.SendN(p, len(p))
}

func (s *scriptedTransport) SendN(p []byte, n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return gwerr.ErrTransportClosed
	}
	if s.sendErr != nil {
		return s.sendErr
	}
	s.sent.Write(p[:n])
	return nil
}

func (s *scriptedTransport) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	s.closed = true
	return nil
}

func (s *scriptedTransport) Sent() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.sent.Bytes()...)
}

func (s *scriptedTransport) Reads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

// recordingObserver captures decoder events.
type recordingObserver struct {
	mu       sync.Mutex
	commands []byte
	replied  int
	skipped  int
}

func (r *recordingObserver) Command(cmd byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands = append(r.commands, cmd)
}

func (r *recordingObserver) Negotiated(_, _ byte, replied bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if replied {
		r.replied++
	} else {
		r.skipped++
	}
}

// ── helpers ──────────────────────────────────────────────────────────

func newConn(t *testing.T, tr *scriptedTransport) *telnet.Conn {
	t.Helper()
	c, err := telnet.New(tr, telnet.DefaultBufferSize)
	require.NoError(t, err)
	return c
}

// readAll drains c with a caller buffer of bufSize until io.EOF.
func readAll(t *testing.T, c *telnet.Conn, bufSize int) []byte {
	t.Helper()
	var out []byte
	buf := make([]byte, bufSize)
	for i := 0; i < 10000; i++ {
		n, err := c.Read(buf)
		out = append(out, buf[:n]...)
		if errors.Is(err, io.EOF) {
			require.Zero(t, n, "EOF must not carry data")
			return out
		}
		require.NoError(t, err)
		require.Positive(t, n, "Read returned (0, nil)")
	}
	t.Fatal("stream never reached EOF")
	return nil
}
