// Package session represents a single client connection's lifecycle:
// the decoded Telnet stream, a per-connection logger and the byte
// accounting that ends up in the metrics and the closing log line.
//
// Capabilities operate on sessions rather than raw connections, so
// they never see Telnet protocol bytes.
package session

import (
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/Bemazed/grid-gateway/internal/metrics"
	"github.com/Bemazed/grid-gateway/internal/telnet"
	"github.com/Bemazed/grid-gateway/util"
)

// Session encapsulates the runtime context for a single connection.
// It implements io.ReadWriteCloser over the decoded stream.
type Session struct {
	ID      string
	Conn    *telnet.Conn
	Logger  *util.Logger
	Metrics *metrics.Collector
	Started time.Time

	bytesIn  atomic.Int64
	bytesOut atomic.Int64
	finished atomic.Bool
}

// New creates a Session around conn.  The logger is tagged with the
// session id and the peer address.
func New(conn *telnet.Conn, logger *util.Logger, m *metrics.Collector) *Session {
	id := uuid.NewString()
	if logger == nil {
		logger = util.NewLogger(0)
	}
	s := &Session{
		ID:      id,
		Conn:    conn,
		Metrics: m,
		Started: time.Now(),
	}
	s.Logger = logger.With("session", s.ShortID(), "peer", s.RemoteAddr())
	return s
}

// ShortID is the first block of the session UUID, used in log lines.
func (s *Session) ShortID() string {
	if len(s.ID) >= 8 {
		return s.ID[:8]
	}
	return s.ID
}

// RemoteAddr returns the client address, or "unknown".
func (s *Session) RemoteAddr() string {
	var a net.Addr
	if s.Conn != nil {
		a = s.Conn.RemoteAddr()
	}
	if a == nil {
		return "unknown"
	}
	return a.String()
}

// Read returns decoded application bytes from the client.
func (s *Session) Read(p []byte) (int, error) {
	n, err := s.Conn.Read(p)
	if n > 0 {
		s.bytesIn.Add(int64(n))
		s.Metrics.BytesReceived(int64(n))
	}
	return n, err
}

// Write sends p to the client unmodified.
func (s *Session) Write(p []byte) (int, error) {
	if err := s.Conn.Send(p); err != nil {
		return 0, err
	}
	s.bytesOut.Add(int64(len(p)))
	s.Metrics.BytesSent(int64(len(p)))
	return len(p), nil
}

// WriteString sends str to the client.
func (s *Session) WriteString(str string) (int, error) {
	return s.Write([]byte(str))
}

// Close closes the decoder and its transport.
func (s *Session) Close() error {
	return s.Conn.Close()
}

// BytesIn returns the decoded bytes received so far.
func (s *Session) BytesIn() int64 { return s.bytesIn.Load() }

// BytesOut returns the bytes sent so far.
func (s *Session) BytesOut() int64 { return s.bytesOut.Load() }

// Summary is a one-line human-readable account of the session.
func (s *Session) Summary() string {
	return fmt.Sprintf("%s in, %s out, %s",
		humanize.Bytes(uint64(s.BytesIn())),
		humanize.Bytes(uint64(s.BytesOut())),
		time.Since(s.Started).Truncate(time.Millisecond))
}

// Finish records the end of the session in the metrics and the log.
// Only the first call has an effect.
func (s *Session) Finish(err error) {
	if s.finished.Swap(true) {
		return
	}
	s.Metrics.ConnectionClosed(time.Since(s.Started))
	if err != nil {
		s.Metrics.RecordError(err.Error())
		s.Logger.Warn("session ended: %v (%s)", err, s.Summary())
		return
	}
	s.Logger.Verbose("session closed (%s)", s.Summary())
}
