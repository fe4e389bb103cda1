// Package metrics tracks runtime statistics of a running gateway and
// exposes them in the Prometheus text format.
//
// All methods are safe for concurrent use.  A nil *Collector is a
// valid no-op receiver, so callers never need to nil-check.
package metrics

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"

	"github.com/Bemazed/grid-gateway/internal/telnet"
)

const namespace = "grid_gateway"

// Collector is the gateway's metrics registry.  It also satisfies
// telnet.Observer so decoders can report protocol traffic directly.
type Collector struct {
	registry *prometheus.Registry

	connectionsActive prometheus.Gauge
	connectionsTotal  prometheus.Counter
	rejectedTotal     prometheus.Counter
	bytesIn           prometheus.Counter
	bytesOut          prometheus.Counter
	tunnelReconnects  prometheus.Counter
	errorsTotal       prometheus.Counter
	sessionSeconds    prometheus.Histogram
	telnetCommands    *prometheus.CounterVec
	negotiations      *prometheus.CounterVec

	mu           sync.RWMutex
	startTime    time.Time
	lastError    time.Time
	lastErrorMsg string
}

var _ telnet.Observer = (*Collector)(nil)

// New creates a collector on its own registry, with the Go runtime and
// process collectors included.
func New() *Collector {
	c := &Collector{
		registry:  prometheus.NewRegistry(),
		startTime: time.Now(),

		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Telnet sessions currently open.",
		}),
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Telnet sessions accepted since start.",
		}),
		rejectedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_rejected_total",
			Help:      "Connections turned away by the session limit.",
		}),
		bytesIn: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_received_total",
			Help:      "Decoded application bytes received from clients.",
		}),
		bytesOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_sent_total",
			Help:      "Bytes sent to clients.",
		}),
		tunnelReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tunnel_reconnects_total",
			Help:      "SSH reverse tunnel reconnections.",
		}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Session and accept errors.",
		}),
		sessionSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Lifetime of telnet sessions.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		}),
		telnetCommands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "telnet_commands_total",
			Help:      "Telnet commands received, by command.",
		}, []string{"command"}),
		negotiations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "telnet_negotiations_total",
			Help:      "Option negotiations received, by direction and outcome.",
		}, []string{"direction", "result"}),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.connectionsActive, c.connectionsTotal, c.rejectedTotal,
		c.bytesIn, c.bytesOut, c.tunnelReconnects, c.errorsTotal,
		c.sessionSeconds, c.telnetCommands, c.negotiations,
	)
	return c
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// ── Connection metrics ───────────────────────────────────────────────

// ConnectionOpened increments both the active and total counters.
func (c *Collector) ConnectionOpened() {
	if c == nil {
		return
	}
	c.connectionsActive.Inc()
	c.connectionsTotal.Inc()
}

// ConnectionClosed decrements the active counter and records how long
// the session lasted.
func (c *Collector) ConnectionClosed(lifetime time.Duration) {
	if c == nil {
		return
	}
	c.connectionsActive.Dec()
	c.sessionSeconds.Observe(lifetime.Seconds())
}

// ConnectionRejected counts a connection refused by the session limit.
func (c *Collector) ConnectionRejected() {
	if c == nil {
		return
	}
	c.rejectedTotal.Inc()
}

// ActiveConnections returns the current number of open sessions.
func (c *Collector) ActiveConnections() int64 {
	if c == nil {
		return 0
	}
	return int64(gaugeValue(c.connectionsActive))
}

// TotalConnections returns the lifetime session count.
func (c *Collector) TotalConnections() int64 {
	if c == nil {
		return 0
	}
	return int64(counterValue(c.connectionsTotal))
}

// ── I/O metrics ──────────────────────────────────────────────────────

// BytesReceived records n decoded bytes read from a client.
func (c *Collector) BytesReceived(n int64) {
	if c == nil || n <= 0 {
		return
	}
	c.bytesIn.Add(float64(n))
}

// BytesSent records n bytes written to a client.
func (c *Collector) BytesSent(n int64) {
	if c == nil || n <= 0 {
		return
	}
	c.bytesOut.Add(float64(n))
}

// TotalBytesIn returns total bytes received.
func (c *Collector) TotalBytesIn() int64 {
	if c == nil {
		return 0
	}
	return int64(counterValue(c.bytesIn))
}

// TotalBytesOut returns total bytes sent.
func (c *Collector) TotalBytesOut() int64 {
	if c == nil {
		return 0
	}
	return int64(counterValue(c.bytesOut))
}

// ── Tunnel and errors ────────────────────────────────────────────────

// TunnelReconnect records an SSH tunnel reconnection.
func (c *Collector) TunnelReconnect() {
	if c == nil {
		return
	}
	c.tunnelReconnects.Inc()
}

// TunnelReconnects returns the total tunnel reconnection count.
func (c *Collector) TunnelReconnects() int64 {
	if c == nil {
		return 0
	}
	return int64(counterValue(c.tunnelReconnects))
}

// RecordError increments the error counter and keeps msg as the most
// recent error.
func (c *Collector) RecordError(msg string) {
	if c == nil {
		return
	}
	c.errorsTotal.Inc()
	c.mu.Lock()
	c.lastError = time.Now()
	c.lastErrorMsg = msg
	c.mu.Unlock()
}

// ErrorCount returns the total number of errors recorded.
func (c *Collector) ErrorCount() int64 {
	if c == nil {
		return 0
	}
	return int64(counterValue(c.errorsTotal))
}

// ── telnet.Observer ──────────────────────────────────────────────────

// Command counts a Telnet command by its mnemonic.
func (c *Collector) Command(cmd byte) {
	if c == nil {
		return
	}
	c.telnetCommands.WithLabelValues(telnet.CommandName(cmd)).Inc()
}

// Negotiated counts an option negotiation.  WILL/WONT describe the
// client's side of the connection, DO/DONT ours.
func (c *Collector) Negotiated(cmd, _ byte, replied bool) {
	if c == nil {
		return
	}
	direction := "server"
	if cmd == telnet.WILL || cmd == telnet.WONT {
		direction = "client"
	}
	result := "duplicate"
	if replied {
		result = "refused"
	}
	c.negotiations.WithLabelValues(direction, result).Inc()
}

// CommandCount returns how many times the named command was seen.
func (c *Collector) CommandCount(name string) int64 {
	if c == nil {
		return 0
	}
	return int64(counterValue(c.telnetCommands.WithLabelValues(name)))
}

// ── Snapshot ─────────────────────────────────────────────────────────

// Snapshot is a point-in-time view of the headline metrics.
type Snapshot struct {
	Uptime              string `json:"uptime"`
	ConnectionsActive   int64  `json:"connections_active"`
	ConnectionsTotal    int64  `json:"connections_total"`
	ConnectionsRejected int64  `json:"connections_rejected"`
	BytesIn             int64  `json:"bytes_in"`
	BytesOut            int64  `json:"bytes_out"`
	TunnelReconnects    int64  `json:"tunnel_reconnects"`
	TelnetCommands      int64  `json:"telnet_commands"`
	Negotiations        int64  `json:"negotiations"`
	ErrorsTotal         int64  `json:"errors_total"`
	LastError           string `json:"last_error,omitempty"`
	LastErrorMessage    string `json:"last_error_message,omitempty"`
}

// Snapshot returns a copy of the current values.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}

	s := Snapshot{
		ConnectionsActive:   c.ActiveConnections(),
		ConnectionsTotal:    c.TotalConnections(),
		ConnectionsRejected: int64(counterValue(c.rejectedTotal)),
		BytesIn:             c.TotalBytesIn(),
		BytesOut:            c.TotalBytesOut(),
		TunnelReconnects:    c.TunnelReconnects(),
		TelnetCommands:      int64(c.familyTotal(namespace + "_telnet_commands_total")),
		Negotiations:        int64(c.familyTotal(namespace + "_telnet_negotiations_total")),
		ErrorsTotal:         c.ErrorCount(),
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	s.Uptime = time.Since(c.startTime).Truncate(time.Second).String()
	if !c.lastError.IsZero() {
		s.LastError = c.lastError.Format(time.RFC3339)
		s.LastErrorMessage = c.lastErrorMsg
	}
	return s
}

// JSON returns the snapshot as an indented JSON string.
func (c *Collector) JSON() string {
	data, _ := json.MarshalIndent(c.Snapshot(), "", "  ")
	return string(data)
}

// ── reading values back ──────────────────────────────────────────────

func counterValue(m prometheus.Metric) float64 {
	var pb dto.Metric
	if err := m.Write(&pb); err != nil {
		return 0
	}
	return pb.GetCounter().GetValue()
}

func gaugeValue(m prometheus.Metric) float64 {
	var pb dto.Metric
	if err := m.Write(&pb); err != nil {
		return 0
	}
	return pb.GetGauge().GetValue()
}

// familyTotal sums every series of a counter family.
func (c *Collector) familyTotal(name string) float64 {
	families, err := c.registry.Gather()
	if err != nil {
		return 0
	}
	var sum float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			sum += m.GetCounter().GetValue()
		}
	}
	return sum
}
