package core

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/Bemazed/grid-gateway/internal/capability"
	gwerr "github.com/Bemazed/grid-gateway/internal/errors"
	"github.com/Bemazed/grid-gateway/internal/metrics"
	"github.com/Bemazed/grid-gateway/internal/retry"
	"github.com/Bemazed/grid-gateway/internal/session"
	"github.com/Bemazed/grid-gateway/internal/telnet"
	"github.com/Bemazed/grid-gateway/internal/transport"
	"github.com/Bemazed/grid-gateway/util"
)

// rejectMessage is sent to clients turned away by MaxSessions.
const rejectMessage = "too many connections\r\n"

// Gateway accepts transports from a Listener, wraps each in a Telnet
// decoder and runs the capability on the resulting session.  One
// goroutine serves each connection.
type Gateway struct {
	Listener   transport.Listener
	Address    string // passed to Listener.Open
	Capability capability.Capability
	Logger     *util.Logger
	Metrics    *metrics.Collector

	BufferSize  int           // telnet decoder buffer; default telnet.DefaultBufferSize
	MaxSessions int           // concurrent sessions, 0 = unlimited
	AcceptRate  float64       // accepts per second, 0 = unlimited
	AcceptBurst int           // token bucket size for AcceptRate
	IdleTimeout time.Duration // per-read silence limit, 0 = none
	GracePeriod time.Duration // shutdown wait before sessions are cut
	MetricsAddr string        // serve GET /metrics here when set

	// AcceptBackoff schedules retries of temporary accept failures.
	// Nil uses retry.AcceptBackoff.
	AcceptBackoff *retry.Backoff

	readyOnce sync.Once
	ready     chan struct{}

	mu          sync.Mutex
	cancel      context.CancelFunc
	sessions    map[*session.Session]struct{}
	metricsAddr net.Addr
	wg          sync.WaitGroup
}

var _ Mode = (*Gateway)(nil)

// Ready is closed once the listener is bound and Addr is valid.
func (g *Gateway) Ready() <-chan struct{} {
	g.readyOnce.Do(func() { g.ready = make(chan struct{}) })
	return g.ready
}

// Addr returns the address the listener is bound to, nil before Ready.
func (g *Gateway) Addr() net.Addr { return g.Listener.Addr() }

// MetricsEndpoint returns the bound metrics address, nil when disabled
// or before Ready.
func (g *Gateway) MetricsEndpoint() net.Addr {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.metricsAddr
}

// ActiveSessions returns the number of sessions being served.
func (g *Gateway) ActiveSessions() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sessions)
}

// Run opens the listener and serves connections until ctx is cancelled
// or Shutdown is called.  Active sessions get GracePeriod to finish
// before they are closed; Run returns once every session has ended.
func (g *Gateway) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g.mu.Lock()
	g.cancel = cancel
	g.mu.Unlock()

	if err := g.Listener.Open(ctx, g.Address); err != nil {
		return err
	}
	defer g.Listener.Close()
	g.Logger.Info("listening on %s", g.Listener.Addr())

	var metricsLn net.Listener
	if g.MetricsAddr != "" {
		ln, err := net.Listen("tcp", g.MetricsAddr)
		if err != nil {
			return gwerr.Wrap("listen", g.MetricsAddr, err)
		}
		metricsLn = ln
		g.mu.Lock()
		g.metricsAddr = ln.Addr()
		g.mu.Unlock()
		g.Logger.Verbose("metrics on http://%s/metrics", ln.Addr())
	}

	g.Ready()
	close(g.ready)

	// Sessions outlive ctx by up to GracePeriod.
	sessCtx, cancelSessions := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelSessions()

	grp, gctx := errgroup.WithContext(ctx)

	if metricsLn != nil {
		srv := g.metricsServer()
		grp.Go(func() error {
			if err := srv.Serve(metricsLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		grp.Go(func() error {
			<-gctx.Done()
			sctx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			return srv.Shutdown(sctx)
		})
	}

	grp.Go(func() error {
		<-gctx.Done()
		return g.Listener.Close()
	})

	grp.Go(func() error {
		defer cancel()
		return g.acceptLoop(gctx, sessCtx)
	})

	err := grp.Wait()
	g.drain(cancelSessions)
	return err
}

// Shutdown stops accepting and lets Run drain its sessions.
func (g *Gateway) Shutdown() {
	g.mu.Lock()
	cancel := g.cancel
	g.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// ── accept loop ──────────────────────────────────────────────────────

func (g *Gateway) acceptLoop(ctx, sessCtx context.Context) error {
	var limiter *rate.Limiter
	if g.AcceptRate > 0 {
		burst := g.AcceptBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(g.AcceptRate), burst)
	}

	var sem *semaphore.Weighted
	if g.MaxSessions > 0 {
		sem = semaphore.NewWeighted(int64(g.MaxSessions))
	}

	bo := g.AcceptBackoff
	if bo == nil {
		bo = retry.AcceptBackoff()
	}
	sched := *bo
	sched.OnRetry = func(attempt int, err error, wait time.Duration) {
		g.Metrics.RecordError(err.Error())
		g.Logger.Warn("accept failed (attempt %d): %v, retrying in %s", attempt, err, wait)
	}

	for {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return nil
			}
		}

		var tr transport.Transport
		err := sched.Do(ctx, func(int) error {
			var err error
			tr, err = g.Listener.Accept()
			if err != nil && !gwerr.IsRetryable(err) {
				return retry.Permanent(err)
			}
			return err
		})
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, gwerr.ErrListenerClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		if sem != nil && !sem.TryAcquire(1) {
			g.reject(tr)
			continue
		}

		g.wg.Add(1)
		go func() {
			defer g.wg.Done()
			if sem != nil {
				defer sem.Release(1)
			}
			g.serve(sessCtx, tr)
		}()
	}
}

func (g *Gateway) reject(tr transport.Transport) {
	_ = tr.Send([]byte(rejectMessage))
	_ = tr.Close()
	g.Metrics.ConnectionRejected()
	g.Logger.Warn("rejected connection: %d sessions active", g.MaxSessions)
}

// ── per connection ───────────────────────────────────────────────────

func (g *Gateway) serve(ctx context.Context, tr transport.Transport) {
	if g.IdleTimeout > 0 {
		if it, ok := tr.(interface{ SetIdleTimeout(time.Duration) }); ok {
			it.SetIdleTimeout(g.IdleTimeout)
		}
	}

	size := g.BufferSize
	if size == 0 {
		size = telnet.DefaultBufferSize
	}
	tc, err := telnet.New(tr, size,
		telnet.WithObserver(g.Metrics),
		telnet.WithLogger(g.Logger))
	if err != nil {
		_ = tr.Close()
		g.Metrics.RecordError(err.Error())
		g.Logger.Error("session setup: %v", err)
		return
	}

	sess := session.New(tc, g.Logger, g.Metrics)
	g.track(sess)
	defer g.untrack(sess)

	g.Metrics.ConnectionOpened()
	sess.Logger.Verbose("connection opened")

	err = g.Capability.Handle(ctx, sess)
	_ = sess.Close()
	if ctx.Err() != nil && gwerr.IsClosed(err) {
		err = nil
	}
	sess.Finish(err)
}

func (g *Gateway) track(s *session.Session) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sessions == nil {
		g.sessions = make(map[*session.Session]struct{})
	}
	g.sessions[s] = struct{}{}
}

func (g *Gateway) untrack(s *session.Session) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.sessions, s)
}

// drain waits up to GracePeriod for sessions to end on their own, then
// cancels and closes whatever is left.
func (g *Gateway) drain(cancelSessions context.CancelFunc) {
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	if n := g.ActiveSessions(); n > 0 {
		g.Logger.Info("waiting up to %s for %d sessions", g.GracePeriod, n)
	}

	timer := time.NewTimer(g.GracePeriod)
	defer timer.Stop()

	select {
	case <-done:
		return
	case <-timer.C:
	}

	g.mu.Lock()
	left := make([]*session.Session, 0, len(g.sessions))
	for s := range g.sessions {
		left = append(left, s)
	}
	g.mu.Unlock()

	g.Logger.Warn("grace period over, closing %d sessions", len(left))
	cancelSessions()
	for _, s := range left {
		_ = s.Close()
	}
	<-done
}

func (g *Gateway) metricsServer() *http.Server {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", g.Metrics.Handler())
	return &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
