package util

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"

	gwerr "github.com/Bemazed/grid-gateway/internal/errors"
)

// DefaultBufSize is the standard buffer size for relay copies (32 KiB).
const DefaultBufSize = 32 * 1024

// closeWriter is implemented by *net.TCPConn and friends.
type closeWriter interface {
	CloseWrite() error
}

// Bridge shuffles data between a client stream and a backend stream
// until either side reaches EOF or the context is cancelled.  Both
// streams are closed before Bridge returns.  The returned counts are
// the bytes copied client→backend and backend→client.
func Bridge(ctx context.Context, client, backend io.ReadWriteCloser) (up, down int64, err error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, 2)

	// backend → client
	wg.Add(1)
	go func() {
		defer wg.Done()
		n, err := copyPooled(client, backend)
		down = n
		errCh <- err
		cancel()
	}()

	// client → backend
	wg.Add(1)
	go func() {
		defer wg.Done()
		n, err := copyPooled(backend, client)
		up = n
		// Half-close so the backend sees EOF but can still flush its
		// reply through the other goroutine.
		if cw, ok := backend.(closeWriter); ok {
			cw.CloseWrite() //nolint:errcheck
		}
		errCh <- err
		if err != nil {
			cancel()
		}
	}()

	<-ctx.Done()
	client.Close()  // unblock any pending reads/writes
	backend.Close() //nolint:errcheck
	wg.Wait()
	close(errCh)

	for e := range errCh {
		if e != nil && !isHarmless(e) {
			return up, down, e
		}
	}
	return up, down, nil
}

func copyPooled(dst io.Writer, src io.Reader) (int64, error) {
	buf := GetBuf()
	defer PutBuf(buf)
	return io.CopyBuffer(dst, src, *buf)
}

// isHarmless returns true for errors that are expected during shutdown.
func isHarmless(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || gwerr.IsClosed(err) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return errors.Is(opErr.Err, net.ErrClosed)
	}
	return false
}
