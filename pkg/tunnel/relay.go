// Package tunnel relays byte streams between TCP and vsock endpoints so attestation traffic can
// cross the enclave boundary.
package tunnel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"golang.org/x/sync/errgroup"
)

const bufSize = 1024

// HostCID is the vsock context id of the parent instance.
const HostCID = 3

// ACK is written back to the enclave once the requested target is connected.
var ACK = []byte{0x06, '\n'}

var bufPool = sync.Pool{New: func() any { b := make([]byte, bufSize); return &b }}

// Relay copies a to b and b to a until both directions reach EOF or ctx is done. When one
// direction ends its destination is half-closed, or fully closed if it cannot half-close.
func Relay(ctx context.Context, a, b net.Conn) error {
	stop := context.AfterFunc(ctx, func() {
		_ = a.Close()
		_ = b.Close()
	})
	defer stop()

	var group errgroup.Group
	group.Go(func() error {
		if err := pipe(b, a); err != nil {
			return fmt.Errorf("failed to copy data from %s to %s: %w", a.RemoteAddr(), b.RemoteAddr(), err)
		}
		return nil
	})
	group.Go(func() error {
		if err := pipe(a, b); err != nil {
			return fmt.Errorf("failed to copy data from %s to %s: %w", b.RemoteAddr(), a.RemoteAddr(), err)
		}
		return nil
	})
	err := group.Wait()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func pipe(dst, src net.Conn) error {
	buf := bufPool.Get().(*[]byte)
	defer bufPool.Put(buf)
	_, err := io.CopyBuffer(dst, src, *buf)
	closeWrite(dst)
	if err != nil && !isClosed(err) {
		return err
	}
	return nil
}

type halfCloser interface {
	CloseWrite() error
}

func closeWrite(conn net.Conn) {
	if hc, ok := conn.(halfCloser); ok {
		if err := hc.CloseWrite(); err == nil {
			return
		}
	}
	_ = conn.Close()
}

func isClosed(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}
