package server

import (
	"context"
	"fmt"
	"net"

	"golang.org/x/sync/errgroup"
	"inet.af/tcpproxy"
)

type fiberApp interface {
	Shutdown() error
	Listen(addr string) error
	Listener(listener net.Listener) error
}

// RunFiber runs a fiber server on addr until ctx is done.
func RunFiber(ctx context.Context, app fiberApp, addr string, group *errgroup.Group) {
	group.Go(func() error {
		if err := app.Listen(addr); err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("failed to shutdown server: %w", err)
		}
		return nil
	})
}

// RunFiberWithListener runs a fiber server on listener until ctx is done.
func RunFiberWithListener(ctx context.Context, app fiberApp, listener net.Listener, group *errgroup.Group) {
	group.Go(func() error {
		if err := app.Listener(listener); err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("failed to shutdown server: %w", err)
		}
		return nil
	})
}

// RunProxy forwards every TCP connection accepted on addr to target until ctx is done.
func RunProxy(ctx context.Context, target tcpproxy.Target, addr string, group *errgroup.Group) {
	proxy := tcpproxy.Proxy{}
	proxy.AddRoute(addr, target)
	group.Go(func() error {
		if err := proxy.Run(); err != nil {
			return fmt.Errorf("failed to run proxy: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		_ = proxy.Close()
		return nil
	})
}
