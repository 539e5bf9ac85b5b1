package tunnel

import (
	"context"
	"net"

	"github.com/mdlayher/vsock"
	"github.com/rs/zerolog"
)

// ServerTunnel implements tcpproxy.Target to forward connections to a vsock endpoint.
type ServerTunnel struct {
	cid       uint32
	port      uint32
	dial      func() (net.Conn, error)
	logger    *zerolog.Logger
	parentCtx context.Context //nolint:containedctx // tcpproxy.Target.HandleConn takes no context
	cancel    context.CancelFunc
}

// ServerOption configures a ServerTunnel.
type ServerOption func(*ServerTunnel)

// WithDialer replaces the vsock dialer.
func WithDialer(dial func() (net.Conn, error)) ServerOption {
	return func(s *ServerTunnel) { s.dial = dial }
}

// NewServerTunnel creates a ServerTunnel forwarding to vsock cid:port.
func NewServerTunnel(cid uint32, port uint32, logger zerolog.Logger, opts ...ServerOption) *ServerTunnel {
	ctx, cancel := context.WithCancel(context.Background())
	logger = logger.With().Str("component", "server-tunnel").Logger()
	s := &ServerTunnel{
		cid:       cid,
		port:      port,
		logger:    &logger,
		parentCtx: ctx,
		cancel:    cancel,
	}
	s.dial = func() (net.Conn, error) { return vsock.Dial(s.cid, s.port, nil) }
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Port returns the vsock port of the ServerTunnel.
func (s *ServerTunnel) Port() uint32 {
	return s.port
}

// CID returns the vsock context id of the ServerTunnel.
func (s *ServerTunnel) CID() uint32 {
	return s.cid
}

// Stop closes every relayed connection.
func (s *ServerTunnel) Stop() {
	s.cancel()
}

// HandleConn dials the vsock endpoint and relays conn to it.
func (s *ServerTunnel) HandleConn(conn net.Conn) {
	defer conn.Close() //nolint:errcheck
	vsockConn, err := s.dial()
	if err != nil {
		s.logger.Error().Err(err).Msgf("Failed to dial vsock CID %d, Port %d", s.cid, s.port)
		return
	}
	defer vsockConn.Close() //nolint:errcheck

	s.logger.Trace().Msgf("Forwarding TCP connection to vsock CID %d, Port %d", s.cid, s.port)
	if err := Relay(s.parentCtx, conn, vsockConn); err != nil && s.parentCtx.Err() == nil {
		s.logger.Error().Err(err).Msg("Connection error occurred")
	}
}
