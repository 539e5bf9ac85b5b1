package tunnel

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/mdlayher/vsock"
	"github.com/rs/zerolog"
)

// ClientTunnel accepts enclave connections, reads a target address from the first line and relays
// the rest of the stream to that TCP target.
type ClientTunnel struct {
	port           uint32
	requestTimeout time.Duration
	logger         *zerolog.Logger
}

// NewClientTunnel creates a ClientTunnel for vsock port.
func NewClientTunnel(port uint32, requestTimeout time.Duration, logger zerolog.Logger) *ClientTunnel {
	if requestTimeout == 0 {
		requestTimeout = 5 * time.Minute
	}
	logger = logger.With().Str("component", "client-tunnel").Logger()
	return &ClientTunnel{
		port:           port,
		requestTimeout: requestTimeout,
		logger:         &logger,
	}
}

// Port returns the vsock port of the ClientTunnel.
func (c *ClientTunnel) Port() uint32 {
	return c.port
}

// ListenForTargetRequests listens on the vsock port and serves until ctx is done.
func (c *ClientTunnel) ListenForTargetRequests(ctx context.Context) error {
	listener, err := vsock.ListenContextID(HostCID, c.port, nil)
	if err != nil {
		return fmt.Errorf("failed to listen for target requests: %w", err)
	}
	c.logger.Info().Msgf("Listening for target requests on port %d", c.port)
	return c.Serve(ctx, listener)
}

// Serve accepts connections from listener until ctx is done. It closes listener.
func (c *ClientTunnel) Serve(ctx context.Context, listener net.Listener) error {
	go func() {
		<-ctx.Done()
		_ = listener.Close() //nolint:errcheck
	}()
	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			c.logger.Error().Err(err).Msg("Failed to accept target request")
			continue
		}
		go c.HandleConn(ctx, conn)
	}
}

// HandleConn reads the target line from conn, dials it, acknowledges and relays.
func (c *ClientTunnel) HandleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close() //nolint:errcheck
	requestCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	reader := bufio.NewReader(conn)
	targetLine, err := reader.ReadString('\n')
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to read target address")
		return
	}
	targetAddress := strings.TrimSpace(targetLine)
	c.logger.Trace().Msgf("Received target request: %s", targetAddress)

	dialer := &net.Dialer{
		Timeout: 10 * time.Second,
	}
	targetConn, err := dialer.DialContext(requestCtx, "tcp", targetAddress)
	if err != nil {
		c.logger.Error().Err(err).Str("target", targetAddress).Msg("Failed to dial target service")
		return
	}
	defer targetConn.Close() //nolint:errcheck

	if _, err := conn.Write(ACK); err != nil {
		c.logger.Error().Err(err).Msg("Failed to write ACK")
		return
	}

	buffered := &bufferedConn{Conn: conn, reader: reader}
	if err := Relay(requestCtx, buffered, targetConn); err != nil && ctx.Err() == nil {
		c.logger.Error().Err(err).Str("target", targetAddress).Msg("Connection error occurred")
	}
}

// RequestTarget asks the tunnel on the other end of conn to connect to target and waits for the ACK.
func RequestTarget(ctx context.Context, conn net.Conn, target string) error {
	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return fmt.Errorf("failed to set deadline: %w", err)
		}
		defer conn.SetDeadline(time.Time{}) //nolint:errcheck
	}
	if _, err := conn.Write([]byte(target + "\n")); err != nil {
		return fmt.Errorf("failed to write target: %w", err)
	}
	ack := make([]byte, len(ACK))
	if _, err := io.ReadFull(conn, ack); err != nil {
		return fmt.Errorf("failed to read ACK: %w", err)
	}
	if ack[0] != ACK[0] {
		return fmt.Errorf("unexpected ACK byte %#x", ack[0])
	}
	return nil
}

// bufferedConn reads through the reader used for the target line so no relayed bytes are lost.
type bufferedConn struct {
	net.Conn
	reader *bufio.Reader
}

func (b *bufferedConn) Read(p []byte) (int, error) {
	return b.reader.Read(p)
}

func (b *bufferedConn) CloseWrite() error {
	if hc, ok := b.Conn.(halfCloser); ok {
		return hc.CloseWrite()
	}
	return b.Conn.Close()
}
