package proxy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/die-net/relayproxy/internal/request"
)

const (
	tunnelEstablished          = "HTTP/1.1 200 Connection established\r\n\r\n"
	tunnelEstablishedKeepAlive = "HTTP/1.1 200\r\nConnection: keep-alive\r\n\r\n"
	tunnelConnectFailed        = "HTTP/1.1 408 Request Timeout\r\n\r\n"
)

var headTerminator = []byte("\r\n\r\n")

// serveTunnel connects to the CONNECT target, acknowledges the client, and
// relays bytes both ways until the tunnel finishes. It always closes client.
func (s *Server) serveTunnel(ctx context.Context, client net.Conn, req *request.Descriptor, log *zap.Logger) error {
	addr := req.Addr()

	dctx, cancel := context.WithTimeout(ctx, s.cfg.TunnelConnectTimeout)
	origin, err := s.cfg.Dialer.DialContext(dctx, "tcp", addr)
	cancel()
	if err != nil {
		_ = client.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
		_, _ = io.WriteString(client, tunnelConnectFailed)
		_ = client.Close()
		return &ConnectError{Addr: addr, Err: err}
	}

	sess := newSession(client, origin)
	defer sess.Close()

	ack := tunnelEstablished
	if req.Persistent {
		ack = tunnelEstablishedKeepAlive
	}
	_ = client.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	if _, err := io.WriteString(client, ack); err != nil {
		return fmt.Errorf("tunnel %s: acknowledge: %w", addr, err)
	}

	// Anything the client sent after the CONNECT head in the same read
	// belongs to the origin.
	if _, early, ok := bytes.Cut(req.Raw, headTerminator); ok && len(early) > 0 {
		_ = origin.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
		if _, err := origin.Write(early); err != nil {
			return fmt.Errorf("tunnel %s: early data: %w", addr, err)
		}
		s.cfg.Metrics.addBytes(directionUpstream, len(early))
	}

	log.Debug("tunnel established", zap.String("origin", addr), zap.Bool("persistent", req.Persistent))

	mode := relayMode{
		persistent:   req.Persistent,
		idle:         s.cfg.TunnelIdleTimeout,
		poll:         s.cfg.KeepAlivePollInterval,
		lifetime:     s.cfg.KeepAliveMaxLifetime,
		writeTimeout: s.cfg.WriteTimeout,
	}
	if err := sess.relay(ctx, mode, s.pool, s.cfg.Metrics); err != nil {
		return fmt.Errorf("tunnel %s: %w", addr, err)
	}
	return nil
}
