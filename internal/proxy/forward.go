package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/die-net/relayproxy/internal/request"
)

const forwardConnectFailed = "HTTP/1.1 502 Bad Gateway\r\nConnection: close\r\n\r\n"

// serveForward replays the request head verbatim to the origin and streams
// the origin's response back until the origin closes or goes quiet for
// ForwardIdleTimeout. It always closes client.
func (s *Server) serveForward(ctx context.Context, client net.Conn, req *request.Descriptor, log *zap.Logger) error {
	defer client.Close()

	if len(req.Raw) == 0 {
		return nil
	}
	addr := req.Addr()

	dctx, cancel := context.WithTimeout(ctx, s.cfg.ForwardConnectTimeout)
	origin, err := s.cfg.Dialer.DialContext(dctx, "tcp", addr)
	cancel()
	if err != nil {
		if s.cfg.ReportForwardErrors {
			_ = client.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			_, _ = io.WriteString(client, forwardConnectFailed)
		}
		return &ConnectError{Addr: addr, Err: err}
	}

	sess := newSession(client, origin)
	defer sess.Close()
	stop := context.AfterFunc(ctx, sess.Close)
	defer stop()

	_ = origin.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	if _, err := origin.Write(req.Raw); err != nil {
		return fmt.Errorf("forward %s: write request: %w", addr, err)
	}
	s.cfg.Metrics.addBytes(directionUpstream, len(req.Raw))

	log.Debug("forwarded request", zap.String("origin", addr), zap.String("method", req.Method), zap.String("target", req.Target))

	bufp := s.pool.Get()
	defer s.pool.Put(bufp)
	buf := *bufp

	for {
		_ = origin.SetReadDeadline(time.Now().Add(s.cfg.ForwardIdleTimeout))
		n, err := origin.Read(buf)
		if n > 0 {
			_ = client.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if _, werr := client.Write(buf[:n]); werr != nil {
				return fmt.Errorf("forward %s: write response: %w", addr, werr)
			}
			s.cfg.Metrics.addBytes(directionDownstream, n)
		}
		switch {
		case err == nil:
		case errors.Is(err, io.EOF), isTimeout(err):
			return nil
		default:
			return fmt.Errorf("forward %s: read response: %w", addr, err)
		}
	}
}
