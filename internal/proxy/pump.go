package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// session owns the client and origin sockets of one relay.
type session struct {
	client    net.Conn
	origin    net.Conn
	closeOnce sync.Once
}

func newSession(client, origin net.Conn) *session {
	return &session{client: client, origin: origin}
}

// Close closes both sockets. It is safe to call more than once.
func (s *session) Close() {
	s.closeOnce.Do(func() {
		_ = s.client.Close()
		_ = s.origin.Close()
	})
}

// relayMode selects how a tunnel decides it is finished.
type relayMode struct {
	// persistent tunnels ignore silence and end at lifetime. Others end after
	// idle with no traffic in either direction.
	persistent bool
	idle       time.Duration
	poll       time.Duration
	lifetime   time.Duration
	// writeTimeout bounds each write.
	writeTimeout time.Duration
}

// pump copies both directions of a session until the mode says stop.
type pump struct {
	mode    relayMode
	pool    *bufferPool
	metrics *Metrics

	// end is the lifetime deadline of a persistent tunnel.
	end time.Time
	// last is the UnixNano of the most recent activity in either direction.
	last atomic.Int64
}

// relay runs both directions until the tunnel finishes. Idle and lifetime
// terminations return nil. Both sockets are closed on return.
func (s *session) relay(ctx context.Context, mode relayMode, pool *bufferPool, metrics *Metrics) error {
	defer s.Close()

	now := time.Now()
	p := &pump{mode: mode, pool: pool, metrics: metrics, end: now.Add(mode.lifetime)}
	p.last.Store(now.UnixNano())

	g, gctx := errgroup.WithContext(ctx)

	// Closing both sockets unblocks the other direction once one stops with
	// an error, or when ctx is canceled.
	stop := context.AfterFunc(gctx, s.Close)
	defer stop()

	g.Go(func() error {
		return p.copy(s.origin, s.client, directionUpstream)
	})
	g.Go(func() error {
		return p.copy(s.client, s.origin, directionDownstream)
	})

	err := g.Wait()
	if errors.Is(err, errIdle) || errors.Is(err, errLifetimeExceeded) {
		return nil
	}
	return err
}

func (p *pump) touch() {
	p.last.Store(time.Now().UnixNano())
}

func (p *pump) sinceLast() time.Duration {
	return time.Since(time.Unix(0, p.last.Load()))
}

func (p *pump) readDeadline() time.Time {
	if p.mode.persistent {
		return earliest(time.Now().Add(p.mode.poll), p.end)
	}
	return time.Unix(0, p.last.Load()).Add(p.mode.idle)
}

func (p *pump) writeDeadline() time.Time {
	dl := time.Now().Add(p.mode.writeTimeout)
	if p.mode.persistent {
		return earliest(dl, p.end)
	}
	return dl
}

// copy moves bytes from src to dst. EOF from src half-closes dst and returns
// nil so the other direction can finish.
func (p *pump) copy(dst, src net.Conn, direction string) error {
	bufp := p.pool.Get()
	defer p.pool.Put(bufp)
	buf := *bufp

	for {
		if p.mode.persistent && !time.Now().Before(p.end) {
			return errLifetimeExceeded
		}

		_ = src.SetReadDeadline(p.readDeadline())
		n, err := src.Read(buf)
		if n > 0 {
			p.touch()
			_ = dst.SetWriteDeadline(p.writeDeadline())
			if _, werr := dst.Write(buf[:n]); werr != nil {
				if p.mode.persistent && isTimeout(werr) && !time.Now().Before(p.end) {
					return errLifetimeExceeded
				}
				return fmt.Errorf("%s write: %w", direction, werr)
			}
			p.metrics.addBytes(direction, n)
			p.touch()
		}

		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			closeWrite(dst)
			return nil
		case isTimeout(err):
			if p.mode.persistent {
				continue
			}
			if p.sinceLast() >= p.mode.idle {
				return errIdle
			}
		default:
			return fmt.Errorf("%s read: %w", direction, err)
		}
	}
}

func isTimeout(err error) bool {
	return errors.Is(err, os.ErrDeadlineExceeded)
}

func closeWrite(c net.Conn) {
	if cw, ok := c.(interface{ CloseWrite() error }); ok {
		_ = cw.CloseWrite()
	}
}

func earliest(a, b time.Time) time.Time {
	if b.Before(a) {
		return b
	}
	return a
}
