package proxy

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/die-net/relayproxy/internal/request"
)

// Server accepts proxy clients and dispatches each to a tunnel or forward
// relay.
type Server struct {
	ctx  context.Context
	cfg  Config
	log  *zap.Logger
	pool *bufferPool

	mu        sync.Mutex
	listeners map[net.Listener]struct{}
	closed    bool

	wg sync.WaitGroup
}

// NewServer constructs a Server. Zero fields of cfg take their defaults.
// Canceling ctx tears down sessions in progress.
func NewServer(ctx context.Context, cfg Config) *Server {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg = cfg.withDefaults()

	return &Server{
		ctx:       ctx,
		cfg:       cfg,
		log:       cfg.Logger,
		pool:      newBufferPool(cfg.BufferSize),
		listeners: make(map[net.Listener]struct{}),
	}
}

// Serve accepts connections on ln until Close is called, serving each on its
// own goroutine. It returns ErrServerClosed after Close, or the accept error
// that stopped it.
func (s *Server) Serve(ln net.Listener) error {
	if !s.track(ln) {
		_ = ln.Close()
		return ErrServerClosed
	}
	defer s.untrack(ln)

	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.isClosed() || errors.Is(err, net.ErrClosed) {
				return ErrServerClosed
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				backoff = nextBackoff(backoff)
				s.log.Warn("accept failed; retrying", zap.Error(err), zap.Duration("backoff", backoff))
				time.Sleep(backoff)
				continue
			}
			return err
		}
		backoff = 0

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(conn)
		}()
	}
}

// nextBackoff doubles the accept retry delay from 5ms up to one second.
func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	return min(2*d, time.Second)
}

// Close stops all listeners passed to Serve. Sessions in progress continue;
// use Wait to drain them.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	var errs []error
	for ln := range s.listeners {
		if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
		delete(s.listeners, ln)
	}
	return errors.Join(errs...)
}

// Wait blocks until every session has finished or ctx is done.
func (s *Server) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) track(ln net.Listener) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	s.listeners[ln] = struct{}{}
	return true
}

func (s *Server) untrack(ln net.Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.listeners, ln)
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.closed
}

// handle reads the request head, dispatches it, and guarantees the client
// socket is closed when it returns.
func (s *Server) handle(client net.Conn) {
	defer client.Close()

	log := s.log.With(zap.Stringer("client", client.RemoteAddr()))

	head, err := s.readHead(client)
	if len(head) == 0 {
		s.cfg.Metrics.noRequest()
		log.Debug("no request", zap.Error(err))
		return
	}

	kind := kindForward
	if request.IsConnect(head) {
		kind = kindTunnel
	}
	done := s.cfg.Metrics.begin(kind)

	req, err := request.Parse(head)
	if err != nil {
		done(resultParseError)
		log.Debug("bad request", zap.Error(err))
		return
	}

	if req.IsConnect() {
		err = s.serveTunnel(s.ctx, client, req, log)
	} else {
		err = s.serveForward(s.ctx, client, req, log)
	}

	var ce *ConnectError
	switch {
	case err == nil:
		done(resultOK)
	case errors.As(err, &ce):
		done(resultConnectError)
		log.Info("origin unreachable", zap.String("kind", kind), zap.String("origin", ce.Addr), zap.Error(ce.Err))
	default:
		done(resultTransportError)
		log.Debug("session ended", zap.String("kind", kind), zap.Error(err))
	}
}

// readHead performs the single bounded read that carries the request head.
func (s *Server) readHead(client net.Conn) ([]byte, error) {
	bufp := s.pool.Get()
	defer s.pool.Put(bufp)
	buf := *bufp

	_ = client.SetReadDeadline(time.Now().Add(s.cfg.NegotiationTimeout))
	n, err := client.Read(buf)
	_ = client.SetReadDeadline(time.Time{})

	if n == 0 {
		return nil, err
	}
	// The pooled buffer is reused; hand back a copy.
	return append([]byte(nil), buf[:n]...), nil
}
