package dialer

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPProxyDialer reaches origins through an upstream HTTP proxy using the
// CONNECT method.
type HTTPProxyDialer struct {
	cfg       Config
	proxyAddr string
	auth      string
	direct    Dialer
}

// NewHTTPProxyDialer returns a CONNECT dialer for the proxy at proxyAddr. A
// non-empty username enables Basic Proxy-Authorization.
func NewHTTPProxyDialer(cfg Config, proxyAddr, username, password string) *HTTPProxyDialer {
	auth := ""
	if username != "" {
		auth = "Basic " + base64.StdEncoding.EncodeToString([]byte(username+":"+password))
	}
	return &HTTPProxyDialer{
		cfg:       cfg,
		proxyAddr: proxyAddr,
		auth:      auth,
		direct:    NewDirectDialer(cfg),
	}
}

// ProxyAddr returns the upstream proxy host:port.
func (f *HTTPProxyDialer) ProxyAddr() string {
	return f.proxyAddr
}

// DialContext connects to the proxy and asks it to CONNECT to address. The
// negotiation completes before DialContext returns.
func (f *HTTPProxyDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if !strings.HasPrefix(network, "tcp") {
		return nil, fmt.Errorf("http proxy dial %s %s: unsupported network", network, address)
	}

	c, err := f.direct.DialContext(ctx, network, f.proxyAddr)
	if err != nil {
		return nil, fmt.Errorf("http proxy: %w", err)
	}

	stop := context.AfterFunc(ctx, func() {
		_ = c.SetDeadline(time.Now())
	})
	defer stop()

	if f.cfg.NegotiationTimeout > 0 {
		_ = c.SetDeadline(time.Now().Add(f.cfg.NegotiationTimeout))
	}

	req := &http.Request{
		Method: http.MethodConnect,
		URL:    &url.URL{Opaque: address},
		Host:   address,
		Header: make(http.Header),
	}
	if f.auth != "" {
		req.Header.Set("Proxy-Authorization", f.auth)
	}

	if err := req.Write(c); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("http proxy connect write: %w", err)
	}

	br := bufio.NewReader(c)
	resp, err := http.ReadResponse(br, req)
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("http proxy connect read: %w", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		_ = c.Close()
		return nil, fmt.Errorf("http proxy connect failed: %s", resp.Status)
	}

	if !stop() {
		_ = c.Close()
		return nil, fmt.Errorf("http proxy connect: %w", context.Cause(ctx))
	}
	_ = c.SetDeadline(time.Time{})

	// Bytes the origin sent right behind the CONNECT response are already
	// sitting in br.
	if br.Buffered() > 0 {
		return &bufferedConn{Conn: c, r: br}, nil
	}
	return c, nil
}

type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func (c *bufferedConn) Read(b []byte) (int, error) {
	return c.r.Read(b)
}

// CloseWrite forwards half-close to the underlying TCP connection.
func (c *bufferedConn) CloseWrite() error {
	if cw, ok := c.Conn.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}
	return nil
}
