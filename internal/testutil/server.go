package testutil

import (
	"bufio"
	"context"
	"io"
	"net"
	"net/http"
	"sync"
	"testing"

	"github.com/die-net/relayproxy/internal/socks5"
)

// StartSingleAcceptServer runs handler on the first accepted connection. The
// returned wait closes the listener and waits for handler to return.
func StartSingleAcceptServer(t *testing.T, ctx context.Context, handler func(net.Conn)) (net.Listener, func()) {
	t.Helper()

	ln := listen(t, ctx)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		handler(c)
	}()

	wait := func() {
		_ = ln.Close()
		wg.Wait()
	}

	return ln, wait
}

// StartSOCKS5Server runs a SOCKS5 CONNECT upstream requiring auth (empty
// username means no auth).
func StartSOCKS5Server(t *testing.T, ctx context.Context, auth socks5.Auth) net.Listener {
	t.Helper()

	return serveEach(t, ctx, func(c net.Conn) {
		dst, err := socks5.ServerHandshake(c, auth)
		if err != nil {
			return
		}
		d := net.Dialer{}
		up, err := d.DialContext(ctx, "tcp", dst)
		if err != nil {
			_ = socks5.WriteReply(c, socks5.RepHostUnreachable, nil)
			return
		}
		defer up.Close()

		if err := socks5.WriteReply(c, socks5.RepSuccess, up.LocalAddr()); err != nil {
			return
		}
		splice(c, up, c)
	})
}

// StartHTTPConnectServer runs an HTTP CONNECT upstream. A non-empty wantAuth
// must match the Proxy-Authorization header exactly.
func StartHTTPConnectServer(t *testing.T, ctx context.Context, wantAuth string) net.Listener {
	t.Helper()

	return serveEach(t, ctx, func(c net.Conn) {
		br := bufio.NewReader(c)
		req, err := http.ReadRequest(br)
		if err != nil {
			return
		}
		_ = req.Body.Close()

		if req.Method != http.MethodConnect {
			_, _ = io.WriteString(c, "HTTP/1.1 405 Method Not Allowed\r\n\r\n")
			return
		}
		if wantAuth != "" && req.Header.Get("Proxy-Authorization") != wantAuth {
			_, _ = io.WriteString(c, "HTTP/1.1 407 Proxy Authentication Required\r\n\r\n")
			return
		}

		d := net.Dialer{}
		up, err := d.DialContext(ctx, "tcp", req.Host)
		if err != nil {
			_, _ = io.WriteString(c, "HTTP/1.1 502 Bad Gateway\r\n\r\n")
			return
		}
		defer up.Close()

		if _, err := io.WriteString(c, "HTTP/1.1 200 Connection Established\r\n\r\n"); err != nil {
			return
		}
		splice(c, up, br)
	})
}

func serveEach(t *testing.T, ctx context.Context, handler func(net.Conn)) net.Listener {
	t.Helper()

	ln := listen(t, ctx)

	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer c.Close()
				handler(c)
			}()
		}
	}()

	return ln
}

// splice copies client(r)->up and up->client until both directions finish.
func splice(client net.Conn, up net.Conn, r io.Reader) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = io.Copy(up, r)
		if tc, ok := up.(*net.TCPConn); ok {
			_ = tc.CloseWrite()
		}
	}()
	_, _ = io.Copy(client, up)
	if tc, ok := client.(*net.TCPConn); ok {
		_ = tc.CloseWrite()
	}
	<-done
}
