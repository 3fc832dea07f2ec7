package dialer

import (
	"context"
	"encoding/base64"
	"net"
	"testing"
	"time"

	"github.com/die-net/relayproxy/internal/testutil"
)

func TestHTTPProxyDialerDialSuccess(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		user string
		pass string
	}{
		{name: "no_auth"},
		{name: "basic_auth", user: "user", pass: "pass"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()

			echoLn := testutil.StartEchoTCPServer(t, ctx)

			wantAuth := ""
			if tt.user != "" {
				wantAuth = "Basic " + base64.StdEncoding.EncodeToString([]byte(tt.user+":"+tt.pass))
			}
			upLn := testutil.StartHTTPConnectServer(t, ctx, wantAuth)

			f := NewHTTPProxyDialer(Config{DialTimeout: 2 * time.Second, NegotiationTimeout: time.Second}, upLn.Addr().String(), tt.user, tt.pass)

			conn, err := f.DialContext(ctx, "tcp", echoLn.Addr().String())
			if err != nil {
				t.Fatal(err)
			}
			defer conn.Close()

			testutil.AssertEcho(t, conn, conn, []byte("hello"))
		})
	}
}

func TestHTTPProxyDialerDialNon2xx(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// Wrong credentials get a 407.
	upLn := testutil.StartHTTPConnectServer(t, ctx, "Basic expected")

	f := NewHTTPProxyDialer(Config{DialTimeout: 2 * time.Second}, upLn.Addr().String(), "user", "wrong")

	if _, err := f.DialContext(ctx, "tcp", "127.0.0.1:1"); err == nil {
		t.Fatal("expected error")
	}
}

func TestHTTPProxyDialerContextCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	// An upstream that accepts but never answers.
	upLn, waitUp := testutil.StartSingleAcceptServer(t, context.Background(), func(c net.Conn) {
		buf := make([]byte, 1024)
		for {
			if _, err := c.Read(buf); err != nil {
				return
			}
		}
	})
	defer waitUp()

	f := NewHTTPProxyDialer(Config{DialTimeout: 2 * time.Second}, upLn.Addr().String(), "", "")

	start := time.Now()
	if _, err := f.DialContext(ctx, "tcp", "127.0.0.1:1"); err == nil {
		t.Fatal("expected error")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("dial took %v after context deadline", elapsed)
	}
}
