package dialer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/die-net/relayproxy/internal/testutil"
)

func TestSSHProxyDialerDialSuccess(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	echoLn := testutil.StartEchoTCPServer(t, ctx)
	sshLn, hostKey := testutil.StartSSHServer(t, ctx, "user", "pass")

	knownHosts := filepath.Join(t.TempDir(), "known_hosts")
	line := knownhosts.Line([]string{sshLn.Addr().String()}, hostKey)
	if err := os.WriteFile(knownHosts, []byte(line+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	f, err := NewSSHProxyDialer(Config{DialTimeout: 2 * time.Second, SSHKnownHostsPath: knownHosts}, sshLn.Addr().String(), "user", "pass")
	if err != nil {
		t.Fatal(err)
	}

	// Two dials share one SSH connection.
	for range 2 {
		conn, err := f.DialContext(ctx, "tcp", echoLn.Addr().String())
		if err != nil {
			t.Fatal(err)
		}
		testutil.AssertEcho(t, conn, conn, []byte("hello"))
		_ = conn.Close()
	}
}

func TestSSHProxyDialerUnknownHostKey(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	echoLn := testutil.StartEchoTCPServer(t, ctx)
	sshLn, _ := testutil.StartSSHServer(t, ctx, "user", "pass")

	knownHosts := filepath.Join(t.TempDir(), "known_hosts")
	if err := os.WriteFile(knownHosts, nil, 0o600); err != nil {
		t.Fatal(err)
	}

	f, err := NewSSHProxyDialer(Config{DialTimeout: 2 * time.Second, SSHKnownHostsPath: knownHosts}, sshLn.Addr().String(), "user", "pass")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := f.DialContext(ctx, "tcp", echoLn.Addr().String()); err == nil {
		t.Fatal("expected host key error")
	}
}

func TestSSHProxyDialerBadPassword(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	echoLn := testutil.StartEchoTCPServer(t, ctx)
	sshLn, _ := testutil.StartSSHServer(t, ctx, "user", "pass")

	f, err := NewSSHProxyDialer(Config{DialTimeout: 2 * time.Second}, sshLn.Addr().String(), "user", "wrong")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := f.DialContext(ctx, "tcp", echoLn.Addr().String()); err == nil {
		t.Fatal("expected auth error")
	}
}

func TestSSHProxyDialerDestinationRefused(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	echoLn := testutil.StartEchoTCPServer(t, ctx)
	sshLn, _ := testutil.StartSSHServer(t, ctx, "user", "pass")

	f, err := NewSSHProxyDialer(Config{DialTimeout: 2 * time.Second}, sshLn.Addr().String(), "user", "pass")
	if err != nil {
		t.Fatal(err)
	}

	_, err = f.DialContext(ctx, "tcp", testutil.ClosedAddr(t))
	var openErr *ssh.OpenChannelError
	if !errors.As(err, &openErr) {
		t.Fatalf("got %v, want *ssh.OpenChannelError", err)
	}

	// The SSH connection survives a refused destination.
	conn, err := f.DialContext(ctx, "tcp", echoLn.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	testutil.AssertEcho(t, conn, conn, []byte("again"))
}

func TestNewSSHProxyDialerValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewSSHProxyDialer(Config{}, "127.0.0.1:22", "", "pass"); err == nil {
		t.Fatal("expected error for missing username")
	}
	if _, err := NewSSHProxyDialer(Config{}, "127.0.0.1:22", "user", ""); err == nil {
		t.Fatal("expected error for missing credentials")
	}
	if _, err := NewSSHProxyDialer(Config{SSHKeyPath: filepath.Join(t.TempDir(), "missing")}, "127.0.0.1:22", "user", ""); err == nil {
		t.Fatal("expected error for unreadable key")
	}
}
