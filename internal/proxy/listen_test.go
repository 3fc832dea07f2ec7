package proxy

import (
	"net"
	"testing"
	"time"
)

func TestListenTCP(t *testing.T) {
	t.Parallel()

	for _, backlog := range []int{0, 1, 128} {
		ln, err := ListenTCP("tcp", "127.0.0.1:0", backlog, net.KeepAliveConfig{Enable: true, Idle: 30 * time.Second})
		if err != nil {
			t.Fatalf("backlog %d: %v", backlog, err)
		}

		if _, ok := ln.(*KeepAliveListener); !ok {
			t.Fatalf("got %T, want *KeepAliveListener", ln)
		}

		accepted := make(chan error, 1)
		go func() {
			c, err := ln.Accept()
			if err == nil {
				_ = c.Close()
			}
			accepted <- err
		}()

		c, err := net.DialTimeout("tcp", ln.Addr().String(), 2*time.Second)
		if err != nil {
			t.Fatalf("backlog %d: dial: %v", backlog, err)
		}
		_ = c.Close()

		if err := <-accepted; err != nil {
			t.Fatalf("backlog %d: accept: %v", backlog, err)
		}
		_ = ln.Close()
	}
}

func TestListenTCPAddrInUse(t *testing.T) {
	t.Parallel()

	ln, err := ListenTCP("tcp", "127.0.0.1:0", 16, net.KeepAliveConfig{})
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	if ln2, err := ListenTCP("tcp", ln.Addr().String(), 16, net.KeepAliveConfig{}); err == nil {
		_ = ln2.Close()
		t.Fatal("expected error listening on a bound address")
	}
}
