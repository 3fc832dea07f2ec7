//go:build !unix

package proxy

import (
	"net"
	"syscall"
)

func reuseAddrControl(network, address string, c syscall.RawConn) error {
	return nil
}

// setBacklog is a no-op; the runtime's default backlog is used.
func setBacklog(ln net.Listener, backlog int) error {
	return nil
}
