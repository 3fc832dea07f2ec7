package dialer

import (
	"net"
	"time"
)

type Config struct {
	// DialTimeout bounds DNS lookup plus TCP connect when the caller's
	// context has no earlier deadline.
	DialTimeout time.Duration
	// NegotiationTimeout bounds upstream handshakes (CONNECT, SOCKS5, SSH).
	NegotiationTimeout time.Duration
	KeepAlive          net.KeepAliveConfig

	SSHKeyPath        string
	SSHKnownHostsPath string
}
