package proxy

import (
	"net"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/die-net/relayproxy/internal/dialer"
)

type Config struct {
	// BufferSize bounds the first read of a request head and each relay read.
	BufferSize int
	// NegotiationTimeout bounds the wait for the request head.
	NegotiationTimeout time.Duration
	// WriteTimeout bounds each write to either peer.
	WriteTimeout time.Duration

	TunnelConnectTimeout time.Duration
	// TunnelIdleTimeout ends a non-persistent tunnel once neither side has
	// sent anything for this long.
	TunnelIdleTimeout time.Duration
	// KeepAlivePollInterval is how often a persistent tunnel wakes to check
	// its lifetime while both sides are quiet.
	KeepAlivePollInterval time.Duration
	// KeepAliveMaxLifetime is the wall-clock budget of a persistent tunnel.
	KeepAliveMaxLifetime time.Duration

	ForwardConnectTimeout time.Duration
	// ForwardIdleTimeout bounds each read of the origin's response.
	ForwardIdleTimeout time.Duration
	// ReportForwardErrors sends 502 to the client when a plain HTTP origin
	// can't be reached, instead of closing silently.
	ReportForwardErrors bool

	KeepAlive net.KeepAliveConfig

	Dialer  dialer.Dialer
	Logger  *zap.Logger
	Metrics *Metrics
}

// DefaultConfig returns the stock timeouts with a direct dialer.
func DefaultConfig() Config {
	return Config{
		BufferSize:            8192,
		NegotiationTimeout:    10 * time.Second,
		WriteTimeout:          10 * time.Second,
		TunnelConnectTimeout:  7 * time.Second,
		TunnelIdleTimeout:     500 * time.Millisecond,
		KeepAlivePollInterval: 100 * time.Millisecond,
		KeepAliveMaxLifetime:  60 * time.Second,
		ForwardConnectTimeout: 1 * time.Second,
		ForwardIdleTimeout:    10 * time.Second,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()

	setDuration := func(v *time.Duration, def time.Duration) {
		if *v <= 0 {
			*v = def
		}
	}
	if c.BufferSize <= 0 {
		c.BufferSize = d.BufferSize
	}
	setDuration(&c.NegotiationTimeout, d.NegotiationTimeout)
	setDuration(&c.WriteTimeout, d.WriteTimeout)
	setDuration(&c.TunnelConnectTimeout, d.TunnelConnectTimeout)
	setDuration(&c.TunnelIdleTimeout, d.TunnelIdleTimeout)
	setDuration(&c.KeepAlivePollInterval, d.KeepAlivePollInterval)
	setDuration(&c.KeepAliveMaxLifetime, d.KeepAliveMaxLifetime)
	setDuration(&c.ForwardConnectTimeout, d.ForwardConnectTimeout)
	setDuration(&c.ForwardIdleTimeout, d.ForwardIdleTimeout)

	if c.Dialer == nil {
		c.Dialer = dialer.NewDirectDialer(dialer.Config{KeepAlive: c.KeepAlive})
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Metrics == nil {
		c.Metrics = NewMetrics(prometheus.NewRegistry())
	}
	return c
}
