package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	t.Parallel()

	cfg := Default()
	require.NoError(t, cfg.Validate())
	require.Equal(t, ":8080", cfg.Listen)
	require.Equal(t, 100, cfg.Backlog)
	require.Equal(t, 8192, cfg.BufferSize)
	require.Equal(t, 7*time.Second, cfg.TunnelConnectTimeout)
	require.Equal(t, 500*time.Millisecond, cfg.TunnelIdleTimeout)
	require.Equal(t, 100*time.Millisecond, cfg.KeepAlivePollInterval)
	require.Equal(t, 60*time.Second, cfg.KeepAliveMaxLifetime)
	require.Equal(t, time.Second, cfg.ForwardConnectTimeout)
	require.False(t, cfg.ReportForwardErrors)
}

func TestLoad(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "relay.yaml")
	data := strings.Join([]string{
		"listen: 127.0.0.1:3128",
		"backlog: 16",
		"tunnel_idle_timeout: 250ms",
		"keepalive_max_lifetime: 2m",
		"write_timeout: 3s",
		"report_forward_errors: true",
		"upstream: socks5://127.0.0.1:1080",
		"log_level: debug",
	}, "\n")
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:3128", cfg.Listen)
	require.Equal(t, 16, cfg.Backlog)
	require.Equal(t, 250*time.Millisecond, cfg.TunnelIdleTimeout)
	require.Equal(t, 2*time.Minute, cfg.KeepAliveMaxLifetime)
	require.Equal(t, 3*time.Second, cfg.WriteTimeout)
	require.True(t, cfg.ReportForwardErrors)
	require.Equal(t, "socks5://127.0.0.1:1080", cfg.Upstream)
	require.Equal(t, "debug", cfg.LogLevel)

	// Untouched keys keep their defaults.
	require.Equal(t, 8192, cfg.BufferSize)
	require.Equal(t, 7*time.Second, cfg.TunnelConnectTimeout)
	require.Equal(t, 10*time.Second, cfg.DialTimeout)
	require.NoError(t, cfg.Validate())
}

func TestLoadPort(t *testing.T) {
	t.Parallel()

	cfg := Default()
	require.NoError(t, cfg.apply([]byte("port: 9090\n")))
	require.Equal(t, ":9090", cfg.Listen)

	cfg = Default()
	require.Error(t, cfg.apply([]byte("port: 70000\n")))
}

func TestLoadErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		data string
	}{
		{name: "bad duration", data: "tunnel_idle_timeout: soon\n"},
		{name: "unknown key", data: "listen_port: 1\n"},
		{name: "wrong type", data: "backlog: many\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := Default()
			require.Error(t, cfg.apply([]byte(tt.data)))
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "listen without port", mutate: func(c *Config) { c.Listen = "localhost" }},
		{name: "listen port zero", mutate: func(c *Config) { c.Listen = ":0" }},
		{name: "listen port too large", mutate: func(c *Config) { c.Listen = ":65536" }},
		{name: "backlog", mutate: func(c *Config) { c.Backlog = 0 }},
		{name: "buffer size", mutate: func(c *Config) { c.BufferSize = -1 }},
		{name: "idle timeout", mutate: func(c *Config) { c.TunnelIdleTimeout = 0 }},
		{name: "max lifetime", mutate: func(c *Config) { c.KeepAliveMaxLifetime = 0 }},
		{name: "forward connect", mutate: func(c *Config) { c.ForwardConnectTimeout = -time.Second }},
		{name: "shutdown", mutate: func(c *Config) { c.ShutdownTimeout = -time.Second }},
		{name: "keepalive", mutate: func(c *Config) { c.TCPKeepAlive = "sometimes" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := Default()
			tt.mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestListenForPort(t *testing.T) {
	t.Parallel()

	addr, err := ListenForPort(8081)
	require.NoError(t, err)
	require.Equal(t, ":8081", addr)

	for _, p := range []int{0, -1, 65536} {
		_, err := ListenForPort(p)
		require.Error(t, err, p)
	}
}

func TestParseTCPKeepAlive(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    bool
		idle    time.Duration
		count   int
		wantErr bool
	}{
		{in: "on", want: true},
		{in: "OFF", want: false},
		{in: "45:45:3", want: true, idle: 45 * time.Second, count: 3},
		{in: " 10:5:2 ", want: true, idle: 10 * time.Second, count: 2},
		{in: "", wantErr: true},
		{in: "1:2", wantErr: true},
		{in: "0:1:1", wantErr: true},
		{in: "a:1:1", wantErr: true},
	}

	for _, tt := range tests {
		ka, err := ParseTCPKeepAlive(tt.in)
		if tt.wantErr {
			require.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		require.Equal(t, tt.want, ka.Enable, tt.in)
		require.Equal(t, tt.idle, ka.Idle, tt.in)
		require.Equal(t, tt.count, ka.Count, tt.in)
	}
}
