// Package config holds relayproxy settings: built-in defaults, an optional
// YAML file, and validation. Command-line flags are layered on top by main.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
)

// Config is the complete set of tunables for one proxy process.
type Config struct {
	Listen     string
	Backlog    int
	BufferSize int

	NegotiationTimeout time.Duration
	DialTimeout        time.Duration
	WriteTimeout       time.Duration

	TunnelConnectTimeout  time.Duration
	TunnelIdleTimeout     time.Duration
	KeepAlivePollInterval time.Duration
	KeepAliveMaxLifetime  time.Duration

	ForwardConnectTimeout time.Duration
	ForwardIdleTimeout    time.Duration
	ReportForwardErrors   bool

	Upstream      string
	SSHKeyPath    string
	SSHKnownHosts string
	TCPKeepAlive  string

	DebugListen     string
	ShutdownTimeout time.Duration

	LogLevel  string
	LogFormat string
}

// Default returns the settings used when nothing else is configured.
func Default() Config {
	return Config{
		Listen:     ":8080",
		Backlog:    100,
		BufferSize: 8192,

		NegotiationTimeout: 10 * time.Second,
		DialTimeout:        10 * time.Second,
		WriteTimeout:       10 * time.Second,

		TunnelConnectTimeout:  7 * time.Second,
		TunnelIdleTimeout:     500 * time.Millisecond,
		KeepAlivePollInterval: 100 * time.Millisecond,
		KeepAliveMaxLifetime:  60 * time.Second,

		ForwardConnectTimeout: 1 * time.Second,
		ForwardIdleTimeout:    10 * time.Second,

		Upstream:     "direct://",
		TCPKeepAlive: "45:45:3",

		ShutdownTimeout: 5 * time.Second,

		LogLevel:  "info",
		LogFormat: "console",
	}
}

// file mirrors Config as it appears in YAML. Pointers distinguish "absent"
// from zero values; durations use time.ParseDuration syntax.
type file struct {
	Listen     *string `yaml:"listen"`
	Port       *int    `yaml:"port"`
	Backlog    *int    `yaml:"backlog"`
	BufferSize *int    `yaml:"buffer_size"`

	NegotiationTimeout *string `yaml:"negotiation_timeout"`
	DialTimeout        *string `yaml:"dial_timeout"`
	WriteTimeout       *string `yaml:"write_timeout"`

	TunnelConnectTimeout  *string `yaml:"tunnel_connect_timeout"`
	TunnelIdleTimeout     *string `yaml:"tunnel_idle_timeout"`
	KeepAlivePollInterval *string `yaml:"keepalive_poll_interval"`
	KeepAliveMaxLifetime  *string `yaml:"keepalive_max_lifetime"`

	ForwardConnectTimeout *string `yaml:"forward_connect_timeout"`
	ForwardIdleTimeout    *string `yaml:"forward_idle_timeout"`
	ReportForwardErrors   *bool   `yaml:"report_forward_errors"`

	Upstream      *string `yaml:"upstream"`
	SSHKey        *string `yaml:"ssh_key"`
	SSHKnownHosts *string `yaml:"ssh_known_hosts"`
	TCPKeepAlive  *string `yaml:"tcp_keepalive"`

	DebugListen     *string `yaml:"debug_listen"`
	ShutdownTimeout *string `yaml:"shutdown_timeout"`

	LogLevel  *string `yaml:"log_level"`
	LogFormat *string `yaml:"log_format"`
}

// Load reads a YAML file and applies it on top of Default.
func Load(path string) (Config, error) {
	cfg := Default()
	if err := cfg.LoadFile(path); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFile applies the YAML file at path on top of c. Keys missing from the
// file leave c unchanged.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // Path is from user config.
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	return c.apply(data)
}

func (c *Config) apply(data []byte) error {
	var f file
	if err := yaml.UnmarshalWithOptions(data, &f, yaml.Strict()); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}

	setString(&c.Listen, f.Listen)
	if f.Port != nil {
		listen, err := ListenForPort(*f.Port)
		if err != nil {
			return fmt.Errorf("port: %w", err)
		}
		c.Listen = listen
	}
	setInt(&c.Backlog, f.Backlog)
	setInt(&c.BufferSize, f.BufferSize)
	setBool(&c.ReportForwardErrors, f.ReportForwardErrors)
	setString(&c.Upstream, f.Upstream)
	setString(&c.SSHKeyPath, f.SSHKey)
	setString(&c.SSHKnownHosts, f.SSHKnownHosts)
	setString(&c.TCPKeepAlive, f.TCPKeepAlive)
	setString(&c.DebugListen, f.DebugListen)
	setString(&c.LogLevel, f.LogLevel)
	setString(&c.LogFormat, f.LogFormat)

	durations := []struct {
		name string
		dst  *time.Duration
		src  *string
	}{
		{"negotiation_timeout", &c.NegotiationTimeout, f.NegotiationTimeout},
		{"dial_timeout", &c.DialTimeout, f.DialTimeout},
		{"write_timeout", &c.WriteTimeout, f.WriteTimeout},
		{"tunnel_connect_timeout", &c.TunnelConnectTimeout, f.TunnelConnectTimeout},
		{"tunnel_idle_timeout", &c.TunnelIdleTimeout, f.TunnelIdleTimeout},
		{"keepalive_poll_interval", &c.KeepAlivePollInterval, f.KeepAlivePollInterval},
		{"keepalive_max_lifetime", &c.KeepAliveMaxLifetime, f.KeepAliveMaxLifetime},
		{"forward_connect_timeout", &c.ForwardConnectTimeout, f.ForwardConnectTimeout},
		{"forward_idle_timeout", &c.ForwardIdleTimeout, f.ForwardIdleTimeout},
		{"shutdown_timeout", &c.ShutdownTimeout, f.ShutdownTimeout},
	}
	for _, d := range durations {
		if d.src == nil {
			continue
		}
		v, err := time.ParseDuration(*d.src)
		if err != nil {
			return fmt.Errorf("%s: %w", d.name, err)
		}
		*d.dst = v
	}

	return nil
}

// Validate checks ranges. It does not dial or listen.
func (c *Config) Validate() error {
	var errs []error

	if _, port, err := net.SplitHostPort(c.Listen); err != nil {
		errs = append(errs, fmt.Errorf("listen %q: %w", c.Listen, err))
	} else if _, err := parsePort(port); err != nil {
		errs = append(errs, fmt.Errorf("listen %q: %w", c.Listen, err))
	}

	if c.Backlog <= 0 {
		errs = append(errs, errors.New("backlog must be > 0"))
	}
	if c.BufferSize <= 0 {
		errs = append(errs, errors.New("buffer size must be > 0"))
	}

	positive := []struct {
		name string
		v    time.Duration
	}{
		{"negotiation timeout", c.NegotiationTimeout},
		{"dial timeout", c.DialTimeout},
		{"write timeout", c.WriteTimeout},
		{"tunnel connect timeout", c.TunnelConnectTimeout},
		{"tunnel idle timeout", c.TunnelIdleTimeout},
		{"keepalive poll interval", c.KeepAlivePollInterval},
		{"keepalive max lifetime", c.KeepAliveMaxLifetime},
		{"forward connect timeout", c.ForwardConnectTimeout},
		{"forward idle timeout", c.ForwardIdleTimeout},
	}
	for _, p := range positive {
		if p.v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be > 0", p.name))
		}
	}
	if c.ShutdownTimeout < 0 {
		errs = append(errs, errors.New("shutdown timeout must be >= 0"))
	}

	if _, err := ParseTCPKeepAlive(c.TCPKeepAlive); err != nil {
		errs = append(errs, fmt.Errorf("tcp keepalive: %w", err))
	}

	return errors.Join(errs...)
}

// ListenForPort returns a listen address on all interfaces for port.
func ListenForPort(port int) (string, error) {
	if port < 1 || port > 65535 {
		return "", fmt.Errorf("%d not in range [1 - 65535]", port)
	}
	return net.JoinHostPort("", strconv.Itoa(port)), nil
}

func parsePort(s string) (int, error) {
	port, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("port %q: %w", s, err)
	}
	if port < 1 || port > 65535 {
		return 0, fmt.Errorf("port %d not in range [1 - 65535]", port)
	}
	return port, nil
}

// ParseTCPKeepAlive parses on|off|keepidle:keepintvl:keepcnt.
func ParseTCPKeepAlive(s string) (net.KeepAliveConfig, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	switch s {
	case "":
		return net.KeepAliveConfig{}, errors.New("empty")
	case "on":
		return net.KeepAliveConfig{Enable: true}, nil
	case "off":
		return net.KeepAliveConfig{Enable: false}, nil
	}

	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return net.KeepAliveConfig{}, errors.New("expected on|off|keepidle:keepintvl:keepcnt")
	}

	var n [3]int
	for i, name := range []string{"keepidle", "keepintvl", "keepcnt"} {
		v, err := strconv.Atoi(strings.TrimSpace(parts[i]))
		if err != nil {
			return net.KeepAliveConfig{}, fmt.Errorf("%s: %w", name, err)
		}
		if v <= 0 {
			return net.KeepAliveConfig{}, fmt.Errorf("%s: must be > 0", name)
		}
		n[i] = v
	}

	return net.KeepAliveConfig{
		Enable:   true,
		Idle:     time.Duration(n[0]) * time.Second,
		Interval: time.Duration(n[1]) * time.Second,
		Count:    n[2],
	}, nil
}

func setString(dst, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setInt(dst, src *int) {
	if src != nil {
		*dst = *src
	}
}

func setBool(dst, src *bool) {
	if src != nil {
		*dst = *src
	}
}
