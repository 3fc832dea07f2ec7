package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigLayering(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	file := filepath.Join(dir, "relayproxy.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
listen: 127.0.0.1:3128
backlog: 50
tunnel_idle_timeout: 30s
log_format: json
`), 0o600))

	tests := []struct {
		name       string
		args       []string
		listen     string
		backlog    int
		tunnelIdle time.Duration
		logFormat  string
		reportErrs bool
		wantErr    bool
	}{
		{
			name:       "defaults",
			args:       nil,
			listen:     ":8080",
			backlog:    100,
			tunnelIdle: 500 * time.Millisecond,
			logFormat:  "console",
		},
		{
			name:       "file overrides defaults",
			args:       []string{"--config", file},
			listen:     "127.0.0.1:3128",
			backlog:    50,
			tunnelIdle: 30 * time.Second,
			logFormat:  "json",
		},
		{
			name:       "flag overrides file",
			args:       []string{"--config", file, "--backlog", "7", "--tunnel-idle-timeout", "2s"},
			listen:     "127.0.0.1:3128",
			backlog:    7,
			tunnelIdle: 2 * time.Second,
			logFormat:  "json",
		},
		{
			name:       "unset flag keeps file value",
			args:       []string{"--config", file, "--report-forward-errors"},
			listen:     "127.0.0.1:3128",
			backlog:    50,
			tunnelIdle: 30 * time.Second,
			logFormat:  "json",
			reportErrs: true,
		},
		{
			name:       "port overrides file and listen flag",
			args:       []string{"--config", file, "--listen", "127.0.0.1:9999", "--port", "8888"},
			listen:     ":8888",
			backlog:    50,
			tunnelIdle: 30 * time.Second,
			logFormat:  "json",
		},
		{
			name:    "port out of range",
			args:    []string{"--port", "0"},
			wantErr: true,
		},
		{
			name:    "missing file",
			args:    []string{"--config", filepath.Join(dir, "missing.yaml")},
			wantErr: true,
		},
		{
			name:    "invalid flag value fails validation",
			args:    []string{"--buffer-size", "0"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
			fl := registerFlags(fs)
			require.NoError(t, fs.Parse(tt.args))

			cfg, err := loadConfig(fs, fl)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)

			assert.Equal(t, tt.listen, cfg.Listen)
			assert.Equal(t, tt.backlog, cfg.Backlog)
			assert.Equal(t, tt.tunnelIdle, cfg.TunnelIdleTimeout)
			assert.Equal(t, tt.logFormat, cfg.LogFormat)
			assert.Equal(t, tt.reportErrs, cfg.ReportForwardErrors)
		})
	}
}

func TestNewLogger(t *testing.T) {
	t.Parallel()

	for _, format := range []string{"console", "json"} {
		l, err := newLogger("debug", format)
		require.NoError(t, err, format)
		assert.NotNil(t, l)
	}

	_, err := newLogger("loud", "json")
	assert.Error(t, err)
	_, err = newLogger("info", "xml")
	assert.Error(t, err)
}
