// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Query-farm/nexus-rpc/nexusrpc"
)

func writeConfig(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "host:\n  command: [\"./nexus-plugin\"]\n"))
	require.NoError(t, err)

	assert.Equal(t, SourceInMemory, cfg.Plugin.Source)
	assert.Equal(t, TransportStdio, cfg.Plugin.Transport)
	assert.Equal(t, "NexusDataSource", cfg.Plugin.ServiceName)
	assert.Equal(t, uint32(nexusrpc.DefaultMaxFrameSize), cfg.Plugin.MaxFrameSize)
	assert.Equal(t, []string{"./nexus-plugin"}, cfg.Host.Command)
	assert.Equal(t, "127.0.0.1:0", cfg.Host.Listen)
	assert.Equal(t, nexusrpc.DefaultCallTimeout, cfg.Host.CallTimeout)
	assert.Equal(t, nexusrpc.DefaultConnectTimeout, cfg.Host.ConnectTimeout)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestDefaultIsValid(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestLoadFullConfig(t *testing.T) {
	data := `
plugin:
  source: files
  transport: socket
  connect: 127.0.0.1:7000
  otel: true
  metrics_addr: ":9100"
host:
  transport: socket
  call_timeout: 30s
  resource_locator: file:///srv/nexus
  source_configuration:
    offset: 2.5
    nested:
      a: 1
log:
  level: debug
  format: text
`
	cfg, err := Load(writeConfig(t, data))
	require.NoError(t, err)

	assert.Equal(t, SourceFiles, cfg.Plugin.Source)
	assert.Equal(t, "127.0.0.1:7000", cfg.Plugin.Connect)
	assert.True(t, cfg.Plugin.Otel)
	assert.Equal(t, ":9100", cfg.Plugin.MetricsAddr)
	assert.Equal(t, 30*time.Second, cfg.Host.CallTimeout)

	level, err := cfg.Log.SlogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)

	dsc, err := cfg.Host.DataSourceContext()
	require.NoError(t, err)
	require.NotNil(t, dsc.ResourceLocator)
	assert.Equal(t, "file", dsc.ResourceLocator.Scheme)
	assert.Equal(t, "/srv/nexus", dsc.ResourceLocator.Path)
	assert.Equal(t, 2.5, dsc.SourceConfiguration["offset"])
	assert.Equal(t, map[string]any{"a": 1}, dsc.SourceConfiguration["nested"])
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"source":           "plugin:\n  source: sql\n",
		"socket":           "plugin:\n  transport: socket\n",
		"plugin_transport": "plugin:\n  transport: http\n",
		"host_transport":   "host:\n  transport: http\n",
		"timeout":          "host:\n  call_timeout: -1s\n",
		"level":            "log:\n  level: loud\n",
		"format":           "log:\n  format: xml\n",
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, data))
			assert.Error(t, err)
		})
	}
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = Load(writeConfig(t, "plugin: [\n"))
	assert.ErrorContains(t, err, "parse config")
}

func TestNewHandler(t *testing.T) {
	var buf bytes.Buffer
	h, err := LogConfig{Level: "warn", Format: "json"}.NewHandler(&buf)
	require.NoError(t, err)
	logger := slog.New(h)
	logger.Info("hidden")
	logger.Warn("shown", "k", 1)
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)

	buf.Reset()
	h, err = LogConfig{Level: "info", Format: "text"}.NewHandler(&buf)
	require.NoError(t, err)
	slog.New(h).Info("plain")
	assert.Contains(t, buf.String(), "msg=plain")
}
