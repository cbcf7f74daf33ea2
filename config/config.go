// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// Package config loads the YAML configuration shared by the nexus-plugin and
// nexus-host commands. Command-line flags override loaded values.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Query-farm/nexus-rpc/nexusrpc"
)

// Transport names.
const (
	TransportStdio  = "stdio"
	TransportSocket = "socket"
)

// Source names understood by nexus-plugin.
const (
	SourceInMemory = "inmemory"
	SourceFiles    = "files"
)

type Config struct {
	Plugin PluginConfig `yaml:"plugin"`
	Host   HostConfig   `yaml:"host"`
	Log    LogConfig    `yaml:"log"`
}

// PluginConfig configures the plugin process.
type PluginConfig struct {
	Source       string `yaml:"source"`
	Transport    string `yaml:"transport"`
	Connect      string `yaml:"connect"`
	ServiceName  string `yaml:"service_name"`
	MaxFrameSize uint32 `yaml:"max_frame_size"`
	Otel         bool   `yaml:"otel"`
	MetricsAddr  string `yaml:"metrics_addr"`
}

// HostConfig configures how nexus-host starts and talks to a plugin.
type HostConfig struct {
	// Command is the plugin executable followed by its arguments.
	Command   []string `yaml:"command"`
	Transport string   `yaml:"transport"`
	// Listen is the address the socket transport listens on.
	Listen              string         `yaml:"listen"`
	CallTimeout         time.Duration  `yaml:"call_timeout"`
	ConnectTimeout      time.Duration  `yaml:"connect_timeout"`
	ResourceLocator     string         `yaml:"resource_locator"`
	SystemConfiguration map[string]any `yaml:"system_configuration"`
	SourceConfiguration map[string]any `yaml:"source_configuration"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads, defaults and validates the file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Plugin.Source == "" {
		c.Plugin.Source = SourceInMemory
	}
	if c.Plugin.Transport == "" {
		c.Plugin.Transport = TransportStdio
	}
	if c.Plugin.ServiceName == "" {
		c.Plugin.ServiceName = "NexusDataSource"
	}
	if c.Plugin.MaxFrameSize == 0 {
		c.Plugin.MaxFrameSize = nexusrpc.DefaultMaxFrameSize
	}

	if c.Host.Transport == "" {
		c.Host.Transport = TransportStdio
	}
	if c.Host.Listen == "" {
		c.Host.Listen = "127.0.0.1:0"
	}
	if c.Host.CallTimeout == 0 {
		c.Host.CallTimeout = nexusrpc.DefaultCallTimeout
	}
	if c.Host.ConnectTimeout == 0 {
		c.Host.ConnectTimeout = nexusrpc.DefaultConnectTimeout
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
}

// Validate checks the configuration after flags have been applied.
func (c *Config) Validate() error {
	switch c.Plugin.Source {
	case SourceInMemory, SourceFiles:
	default:
		return fmt.Errorf("plugin.source must be %q or %q, got %q", SourceInMemory, SourceFiles, c.Plugin.Source)
	}
	switch c.Plugin.Transport {
	case TransportStdio:
	case TransportSocket:
		if c.Plugin.Connect == "" {
			return fmt.Errorf("plugin.connect is required for the socket transport")
		}
	default:
		return fmt.Errorf("plugin.transport must be %q or %q, got %q", TransportStdio, TransportSocket, c.Plugin.Transport)
	}

	switch c.Host.Transport {
	case TransportStdio, TransportSocket:
	default:
		return fmt.Errorf("host.transport must be %q or %q, got %q", TransportStdio, TransportSocket, c.Host.Transport)
	}
	if c.Host.CallTimeout < 0 || c.Host.ConnectTimeout < 0 {
		return fmt.Errorf("host timeouts must not be negative")
	}
	if c.Host.ResourceLocator != "" {
		if _, err := url.Parse(c.Host.ResourceLocator); err != nil {
			return fmt.Errorf("host.resource_locator: %w", err)
		}
	}

	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("log.format must be \"json\" or \"text\", got %q", c.Log.Format)
	}
	return nil
}

// DataSourceContext builds the context nexus-host sends with SetContext.
func (h HostConfig) DataSourceContext() (nexusrpc.DataSourceContext, error) {
	dsc := nexusrpc.DataSourceContext{
		SystemConfiguration: h.SystemConfiguration,
		SourceConfiguration: h.SourceConfiguration,
	}
	if h.ResourceLocator != "" {
		u, err := url.Parse(h.ResourceLocator)
		if err != nil {
			return dsc, fmt.Errorf("resource locator: %w", err)
		}
		dsc.ResourceLocator = u
	}
	return dsc, nil
}

// SlogLevel parses Level as one of debug, info, warn or error.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(l.Level))); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}

// NewHandler returns a slog handler writing to w in the configured format.
func (l LogConfig) NewHandler(w io.Writer) (slog.Handler, error) {
	level, err := l.SlogLevel()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if l.Format == "text" {
		return slog.NewTextHandler(w, opts), nil
	}
	return slog.NewJSONHandler(w, opts), nil
}
