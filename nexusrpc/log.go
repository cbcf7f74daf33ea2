// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package nexusrpc

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/goccy/go-json"
)

// LogLevel is the severity of a log record sent from plugin to host.
type LogLevel int

const (
	// LogTrace is the most detailed level and may contain sensitive data.
	LogTrace LogLevel = iota
	// LogDebug is for interactive investigation during development.
	LogDebug
	// LogInformation tracks the general flow of the plugin.
	LogInformation
	// LogWarning highlights an abnormal event that did not stop execution.
	LogWarning
	// LogError means the current activity failed.
	LogError
	// LogCritical means the plugin cannot continue.
	LogCritical
)

var logLevelNames = map[LogLevel]string{
	LogTrace:       "Trace",
	LogDebug:       "Debug",
	LogInformation: "Information",
	LogWarning:     "Warning",
	LogError:       "Error",
	LogCritical:    "Critical",
}

func (l LogLevel) String() string {
	if name, ok := logLevelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("LogLevel(%d)", int(l))
}

// ParseLogLevel resolves a wire name such as "Warning".
func ParseLogLevel(name string) (LogLevel, error) {
	for l, n := range logLevelNames {
		if n == name {
			return l, nil
		}
	}
	return 0, marshalErrorf("%q is not a member of enum LogLevel", name)
}

// SlogLevel maps a plugin log level onto slog.
func (l LogLevel) SlogLevel() slog.Level {
	switch {
	case l <= LogDebug:
		return slog.LevelDebug
	case l == LogInformation:
		return slog.LevelInfo
	case l == LogWarning:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

// Logger receives log records from a data source. Records are forwarded to
// the host over the logger channel of the active transport.
type Logger interface {
	Log(level LogLevel, message string)
}

// LogRecord is the wire form of one log record.
type LogRecord struct {
	Level   LogLevel
	Message string
}

// logLine is the JSON line written to stderr by pipe plugins.
type logLine struct {
	LogLevel string `json:"LogLevel"`
	Message  string `json:"Message"`
}

// streamLogger writes one JSON object per line. Lines never interleave.
type streamLogger struct {
	mu *sync.Mutex
	w  io.Writer
}

// NewStreamLogger returns a Logger that writes JSON lines to w.
func NewStreamLogger(w io.Writer) Logger {
	return &streamLogger{mu: &sync.Mutex{}, w: w}
}

func (l *streamLogger) Log(level LogLevel, message string) {
	data, err := json.Marshal(logLine{LogLevel: level.String(), Message: message})
	if err != nil {
		return
	}
	data = append(data, '\n')
	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = l.w.Write(data)
}

// ParseLogLine decodes a JSON log line written by a pipe plugin.
func ParseLogLine(line []byte) (LogRecord, error) {
	var ll logLine
	if err := json.Unmarshal(line, &ll); err != nil {
		return LogRecord{}, marshalErrorf("invalid log line: %v", err)
	}
	level, err := ParseLogLevel(ll.LogLevel)
	if err != nil {
		return LogRecord{}, err
	}
	return LogRecord{Level: level, Message: ll.Message}, nil
}

// SlogLogger forwards records to a slog.Logger.
type SlogLogger struct {
	Logger *slog.Logger
}

func (l SlogLogger) Log(level LogLevel, message string) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Log(context.Background(), level.SlogLevel(), message, "plugin_level", level.String())
}

// discardLogger drops every record.
type discardLogger struct{}

func (discardLogger) Log(LogLevel, string) {}
