// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package nexusrpc

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const helperPluginEnv = "NEXUSRPC_HELPER_PLUGIN"

// closingSource logs one last record while it is being closed.
type closingSource struct {
	fakeSource
}

func (s *closingSource) Close() error {
	s.logger.Log(LogWarning, "closing data source")
	return s.fakeSource.Close()
}

// TestHelperPlugin is not a test: it is the plugin process started by the
// host tests below.
func TestHelperPlugin(t *testing.T) {
	if os.Getenv(helperPluginEnv) != "1" {
		t.Skip("helper process")
	}
	err := NewServer(&closingSource{}).RunStdio()
	if err != nil {
		os.Exit(1)
	}
	os.Exit(0)
}

func captureSlog(t *testing.T) *lockedBuffer {
	t.Helper()
	buf := &lockedBuffer{}
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return buf
}

func TestPipeHostCloseKeepsFinalLogs(t *testing.T) {
	t.Setenv(helperPluginEnv, "1")
	logs := captureSlog(t)

	h, err := StartPipeHost(context.Background(), os.Args[0], "-test.run=^TestHelperPlugin$")
	require.NoError(t, err)
	require.NoError(t, h.SetContext(context.Background(), DataSourceContext{}))
	require.NoError(t, h.Close())

	out := logs.String()
	assert.Contains(t, out, "context set")
	assert.Contains(t, out, "closing data source")
	assert.NotContains(t, out, "file already closed")
}

func TestPumpStderrSurvivesOverlongLine(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	input := `{"LogLevel":"Information","Message":"before"}` + "\n" +
		strings.Repeat("x", 3*maxStderrLine) + "\n" +
		"not json\n" +
		`{"LogLevel":"Error","Message":"after"}`
	require.NoError(t, pumpStderr(strings.NewReader(input), logger).Wait())

	out := buf.String()
	assert.Contains(t, out, "msg=before")
	assert.Contains(t, out, "dropping overlong stderr line")
	assert.Contains(t, out, `msg="not json"`)
	assert.Contains(t, out, "msg=after")
	assert.Less(t, len(out), maxStderrLine)
}

// stuckReader fails once and then yields more data that must still be read.
type stuckReader struct {
	failed bool
	rest   io.Reader
}

func (r *stuckReader) Read(p []byte) (int, error) {
	if !r.failed {
		r.failed = true
		return 0, io.ErrUnexpectedEOF
	}
	return r.rest.Read(p)
}

func TestPumpStderrDrainsAfterError(t *testing.T) {
	rest := strings.NewReader("late output\n")
	r := &stuckReader{rest: rest}
	err := pumpStderr(r, slog.New(slog.NewTextHandler(io.Discard, nil))).Wait()
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Zero(t, rest.Len())
}

func TestWaitPluginKillsAfterTimeout(t *testing.T) {
	t.Setenv(helperPluginEnv, "1")
	captureSlog(t)

	h, err := StartPipeHost(context.Background(), os.Args[0], "-test.run=^TestHelperPlugin$")
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.w.Close() })

	// The plugin waits for a close message that never comes.
	start := time.Now()
	err = waitPlugin(h.cmd, h.stderr, 100*time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "was killed")
	assert.Less(t, time.Since(start), 5*time.Second)
}
