// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package nexusrpc

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Query-farm/nexus-rpc/datamodel"
)

// Host-imposed timeouts.
const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultCallTimeout    = time.Minute
	DefaultCloseTimeout   = 5 * time.Second
)

// Host is the host side of a plugin connection. Calls are serialized; a Host
// is safe for use from several goroutines but never overlaps two calls.
type Host interface {
	SetContext(ctx context.Context, dsc DataSourceContext) error
	GetApiVersion(ctx context.Context) (int64, error)
	GetCatalogRegistrations(ctx context.Context, path string) ([]datamodel.CatalogRegistration, error)
	CatalogIDs(ctx context.Context) ([]string, error)
	GetCatalog(ctx context.Context, catalogID string) (datamodel.ResourceCatalog, error)
	GetTimeRange(ctx context.Context, catalogID string) (begin, end time.Time, err error)
	GetAvailability(ctx context.Context, catalogID string, begin, end time.Time) (float64, error)
	ReadSingle(ctx context.Context, item datamodel.CatalogItem, begin, end time.Time) (datamodel.ReadRequest, error)
	Close() error
}

// hostTransport performs one request/response exchange on the wire.
type hostTransport interface {
	roundTrip(method string, args []any) (any, error)
	readRaw(bufs ...[]byte) error
	// abort unblocks a pending roundTrip or readRaw.
	abort()
}

// hostConn implements the operations shared by both hosts.
type hostConn struct {
	mu          sync.Mutex
	t           hostTransport
	wireName    func(method string) string
	timeLayout  string
	timeStep    time.Duration // finest time the wire format carries
	callTimeout time.Duration
	broken      error
}

// SetCallTimeout bounds every call. Zero disables the timeout.
func (h *hostConn) SetCallTimeout(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.callTimeout = d
}

// call sends one invocation and decodes its result. raw buffers are filled
// from the data channel after a successful response. Any failure other than
// an error reported by the plugin leaves the connection unusable.
func (h *hostConn) call(ctx context.Context, method string, args []any, result *Shape, raw ...[]byte) (any, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.broken != nil {
		return nil, fmt.Errorf("%s: connection is unusable: %w", method, h.broken)
	}
	if h.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.callTimeout)
		defer cancel()
	}

	var value any
	done := make(chan error, 1)
	go func() {
		tree, err := h.t.roundTrip(h.wireName(method), args)
		if err == nil {
			value, err = Decode(result, tree)
		}
		if err == nil {
			err = h.t.readRaw(raw...)
		}
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil && !isRemoteError(err) {
			h.broken = err
		}
		return value, err
	case <-ctx.Done():
		h.t.abort()
		<-done
		h.broken = ctx.Err()
		return nil, fmt.Errorf("%s: %w", method, ctx.Err())
	}
}

// isRemoteError reports whether err was reported by the plugin in a well
// formed response, leaving the stream in sync.
func isRemoteError(err error) bool {
	var rpcErr *RpcError
	return errors.As(err, &rpcErr) && rpcErr.InvocationID != "" &&
		rpcErr.Type != ErrorTypeConnectionAborted
}

func (h *hostConn) SetContext(ctx context.Context, dsc DataSourceContext) error {
	tree, err := Encode(DataSourceContextShape, dsc)
	if err != nil {
		return err
	}
	_, err = h.call(ctx, MethodSetContext, []any{tree}, emptyShape)
	return err
}

func (h *hostConn) GetApiVersion(ctx context.Context) (int64, error) {
	v, err := h.call(ctx, MethodGetApiVersion, nil, apiVersionShape)
	if err != nil {
		return 0, err
	}
	return v.(apiVersionResult).APIVersion, nil
}

func (h *hostConn) GetCatalogRegistrations(ctx context.Context, path string) ([]datamodel.CatalogRegistration, error) {
	v, err := h.call(ctx, MethodGetCatalogRegistrations, []any{path}, ListOf(CatalogRegistrationShape))
	if err != nil {
		return nil, err
	}
	return sliceOf[datamodel.CatalogRegistration](v), nil
}

func (h *hostConn) CatalogIDs(ctx context.Context) ([]string, error) {
	v, err := h.call(ctx, MethodGetCatalogIds, nil, ListOf(StringShape))
	if err != nil {
		return nil, err
	}
	return sliceOf[string](v), nil
}

func (h *hostConn) GetCatalog(ctx context.Context, catalogID string) (datamodel.ResourceCatalog, error) {
	v, err := h.call(ctx, MethodGetCatalog, []any{catalogID}, ResourceCatalogShape)
	if err != nil {
		return datamodel.ResourceCatalog{}, err
	}
	return v.(datamodel.ResourceCatalog), nil
}

func (h *hostConn) GetTimeRange(ctx context.Context, catalogID string) (begin, end time.Time, err error) {
	v, err := h.call(ctx, MethodGetTimeRange, []any{catalogID}, TimeRangeShape)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	tr := v.(TimeRange)
	return tr.Begin, tr.End, nil
}

// formatBounds renders begin and end, refusing times the wire format would
// round.
func (h *hostConn) formatBounds(begin, end time.Time) (string, string, error) {
	for _, b := range []struct {
		name string
		t    time.Time
	}{{"begin", begin}, {"end", end}} {
		if b.t.Nanosecond()%int(h.timeStep) != 0 {
			return "", "", fmt.Errorf("%w: %s %s is not a multiple of %s", datamodel.ErrInvalidRequest, b.name, b.t.Format(time.RFC3339Nano), h.timeStep)
		}
	}
	return begin.UTC().Format(h.timeLayout), end.UTC().Format(h.timeLayout), nil
}

func (h *hostConn) GetAvailability(ctx context.Context, catalogID string, begin, end time.Time) (float64, error) {
	b, e, err := h.formatBounds(begin, end)
	if err != nil {
		return 0, err
	}
	v, err := h.call(ctx, MethodGetAvailability, []any{catalogID, b, e}, availabilityShape)
	if err != nil {
		return 0, err
	}
	return v.(availabilityResult).Availability, nil
}

// ReadSingle reads the samples of one catalog item in [begin, end).
func (h *hostConn) ReadSingle(ctx context.Context, item datamodel.CatalogItem, begin, end time.Time) (datamodel.ReadRequest, error) {
	req, err := datamodel.NewReadRequest(item, begin, end)
	if err != nil {
		return datamodel.ReadRequest{}, err
	}
	b, e, err := h.formatBounds(begin, end)
	if err != nil {
		return datamodel.ReadRequest{}, err
	}
	args := []any{item.Path(), int64(req.Length()), b, e}
	if _, err := h.call(ctx, MethodReadSingle, args, emptyShape, req.Data, req.Status); err != nil {
		return datamodel.ReadRequest{}, err
	}
	return req, nil
}

// PipeHost talks to a plugin over its standard streams.
type PipeHost struct {
	*hostConn
	w            io.WriteCloser
	fw           *FrameWriter
	cmd          *exec.Cmd
	stderr       *errgroup.Group
	closeTimeout time.Duration
	closeOnce    sync.Once
	closeErr     error
}

type pipeTransport struct {
	fr      *FrameReader
	fw      *FrameWriter
	abortFn func()
}

type invocation struct {
	Type         int    `json:"type"`
	Target       string `json:"target"`
	Arguments    []any  `json:"arguments"`
	InvocationID string `json:"invocationId"`
}

func (t *pipeTransport) roundTrip(method string, args []any) (any, error) {
	if args == nil {
		args = []any{}
	}
	id := uuid.NewString()
	body, err := json.Marshal(invocation{Type: MessageInvocation, Target: method, Arguments: args, InvocationID: id})
	if err != nil {
		return nil, marshalErrorf("encoding invocation: %v", err)
	}
	if err := t.fw.WriteFrame(body); err != nil {
		return nil, err
	}

	resp, err := t.fr.ReadFrame()
	if err != nil {
		return nil, abortedOr(err)
	}
	if len(resp) == 0 {
		return nil, protocolErrorf("Invalid number of bytes received.")
	}
	tree, err := parseJSON(resp)
	if err != nil {
		return nil, protocolErrorf("invalid response: %v", err)
	}
	msg, ok := tree.(map[string]any)
	if !ok {
		return nil, protocolErrorf("response must be an object, got %s", jsonTypeName(tree))
	}
	msgType, err := messageType(msg)
	if err != nil {
		return nil, err
	}
	switch msgType {
	case MessageCompletion:
	case MessageClose:
		reason, _ := msg["error"].(string)
		return nil, protocolErrorf("plugin closed the connection: %s", reason)
	default:
		return nil, protocolErrorf("unexpected message type %d", msgType)
	}
	if got, _ := msg["invocationId"].(string); got != id {
		return nil, protocolErrorf("The response invocation ID %q does not match the expected invocation ID %q.", got, id)
	}

	result := msg["result"]
	if errMsg, _ := msg["error"].(string); errMsg != "" {
		if result != nil {
			return nil, protocolErrorf("a completion must not carry both a result and an error")
		}
		errType, _ := msg["errorType"].(string)
		return nil, remoteError(errType, errMsg, id)
	}
	return result, nil
}

func (t *pipeTransport) readRaw(bufs ...[]byte) error {
	for _, b := range bufs {
		if err := t.fr.ReadRaw(b); err != nil {
			return err
		}
	}
	return nil
}

func (t *pipeTransport) abort() {
	if t.abortFn != nil {
		t.abortFn()
	}
}

// NewPipeHost wraps an already running plugin: w is its input, r its output.
// Connect must be called before any other method.
func NewPipeHost(r io.Reader, w io.WriteCloser) *PipeHost {
	fw := NewFrameWriter(w, PipeByteOrder)
	t := &pipeTransport{fr: NewFrameReader(r, PipeByteOrder), fw: fw}
	t.abortFn = func() {
		w.Close()
		if c, ok := r.(io.Closer); ok {
			c.Close()
		}
	}
	return &PipeHost{
		hostConn: &hostConn{
			t:           t,
			wireName:    func(m string) string { return m },
			timeLayout:  TimestampLayout,
			timeStep:    tick,
			callTimeout: DefaultCallTimeout,
		},
		w:            w,
		fw:           fw,
		closeTimeout: DefaultCloseTimeout,
	}
}

// StartPipeHost starts name with args and connects to it. The plugin's
// stderr is read as JSON log lines and forwarded to slog.
func StartPipeHost(ctx context.Context, name string, args ...string) (*PipeHost, error) {
	cmd := exec.Command(name, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting plugin %s: %w", name, err)
	}

	h := NewPipeHost(stdout, stdin)
	h.cmd = cmd
	h.stderr = pumpStderr(stderr, slog.Default().With("plugin", name))
	h.t.(*pipeTransport).abortFn = func() {
		_ = cmd.Process.Kill()
	}

	if err := h.Connect(ctx); err != nil {
		h.kill()
		return nil, err
	}
	return h, nil
}

// Connect performs the handshake.
func (h *PipeHost) Connect(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, DefaultConnectTimeout)
	defer cancel()

	h.mu.Lock()
	defer h.mu.Unlock()
	t := h.t.(*pipeTransport)
	done := make(chan error, 1)
	go func() { done <- Negotiate(t.fr, t.fw) }()
	select {
	case err := <-done:
		if err != nil {
			h.broken = err
		}
		return err
	case <-ctx.Done():
		t.abort()
		<-done
		h.broken = ctx.Err()
		return fmt.Errorf("handshake: %w", ctx.Err())
	}
}

// Close sends the close message, waits for the plugin to exit and kills it
// if it does not exit in time.
func (h *PipeHost) Close() error {
	h.closeOnce.Do(func() {
		h.mu.Lock()
		if h.broken == nil {
			data, _ := json.Marshal(closeMessage{Type: MessageClose})
			if err := h.fw.WriteFrame(data); err != nil {
				slog.Debug("sending close message", "err", err)
			}
			h.broken = errors.New("host closed the connection")
		}
		h.mu.Unlock()
		_ = h.w.Close()

		if h.cmd != nil {
			h.closeErr = waitPlugin(h.cmd, h.stderr, h.closeTimeout)
		}
	})
	return h.closeErr
}

func (h *PipeHost) kill() {
	_ = h.w.Close()
	if h.cmd != nil {
		killPlugin(h.cmd, h.stderr)
	}
}

// waitPlugin waits for the plugin to exit, killing it after timeout. The
// stderr pump is drained before cmd.Wait closes the pipe.
func waitPlugin(cmd *exec.Cmd, pump *errgroup.Group, timeout time.Duration) error {
	deadline := time.After(timeout)
	if pump != nil {
		drained := make(chan struct{})
		go func() {
			_ = pump.Wait()
			close(drained)
		}()
		select {
		case <-drained:
		case <-deadline:
			killPlugin(cmd, pump)
			return fmt.Errorf("plugin did not exit within %s and was killed", timeout)
		}
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	select {
	case err := <-done:
		return err
	case <-deadline:
		_ = cmd.Process.Kill()
		<-done
		return fmt.Errorf("plugin did not exit within %s and was killed", timeout)
	}
}

// killPlugin kills the plugin, lets the pump reach EOF and reaps the process.
func killPlugin(cmd *exec.Cmd, pump *errgroup.Group) {
	_ = cmd.Process.Kill()
	if pump != nil {
		_ = pump.Wait()
	}
	_ = cmd.Wait()
}

// maxStderrLine bounds a forwarded stderr line. Longer lines are dropped
// and the pump resynchronizes at the next newline.
const maxStderrLine = 1 << 20

// pumpStderr forwards the plugin's stderr until EOF. Lines that are not log
// records are logged verbatim at error level.
func pumpStderr(r io.Reader, logger *slog.Logger) *errgroup.Group {
	var g errgroup.Group
	g.Go(func() error {
		br := bufio.NewReaderSize(r, maxStderrLine)
		for {
			line, err := br.ReadSlice('\n')
			if errors.Is(err, bufio.ErrBufferFull) {
				logger.Error("dropping overlong stderr line", "prefix", string(line[:256]))
				for errors.Is(err, bufio.ErrBufferFull) {
					_, err = br.ReadSlice('\n')
				}
				line = nil
			}
			forwardStderrLine(logger, bytes.TrimRight(line, "\r\n"))
			if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) {
				return nil
			}
			if err != nil {
				// Keep the pipe drained so the plugin never blocks on a write.
				_, _ = io.Copy(io.Discard, r)
				return err
			}
		}
	})
	return &g
}

func forwardStderrLine(logger *slog.Logger, line []byte) {
	if len(line) == 0 {
		return
	}
	rec, err := ParseLogLine(line)
	if err != nil {
		logger.Error(string(line))
		return
	}
	SlogLogger{Logger: logger}.Log(rec.Level, rec.Message)
}
