// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package nexusrpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/goccy/go-json"
)

// Message types of the pipe transport.
const (
	MessageInvocation = 1
	MessageCompletion = 3
	MessageClose      = 7
)

// completion is the successful response to an invocation.
type completion struct {
	Type         int    `json:"type"`
	InvocationID string `json:"invocationId"`
	Result       any    `json:"result"`
}

// failedCompletion reports an invocation error. It never carries a result.
type failedCompletion struct {
	Type         int    `json:"type"`
	InvocationID string `json:"invocationId"`
	Error        string `json:"error"`
	ErrorType    string `json:"errorType"`
}

type closeMessage struct {
	Type  int    `json:"type"`
	Error string `json:"error,omitempty"`
}

// Server drives a DataSource over the pipe transport: one length-prefixed
// stream in each direction, little-endian lengths, JSON bodies.
type Server struct {
	source       DataSource
	serviceName  string
	dispatchHook DispatchHook
	maxFrameSize uint32
	logOutput    io.Writer
}

// NewServer creates a server for source.
func NewServer(source DataSource) *Server {
	return &Server{
		source:       source,
		maxFrameSize: DefaultMaxFrameSize,
		logOutput:    os.Stderr,
	}
}

// SetServiceName sets a logical service name used by observability hooks.
func (s *Server) SetServiceName(name string) {
	s.serviceName = name
}

// ServiceName returns the logical service name, or empty string if not set.
func (s *Server) ServiceName() string {
	return s.serviceName
}

// SetDispatchHook registers a hook that is called around each invocation.
func (s *Server) SetDispatchHook(hook DispatchHook) {
	s.dispatchHook = hook
}

// SetMaxFrameSize limits the size of incoming frames. Zero disables the limit.
func (s *Server) SetMaxFrameSize(n uint32) {
	s.maxFrameSize = n
}

// SetLogOutput redirects the logger channel. Records are written as JSON
// lines; the default is stderr.
func (s *Server) SetLogOutput(w io.Writer) {
	s.logOutput = w
}

// RunStdio serves on stdin and stdout. If either is a terminal a warning is
// printed to stderr.
func (s *Server) RunStdio() error {
	// Writes to a closed pipe must return errors instead of killing the
	// process.
	signal.Ignore(syscall.SIGPIPE)

	if isTerminal(os.Stdin) || isTerminal(os.Stdout) {
		fmt.Fprintln(os.Stderr,
			"WARNING: This process speaks a binary protocol on stdin/stdout "+
				"and is not intended to be run interactively.\n"+
				"It should be launched as a subprocess by a data source host.")
	}
	return s.Serve(os.Stdin, os.Stdout)
}

// isTerminal reports whether f is connected to a terminal.
func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

// Serve runs the server loop on the given reader/writer pair.
func (s *Server) Serve(r io.Reader, w io.Writer) error {
	return s.ServeWithContext(context.Background(), r, w)
}

// ServeWithContext performs the handshake and then serves invocations until
// the host sends a close message or ends the stream. It returns nil on an
// orderly shutdown.
func (s *Server) ServeWithContext(ctx context.Context, r io.Reader, w io.Writer) error {
	fr := NewFrameReader(r, PipeByteOrder)
	fr.SetMaxFrameSize(s.maxFrameSize)
	fw := NewFrameWriter(w, PipeByteOrder)

	if err := acceptHandshake(fr, fw); err != nil {
		if err == io.EOF {
			return nil
		}
		slog.Error("handshake failed", "err", err)
		return err
	}

	sess := newSession(s.source, NewStreamLogger(s.logOutput))
	defer func() {
		if err := sess.close(); err != nil {
			slog.Error("closing data source", "err", err)
		}
	}()

	for {
		done, err := s.serveOne(ctx, fr, fw, sess)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			if !isTransportClosed(err) {
				slog.Error("serve loop error", "err", err)
				writeClose(fw, err)
			}
			return err
		}
		if done {
			return nil
		}
	}
}

// serveOne reads and handles one message. It reports done for a close
// message and returns an error when the connection must end.
func (s *Server) serveOne(ctx context.Context, fr *FrameReader, fw *FrameWriter, sess *session) (done bool, err error) {
	body, err := fr.ReadFrame()
	if err != nil {
		return false, err
	}

	tree, err := parseJSON(body)
	if err != nil {
		return false, protocolErrorf("invalid message: %v", err)
	}
	msg, ok := tree.(map[string]any)
	if !ok {
		return false, protocolErrorf("message must be an object, got %s", jsonTypeName(tree))
	}
	msgType, err := messageType(msg)
	if err != nil {
		return false, err
	}

	switch msgType {
	case MessageClose:
		if reason, _ := msg["error"].(string); reason != "" {
			slog.Warn("host closed the connection", "reason", reason)
		}
		return true, nil
	case MessageInvocation:
	default:
		return false, protocolErrorf("unexpected message type %d", msgType)
	}

	target, _ := msg["target"].(string)
	invocationID, hasID := msg["invocationId"].(string)
	var rawArgs []any
	if a, ok := msg["arguments"]; ok && a != nil {
		if rawArgs, ok = a.([]any); !ok {
			return false, protocolErrorf("invocation arguments must be an array, got %s", jsonTypeName(a))
		}
	}

	info, known := methods[target]
	if known && info.Raw && !hasID {
		return false, protocolErrorf("%s requires an invocation id", target)
	}

	dispatchInfo := DispatchInfo{
		Method:       target,
		Transport:    TransportPipe,
		InvocationID: invocationID,
		ServiceName:  s.serviceName,
	}
	stats := &CallStatistics{RequestBytes: int64(len(body))}
	ctx, token, hookActive := hookStart(s.dispatchHook, ctx, dispatchInfo)

	var result any
	var raw [][]byte
	var callErr error
	if !known {
		callErr = unknownMethod(target, availableMethods(methods))
	} else {
		cc := &CallContext{Ctx: ctx, InvocationID: invocationID, Method: target, Logger: sess.logger}
		result, raw, callErr = invoke(cc, sess, info, rawArgs)
	}

	var transportErr error
	if hasID {
		var resp any = completion{Type: MessageCompletion, InvocationID: invocationID, Result: result}
		if callErr != nil {
			rpcErr := toRpcError(callErr)
			resp = failedCompletion{Type: MessageCompletion, InvocationID: invocationID, Error: rpcErr.Message, ErrorType: rpcErr.Type}
			raw = nil
		}
		data, err := json.Marshal(resp)
		if err != nil && callErr == nil {
			rpcErr := marshalErrorf("encoding result: %v", err)
			callErr, raw = rpcErr, nil
			data, err = json.Marshal(failedCompletion{Type: MessageCompletion, InvocationID: invocationID, Error: rpcErr.Message, ErrorType: rpcErr.Type})
		}
		if err != nil {
			transportErr = fmt.Errorf("encoding completion: %w", err)
		} else {
			stats.ResponseBytes = int64(len(data))
			stats.recordRaw(raw)
			transportErr = fw.WriteFrameWithRaw(data, raw...)
		}
	} else if callErr != nil {
		slog.Warn("invocation without id failed", "method", target, "err", callErr)
	}

	hookEnd(s.dispatchHook, hookActive, ctx, token, dispatchInfo, stats, callErr)

	if transportErr != nil {
		return false, transportErr
	}
	if callErr != nil && known && info.Fatal {
		return false, fmt.Errorf("%s failed: %w", target, callErr)
	}
	return false, nil
}

func messageType(msg map[string]any) (int, error) {
	n, ok := msg["type"].(json.Number)
	if !ok {
		return 0, protocolErrorf("message has no type")
	}
	t, err := n.Int64()
	if err != nil {
		return 0, protocolErrorf("invalid message type %q", n.String())
	}
	return int(t), nil
}

// writeClose tells the host why the connection is ending. Errors are
// ignored; the connection is going away either way.
func writeClose(fw *FrameWriter, cause error) {
	if errors.Is(cause, ErrConnectionAborted) {
		return
	}
	data, err := json.Marshal(closeMessage{Type: MessageClose, Error: cause.Error()})
	if err != nil {
		return
	}
	_ = fw.WriteFrame(data)
}

// isTransportClosed returns true for errors that indicate the transport was
// closed by the peer.
func isTransportClosed(err error) bool {
	if err == io.EOF || errors.Is(err, ErrConnectionAborted) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "use of closed network connection")
}
