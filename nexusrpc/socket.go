// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package nexusrpc

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"

	"github.com/goccy/go-json"
)

// Role tokens sent by the plugin right after connecting.
const (
	TokenComm = "comm"
	TokenData = "data"
)

// JSON-RPC error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeDomainError    = -32000
)

const jsonRPCVersion = "2.0"

type jsonRPCResponse struct {
	JSONRPC string `json:"jsonrpc"`
	ID      any    `json:"id"`
	Result  any    `json:"result"`
}

type jsonRPCErrorResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      any           `json:"id"`
	Error   *jsonRPCError `json:"error"`
}

type jsonRPCError struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

type jsonRPCNotification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

// SocketServer drives a DataSource over the socket transport: a "comm"
// connection carrying big-endian length-prefixed JSON-RPC 2.0 frames and a
// "data" connection carrying unframed sample and status bytes.
type SocketServer struct {
	source       DataSource
	serviceName  string
	dispatchHook DispatchHook
	maxFrameSize uint32
}

// NewSocketServer creates a socket server for source.
func NewSocketServer(source DataSource) *SocketServer {
	return &SocketServer{source: source, maxFrameSize: DefaultMaxFrameSize}
}

// SetServiceName sets a logical service name used by observability hooks.
func (s *SocketServer) SetServiceName(name string) {
	s.serviceName = name
}

// ServiceName returns the logical service name, or empty string if not set.
func (s *SocketServer) ServiceName() string {
	return s.serviceName
}

// SetDispatchHook registers a hook that is called around each invocation.
func (s *SocketServer) SetDispatchHook(hook DispatchHook) {
	s.dispatchHook = hook
}

// SetMaxFrameSize limits the size of incoming frames. Zero disables the limit.
func (s *SocketServer) SetMaxFrameSize(n uint32) {
	s.maxFrameSize = n
}

// DialSocket opens the comm and data connections to a host and identifies
// each with its role token.
func DialSocket(ctx context.Context, addr string) (comm, data net.Conn, err error) {
	var d net.Dialer
	comm, err = d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("dialing comm connection: %w", err)
	}
	if _, err = comm.Write([]byte(TokenComm)); err != nil {
		comm.Close()
		return nil, nil, fmt.Errorf("sending comm token: %w", err)
	}
	data, err = d.DialContext(ctx, "tcp", addr)
	if err != nil {
		comm.Close()
		return nil, nil, fmt.Errorf("dialing data connection: %w", err)
	}
	if _, err = data.Write([]byte(TokenData)); err != nil {
		comm.Close()
		data.Close()
		return nil, nil, fmt.Errorf("sending data token: %w", err)
	}
	return comm, data, nil
}

// DialAndServe connects to the host at addr and serves until the host closes
// the comm connection.
func (s *SocketServer) DialAndServe(ctx context.Context, addr string) error {
	comm, data, err := DialSocket(ctx, addr)
	if err != nil {
		return err
	}
	defer comm.Close()
	defer data.Close()

	// Unblock the read loop on cancellation.
	stop := context.AfterFunc(ctx, func() {
		comm.Close()
	})
	defer stop()

	return s.ServeConns(ctx, comm, data)
}

// ServeConns serves on connections whose role tokens were already sent.
func (s *SocketServer) ServeConns(ctx context.Context, comm io.ReadWriter, data io.Writer) error {
	fr := NewFrameReader(comm, SocketByteOrder)
	fr.SetMaxFrameSize(s.maxFrameSize)
	fw := NewFrameWriter(comm, SocketByteOrder)

	sess := newSession(s.source, &socketLogger{fw: fw})
	defer func() {
		if err := sess.close(); err != nil {
			slog.Error("closing data source", "err", err)
		}
	}()

	for {
		err := s.serveOne(ctx, fr, fw, data, sess)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			if !isTransportClosed(err) {
				slog.Error("serve loop error", "err", err)
			}
			return err
		}
	}
}

func (s *SocketServer) serveOne(ctx context.Context, fr *FrameReader, fw *FrameWriter, data io.Writer, sess *session) error {
	body, err := fr.ReadFrame()
	if err != nil {
		return err
	}

	tree, err := parseJSON(body)
	if err != nil {
		return writeRPCError(fw, nil, CodeParseError, err.Error(), "")
	}
	req, ok := tree.(map[string]any)
	if !ok {
		return writeRPCError(fw, nil, CodeInvalidRequest, "request must be an object", "")
	}
	id, hasID := req["id"]
	if hasID && id == nil {
		hasID = false
	}
	if version, _ := req["jsonrpc"].(string); version != jsonRPCVersion {
		return writeRPCError(fw, id, CodeInvalidRequest, fmt.Sprintf("unsupported jsonrpc version %q", version), "")
	}
	method, ok := req["method"].(string)
	if !ok {
		return writeRPCError(fw, id, CodeInvalidRequest, "request has no method", "")
	}
	if !hasID {
		slog.Error("ignoring request without id", "method", method)
		return nil
	}
	var rawArgs []any
	if p, ok := req["params"]; ok && p != nil {
		if rawArgs, ok = p.([]any); !ok {
			return writeRPCError(fw, id, CodeInvalidParams, "params must be an array", ErrorTypeMarshal)
		}
	}

	info, known := socketMethods[method]
	if !known {
		return writeRPCError(fw, id, CodeMethodNotFound, unknownMethod(method, availableMethods(socketMethods)).Message, ErrorTypeProtocolViolation)
	}

	invocationID := fmt.Sprint(id)
	dispatchInfo := DispatchInfo{
		Method:       method,
		Transport:    TransportSocket,
		InvocationID: invocationID,
		ServiceName:  s.serviceName,
	}
	stats := &CallStatistics{RequestBytes: int64(len(body))}
	ctx, token, hookActive := hookStart(s.dispatchHook, ctx, dispatchInfo)

	cc := &CallContext{Ctx: ctx, InvocationID: invocationID, Method: method, Logger: sess.logger}
	result, raw, callErr := invoke(cc, sess, info, rawArgs)

	var resp []byte
	if callErr == nil {
		var err error
		resp, err = json.Marshal(jsonRPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result})
		if err != nil {
			callErr = marshalErrorf("encoding result: %v", err)
		}
	}

	var transportErr error
	if callErr != nil {
		rpcErr := toRpcError(callErr)
		transportErr = writeRPCError(fw, id, errorCode(rpcErr), rpcErr.Message, rpcErr.Type)
	} else {
		stats.ResponseBytes = int64(len(resp))
		transportErr = fw.WriteFrame(resp)
		if transportErr == nil && len(raw) > 0 {
			stats.recordRaw(raw)
			transportErr = writeRaw(data, raw)
		}
	}

	hookEnd(s.dispatchHook, hookActive, ctx, token, dispatchInfo, stats, callErr)

	if transportErr != nil {
		return transportErr
	}
	if callErr != nil && info.Fatal {
		return fmt.Errorf("%s failed: %w", method, callErr)
	}
	return nil
}

func writeRaw(w io.Writer, raw [][]byte) error {
	for _, p := range raw {
		if _, err := w.Write(p); err != nil {
			return fmt.Errorf("writing data channel: %w", err)
		}
	}
	return nil
}

func writeRPCError(fw *FrameWriter, id any, code int, message, errType string) error {
	e := &jsonRPCError{Code: code, Message: message}
	if errType != "" {
		e.Data = map[string]any{"type": errType}
	}
	resp, err := json.Marshal(jsonRPCErrorResponse{JSONRPC: jsonRPCVersion, ID: id, Error: e})
	if err != nil {
		return err
	}
	return fw.WriteFrame(resp)
}

func errorCode(e *RpcError) int {
	switch e.Type {
	case ErrorTypeMarshal:
		return CodeInvalidParams
	case ErrorTypeProtocolViolation:
		return CodeInvalidRequest
	default:
		return CodeDomainError
	}
}

// socketLogger pushes log notifications on the comm connection. The frame
// writer's lock keeps them from interleaving with responses.
type socketLogger struct {
	fw *FrameWriter
}

func (l *socketLogger) Log(level LogLevel, message string) {
	data, err := json.Marshal(jsonRPCNotification{
		JSONRPC: jsonRPCVersion,
		Method:  "log",
		Params:  []any{level.String(), message},
	})
	if err != nil {
		return
	}
	if err := l.fw.WriteFrame(data); err != nil {
		slog.Debug("dropping log notification", "err", err)
	}
}
