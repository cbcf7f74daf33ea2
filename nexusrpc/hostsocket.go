// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package nexusrpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os/exec"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/sync/errgroup"
)

// SocketHost talks to a plugin over the socket transport.
type SocketHost struct {
	*hostConn
	comm         net.Conn
	data         net.Conn
	listener     net.Listener
	cmd          *exec.Cmd
	stderr       *errgroup.Group
	closeTimeout time.Duration
	closeOnce    sync.Once
	closeErr     error
}

type jsonRPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type socketTransport struct {
	fr     *FrameReader
	fw     *FrameWriter
	data   io.Reader
	nextID int64
	logger *slog.Logger
	conns  []net.Conn
}

func (t *socketTransport) roundTrip(method string, args []any) (any, error) {
	if args == nil {
		args = []any{}
	}
	t.nextID++
	id := t.nextID
	body, err := json.Marshal(jsonRPCRequest{JSONRPC: jsonRPCVersion, ID: id, Method: method, Params: args})
	if err != nil {
		return nil, marshalErrorf("encoding request: %v", err)
	}
	if err := t.fw.WriteFrame(body); err != nil {
		return nil, err
	}

	for {
		resp, err := t.fr.ReadFrame()
		if err != nil {
			return nil, abortedOr(err)
		}
		tree, err := parseJSON(resp)
		if err != nil {
			return nil, protocolErrorf("invalid response: %v", err)
		}
		msg, ok := tree.(map[string]any)
		if !ok {
			return nil, protocolErrorf("response must be an object, got %s", jsonTypeName(tree))
		}

		// Log notifications may arrive before the response.
		if _, hasID := msg["id"]; !hasID {
			t.notification(msg)
			continue
		}

		n, ok := msg["id"].(json.Number)
		got, nerr := n.Int64()
		if !ok || nerr != nil || got != id {
			return nil, protocolErrorf("response id %v does not match request id %d", msg["id"], id)
		}
		if e, ok := msg["error"].(map[string]any); ok {
			return nil, rpcErrorFromJSON(e, fmt.Sprint(id))
		}
		return msg["result"], nil
	}
}

func (t *socketTransport) notification(msg map[string]any) {
	method, _ := msg["method"].(string)
	if method != "log" {
		t.logger.Warn("ignoring notification", "method", method)
		return
	}
	params, _ := msg["params"].([]any)
	if len(params) != 2 {
		t.logger.Warn("malformed log notification")
		return
	}
	name, _ := params[0].(string)
	message, _ := params[1].(string)
	level, err := ParseLogLevel(name)
	if err != nil {
		level = LogInformation
	}
	SlogLogger{Logger: t.logger}.Log(level, message)
}

func rpcErrorFromJSON(e map[string]any, invocationID string) *RpcError {
	message, _ := e["message"].(string)
	var errType string
	if data, ok := e["data"].(map[string]any); ok {
		errType, _ = data["type"].(string)
	}
	if errType == "" {
		code, _ := e["code"].(json.Number)
		switch c, _ := code.Int64(); c {
		case CodeInvalidParams:
			errType = ErrorTypeMarshal
		case CodeParseError, CodeInvalidRequest, CodeMethodNotFound:
			errType = ErrorTypeProtocolViolation
		default:
			errType = ErrorTypeDomain
		}
	}
	return remoteError(errType, message, invocationID)
}

func (t *socketTransport) readRaw(bufs ...[]byte) error {
	for _, b := range bufs {
		if err := ReadRaw(t.data, b); err != nil {
			return err
		}
	}
	return nil
}

func (t *socketTransport) abort() {
	for _, c := range t.conns {
		c.Close()
	}
}

// StartSocketHost listens on addr, starts name with args followed by the
// listener address and accepts the plugin's two connections.
func StartSocketHost(ctx context.Context, addr, name string, args ...string) (*SocketHost, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(name, append(args, ln.Addr().String())...)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		ln.Close()
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		ln.Close()
		return nil, fmt.Errorf("starting plugin %s: %w", name, err)
	}
	pump := pumpStderr(stderr, slog.Default().With("plugin", name))

	h, err := AcceptSocketHost(ctx, ln)
	if err != nil {
		ln.Close()
		killPlugin(cmd, pump)
		return nil, err
	}
	h.listener = ln
	h.cmd = cmd
	h.stderr = pump
	return h, nil
}

// AcceptSocketHost accepts the comm and data connections of one plugin on ln
// and checks its API version. The listener is left open.
func AcceptSocketHost(ctx context.Context, ln net.Listener) (*SocketHost, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultConnectTimeout)
	defer cancel()
	if dl, ok := ln.(interface{ SetDeadline(time.Time) error }); ok {
		deadline, _ := ctx.Deadline()
		_ = dl.SetDeadline(deadline)
		defer dl.SetDeadline(time.Time{})
	}

	var conns [2]net.Conn
	var tokens [2]string
	g, gctx := errgroup.WithContext(ctx)
	for i := range conns {
		g.Go(func() error {
			conn, err := ln.Accept()
			if err != nil {
				return fmt.Errorf("accepting plugin connection: %w", err)
			}
			conns[i] = conn
			if d, ok := gctx.Deadline(); ok {
				_ = conn.SetReadDeadline(d)
			}
			var token [4]byte
			if err := ReadRaw(conn, token[:]); err != nil {
				return fmt.Errorf("reading role token: %w", err)
			}
			_ = conn.SetReadDeadline(time.Time{})
			tokens[i] = string(token[:])
			return nil
		})
	}
	closeAll := func() {
		for _, c := range conns {
			if c != nil {
				c.Close()
			}
		}
	}
	if err := g.Wait(); err != nil {
		closeAll()
		return nil, err
	}

	var comm, data net.Conn
	for i, tok := range tokens {
		switch tok {
		case TokenComm:
			comm = conns[i]
		case TokenData:
			data = conns[i]
		default:
			closeAll()
			return nil, protocolErrorf("unknown role token %q", tok)
		}
	}
	if comm == nil || data == nil {
		closeAll()
		return nil, protocolErrorf("plugin must open one comm and one data connection")
	}

	h := newSocketHost(comm, data)
	version, err := h.GetApiVersion(ctx)
	if err != nil {
		closeAll()
		return nil, fmt.Errorf("negotiating api version: %w", err)
	}
	if version < APIVersion || version > APIVersion {
		closeAll()
		return nil, protocolErrorf("The API level '%d' is not supported.", version)
	}
	return h, nil
}

func newSocketHost(comm, data net.Conn) *SocketHost {
	t := &socketTransport{
		fr:     NewFrameReader(comm, SocketByteOrder),
		fw:     NewFrameWriter(comm, SocketByteOrder),
		data:   data,
		logger: slog.Default(),
		conns:  []net.Conn{comm, data},
	}
	return &SocketHost{
		hostConn: &hostConn{
			t:           t,
			wireName:    socketName,
			timeLayout:  ParamTimestampLayout,
			timeStep:    time.Second,
			callTimeout: DefaultCallTimeout,
		},
		comm:         comm,
		data:         data,
		closeTimeout: DefaultCloseTimeout,
	}
}

func socketName(method string) string {
	if info, ok := methods[method]; ok {
		return info.SocketName
	}
	return method
}

// Close closes both connections and waits for the plugin to exit.
func (h *SocketHost) Close() error {
	h.closeOnce.Do(func() {
		h.mu.Lock()
		if h.broken == nil {
			h.broken = errors.New("host closed the connection")
		}
		h.mu.Unlock()

		h.closeErr = errors.Join(h.comm.Close(), h.data.Close())
		if h.listener != nil {
			_ = h.listener.Close()
		}
		if h.cmd != nil {
			h.closeErr = waitPlugin(h.cmd, h.stderr, h.closeTimeout)
		}
	})
	return h.closeErr
}
