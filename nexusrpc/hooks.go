// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package nexusrpc

import (
	"context"
	"log/slog"
)

// Transport names reported in DispatchInfo.Transport.
const (
	TransportPipe   = "pipe"
	TransportSocket = "socket"
)

// DispatchHook provides observability callpoints around every invocation.
// Implementations must be safe for concurrent use; a socket plugin may serve
// several connections at once.
type DispatchHook interface {
	OnDispatchStart(ctx context.Context, info DispatchInfo) (context.Context, HookToken)
	OnDispatchEnd(ctx context.Context, token HookToken, info DispatchInfo, stats *CallStatistics, err error)
}

// HookToken is an opaque value returned by OnDispatchStart and passed back to
// OnDispatchEnd. Only meaningful to the DispatchHook that created it.
type HookToken interface{}

// DispatchInfo carries invocation metadata passed to hooks.
type DispatchInfo struct {
	Method       string // method name as it appears on the wire
	Transport    string // TransportPipe or TransportSocket
	InvocationID string // correlation id, empty for fire-and-forget invocations
	ServiceName  string // set via SetServiceName
}

// CallStatistics holds per-invocation byte counters.
type CallStatistics struct {
	RequestBytes  int64
	ResponseBytes int64
	// RawBytes counts sample and status bytes written to the data channel.
	RawBytes int64
}

func (s *CallStatistics) recordRaw(raw [][]byte) {
	for _, p := range raw {
		s.RawBytes += int64(len(p))
	}
}

// hookStart calls OnDispatchStart, recovering from panics in the hook.
func hookStart(hook DispatchHook, ctx context.Context, info DispatchInfo) (context.Context, HookToken, bool) {
	if hook == nil {
		return ctx, nil, false
	}
	var token HookToken
	active := false
	func() {
		defer func() {
			if rv := recover(); rv != nil {
				slog.Error("dispatch hook start panic", "err", rv)
			}
		}()
		hookCtx, t := hook.OnDispatchStart(ctx, info)
		if hookCtx != nil {
			ctx = hookCtx
		}
		token = t
		active = true
	}()
	return ctx, token, active
}

// hookEnd calls OnDispatchEnd, recovering from panics in the hook.
func hookEnd(hook DispatchHook, active bool, ctx context.Context, token HookToken, info DispatchInfo, stats *CallStatistics, err error) {
	if !active {
		return
	}
	defer func() {
		if rv := recover(); rv != nil {
			slog.Error("dispatch hook end panic", "err", rv)
		}
	}()
	hook.OnDispatchEnd(ctx, token, info, stats, err)
}

// MultiHook fans every callpoint out to several hooks. End callbacks run in
// reverse order.
type MultiHook []DispatchHook

func (m MultiHook) OnDispatchStart(ctx context.Context, info DispatchInfo) (context.Context, HookToken) {
	tokens := make([]HookToken, len(m))
	for i, h := range m {
		hookCtx, t := h.OnDispatchStart(ctx, info)
		if hookCtx != nil {
			ctx = hookCtx
		}
		tokens[i] = t
	}
	return ctx, tokens
}

func (m MultiHook) OnDispatchEnd(ctx context.Context, token HookToken, info DispatchInfo, stats *CallStatistics, err error) {
	tokens, _ := token.([]HookToken)
	for i := len(m) - 1; i >= 0; i-- {
		var t HookToken
		if i < len(tokens) {
			t = tokens[i]
		}
		m[i].OnDispatchEnd(ctx, t, info, stats, err)
	}
}
