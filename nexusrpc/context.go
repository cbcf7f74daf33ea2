// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package nexusrpc

import "context"

// CallContext provides invocation-scoped information to method handlers.
type CallContext struct {
	// Ctx is the invocation context, carrying cancellation and hook spans.
	Ctx context.Context
	// InvocationID is the host-supplied correlation id, echoed in the
	// response. Empty when the host does not expect a completion.
	InvocationID string
	// Method is the name of the method being invoked.
	Method string
	// Logger forwards records to the host over the logger channel.
	Logger Logger
}

// Log forwards a record to the host.
func (cc *CallContext) Log(level LogLevel, msg string) {
	if cc.Logger == nil {
		return
	}
	cc.Logger.Log(level, msg)
}
