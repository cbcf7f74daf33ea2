// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package nexusprom

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Query-farm/nexus-rpc/nexusrpc"
)

func TestHookCountsInvocations(t *testing.T) {
	reg := prometheus.NewRegistry()
	h, err := NewHook(reg)
	require.NoError(t, err)

	info := nexusrpc.DispatchInfo{Method: "ReadSingle", Transport: nexusrpc.TransportPipe}
	ctx, tok := h.OnDispatchStart(context.Background(), info)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.inFlight))
	h.OnDispatchEnd(ctx, tok, info, &nexusrpc.CallStatistics{RawBytes: 24}, nil)

	assert.Equal(t, 0.0, testutil.ToFloat64(h.inFlight))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.invocations.WithLabelValues("ReadSingle", "pipe", "ok")))
	assert.Equal(t, 24.0, testutil.ToFloat64(h.rawBytes.WithLabelValues("pipe")))
	assert.Equal(t, 1, testutil.CollectAndCount(h.duration))
}

func TestHookRecordsErrorType(t *testing.T) {
	reg := prometheus.NewRegistry()
	h, err := NewHook(reg)
	require.NoError(t, err)

	info := nexusrpc.DispatchInfo{Method: "GetCatalog", Transport: nexusrpc.TransportSocket}
	ctx, tok := h.OnDispatchStart(context.Background(), info)
	h.OnDispatchEnd(ctx, tok, info, &nexusrpc.CallStatistics{}, &nexusrpc.RpcError{Type: nexusrpc.ErrorTypeMarshal, Message: "bad"})

	assert.Equal(t, 1.0, testutil.ToFloat64(h.errors.WithLabelValues("GetCatalog", "MarshalError")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.invocations.WithLabelValues("GetCatalog", "socket", "error")))
}

func TestNewHookRejectsDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewHook(reg)
	require.NoError(t, err)
	_, err = NewHook(reg)
	assert.Error(t, err)
}
