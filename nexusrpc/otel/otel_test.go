// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package nexusotel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/Query-farm/nexus-rpc/nexusrpc"
)

func newTestHook(t *testing.T) (nexusrpc.DispatchHook, *tracetest.SpanRecorder, *sdkmetric.ManualReader) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		_ = mp.Shutdown(context.Background())
	})

	cfg := DefaultConfig()
	cfg.TracerProvider = tp
	cfg.MeterProvider = mp
	cfg.ServiceName = "test"
	return NewHook(cfg), recorder, reader
}

func TestHookRecordsSpan(t *testing.T) {
	hook, recorder, _ := newTestHook(t)

	info := nexusrpc.DispatchInfo{Method: "GetCatalog", Transport: nexusrpc.TransportPipe, InvocationID: "42"}
	ctx, tok := hook.OnDispatchStart(context.Background(), info)
	hook.OnDispatchEnd(ctx, tok, info, &nexusrpc.CallStatistics{RequestBytes: 10, ResponseBytes: 20}, nil)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "nexus_rpc/GetCatalog", spans[0].Name())
	assert.Equal(t, codes.Ok, spans[0].Status().Code)
}

func TestHookRecordsErrorType(t *testing.T) {
	hook, recorder, _ := newTestHook(t)

	info := nexusrpc.DispatchInfo{Method: "GetCatalog", Transport: nexusrpc.TransportPipe}
	ctx, tok := hook.OnDispatchStart(context.Background(), info)
	hook.OnDispatchEnd(ctx, tok, info, nil, &nexusrpc.RpcError{Type: nexusrpc.ErrorTypeDomain, Message: "not found"})

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)

	var found bool
	for _, kv := range spans[0].Attributes() {
		if kv.Key == "rpc.nexus_rpc.error_type" {
			found = true
			assert.Equal(t, nexusrpc.ErrorTypeDomain, kv.Value.AsString())
		}
	}
	assert.True(t, found)
}

func TestHookRecordsMetrics(t *testing.T) {
	hook, _, reader := newTestHook(t)

	info := nexusrpc.DispatchInfo{Method: "ReadSingle", Transport: nexusrpc.TransportSocket, InvocationID: "1"}
	ctx, tok := hook.OnDispatchStart(context.Background(), info)
	hook.OnDispatchEnd(ctx, tok, info, &nexusrpc.CallStatistics{RawBytes: 18}, nil)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	require.Len(t, rm.ScopeMetrics, 1)

	names := map[string]bool{}
	for _, m := range rm.ScopeMetrics[0].Metrics {
		names[m.Name] = true
	}
	assert.True(t, names["rpc.server.requests"])
	assert.True(t, names["rpc.server.duration"])
	assert.True(t, names["rpc.server.raw_bytes"])
}

type fakeServer struct {
	name string
	hook nexusrpc.DispatchHook
}

func (s *fakeServer) ServiceName() string                        { return s.name }
func (s *fakeServer) SetDispatchHook(hook nexusrpc.DispatchHook) { s.hook = hook }

func TestInstrumentServerUsesServiceName(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	srv := &fakeServer{name: "math"}
	cfg := DefaultConfig()
	cfg.TracerProvider = tp
	cfg.EnableMetrics = false
	InstrumentServer(srv, cfg)
	require.NotNil(t, srv.hook)

	info := nexusrpc.DispatchInfo{Method: "GetApiVersion", Transport: nexusrpc.TransportPipe}
	ctx, tok := srv.hook.OnDispatchStart(context.Background(), info)
	srv.hook.OnDispatchEnd(ctx, tok, info, nil, nil)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	var service string
	for _, kv := range spans[0].Attributes() {
		if kv.Key == "rpc.service" {
			service = kv.Value.AsString()
		}
	}
	assert.Equal(t, "math", service)
}
