// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// Package nexusotel provides OpenTelemetry instrumentation for data source
// plugins. It implements the [nexusrpc.DispatchHook] interface to add
// tracing and metrics to every invocation.
//
// Usage:
//
//	server := nexusrpc.NewServer(source)
//	nexusotel.InstrumentServer(server, nexusotel.DefaultConfig())
package nexusotel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/Query-farm/nexus-rpc/nexusrpc"
)

const instrumentationName = "nexus_rpc"

// OtelConfig configures OpenTelemetry instrumentation for a plugin server.
type OtelConfig struct {
	// TracerProvider supplies the tracer. Defaults to otel.GetTracerProvider().
	TracerProvider trace.TracerProvider
	// MeterProvider supplies the meter. Defaults to otel.GetMeterProvider().
	MeterProvider metric.MeterProvider
	// EnableTracing enables span creation. Default true.
	EnableTracing bool
	// EnableMetrics enables counter and histogram recording. Default true.
	EnableMetrics bool
	// RecordExceptions calls RecordError on the span for failed invocations.
	// Default true.
	RecordExceptions bool
	// ServiceName is the rpc.service attribute value.
	// Defaults to the server's ServiceName() or "NexusDataSource".
	ServiceName string
	// CustomAttributes are added to every span.
	CustomAttributes []attribute.KeyValue
}

// DefaultConfig returns an OtelConfig with tracing, metrics and exception
// recording enabled. Providers are resolved from the global OTel SDK at
// instrumentation time.
func DefaultConfig() OtelConfig {
	return OtelConfig{
		EnableTracing:    true,
		EnableMetrics:    true,
		RecordExceptions: true,
	}
}

// Instrumentable is satisfied by [nexusrpc.Server] and [nexusrpc.SocketServer].
type Instrumentable interface {
	ServiceName() string
	SetDispatchHook(hook nexusrpc.DispatchHook)
}

// InstrumentServer attaches OpenTelemetry instrumentation to a server.
func InstrumentServer(server Instrumentable, cfg OtelConfig) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = server.ServiceName()
	}
	server.SetDispatchHook(NewHook(cfg))
}

// NewHook builds the dispatch hook without installing it.
func NewHook(cfg OtelConfig) nexusrpc.DispatchHook {
	if cfg.TracerProvider == nil {
		cfg.TracerProvider = otel.GetTracerProvider()
	}
	if cfg.MeterProvider == nil {
		cfg.MeterProvider = otel.GetMeterProvider()
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "NexusDataSource"
	}

	hook := &otelHook{
		cfg:    cfg,
		tracer: cfg.TracerProvider.Tracer(instrumentationName),
	}

	if cfg.EnableMetrics {
		meter := cfg.MeterProvider.Meter(instrumentationName)
		hook.requestCounter, _ = meter.Int64Counter("rpc.server.requests",
			metric.WithUnit("{request}"),
			metric.WithDescription("Number of data source invocations"),
		)
		hook.durationHistogram, _ = meter.Float64Histogram("rpc.server.duration",
			metric.WithUnit("s"),
			metric.WithDescription("Duration of data source invocations"),
		)
		hook.rawBytesCounter, _ = meter.Int64Counter("rpc.server.raw_bytes",
			metric.WithUnit("By"),
			metric.WithDescription("Sample and status bytes written to the data channel"),
		)
	}
	return hook
}

// otelHook implements nexusrpc.DispatchHook with OpenTelemetry tracing and metrics.
type otelHook struct {
	cfg               OtelConfig
	tracer            trace.Tracer
	requestCounter    metric.Int64Counter
	durationHistogram metric.Float64Histogram
	rawBytesCounter   metric.Int64Counter
}

// spanToken is the HookToken returned by OnDispatchStart.
type spanToken struct {
	span      trace.Span
	startTime time.Time
}

// OnDispatchStart starts a server span.
func (h *otelHook) OnDispatchStart(ctx context.Context, info nexusrpc.DispatchInfo) (context.Context, nexusrpc.HookToken) {
	if !h.cfg.EnableTracing {
		return ctx, &spanToken{startTime: time.Now()}
	}

	attrs := []attribute.KeyValue{
		attribute.String("rpc.system", "nexus_rpc"),
		attribute.String("rpc.service", h.cfg.ServiceName),
		attribute.String("rpc.method", info.Method),
		attribute.String("rpc.nexus_rpc.transport", info.Transport),
	}
	if info.InvocationID != "" {
		attrs = append(attrs, attribute.String("rpc.nexus_rpc.invocation_id", info.InvocationID))
	}
	attrs = append(attrs, h.cfg.CustomAttributes...)

	ctx, span := h.tracer.Start(ctx, fmt.Sprintf("nexus_rpc/%s", info.Method),
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attrs...),
	)
	return ctx, &spanToken{span: span, startTime: time.Now()}
}

// OnDispatchEnd records metrics and ends the span.
func (h *otelHook) OnDispatchEnd(ctx context.Context, token nexusrpc.HookToken, info nexusrpc.DispatchInfo, stats *nexusrpc.CallStatistics, err error) {
	st, ok := token.(*spanToken)
	if !ok {
		return
	}
	duration := time.Since(st.startTime)

	status := "ok"
	if err != nil {
		status = "error"
	}

	if h.cfg.EnableMetrics {
		metricAttrs := metric.WithAttributes(
			attribute.String("rpc.system", "nexus_rpc"),
			attribute.String("rpc.service", h.cfg.ServiceName),
			attribute.String("rpc.method", info.Method),
			attribute.String("rpc.nexus_rpc.transport", info.Transport),
			attribute.String("status", status),
		)
		if h.requestCounter != nil {
			h.requestCounter.Add(ctx, 1, metricAttrs)
		}
		if h.durationHistogram != nil {
			h.durationHistogram.Record(ctx, duration.Seconds(), metricAttrs)
		}
		if h.rawBytesCounter != nil && stats != nil && stats.RawBytes > 0 {
			h.rawBytesCounter.Add(ctx, stats.RawBytes, metricAttrs)
		}
	}

	if st.span == nil || !st.span.IsRecording() {
		return
	}
	if stats != nil {
		st.span.SetAttributes(
			attribute.Int64("rpc.nexus_rpc.request_bytes", stats.RequestBytes),
			attribute.Int64("rpc.nexus_rpc.response_bytes", stats.ResponseBytes),
			attribute.Int64("rpc.nexus_rpc.raw_bytes", stats.RawBytes),
		)
	}
	if err != nil {
		st.span.SetStatus(codes.Error, err.Error())
		if h.cfg.RecordExceptions {
			st.span.RecordError(err)
		}
		errType := fmt.Sprintf("%T", err)
		var rpcErr *nexusrpc.RpcError
		if errors.As(err, &rpcErr) {
			errType = rpcErr.Type
		}
		st.span.SetAttributes(attribute.String("rpc.nexus_rpc.error_type", errType))
	} else {
		st.span.SetStatus(codes.Ok, "")
	}
	st.span.End()
}
