// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// Package nexusprom exports Prometheus metrics for data source plugins
// through a [nexusrpc.DispatchHook].
package nexusprom

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Query-farm/nexus-rpc/nexusrpc"
)

// Hook records invocation counts, latencies and data channel volume.
type Hook struct {
	invocations *prometheus.CounterVec
	errors      *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	rawBytes    *prometheus.CounterVec
	inFlight    prometheus.Gauge
}

// NewHook creates the collectors and registers them with reg. A nil reg
// means prometheus.DefaultRegisterer.
func NewHook(reg prometheus.Registerer) (*Hook, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	h := &Hook{
		invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nexus_plugin_invocations_total",
			Help: "Invocations handled by the plugin.",
		}, []string{"method", "transport", "status"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nexus_plugin_errors_total",
			Help: "Failed invocations by error type.",
		}, []string{"method", "error_type"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "nexus_plugin_invocation_duration_seconds",
			Help:    "Time spent handling an invocation.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		}, []string{"method"}),
		rawBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nexus_plugin_raw_bytes_total",
			Help: "Sample and status bytes written to the data channel.",
		}, []string{"transport"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nexus_plugin_invocations_in_flight",
			Help: "Invocations currently being handled.",
		}),
	}
	for _, c := range []prometheus.Collector{h.invocations, h.errors, h.duration, h.rawBytes, h.inFlight} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return h, nil
}

type token struct {
	start time.Time
}

func (h *Hook) OnDispatchStart(ctx context.Context, _ nexusrpc.DispatchInfo) (context.Context, nexusrpc.HookToken) {
	h.inFlight.Inc()
	return ctx, token{start: time.Now()}
}

func (h *Hook) OnDispatchEnd(_ context.Context, tok nexusrpc.HookToken, info nexusrpc.DispatchInfo, stats *nexusrpc.CallStatistics, err error) {
	h.inFlight.Dec()

	status := "ok"
	if err != nil {
		status = "error"
		errType := nexusrpc.ErrorTypeDomain
		var rpcErr *nexusrpc.RpcError
		if errors.As(err, &rpcErr) {
			errType = rpcErr.Type
		}
		h.errors.WithLabelValues(info.Method, errType).Inc()
	}
	h.invocations.WithLabelValues(info.Method, info.Transport, status).Inc()

	if t, ok := tok.(token); ok {
		h.duration.WithLabelValues(info.Method).Observe(time.Since(t.start).Seconds())
	}
	if stats != nil && stats.RawBytes > 0 {
		h.rawBytes.WithLabelValues(info.Transport).Add(float64(stats.RawBytes))
	}
}
