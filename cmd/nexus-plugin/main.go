// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// Command nexus-plugin serves one of the bundled data sources. It speaks the
// pipe protocol on stdin/stdout, or dials a host's socket listener when an
// address is given.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/Query-farm/nexus-rpc/config"
	"github.com/Query-farm/nexus-rpc/nexusrpc"
	nexusotel "github.com/Query-farm/nexus-rpc/nexusrpc/otel"
	nexusprom "github.com/Query-farm/nexus-rpc/nexusrpc/prom"
	"github.com/Query-farm/nexus-rpc/sources"
)

// server is implemented by nexusrpc.Server and nexusrpc.SocketServer.
type server interface {
	ServiceName() string
	SetServiceName(name string)
	SetDispatchHook(hook nexusrpc.DispatchHook)
	SetMaxFrameSize(n uint32)
}

func main() {
	if err := rootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "nexus-plugin: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig replaces cfg with the file at path and then reapplies the
// flags that were set explicitly.
func loadConfig(flags *pflag.FlagSet, cfg *config.Config, path string) error {
	loaded, err := config.Load(path)
	if err != nil {
		return err
	}
	changed := map[string]string{}
	flags.Visit(func(f *pflag.Flag) { changed[f.Name] = f.Value.String() })
	*cfg = *loaded
	for name, value := range changed {
		if err := flags.Set(name, value); err != nil {
			return err
		}
	}
	return nil
}

func rootCmd() *cobra.Command {
	var configPath string
	cfg := config.Default()

	cmd := &cobra.Command{
		Use:   "nexus-plugin [flags] [host-address]",
		Short: "Serve a Nexus data source",
		Long: `nexus-plugin serves a data source to a Nexus host.

Without arguments it speaks the pipe protocol on stdin and stdout and is
meant to be launched by the host. With a host address it dials the host
twice (control and data connections) and speaks JSON-RPC.

Sources:
  inmemory   deterministic test catalogs below /IN_MEMORY
  files      int64 sample files below <resource locator>/DATA/test`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath != "" {
				if err := loadConfig(cmd.Flags(), cfg, configPath); err != nil {
					return err
				}
			}
			if len(args) == 1 {
				cfg.Plugin.Transport = config.TransportSocket
				cfg.Plugin.Connect = args[0]
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	f := cmd.Flags()
	f.StringVar(&configPath, "config", "", "YAML configuration file")
	f.StringVar(&cfg.Plugin.Source, "source", cfg.Plugin.Source, "data source: inmemory or files")
	f.StringVar(&cfg.Plugin.ServiceName, "service-name", cfg.Plugin.ServiceName, "service name reported to hooks")
	f.Uint32Var(&cfg.Plugin.MaxFrameSize, "max-frame-size", cfg.Plugin.MaxFrameSize, "largest accepted control frame in bytes")
	f.BoolVar(&cfg.Plugin.Otel, "otel", cfg.Plugin.Otel, "export traces and metrics to stderr")
	f.StringVar(&cfg.Plugin.MetricsAddr, "metrics-addr", cfg.Plugin.MetricsAddr, "serve Prometheus metrics on this address")
	f.StringVar(&cfg.Log.Level, "log-level", cfg.Log.Level, "diagnostic log level: debug, info, warn or error")
	f.StringVar(&cfg.Log.Format, "log-format", cfg.Log.Format, "diagnostic log format: json or text")
	return cmd
}

func newSource(name string) (nexusrpc.DataSource, error) {
	switch name {
	case config.SourceInMemory:
		return sources.NewInMemory(), nil
	case config.SourceFiles:
		return sources.NewFiles(), nil
	}
	return nil, fmt.Errorf("unknown source %q", name)
}

func run(ctx context.Context, cfg *config.Config) error {
	// Diagnostics share stderr with the pipe logger channel; the host
	// forwards lines it cannot parse as plugin records verbatim.
	handler, err := cfg.Log.NewHandler(os.Stderr)
	if err != nil {
		return err
	}
	slog.SetDefault(slog.New(handler))

	src, err := newSource(cfg.Plugin.Source)
	if err != nil {
		return err
	}

	var srv server
	var serve func(context.Context) error
	if cfg.Plugin.Transport == config.TransportSocket {
		s := nexusrpc.NewSocketServer(src)
		srv = s
		serve = func(ctx context.Context) error {
			ctx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
			defer stop()
			return s.DialAndServe(ctx, cfg.Plugin.Connect)
		}
	} else {
		s := nexusrpc.NewServer(src)
		srv = s
		serve = func(context.Context) error { return s.RunStdio() }
	}
	srv.SetServiceName(cfg.Plugin.ServiceName)
	srv.SetMaxFrameSize(cfg.Plugin.MaxFrameSize)

	var hooks nexusrpc.MultiHook
	if cfg.Plugin.Otel {
		shutdown, err := setupOtel()
		if err != nil {
			return err
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(sctx); err != nil {
				slog.Warn("otel shutdown", "err", err)
			}
		}()
		hooks = append(hooks, nexusotel.NewHook(nexusotel.OtelConfig{
			EnableTracing:    true,
			EnableMetrics:    true,
			RecordExceptions: true,
			ServiceName:      srv.ServiceName(),
		}))
	}
	if cfg.Plugin.MetricsAddr != "" {
		stop, hook, err := serveMetrics(cfg.Plugin.MetricsAddr)
		if err != nil {
			return err
		}
		defer stop()
		hooks = append(hooks, hook)
	}
	switch len(hooks) {
	case 0:
	case 1:
		srv.SetDispatchHook(hooks[0])
	default:
		srv.SetDispatchHook(hooks)
	}

	slog.Debug("serving", "source", cfg.Plugin.Source, "transport", cfg.Plugin.Transport)
	if err := serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// setupOtel installs SDK providers that export to stderr, since stdout
// carries the pipe protocol.
func setupOtel() (func(context.Context) error, error) {
	traceExp, err := stdouttrace.New(stdouttrace.WithWriter(os.Stderr))
	if err != nil {
		return nil, fmt.Errorf("trace exporter: %w", err)
	}
	metricExp, err := stdoutmetric.New(stdoutmetric.WithWriter(os.Stderr))
	if err != nil {
		return nil, fmt.Errorf("metric exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(traceExp))
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)))
	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	return func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}

func serveMetrics(addr string) (func(), nexusrpc.DispatchHook, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	hook, err := nexusprom.NewHook(reg)
	if err != nil {
		return nil, nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server", "err", err)
		}
	}()
	stop := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
	return stop, hook, nil
}
