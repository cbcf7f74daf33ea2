// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/Query-farm/nexus-rpc/config"
	"github.com/Query-farm/nexus-rpc/nexusrpc"
)

// host is implemented by nexusrpc.PipeHost and nexusrpc.SocketHost.
type host interface {
	nexusrpc.Host
	SetCallTimeout(d time.Duration)
}

func setupLogging(cfg config.LogConfig) error {
	handler, err := cfg.NewHandler(os.Stderr)
	if err != nil {
		return err
	}
	slog.SetDefault(slog.New(handler))
	return nil
}

// withHost starts the configured plugin, sends the data source context and
// runs fn. The plugin is always closed.
func withHost(ctx context.Context, cfg *config.Config, fn func(context.Context, host) error) (err error) {
	dsc, err := cfg.Host.DataSourceContext()
	if err != nil {
		return err
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.Host.ConnectTimeout)
	defer cancel()
	name, args := cfg.Host.Command[0], cfg.Host.Command[1:]
	var h host
	if cfg.Host.Transport == config.TransportSocket {
		h, err = nexusrpc.StartSocketHost(connectCtx, cfg.Host.Listen, name, args...)
	} else {
		h, err = nexusrpc.StartPipeHost(connectCtx, name, args...)
	}
	if err != nil {
		return err
	}
	defer func() {
		if cerr := h.Close(); cerr != nil {
			slog.Warn("closing plugin", "err", cerr)
			err = errors.Join(err, cerr)
		}
	}()

	h.SetCallTimeout(cfg.Host.CallTimeout)
	if err := h.SetContext(ctx, dsc); err != nil {
		return err
	}
	return fn(ctx, h)
}
