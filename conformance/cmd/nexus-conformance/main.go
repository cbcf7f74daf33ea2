// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// Command nexus-conformance starts a data source plugin and runs the
// conformance checks against it.
//
//	nexus-conformance -- ./nexus-plugin --source inmemory
//	nexus-conformance --transport socket --locator file:///srv/data -- ./nexus-plugin --source files
package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Query-farm/nexus-rpc/conformance"
	"github.com/Query-farm/nexus-rpc/nexusrpc"
)

func main() {
	if err := rootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "nexus-conformance: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		transport   string
		listen      string
		locator     string
		sourceKV    map[string]string
		callTimeout time.Duration
		opts        conformance.Options
	)
	cmd := &cobra.Command{
		Use:           "nexus-conformance [flags] -- plugin [plugin-args...]",
		Short:         "Check a data source plugin against the protocol",
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			dsc := nexusrpc.DataSourceContext{}
			if locator != "" {
				u, err := url.Parse(locator)
				if err != nil {
					return fmt.Errorf("--locator: %w", err)
				}
				dsc.ResourceLocator = u
			}
			if len(sourceKV) > 0 {
				dsc.SourceConfiguration = map[string]any{}
				for k, v := range sourceKV {
					dsc.SourceConfiguration[k] = v
				}
			}

			ctx := cmd.Context()
			var h interface {
				nexusrpc.Host
				SetCallTimeout(time.Duration)
			}
			var err error
			switch transport {
			case "stdio":
				h, err = nexusrpc.StartPipeHost(ctx, args[0], args[1:]...)
			case "socket":
				h, err = nexusrpc.StartSocketHost(ctx, listen, args[0], args[1:]...)
			default:
				return fmt.Errorf("--transport must be stdio or socket, got %q", transport)
			}
			if err != nil {
				return err
			}
			defer h.Close()
			h.SetCallTimeout(callTimeout)

			if err := h.SetContext(ctx, dsc); err != nil {
				return fmt.Errorf("SetContext: %w", err)
			}
			results := conformance.Run(ctx, h, opts)

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			for _, r := range results {
				fmt.Fprintln(w, r.String())
			}
			if err := w.Flush(); err != nil {
				return err
			}
			if failed := conformance.Failed(results); len(failed) > 0 {
				return fmt.Errorf("%d of %d checks failed", len(failed), len(results))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "all %d checks passed\n", len(results))
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&transport, "transport", "stdio", "transport: stdio or socket")
	f.StringVar(&listen, "listen", "127.0.0.1:0", "listen address for the socket transport")
	f.StringVar(&locator, "locator", "", "resource locator URL passed to the plugin")
	f.StringToStringVar(&sourceKV, "source-config", nil, "source configuration entries as key=value")
	f.DurationVar(&callTimeout, "call-timeout", nexusrpc.DefaultCallTimeout, "timeout of a single call")
	f.IntVar(&opts.MaxCatalogs, "max-catalogs", 0, "inspect at most this many catalogs (0 means all)")
	f.IntVar(&opts.MaxSamples, "max-samples", 60, "samples per read check")
	return cmd
}
