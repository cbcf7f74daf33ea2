// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/Query-farm/nexus-rpc/datamodel"
	"github.com/Query-farm/nexus-rpc/nexusrpc"
)

func catalogsCmd(opts *options) *cobra.Command {
	var idsOnly bool
	cmd := &cobra.Command{
		Use:   "catalogs",
		Short: "List the catalog registration tree",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withHost(cmd.Context(), opts.cfg, func(ctx context.Context, h host) error {
				if idsOnly {
					ids, err := h.CatalogIDs(ctx)
					if err != nil {
						return err
					}
					for _, id := range ids {
						fmt.Fprintln(cmd.OutOrStdout(), id)
					}
					return nil
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
				fmt.Fprintln(w, "PATH\tTITLE\tTRANSIENT")
				if err := walkRegistrations(ctx, h, "/", map[string]bool{}, func(r datamodel.CatalogRegistration) {
					fmt.Fprintf(w, "%s\t%s\t%t\n", r.Path, r.Title, r.IsTransient)
				}); err != nil {
					return err
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().BoolVar(&idsOnly, "ids", false, "print only the catalog ids")
	return cmd
}

// walkRegistrations visits the registrations below path depth first.
func walkRegistrations(ctx context.Context, h host, path string, seen map[string]bool, visit func(datamodel.CatalogRegistration)) error {
	regs, err := h.GetCatalogRegistrations(ctx, path)
	if err != nil {
		return fmt.Errorf("registrations of %s: %w", path, err)
	}
	for _, r := range regs {
		if seen[r.Path] {
			continue
		}
		seen[r.Path] = true
		visit(r)
		if err := walkRegistrations(ctx, h, r.Path, seen, visit); err != nil {
			return err
		}
	}
	return nil
}

func catalogCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "catalog <catalog-id>",
		Short: "Print a resource catalog as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHost(cmd.Context(), opts.cfg, func(ctx context.Context, h host) error {
				c, err := h.GetCatalog(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), nexusrpc.ResourceCatalogShape, c)
			})
		},
	}
}

func printJSON(w io.Writer, shape *nexusrpc.Shape, v any) error {
	data, err := nexusrpc.Marshal(shape, v)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		return err
	}
	buf.WriteByte('\n')
	_, err = buf.WriteTo(w)
	return err
}

func timeRangeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "time-range <catalog-id>",
		Short: "Print the time range of a catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHost(cmd.Context(), opts.cfg, func(ctx context.Context, h host) error {
				begin, end, err := h.GetTimeRange(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", nexusrpc.FormatTimestamp(begin), nexusrpc.FormatTimestamp(end))
				return nil
			})
		},
	}
}

// window holds the --begin and --end flags of a command.
type window struct {
	begin, end string
}

func (w *window) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&w.begin, "begin", "", "inclusive start (RFC 3339, UTC)")
	cmd.Flags().StringVar(&w.end, "end", "", "exclusive end (RFC 3339, UTC)")
}

// resolve parses the flags. Missing bounds are taken from the catalog's
// time range.
func (w *window) resolve(ctx context.Context, h host, catalogID string) (time.Time, time.Time, error) {
	var begin, end time.Time
	if w.begin == "" || w.end == "" {
		b, e, err := h.GetTimeRange(ctx, catalogID)
		if err != nil {
			return begin, end, err
		}
		begin, end = b, e
	}
	if w.begin != "" {
		t, err := nexusrpc.ParseTimestamp(w.begin)
		if err != nil {
			return begin, end, fmt.Errorf("--begin: %w", err)
		}
		begin = t
	}
	if w.end != "" {
		t, err := nexusrpc.ParseTimestamp(w.end)
		if err != nil {
			return begin, end, fmt.Errorf("--end: %w", err)
		}
		end = t
	}
	if !begin.Before(end) {
		return begin, end, fmt.Errorf("begin %s is not before end %s", nexusrpc.FormatTimestamp(begin), nexusrpc.FormatTimestamp(end))
	}
	return begin, end, nil
}

func availabilityCmd(opts *options) *cobra.Command {
	var win window
	cmd := &cobra.Command{
		Use:   "availability <catalog-id>",
		Short: "Print the fraction of a window that holds data",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHost(cmd.Context(), opts.cfg, func(ctx context.Context, h host) error {
				begin, end, err := win.resolve(ctx, h, args[0])
				if err != nil {
					return err
				}
				a, err := h.GetAvailability(ctx, args[0], begin, end)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%g\n", a)
				return nil
			})
		},
	}
	win.register(cmd)
	return cmd
}

func readCmd(opts *options) *cobra.Command {
	var (
		win      window
		format   string
		compress bool
	)
	cmd := &cobra.Command{
		Use:   "read <resource-path>",
		Short: "Read one representation and write it as Arrow IPC or text",
		Long: `read fetches the samples of /catalog/resource/representation in the
window and writes them to stdout. The arrow format is an IPC stream with a
timestamp column and a nullable value column; invalid samples are null.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "arrow" && format != "text" {
				return fmt.Errorf("--format must be arrow or text, got %q", format)
			}
			catalogID, _, _, err := datamodel.ParseResourcePath(args[0])
			if err != nil {
				return err
			}
			return withHost(cmd.Context(), opts.cfg, func(ctx context.Context, h host) error {
				c, err := h.GetCatalog(ctx, catalogID)
				if err != nil {
					return err
				}
				item, err := c.Find(args[0])
				if err != nil {
					return err
				}
				begin, end, err := win.resolve(ctx, h, catalogID)
				if err != nil {
					return err
				}
				req, err := h.ReadSingle(ctx, item, begin, end)
				if err != nil {
					return err
				}
				batch, err := nexusrpc.ReadResultToArrow(memory.DefaultAllocator, req, begin)
				if err != nil {
					return err
				}
				defer batch.Release()

				if format == "text" {
					return writeText(cmd.OutOrStdout(), batch)
				}
				return nexusrpc.WriteArrowStream(cmd.OutOrStdout(), []arrow.RecordBatch{batch}, compress)
			})
		},
	}
	win.register(cmd)
	cmd.Flags().StringVar(&format, "format", "arrow", "output format: arrow or text")
	cmd.Flags().BoolVar(&compress, "zstd", false, "zstd compress Arrow buffers")
	return cmd
}

// writeText prints one timestamp and value per row. Invalid samples print
// as (null).
func writeText(out io.Writer, batch arrow.RecordBatch) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	ts := batch.Column(0).(*array.Timestamp)
	values := batch.Column(1)
	for i := 0; i < int(batch.NumRows()); i++ {
		t := time.Unix(0, int64(ts.Value(i))).UTC()
		fmt.Fprintf(w, "%s\t%s\n", nexusrpc.FormatTimestamp(t), values.ValueStr(i))
	}
	return w.Flush()
}
