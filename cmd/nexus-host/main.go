// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// Command nexus-host starts a data source plugin and queries it from the
// command line.
//
//	nexus-host --plugin "nexus-plugin --source inmemory" catalogs
//	nexus-host --plugin ./nexus-plugin read /IN_MEMORY/TEST/ACCESSIBLE/T1/1_s \
//	    --begin 2020-01-01T00:00:00Z --end 2020-01-01T00:01:00Z --format text
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/Query-farm/nexus-rpc/config"
)

func main() {
	if err := rootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "nexus-host: %v\n", err)
		os.Exit(1)
	}
}

// options are the persistent flags shared by every subcommand.
type options struct {
	configPath string
	plugin     string
	sourceKV   map[string]string
	cfg        *config.Config
}

func rootCmd() *cobra.Command {
	opts := &options{cfg: config.Default()}

	cmd := &cobra.Command{
		Use:   "nexus-host",
		Short: "Query a Nexus data source plugin",
		Long: `nexus-host launches a data source plugin, sends it a data source context
and runs one query against it.

The plugin is started with --plugin (or host.command in the configuration
file). With --transport socket the host listens on --listen and appends the
listener address to the plugin's arguments.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.resolve(cmd.Flags())
		},
	}

	cfg := opts.cfg
	f := cmd.PersistentFlags()
	f.StringVar(&opts.configPath, "config", "", "YAML configuration file")
	f.StringVar(&opts.plugin, "plugin", "", "plugin command line, split on whitespace")
	f.StringVar(&cfg.Host.Transport, "transport", cfg.Host.Transport, "transport: stdio or socket")
	f.StringVar(&cfg.Host.Listen, "listen", cfg.Host.Listen, "listen address for the socket transport")
	f.DurationVar(&cfg.Host.CallTimeout, "call-timeout", cfg.Host.CallTimeout, "timeout of a single call")
	f.DurationVar(&cfg.Host.ConnectTimeout, "connect-timeout", cfg.Host.ConnectTimeout, "timeout of the handshake")
	f.StringVar(&cfg.Host.ResourceLocator, "resource-locator", cfg.Host.ResourceLocator, "resource locator URL passed to the plugin")
	f.StringToStringVar(&opts.sourceKV, "source-config", nil, "source configuration entries as key=value")
	f.StringVar(&cfg.Log.Level, "log-level", cfg.Log.Level, "log level: debug, info, warn or error")
	f.StringVar(&cfg.Log.Format, "log-format", cfg.Log.Format, "log format: json or text")

	cmd.AddCommand(catalogsCmd(opts))
	cmd.AddCommand(catalogCmd(opts))
	cmd.AddCommand(timeRangeCmd(opts))
	cmd.AddCommand(availabilityCmd(opts))
	cmd.AddCommand(readCmd(opts))
	return cmd
}

// resolve merges the configuration file, the flags and the derived values.
func (o *options) resolve(flags *pflag.FlagSet) error {
	if o.configPath != "" {
		loaded, err := config.Load(o.configPath)
		if err != nil {
			return err
		}
		changed := map[string]string{}
		flags.Visit(func(f *pflag.Flag) {
			if f.Value.Type() != "stringToString" {
				changed[f.Name] = f.Value.String()
			}
		})
		*o.cfg = *loaded
		for name, value := range changed {
			if err := flags.Set(name, value); err != nil {
				return err
			}
		}
	}

	if o.plugin != "" {
		o.cfg.Host.Command = strings.Fields(o.plugin)
	}
	if len(o.sourceKV) > 0 {
		if o.cfg.Host.SourceConfiguration == nil {
			o.cfg.Host.SourceConfiguration = map[string]any{}
		}
		for k, v := range o.sourceKV {
			o.cfg.Host.SourceConfiguration[k] = v
		}
	}
	if len(o.cfg.Host.Command) == 0 {
		return fmt.Errorf("no plugin command: use --plugin or host.command")
	}
	if err := o.cfg.Validate(); err != nil {
		return err
	}
	return setupLogging(o.cfg.Log)
}
