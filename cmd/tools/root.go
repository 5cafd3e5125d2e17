package main

import (
	"context"
	"fmt"
	"os"
	"slices"

	"github.com/lychee-technology/fedsparql"
	"github.com/lychee-technology/fedsparql/factory"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Endpoints  []string
	LogLevel   string
	Format     string // "text" | "json"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command of the tools binary.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "fedsparql-tools",
		Short: "Inspect and query a SPARQL federation",
		Long: `Tools for a federation of SPARQL endpoints: print statistics, show
source selection and plans, run basic graph pattern queries and set up
the Postgres statistics catalog.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			logger, err := fedsparql.NewLogger(fedsparql.LoggingConfig{Level: opts.LogLevel, Format: "console"})
			if err != nil {
				return err
			}
			zap.ReplaceGlobals(logger)
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", os.Getenv("FEDSPARQL_CONFIG"), "YAML configuration file")
	cmd.PersistentFlags().StringSliceVarP(&opts.Endpoints, "endpoint", "e", nil, "federation member endpoint; replaces the configured members (repeatable)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "warn", "log level")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewQueryCommand(opts))
	cmd.AddCommand(NewExplainCommand(opts))
	cmd.AddCommand(NewSourcesCommand(opts))
	cmd.AddCommand(NewStatsCommand(opts))
	cmd.AddCommand(NewInitDBCommand(opts))

	return cmd
}

// loadConfig reads the configuration file, or the defaults when none is
// given, and applies the endpoint flags.
func (o *RootOptions) loadConfig() (*fedsparql.Config, error) {
	cfg := fedsparql.DefaultConfig()
	if o.ConfigPath != "" {
		loaded, err := fedsparql.LoadConfig(o.ConfigPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if len(o.Endpoints) > 0 {
		cfg.Federation.Members = make([]fedsparql.MemberConfig, 0, len(o.Endpoints))
		for _, e := range o.Endpoints {
			cfg.Federation.Members = append(cfg.Federation.Members, fedsparql.MemberConfig{Endpoint: e})
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (o *RootOptions) federation(ctx context.Context, mutate ...func(*fedsparql.Config)) (fedsparql.Federation, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	for _, fn := range mutate {
		fn(cfg)
	}
	return factory.NewFederationFromConfig(ctx, cfg)
}
