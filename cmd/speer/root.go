package main

import (
	"context"
	"encoding/json"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/mvrga/speer/internal/config"
	"github.com/mvrga/speer/internal/logging"
	"github.com/mvrga/speer/internal/services"
)

// globalOptions are the flags shared by every subcommand.
type globalOptions struct {
	configPath string
	dataDir    string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:           "speer",
		Short:         "Ingest invoice evidence into an auditable ledger and export payment files",
		SilenceUsage:  true,
	}
	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "YAML configuration file (defaults to $SPEER_CONFIG)")
	flags.StringVar(&opts.dataDir, "data-dir", "", "directory for local evidence, ledger and exports")
	flags.StringVar(&opts.logLevel, "log-level", "", "debug, info, warn or error")

	root.AddCommand(newIngestCmd(opts), newExportCmd(opts), newShowCmd(opts))
	return root
}

func (o *globalOptions) load() (config.Config, error) {
	path := o.configPath
	if path == "" {
		return config.Load()
	}
	return config.LoadFrom(path)
}

// runtime builds the configured components; logs go to the command's stderr.
func (o *globalOptions) runtime(ctx context.Context, cmd *cobra.Command, registerer prometheus.Registerer) (*services.Runtime, error) {
	cfg, err := o.load()
	if err != nil {
		return nil, err
	}
	if o.dataDir != "" {
		cfg.DataDir = o.dataDir
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	logger := logging.New(cmd.ErrOrStderr(), cfg.Logging.Level, cfg.Logging.Format)
	return services.NewRuntime(ctx, cfg, logger, registerer)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
