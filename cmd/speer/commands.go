package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/mvrga/speer/internal/models"
	"github.com/mvrga/speer/internal/pipeline"
)

func newIngestCmd(opts *globalOptions) *cobra.Command {
	var (
		runID       string
		keepOpen    bool
		metricsFile string
	)
	cmd := &cobra.Command{
		Use:   "ingest FILE...",
		Short: "Ingest files into a run, then seal and export it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			registry := prometheus.NewRegistry()
			rt, err := opts.runtime(ctx, cmd, registry)
			if err != nil {
				return err
			}
			defer rt.Close()

			// Every file is read before the run starts so a bad path leaves no run behind.
			uploads := make([]models.Upload, 0, len(args))
			for _, path := range args {
				content, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("failed to read %s: %w", path, err)
				}
				uploads = append(uploads, models.Upload{OriginalName: filepath.Base(path), Content: content})
			}

			var batch *pipeline.Batch
			if runID == "" {
				batch, err = rt.Pipeline.StartRun(ctx)
			} else {
				batch, err = rt.Pipeline.OpenRun(ctx, runID)
			}
			if err != nil {
				return err
			}

			for _, upload := range uploads {
				if batch.Submit(ctx, upload) != nil {
					// Wait reports the failed reservation along with the
					// uploads already scheduled.
					return batch.Wait()
				}
			}

			var summary models.RunSummary
			if keepOpen {
				if err := batch.Wait(); err != nil {
					return err
				}
				summary, err = rt.Pipeline.Summary(ctx, batch.RunID())
			} else {
				summary, err = batch.Close(ctx)
			}
			if err != nil {
				return err
			}

			if metricsFile != "" {
				if err := prometheus.WriteToTextfile(metricsFile, registry); err != nil {
					return fmt.Errorf("failed to write metrics: %w", err)
				}
			}
			return printJSON(cmd.OutOrStdout(), summary)
		},
	}
	cmd.Flags().StringVar(&runID, "run-id", "", "add the files to this run instead of starting a new one")
	cmd.Flags().BoolVar(&keepOpen, "keep-open", false, "leave the run open for further uploads")
	cmd.Flags().StringVar(&metricsFile, "metrics-file", "", "write pipeline metrics in Prometheus text format to this file")
	return cmd
}

func newExportCmd(opts *globalOptions) *cobra.Command {
	var seal bool
	cmd := &cobra.Command{
		Use:   "export RUN_ID",
		Short: "Seal a run and write its evidence report, payment file, review set and audit document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := opts.runtime(ctx, cmd, nil)
			if err != nil {
				return err
			}
			defer rt.Close()

			summary, err := rt.Pipeline.Export(ctx, args[0], seal)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), summary)
		},
	}
	cmd.Flags().BoolVar(&seal, "seal", true, "seal the run before exporting")
	return cmd
}

func newShowCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show RUN_ID",
		Short: "Print the ledger records of a run and, once sealed, its export locations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := opts.runtime(ctx, cmd, nil)
			if err != nil {
				return err
			}
			defer rt.Close()

			summary, err := rt.Pipeline.Summary(ctx, args[0])
			if err != nil {
				return err
			}
			// Sealed runs also report where their exports live.
			bundle, err := rt.Exporter.Build(ctx, args[0])
			if err != nil {
				return err
			}
			if bundle.Run.Sealed() {
				manifest := rt.Exporter.Manifest(bundle)
				summary.Exports = &manifest
			}
			return printJSON(cmd.OutOrStdout(), summary)
		},
	}
}
