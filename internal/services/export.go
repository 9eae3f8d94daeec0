package services

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/mvrga/speer/internal/config"
	"github.com/mvrga/speer/internal/gcp"
	"github.com/mvrga/speer/internal/logging"
	"github.com/mvrga/speer/internal/models"
)

// workflowTrigger starts the downstream review workflow.
type workflowTrigger interface {
	Trigger(ctx context.Context, argument any) (string, error)
}

// ExportFunction seals a run, writes its exports and hands the payment and
// review files to the review workflow.
type ExportFunction struct {
	runtime *Runtime
	// workflow is nil when no workflow is configured.
	workflow workflowTrigger
}

func NewExportFunction(ctx context.Context) (*ExportFunction, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	logger := logging.New(os.Stdout, cfg.Logging.Level, "json")
	slog.SetDefault(logger)

	rt, err := NewRuntime(ctx, cfg, logger, nil)
	if err != nil {
		return nil, err
	}
	f := &ExportFunction{runtime: rt}
	if cfg.Workflow.ID != "" {
		trigger, err := gcp.NewWorkflowTrigger(ctx, cfg.ProjectID, cfg.Workflow.Location, cfg.Workflow.ID)
		if err != nil {
			_ = rt.Close()
			return nil, err
		}
		rt.closers = append(rt.closers, trigger.Close)
		f.workflow = trigger
	}
	logger.Info("Export function initialized.", "workflowId", cfg.Workflow.ID)
	return f, nil
}

// Process exports the requested run and returns its summary.
func (f *ExportFunction) Process(ctx context.Context, req *models.ExportRunRequest) (*models.RunSummary, error) {
	if req.RunID == "" {
		return nil, fmt.Errorf("runId is required")
	}
	logCtx := f.runtime.Logger.With("runId", req.RunID)

	summary, err := f.runtime.Pipeline.Export(ctx, req.RunID, req.Seal)
	if err != nil {
		logCtx.Error("Failed to export run", "error", err)
		return nil, err
	}
	if f.workflow == nil || summary.Exports == nil {
		return &summary, nil
	}

	execution, err := f.workflow.Trigger(ctx, models.WorkflowArgument{
		RunID:       req.RunID,
		PaymentURI:  summary.Exports.PaymentURI,
		ReviewURI:   summary.Exports.ReviewURI,
		PaymentRows: summary.Exports.PaymentRows,
		ReviewRows:  summary.Exports.ReviewRows,
	})
	if err != nil {
		logCtx.Error("Failed to trigger review workflow", "error", err)
		return nil, err
	}
	logCtx.Info("Review workflow triggered.", "executionName", execution)
	return &summary, nil
}
