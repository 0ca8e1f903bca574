package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"IntelHive/internal/dispatch"
	xerrors "IntelHive/internal/errors"
	"IntelHive/internal/job"
	"IntelHive/internal/plugin"
	"IntelHive/pkg/logger"
)

// Worker executes descriptors pulled from the queue. Plugin runs go through
// the static handler table; stage transitions go back to the coordinator.
type Worker struct {
	handlers    *plugin.HandlerRegistry
	coordinator *Coordinator
	log         *slog.Logger
}

// NewWorker constructs a Worker.
func NewWorker(handlers *plugin.HandlerRegistry, coordinator *Coordinator) *Worker {
	return &Worker{
		handlers:    handlers,
		coordinator: coordinator,
		log:         logger.Named("worker"),
	}
}

// Run executes one descriptor. The returned error is what the pool reports
// through its completion event; it never aborts the pool itself.
func (w *Worker) Run(ctx context.Context, descriptor *dispatch.Descriptor) error {
	if descriptor == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "descriptor cannot be nil")
	}
	switch descriptor.Target {
	case dispatch.TargetSetJobStatus:
		return w.runStatusTransition(ctx, descriptor)
	case dispatch.TargetRunPlugin:
		return w.runPlugin(ctx, descriptor)
	default:
		return xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("unknown descriptor target %q", descriptor.Target))
	}
}

func (w *Worker) runStatusTransition(ctx context.Context, descriptor *dispatch.Descriptor) error {
	status := job.Status(descriptor.TargetStatus())
	if status == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "stage transition is missing the status argument")
	}
	return w.coordinator.HandleStageStatus(ctx, descriptor.JobID, status)
}

func (w *Worker) runPlugin(ctx context.Context, descriptor *dispatch.Descriptor) error {
	entryPoint, _ := descriptor.Args["entrypoint"].(string)
	handler, err := w.handlers.Lookup(entryPoint)
	if err != nil {
		return err
	}
	observable, _ := descriptor.Args["observable"].(string)
	params, _ := descriptor.Args["params"].(map[string]any)

	report, err := handler.Run(ctx, plugin.Invocation{
		JobID:      descriptor.JobID,
		Plugin:     descriptor.Plugin,
		Observable: observable,
		Params:     params,
	})
	if err != nil {
		return err
	}
	w.log.Debug("plugin run finished",
		slog.String("job_id", descriptor.JobID),
		slog.String("plugin", descriptor.Plugin),
		slog.Int("data_keys", len(report.Data)),
		slog.Int("errors", len(report.Errors)),
	)
	if len(report.Errors) > 0 {
		return xerrors.New(xerrors.CodeUnknown,
			fmt.Sprintf("plugin %s reported errors: %v", descriptor.Plugin, report.Errors))
	}
	return nil
}
