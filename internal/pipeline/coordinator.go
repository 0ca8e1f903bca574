package pipeline

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"IntelHive/internal/dispatch"
	xerrors "IntelHive/internal/errors"
	"IntelHive/internal/job"
	"IntelHive/internal/observability/alerting"
	"IntelHive/internal/plugin"
	"IntelHive/pkg/logger"
)

type stage struct {
	kind      plugin.Kind
	running   job.Status
	completed job.Status
}

// Stages run in order; each stage's transition descriptor carries a
// dependency on every sibling task of the stage, so the worker pool fires
// it only when the whole stage has finished.
var stages = []stage{
	{kind: plugin.KindAnalyzer, running: job.StatusAnalyzersRunning, completed: job.StatusAnalyzersCompleted},
	{kind: plugin.KindConnector, running: job.StatusConnectorsRunning, completed: job.StatusConnectorsCompleted},
	{kind: plugin.KindVisualizer, running: job.StatusVisualizersRunning, completed: job.StatusVisualizersCompleted},
}

// Coordinator sequences the plugin categories of a job. It is stateless per
// call: all job state lives in the store, all execution state in the worker
// pool.
type Coordinator struct {
	jobs      job.Store
	registry  *plugin.Registry
	builder   *dispatch.Builder
	submitter dispatch.Submitter
	alerter   alerting.Dispatcher
	log       *slog.Logger
}

// CoordinatorOption customises a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithAlertDispatcher wires incident notifications for fatal job failures.
func WithAlertDispatcher(dispatcher alerting.Dispatcher) CoordinatorOption {
	return func(c *Coordinator) {
		c.alerter = dispatcher
	}
}

// WithCoordinatorLogger overrides the default logger.
func WithCoordinatorLogger(log *slog.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		if log != nil {
			c.log = log
		}
	}
}

// NewCoordinator constructs a Coordinator.
func NewCoordinator(jobs job.Store, registry *plugin.Registry, builder *dispatch.Builder, submitter dispatch.Submitter, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		jobs:      jobs,
		registry:  registry,
		builder:   builder,
		submitter: submitter,
		log:       logger.Named("coordinator"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Submit stores a new job and starts its first stage. Missing IDs are
// generated; the correlation id ties every log line and alert of this job
// together.
func (c *Coordinator) Submit(ctx context.Context, j *job.Job) (*job.Job, error) {
	if j == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "job cannot be nil")
	}
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	if j.CorrelationID == "" {
		j.CorrelationID = uuid.NewString()
	}
	j.Status = job.StatusPending
	if err := c.jobs.Create(ctx, j); err != nil {
		return nil, err
	}
	logger.Audit().Info("job submitted",
		slog.String("job_id", j.ID),
		slog.String("observable", j.Observable),
		slog.Int64("user_id", j.UserID),
		slog.String("correlation_id", j.CorrelationID),
	)
	if err := c.Start(ctx, j.ID); err != nil {
		return nil, err
	}
	return c.jobs.Get(ctx, j.ID)
}

// Start dispatches the first stage of a pending job.
func (c *Coordinator) Start(ctx context.Context, jobID string) error {
	j, err := c.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if j.Status != job.StatusPending {
		return xerrors.Wrap(job.CodeJobConflict, job.ErrJobConflict,
			fmt.Sprintf("job %s is not pending", jobID))
	}
	return c.dispatchStage(ctx, j, 0)
}

// Cancel marks the job failed. Already-submitted descriptors are not
// recalled; the worker pool owns them. No further stages will be submitted.
func (c *Coordinator) Cancel(ctx context.Context, jobID string, reason string) error {
	if reason == "" {
		reason = "job cancelled"
	}
	if err := c.jobs.Fail(ctx, jobID, reason); err != nil {
		return err
	}
	logger.Audit().Warn("job cancelled", slog.String("job_id", jobID), slog.String("reason", reason))
	return nil
}

// dispatchStage submits one descriptor per runnable plugin of the stage,
// then the stage-transition descriptor depending on all of them. The
// transition is always submitted last; that is the causal ordering the
// worker pool's dependency mechanism relies on.
func (c *Coordinator) dispatchStage(ctx context.Context, j *job.Job, idx int) error {
	st := stages[idx]
	updated, err := c.jobs.SetStatus(ctx, j.ID, st.running)
	if err != nil {
		if stdErrors.Is(err, job.ErrJobTerminal) {
			c.log.Debug("skipping stage for terminal job", slog.String("job_id", j.ID))
			return nil
		}
		return err
	}
	j = updated

	defs, err := c.registry.Runnable(ctx, st.kind, j.UserID)
	if err != nil {
		return c.failStage(ctx, j, st, xerrors.Wrap(dispatch.CodeStageSubmit, err,
			fmt.Sprintf("enumerating runnable %ss", st.kind)))
	}

	tokens := make([]string, 0, len(defs))
	for _, def := range defs {
		descriptor, err := c.builder.Build(ctx, def, j)
		if err != nil {
			// Lost race with a config change: record a structured
			// rejection for this plugin and keep the stage going.
			c.recordRejection(ctx, j, def, st, err)
			continue
		}
		if err := c.submitter.Submit(ctx, descriptor); err != nil {
			c.recordRejection(ctx, j, def, st, xerrors.Wrap(dispatch.CodeTaskSubmit, err,
				fmt.Sprintf("submitting %s", def.Name)))
			continue
		}
		tokens = append(tokens, descriptor.Token)
	}

	if len(defs) > 0 && len(tokens) == 0 {
		return c.failStage(ctx, j, st, xerrors.New(dispatch.CodeStageSubmit,
			fmt.Sprintf("no task of stage %s could be submitted", st.kind)))
	}

	transition := c.builder.BuildStageTransition(j, st.completed, tokens)
	if err := c.submitter.Submit(ctx, transition); err != nil {
		return c.failStage(ctx, j, st, xerrors.Wrap(dispatch.CodeStageSubmit, err,
			fmt.Sprintf("submitting transition for stage %s", st.kind)))
	}

	logger.Audit().Info("stage dispatched",
		slog.String("job_id", j.ID),
		slog.String("stage", string(st.kind)),
		slog.Int("tasks", len(tokens)),
		slog.String("correlation_id", j.CorrelationID),
	)
	return nil
}

// HandleStageStatus is invoked by workers executing stage-transition
// descriptors. It advances the job and, when a stage just completed,
// dispatches the next one. Duplicate deliveries are dropped quietly; the
// pool guarantees at-least-once, not exactly-once.
func (c *Coordinator) HandleStageStatus(ctx context.Context, jobID string, status job.Status) error {
	current, err := c.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if current.Status.IsTerminal() {
		c.log.Debug("ignoring stage status for terminal job",
			slog.String("job_id", jobID), slog.String("status", string(status)))
		return nil
	}
	j, err := c.jobs.SetStatus(ctx, jobID, status)
	if err != nil {
		if stdErrors.Is(err, job.ErrJobTerminal) || stdErrors.Is(err, job.ErrJobConflict) {
			c.log.Warn("dropping stale stage transition",
				slog.String("job_id", jobID), slog.String("status", string(status)))
			return nil
		}
		return err
	}

	switch status {
	case job.StatusAnalyzersCompleted:
		c.dispatchPivots(ctx, j)
		return c.dispatchStage(ctx, j, 1)
	case job.StatusConnectorsCompleted:
		return c.dispatchStage(ctx, j, 2)
	case job.StatusVisualizersCompleted:
		if _, err := c.jobs.SetStatus(ctx, jobID, job.StatusCompleted); err != nil {
			return err
		}
		logger.Audit().Info("job completed",
			slog.String("job_id", jobID),
			slog.String("correlation_id", j.CorrelationID),
		)
	}
	return nil
}

// OnTaskFinished consumes completion events from the worker pool and
// records per-plugin outcomes. A failed plugin task never fails the stage.
func (c *Coordinator) OnTaskFinished(ctx context.Context, event dispatch.CompletionEvent) {
	if event.Plugin == "" {
		// Stage transitions report completion too; nothing to record.
		return
	}
	status := job.ReportSucceeded
	if !event.Success {
		status = job.ReportFailed
	}
	outcome := job.TaskOutcome{
		Token:      event.Token,
		Plugin:     event.Plugin,
		Kind:       event.Kind,
		Status:     status,
		Errors:     event.Errors,
		StartedAt:  event.StartedAt,
		FinishedAt: event.FinishedAt,
	}
	if err := c.jobs.AppendOutcome(ctx, event.JobID, outcome); err != nil {
		c.log.Error("recording task outcome failed",
			slog.Any("error", err),
			slog.String("job_id", event.JobID),
			slog.String("plugin", event.Plugin))
		return
	}
	logger.Audit().Info("task finished",
		slog.String("job_id", event.JobID),
		slog.String("plugin", event.Plugin),
		slog.String("status", string(status)),
	)
}

// dispatchPivots submits every runnable pivot without a stage transition:
// pivots never block stage advancement, and a pivot failure is only an
// outcome record.
func (c *Coordinator) dispatchPivots(ctx context.Context, j *job.Job) {
	defs, err := c.registry.Runnable(ctx, plugin.KindPivot, j.UserID)
	if err != nil {
		c.log.Error("enumerating pivots failed", slog.Any("error", err), slog.String("job_id", j.ID))
		return
	}
	submitted := 0
	for _, def := range defs {
		descriptor, err := c.builder.Build(ctx, def, j)
		if err != nil {
			c.recordRejection(ctx, j, def, stage{kind: plugin.KindPivot}, err)
			continue
		}
		if err := c.submitter.Submit(ctx, descriptor); err != nil {
			c.recordRejection(ctx, j, def, stage{kind: plugin.KindPivot}, err)
			continue
		}
		submitted++
	}
	if submitted > 0 {
		logger.Audit().Info("pivots dispatched",
			slog.String("job_id", j.ID), slog.Int("tasks", submitted))
	}
}

func (c *Coordinator) recordRejection(ctx context.Context, j *job.Job, def *plugin.Definition, st stage, cause error) {
	now := time.Now().Unix()
	outcome := job.TaskOutcome{
		Token:      uuid.NewString(),
		Plugin:     def.Name,
		Kind:       string(def.Kind),
		Status:     job.ReportFailed,
		Errors:     []string{cause.Error()},
		StartedAt:  now,
		FinishedAt: now,
	}
	if err := c.jobs.AppendOutcome(ctx, j.ID, outcome); err != nil {
		c.log.Error("recording rejection failed", slog.Any("error", err), slog.String("job_id", j.ID))
	}
	c.log.Warn("plugin skipped",
		slog.String("job_id", j.ID),
		slog.String("plugin", def.Name),
		slog.String("stage", string(st.kind)),
		slog.Any("error", cause),
	)
}

// failStage marks the job failed because an entire stage could not be
// submitted. The user-visible reason carries the correlation id, not the
// infrastructure details.
func (c *Coordinator) failStage(ctx context.Context, j *job.Job, st stage, cause error) error {
	reason := fmt.Sprintf("stage %s failed, correlation id %s", st.kind, j.CorrelationID)
	if err := c.jobs.Fail(ctx, j.ID, reason); err != nil {
		c.log.Error("marking job failed errored", slog.Any("error", err), slog.String("job_id", j.ID))
	}
	logger.Audit().Error("job failed",
		slog.String("job_id", j.ID),
		slog.String("stage", string(st.kind)),
		slog.String("correlation_id", j.CorrelationID),
		slog.Any("error", cause),
	)
	c.emitAlert(ctx, j, st, cause)
	// Callers surface Message(), which is the same sanitized reason the job
	// record carries; the cause stays inside the chain for logs and alerts.
	return xerrors.Wrap(dispatch.CodeStageSubmit, cause, reason,
		xerrors.WithMetadata("correlation_id", j.CorrelationID))
}

func (c *Coordinator) emitAlert(ctx context.Context, j *job.Job, st stage, cause error) {
	if c.alerter == nil {
		return
	}
	event := alerting.Event{
		Code:          xerrors.CodeOf(cause),
		Message:       cause.Error(),
		Severity:      xerrors.SeverityOf(cause),
		JobID:         j.ID,
		CorrelationID: j.CorrelationID,
		Stage:         string(st.kind),
		OccurredAt:    time.Now(),
	}
	if err := c.alerter.Notify(ctx, event); err != nil {
		c.log.Error("alert notification failed",
			slog.Any("error", err),
			slog.String("job_id", j.ID),
		)
	}
}
