package dispatch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	xerrors "IntelHive/internal/errors"
	"IntelHive/internal/job"
	"IntelHive/internal/plugin"
	"IntelHive/pkg/logger"
)

// Builder turns runnable plugins into task descriptors. Every call to
// Build mints a fresh idempotency token, so each attempt is distinguishable
// by the worker pool even across retries of the same plugin and job.
type Builder struct {
	registry     *plugin.Registry
	resolver     *plugin.Resolver
	validQueues  map[string]struct{}
	defaultQueue string
	stageLimit   int
	log          *slog.Logger
}

// NewBuilder constructs a Builder. stageLimit is the fixed soft time limit,
// in seconds, applied to stage-transition descriptors.
func NewBuilder(registry *plugin.Registry, resolver *plugin.Resolver, validQueues []string, defaultQueue string, stageLimit int) *Builder {
	queues := make(map[string]struct{}, len(validQueues))
	for _, q := range validQueues {
		queues[q] = struct{}{}
	}
	if stageLimit <= 0 {
		stageLimit = 10
	}
	return &Builder{
		registry:     registry,
		resolver:     resolver,
		validQueues:  queues,
		defaultQueue: defaultQueue,
		stageLimit:   stageLimit,
		log:          logger.Named("builder"),
	}
}

// Build constructs the descriptor for one plugin execution. The plugin must
// be runnable for the job's user; the resolved parameter map is embedded in
// the descriptor arguments. A queue that became invalid since registration
// is replaced by the default queue, mirroring the registry's best-effort
// policy.
func (b *Builder) Build(ctx context.Context, def *plugin.Definition, j *job.Job) (*Descriptor, error) {
	runnable, err := b.registry.IsRunnable(ctx, def.Name, j.UserID)
	if err != nil {
		return nil, err
	}
	if !runnable {
		return nil, xerrors.Wrap(plugin.CodePluginNotRunnable, plugin.ErrPluginNotRunnable,
			fmt.Sprintf("plugin %s is not runnable for this job", def.Name),
			xerrors.WithMetadata("plugin", def.Name),
			xerrors.WithMetadata("job_id", j.ID))
	}

	params, err := b.resolver.ReadParams(ctx, def, j.UserID, j.RuntimeConfigFor(def.Name))
	if err != nil {
		return nil, err
	}

	queue := def.Queue
	if _, ok := b.validQueues[queue]; !ok {
		b.log.Warn("plugin queue invalid at dispatch time, using default",
			slog.String("plugin", def.Name),
			slog.String("queue", queue),
			slog.String("default", b.defaultQueue))
		queue = b.defaultQueue
	}

	return &Descriptor{
		Token:  uuid.NewString(),
		JobID:  j.ID,
		Target: TargetRunPlugin,
		Plugin: def.Name,
		Kind:   string(def.Kind),
		Args: map[string]any{
			"entrypoint": def.EntryPoint,
			"observable": j.Observable,
			"params":     params,
		},
		Queue:         queue,
		SoftTimeLimit: def.SoftTimeLimit,
	}, nil
}

// BuildStageTransition constructs the lightweight descriptor whose sole
// effect is advancing the job to the target status once every dependency
// token has finished.
func (b *Builder) BuildStageTransition(j *job.Job, target job.Status, dependencies []string) *Descriptor {
	return &Descriptor{
		Token:         uuid.NewString(),
		JobID:         j.ID,
		Target:        TargetSetJobStatus,
		Args:          map[string]any{ArgStatus: string(target)},
		Queue:         b.defaultQueue,
		SoftTimeLimit: b.stageLimit,
		Dependencies:  append([]string(nil), dependencies...),
	}
}
