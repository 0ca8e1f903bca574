package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"IntelHive/internal/dispatch"
	xerrors "IntelHive/internal/errors"
	"IntelHive/internal/identity"
	"IntelHive/internal/job"
	"IntelHive/internal/observability/alerting"
	"IntelHive/internal/plugin"
)

type fakeSubmitter struct {
	mu        sync.Mutex
	submitted []*dispatch.Descriptor
	failWith  error
}

func (f *fakeSubmitter) Submit(_ context.Context, descriptor *dispatch.Descriptor) error {
	if f.failWith != nil {
		return f.failWith
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, descriptor)
	return nil
}

func (f *fakeSubmitter) Close() error { return nil }

func (f *fakeSubmitter) all() []*dispatch.Descriptor {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*dispatch.Descriptor(nil), f.submitted...)
}

type fakeAlerts struct {
	mu     sync.Mutex
	events []alerting.Event
}

func (f *fakeAlerts) Notify(_ context.Context, event alerting.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

type fixture struct {
	jobs     *job.MemoryStore
	handlers *plugin.HandlerRegistry
	registry *plugin.Registry
	builder  *dispatch.Builder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := plugin.NewMemoryParameterStore()
	directory := identity.NewMemoryDirectory()
	handlers := plugin.NewHandlerRegistry()

	ok := plugin.RunnableFunc(func(context.Context, plugin.Invocation) (plugin.Report, error) {
		return plugin.Report{Data: map[string]any{"verdict": "clean"}}, nil
	})
	boom := plugin.RunnableFunc(func(context.Context, plugin.Invocation) (plugin.Report, error) {
		return plugin.Report{}, errors.New("handler exploded")
	})
	if err := handlers.Register("test.ok", ok); err != nil {
		t.Fatalf("registering handler failed: %v", err)
	}
	if err := handlers.Register("test.boom", boom); err != nil {
		t.Fatalf("registering handler failed: %v", err)
	}

	resolver := plugin.NewResolver(store, directory)
	registry := plugin.NewRegistry(handlers, resolver, directory, []string{"default"}, "default", 60)
	builder := dispatch.NewBuilder(registry, resolver, []string{"default"}, "default", 10)
	return &fixture{
		jobs:     job.NewMemoryStore(),
		handlers: handlers,
		registry: registry,
		builder:  builder,
	}
}

func (f *fixture) register(t *testing.T, name string, kind plugin.Kind, entryPoint string) {
	t.Helper()
	err := f.registry.Register(&plugin.Definition{
		Name:       name,
		Kind:       kind,
		EntryPoint: entryPoint,
		Queue:      "default",
	})
	if err != nil {
		t.Fatalf("registering plugin %s failed: %v", name, err)
	}
}

func TestSubmitDispatchesFirstStageWithTransition(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	for _, name := range []string{"alpha", "beta", "gamma"} {
		f.register(t, name, plugin.KindAnalyzer, "test.ok")
	}
	submitter := &fakeSubmitter{}
	coordinator := NewCoordinator(f.jobs, f.registry, f.builder, submitter)

	submitted, err := coordinator.Submit(ctx, &job.Job{Observable: "1.2.3.4"})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if submitted.Status != job.StatusAnalyzersRunning {
		t.Fatalf("expected analyzers_running, got %s", submitted.Status)
	}
	if submitted.ID == "" || submitted.CorrelationID == "" {
		t.Fatalf("ids must be generated, got %+v", submitted)
	}

	descriptors := submitter.all()
	if len(descriptors) != 4 {
		t.Fatalf("expected 3 tasks plus a transition, got %d", len(descriptors))
	}

	// The transition comes last and depends on every sibling token.
	transition := descriptors[len(descriptors)-1]
	if transition.Target != dispatch.TargetSetJobStatus {
		t.Fatalf("last descriptor must be the stage transition, got %+v", transition)
	}
	if transition.TargetStatus() != string(job.StatusAnalyzersCompleted) {
		t.Fatalf("unexpected transition status: %q", transition.TargetStatus())
	}
	if len(transition.Dependencies) != 3 {
		t.Fatalf("transition must depend on all 3 tasks, got %v", transition.Dependencies)
	}
	deps := make(map[string]struct{}, len(transition.Dependencies))
	for _, dep := range transition.Dependencies {
		deps[dep] = struct{}{}
	}
	for _, descriptor := range descriptors[:3] {
		if descriptor.Target != dispatch.TargetRunPlugin {
			t.Fatalf("expected a plugin run, got %+v", descriptor)
		}
		if _, ok := deps[descriptor.Token]; !ok {
			t.Fatalf("token %s missing from transition dependencies", descriptor.Token)
		}
	}
}

func TestEmptyStageStillAdvances(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	submitter := &fakeSubmitter{}
	coordinator := NewCoordinator(f.jobs, f.registry, f.builder, submitter)

	// No plugins at all: every stage submits just its transition.
	submitted, err := coordinator.Submit(ctx, &job.Job{Observable: "1.2.3.4"})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	descriptors := submitter.all()
	if len(descriptors) != 1 || descriptors[0].Target != dispatch.TargetSetJobStatus {
		t.Fatalf("expected only the transition descriptor, got %+v", descriptors)
	}
	if len(descriptors[0].Dependencies) != 0 {
		t.Fatalf("empty stage transition must have no dependencies, got %v", descriptors[0].Dependencies)
	}

	j, err := f.jobs.Get(ctx, submitted.ID)
	if err != nil || j.Status != job.StatusAnalyzersRunning {
		t.Fatalf("expected analyzers_running, got %v (err %v)", j, err)
	}
}

func TestFullStageSubmitFailureFailsJob(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.register(t, "alpha", plugin.KindAnalyzer, "test.ok")

	submitter := &fakeSubmitter{failWith: errors.New("broker down")}
	alerts := &fakeAlerts{}
	coordinator := NewCoordinator(f.jobs, f.registry, f.builder, submitter,
		WithAlertDispatcher(alerts))

	submitted, err := coordinator.Submit(ctx, &job.Job{ID: "job-1", Observable: "1.2.3.4"})
	if err == nil {
		t.Fatal("expected Submit to report the stage failure")
	}
	if submitted != nil {
		t.Fatalf("failed submission must not return a job, got %+v", submitted)
	}
	// The error's own message is as sanitized as the job record.
	e, ok := xerrors.From(err)
	if !ok || !strings.Contains(e.Message(), "correlation id") || strings.Contains(e.Message(), "broker down") {
		t.Fatalf("expected a sanitized failure message, got %v", err)
	}

	j, err := f.jobs.Get(ctx, "job-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if j.Status != job.StatusFailed {
		t.Fatalf("expected failed, got %s", j.Status)
	}
	// The user-visible reason names the correlation id, not broker details.
	if len(j.Errors) == 0 || !strings.Contains(j.Errors[0], j.CorrelationID) {
		t.Fatalf("expected the correlation id in the failure reason, got %v", j.Errors)
	}
	if strings.Contains(strings.Join(j.Errors, " "), "broker down") {
		t.Fatalf("infrastructure details must not leak to the job, got %v", j.Errors)
	}

	alerts.mu.Lock()
	defer alerts.mu.Unlock()
	if len(alerts.events) != 1 {
		t.Fatalf("expected one alert, got %d", len(alerts.events))
	}
	event := alerts.events[0]
	if event.JobID != "job-1" || event.CorrelationID != j.CorrelationID {
		t.Fatalf("unexpected alert event: %+v", event)
	}
}

func TestStaleStageTransitionIsDropped(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	submitter := &fakeSubmitter{}
	coordinator := NewCoordinator(f.jobs, f.registry, f.builder, submitter)

	if err := f.jobs.Create(ctx, &job.Job{ID: "job-1", Observable: "x"}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := coordinator.Cancel(ctx, "job-1", "operator abort"); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	// A transition arriving after cancellation is ignored and submits
	// nothing further.
	if err := coordinator.HandleStageStatus(ctx, "job-1", job.StatusAnalyzersCompleted); err != nil {
		t.Fatalf("HandleStageStatus failed: %v", err)
	}
	if got := len(submitter.all()); got != 0 {
		t.Fatalf("cancelled job must not submit descriptors, got %d", got)
	}

	j, err := f.jobs.Get(ctx, "job-1")
	if err != nil || j.Status != job.StatusFailed {
		t.Fatalf("expected failed, got %v (err %v)", j, err)
	}
	if len(j.Errors) != 1 || j.Errors[0] != "operator abort" {
		t.Fatalf("expected the cancel reason, got %v", j.Errors)
	}
}

func TestPivotsDispatchedWithoutDependencies(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.register(t, "alpha", plugin.KindAnalyzer, "test.ok")
	f.register(t, "hunter", plugin.KindPivot, "test.ok")
	f.register(t, "forwarder", plugin.KindConnector, "test.ok")

	submitter := &fakeSubmitter{}
	coordinator := NewCoordinator(f.jobs, f.registry, f.builder, submitter)

	submitted, err := coordinator.Submit(ctx, &job.Job{Observable: "https://evil.example.com/x"})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	if err := coordinator.HandleStageStatus(ctx, submitted.ID, job.StatusAnalyzersCompleted); err != nil {
		t.Fatalf("HandleStageStatus failed: %v", err)
	}

	var pivot *dispatch.Descriptor
	var connectorTransition *dispatch.Descriptor
	for _, descriptor := range submitter.all() {
		if descriptor.Plugin == "hunter" {
			pivot = descriptor
		}
		if descriptor.TargetStatus() == string(job.StatusConnectorsCompleted) {
			connectorTransition = descriptor
		}
	}
	if pivot == nil {
		t.Fatal("pivot was not dispatched after the analyzer stage")
	}
	if len(pivot.Dependencies) != 0 {
		t.Fatalf("pivots run opportunistically, got dependencies %v", pivot.Dependencies)
	}
	if connectorTransition == nil {
		t.Fatal("connector stage was not dispatched")
	}
	// The connector transition never waits on the pivot.
	for _, dep := range connectorTransition.Dependencies {
		if dep == pivot.Token {
			t.Fatal("stage transitions must not depend on pivot tokens")
		}
	}
}

func TestPipelineEndToEnd(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.register(t, "alpha", plugin.KindAnalyzer, "test.ok")
	f.register(t, "broken", plugin.KindAnalyzer, "test.boom")
	f.register(t, "forwarder", plugin.KindConnector, "test.ok")
	f.register(t, "renderer", plugin.KindVisualizer, "test.ok")

	var coordinator *Coordinator
	var worker *Worker
	pool := dispatch.NewMemoryPool(ctx,
		func(ctx context.Context, descriptor *dispatch.Descriptor) error {
			return worker.Run(ctx, descriptor)
		},
		func(ctx context.Context, event dispatch.CompletionEvent) {
			coordinator.OnTaskFinished(ctx, event)
		},
	)
	coordinator = NewCoordinator(f.jobs, f.registry, f.builder, pool)
	worker = NewWorker(f.handlers, coordinator)

	submitted, err := coordinator.Submit(ctx, &job.Job{Observable: "evil.example.com"})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	pool.Drain()

	j, err := f.jobs.Get(ctx, submitted.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	// One analyzer failing must not stop the pipeline.
	if j.Status != job.StatusCompleted {
		t.Fatalf("expected completed, got %s (errors %v)", j.Status, j.Errors)
	}

	outcomes, err := f.jobs.Outcomes(ctx, submitted.ID)
	if err != nil {
		t.Fatalf("Outcomes failed: %v", err)
	}
	byPlugin := make(map[string]job.TaskOutcome, len(outcomes))
	for _, outcome := range outcomes {
		byPlugin[outcome.Plugin] = outcome
	}
	if len(byPlugin) != 4 {
		t.Fatalf("expected outcomes for 4 plugins, got %v", byPlugin)
	}
	if byPlugin["broken"].Status != job.ReportFailed {
		t.Fatalf("expected broken to fail, got %+v", byPlugin["broken"])
	}
	if len(byPlugin["broken"].Errors) == 0 {
		t.Fatalf("failed outcome must carry the error, got %+v", byPlugin["broken"])
	}
	for _, name := range []string{"alpha", "forwarder", "renderer"} {
		if byPlugin[name].Status != job.ReportSucceeded {
			t.Fatalf("expected %s to succeed, got %+v", name, byPlugin[name])
		}
	}
}
