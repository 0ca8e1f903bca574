package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"IntelHive/internal/dispatch"
	"IntelHive/internal/identity"
	"IntelHive/internal/job"
	"IntelHive/internal/pipeline"
	"IntelHive/internal/plugin"
)

func newTestServer(t *testing.T) (*Server, *job.MemoryStore) {
	t.Helper()
	store := plugin.NewMemoryParameterStore()
	directory := identity.NewMemoryDirectory()
	handlers := plugin.NewHandlerRegistry()
	ok := plugin.RunnableFunc(func(context.Context, plugin.Invocation) (plugin.Report, error) {
		return plugin.Report{}, nil
	})
	if err := handlers.Register("test.ok", ok); err != nil {
		t.Fatalf("registering handler failed: %v", err)
	}
	resolver := plugin.NewResolver(store, directory)
	registry := plugin.NewRegistry(handlers, resolver, directory, []string{"default"}, "default", 60)
	if err := registry.Register(&plugin.Definition{
		Name: "classifier", Kind: plugin.KindAnalyzer, EntryPoint: "test.ok", Queue: "default",
	}); err != nil {
		t.Fatalf("registering plugin failed: %v", err)
	}

	jobs := job.NewMemoryStore()
	builder := dispatch.NewBuilder(registry, resolver, []string{"default"}, "default", 10)

	var coordinator *pipeline.Coordinator
	var worker *pipeline.Worker
	pool := dispatch.NewMemoryPool(context.Background(),
		func(ctx context.Context, descriptor *dispatch.Descriptor) error {
			return worker.Run(ctx, descriptor)
		},
		func(ctx context.Context, event dispatch.CompletionEvent) {
			coordinator.OnTaskFinished(ctx, event)
		},
	)
	coordinator = pipeline.NewCoordinator(jobs, registry, builder, pool)
	worker = pipeline.NewWorker(handlers, coordinator)
	t.Cleanup(func() { pool.Drain() })

	return NewServer(":0", coordinator, jobs, registry), jobs
}

func TestSubmitAndFetchJob(t *testing.T) {
	server, _ := newTestServer(t)

	body := `{"user_id": 1, "observable": "evil.example.com", "observable_type": "domain"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", strings.NewReader(body))
	rec := httptest.NewRecorder()
	server.handleJobs(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created job.Job
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decoding response failed: %v", err)
	}
	if created.ID == "" || created.Observable != "evil.example.com" {
		t.Fatalf("unexpected job: %+v", created)
	}

	getReq := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+created.ID, nil)
	getRec := httptest.NewRecorder()
	server.handleJobByID(getRec, getReq)
	if getRec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", getRec.Code, getRec.Body.String())
	}
	var payload struct {
		Job      job.Job           `json:"job"`
		Outcomes []job.TaskOutcome `json:"outcomes"`
	}
	if err := json.Unmarshal(getRec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decoding response failed: %v", err)
	}
	if payload.Job.ID != created.ID {
		t.Fatalf("unexpected job payload: %+v", payload.Job)
	}
}

type failingSubmitter struct{ err error }

func (f *failingSubmitter) Submit(context.Context, *dispatch.Descriptor) error { return f.err }
func (f *failingSubmitter) Close() error                                       { return nil }

func TestSubmitFailureHidesBrokerDetails(t *testing.T) {
	store := plugin.NewMemoryParameterStore()
	directory := identity.NewMemoryDirectory()
	handlers := plugin.NewHandlerRegistry()
	ok := plugin.RunnableFunc(func(context.Context, plugin.Invocation) (plugin.Report, error) {
		return plugin.Report{}, nil
	})
	if err := handlers.Register("test.ok", ok); err != nil {
		t.Fatalf("registering handler failed: %v", err)
	}
	resolver := plugin.NewResolver(store, directory)
	registry := plugin.NewRegistry(handlers, resolver, directory, []string{"default"}, "default", 60)
	if err := registry.Register(&plugin.Definition{
		Name: "classifier", Kind: plugin.KindAnalyzer, EntryPoint: "test.ok", Queue: "default",
	}); err != nil {
		t.Fatalf("registering plugin failed: %v", err)
	}
	jobs := job.NewMemoryStore()
	builder := dispatch.NewBuilder(registry, resolver, []string{"default"}, "default", 10)
	coordinator := pipeline.NewCoordinator(jobs, registry, builder,
		&failingSubmitter{err: errors.New("dial tcp 10.0.0.1:5672: connection refused")})
	server := NewServer(":0", coordinator, jobs, registry)

	body := `{"user_id": 1, "observable": "1.2.3.4", "observable_type": "ip"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", strings.NewReader(body))
	rec := httptest.NewRecorder()
	server.handleJobs(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d: %s", rec.Code, rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), "connection refused") {
		t.Fatalf("broker details must not reach the caller, got %q", rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "correlation id") {
		t.Fatalf("expected the correlation id in the response, got %q", rec.Body.String())
	}
}

func TestSubmitRejectsEmptyObservable(t *testing.T) {
	server, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", strings.NewReader(`{"user_id": 1}`))
	rec := httptest.NewRecorder()
	server.handleJobs(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestGetUnknownJobReturns404(t *testing.T) {
	server, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/no-such-job", nil)
	rec := httptest.NewRecorder()
	server.handleJobByID(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestListPluginsFiltersByKind(t *testing.T) {
	server, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/plugins?kind=analyzer", nil)
	rec := httptest.NewRecorder()
	server.handlePlugins(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var defs []plugin.Definition
	if err := json.Unmarshal(rec.Body.Bytes(), &defs); err != nil {
		t.Fatalf("decoding response failed: %v", err)
	}
	if len(defs) != 1 || defs[0].Name != "classifier" {
		t.Fatalf("unexpected plugin list: %+v", defs)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/plugins?kind=connector", nil)
	rec = httptest.NewRecorder()
	server.handlePlugins(rec, req)
	var empty []plugin.Definition
	if err := json.Unmarshal(rec.Body.Bytes(), &empty); err != nil {
		t.Fatalf("decoding response failed: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected no connectors, got %+v", empty)
	}
}
