package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	xerrors "IntelHive/internal/errors"
	"IntelHive/internal/job"
	"IntelHive/internal/pipeline"
	"IntelHive/internal/plugin"
)

// Server exposes the thin REST surface used to submit and inspect jobs.
type Server struct {
	addr        string
	coordinator *pipeline.Coordinator
	jobs        job.Store
	registry    *plugin.Registry
}

// NewServer constructs the API server.
func NewServer(addr string, coordinator *pipeline.Coordinator, jobs job.Store, registry *plugin.Registry) *Server {
	return &Server{addr: addr, coordinator: coordinator, jobs: jobs, registry: registry}
}

// Start runs the HTTP server until the context is cancelled or an error
// occurs.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/jobs", s.handleJobs)
	mux.HandleFunc("/api/v1/jobs/", s.handleJobByID)
	mux.HandleFunc("/api/v1/plugins", s.handlePlugins)

	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

type submitRequest struct {
	UserID               int64                     `json:"user_id"`
	Observable           string                    `json:"observable"`
	ObservableType       string                    `json:"observable_type"`
	RuntimeConfiguration map[string]map[string]any `json:"runtime_configuration,omitempty"`
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "only POST is supported", http.StatusMethodNotAllowed)
		return
	}
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "failed to parse request body", http.StatusBadRequest)
		return
	}
	if req.Observable == "" {
		http.Error(w, "observable cannot be empty", http.StatusBadRequest)
		return
	}

	submitted, err := s.coordinator.Submit(r.Context(), &job.Job{
		UserID:               req.UserID,
		Observable:           req.Observable,
		ObservableType:       req.ObservableType,
		RuntimeConfiguration: req.RuntimeConfiguration,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(submitted)
}

func (s *Server) handleJobByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/jobs/")
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}
	switch r.Method {
	case http.MethodGet:
		s.handleGetJob(w, r, id)
	case http.MethodDelete:
		s.handleCancelJob(w, r, id)
	default:
		http.Error(w, "only GET/DELETE are supported", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request, id string) {
	ctx := r.Context()
	j, err := s.jobs.Get(ctx, id)
	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			http.NotFound(w, r)
			return
		}
		writeError(w, err)
		return
	}
	outcomes, err := s.jobs.Outcomes(ctx, id)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"job":      j,
		"outcomes": outcomes,
	})
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request, id string) {
	if err := s.coordinator.Cancel(r.Context(), id, "cancelled via API"); err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			http.NotFound(w, r)
			return
		}
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePlugins(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "only GET is supported", http.StatusMethodNotAllowed)
		return
	}
	defs := s.registry.All()
	if kind := r.URL.Query().Get("kind"); kind != "" {
		filtered := defs[:0]
		for _, def := range defs {
			if string(def.Kind) == kind {
				filtered = append(filtered, def)
			}
		}
		defs = filtered
	}
	limit := len(defs)
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed < limit {
			limit = parsed
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(defs[:limit])
}

// writeError maps an error to an HTTP response. Only the sanitized message
// of the unified error type reaches the caller; wrapped infrastructure
// causes stay in the logs and the job record.
func writeError(w http.ResponseWriter, err error) {
	e, ok := xerrors.From(err)
	if !ok {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	switch e.Code() {
	case xerrors.CodeInvalidArgument:
		http.Error(w, e.Message(), http.StatusBadRequest)
	case xerrors.CodeNotFound:
		http.Error(w, e.Message(), http.StatusNotFound)
	case xerrors.CodeConflict:
		http.Error(w, e.Message(), http.StatusConflict)
	default:
		http.Error(w, e.Message(), http.StatusInternalServerError)
	}
}

// withContext rejects new requests once the root context is cancelled.
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
