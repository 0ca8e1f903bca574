package job

import (
	"context"
	"sync"
	"time"

	xerrors "IntelHive/internal/errors"
)

// Store abstracts job persistence. Transactions are not required beyond
// single-row atomicity; status transitions are validated by the store.
type Store interface {
	Create(ctx context.Context, job *Job) error
	Get(ctx context.Context, id string) (*Job, error)
	// SetStatus applies a validated status transition and returns the
	// updated job. Terminal jobs return ErrJobTerminal, illegal moves
	// return ErrJobConflict.
	SetStatus(ctx context.Context, id string, status Status) (*Job, error)
	// Fail marks the job failed with a user-visible reason, regardless of
	// current stage. Failing an already terminal job is a no-op.
	Fail(ctx context.Context, id string, reason string) error
	AppendOutcome(ctx context.Context, id string, outcome TaskOutcome) error
	Outcomes(ctx context.Context, id string) ([]TaskOutcome, error)
	Close() error
}

// MemoryStore keeps jobs in process memory, intended for development and
// testing scenarios.
type MemoryStore struct {
	mu       sync.RWMutex
	jobs     map[string]*Job
	outcomes map[string][]TaskOutcome
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:     make(map[string]*Job),
		outcomes: make(map[string][]TaskOutcome),
	}
}

// Create implements the Store interface.
func (m *MemoryStore) Create(_ context.Context, job *Job) error {
	if job == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "job cannot be nil")
	}
	if job.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "job ID cannot be empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.jobs[job.ID]; exists {
		return ErrJobConflict
	}
	now := time.Now().Unix()
	if job.CreatedAt == 0 {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	if job.Status == "" {
		job.Status = StatusPending
	}
	m.jobs[job.ID] = cloneJob(job)
	return nil
}

// Get implements the Store interface.
func (m *MemoryStore) Get(_ context.Context, id string) (*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return cloneJob(job), nil
}

// SetStatus implements the Store interface.
func (m *MemoryStore) SetStatus(_ context.Context, id string, status Status) (*Job, error) {
	if !IsValidStatus(status) {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "unknown job status")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	if job.Status.IsTerminal() {
		return cloneJob(job), ErrJobTerminal
	}
	if !job.Status.CanTransition(status) {
		return cloneJob(job), ErrJobConflict
	}
	job.Status = status
	job.UpdatedAt = time.Now().Unix()
	return cloneJob(job), nil
}

// Fail implements the Store interface.
func (m *MemoryStore) Fail(_ context.Context, id string, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if job.Status.IsTerminal() {
		return nil
	}
	job.Status = StatusFailed
	if reason != "" {
		job.Errors = append(job.Errors, reason)
	}
	job.UpdatedAt = time.Now().Unix()
	return nil
}

// AppendOutcome implements the Store interface.
func (m *MemoryStore) AppendOutcome(_ context.Context, id string, outcome TaskOutcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[id]; !ok {
		return ErrJobNotFound
	}
	m.outcomes[id] = append(m.outcomes[id], outcome)
	return nil
}

// Outcomes implements the Store interface.
func (m *MemoryStore) Outcomes(_ context.Context, id string) ([]TaskOutcome, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.jobs[id]; !ok {
		return nil, ErrJobNotFound
	}
	return append([]TaskOutcome(nil), m.outcomes[id]...), nil
}

// Close implements the Store interface.
func (m *MemoryStore) Close() error { return nil }

func cloneJob(job *Job) *Job {
	clone := *job
	clone.RuntimeConfiguration = cloneRuntimeConfiguration(job.RuntimeConfiguration)
	clone.Errors = append([]string(nil), job.Errors...)
	return &clone
}

var _ Store = (*MemoryStore)(nil)
