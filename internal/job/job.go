package job

import (
	xerrors "IntelHive/internal/errors"
)

// Status is the pipeline position of a job. A job is terminal once it
// reaches StatusCompleted or StatusFailed.
type Status string

const (
	StatusPending              Status = "pending"
	StatusAnalyzersRunning     Status = "analyzers_running"
	StatusAnalyzersCompleted   Status = "analyzers_completed"
	StatusConnectorsRunning    Status = "connectors_running"
	StatusConnectorsCompleted  Status = "connectors_completed"
	StatusVisualizersRunning   Status = "visualizers_running"
	StatusVisualizersCompleted Status = "visualizers_completed"
	StatusCompleted            Status = "completed"
	StatusFailed               Status = "failed"
)

var statusOrder = map[Status]int{
	StatusPending:              0,
	StatusAnalyzersRunning:     1,
	StatusAnalyzersCompleted:   2,
	StatusConnectorsRunning:    3,
	StatusConnectorsCompleted:  4,
	StatusVisualizersRunning:   5,
	StatusVisualizersCompleted: 6,
	StatusCompleted:            7,
}

// IsValidStatus checks whether the given status is a supported enum value.
func IsValidStatus(status Status) bool {
	if status == StatusFailed {
		return true
	}
	_, ok := statusOrder[status]
	return ok
}

// IsTerminal reports whether the status ends the job.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether moving from s to next is legal. Status only
// moves forward through the pipeline; StatusFailed is reachable from any
// non-terminal status.
func (s Status) CanTransition(next Status) bool {
	if s.IsTerminal() {
		return false
	}
	if next == StatusFailed {
		return true
	}
	from, okFrom := statusOrder[s]
	to, okTo := statusOrder[next]
	return okFrom && okTo && to > from
}

// ReportStatus is the outcome of one plugin task.
type ReportStatus string

const (
	ReportPending   ReportStatus = "pending"
	ReportRunning   ReportStatus = "running"
	ReportSucceeded ReportStatus = "succeeded"
	ReportFailed    ReportStatus = "failed"
)

// TaskOutcome records the terminal state of one submitted task. Individual
// failures are non-fatal to the stage; they are kept for reporting.
type TaskOutcome struct {
	Token      string       `json:"token"`
	Plugin     string       `json:"plugin"`
	Kind       string       `json:"kind"`
	Status     ReportStatus `json:"status"`
	Errors     []string     `json:"errors,omitempty"`
	StartedAt  int64        `json:"started_at"`
	FinishedAt int64        `json:"finished_at"`
}

// Job is the execution context for one observable submission. UserID is
// zero for anonymous-allowed flows. RuntimeConfiguration maps plugin name
// to parameter overrides that take precedence over every stored value.
type Job struct {
	ID                   string                    `json:"id"`
	UserID               int64                     `json:"user_id"`
	Observable           string                    `json:"observable"`
	ObservableType       string                    `json:"observable_type"`
	RuntimeConfiguration map[string]map[string]any `json:"runtime_configuration,omitempty"`
	Status               Status                    `json:"status"`
	Errors               []string                  `json:"errors,omitempty"`
	CorrelationID        string                    `json:"correlation_id"`
	CreatedAt            int64                     `json:"created_at"`
	UpdatedAt            int64                     `json:"updated_at"`
}

// RuntimeConfigFor returns the override map for one plugin, never nil.
func (j *Job) RuntimeConfigFor(plugin string) map[string]any {
	if j == nil || j.RuntimeConfiguration == nil {
		return map[string]any{}
	}
	if overrides, ok := j.RuntimeConfiguration[plugin]; ok && overrides != nil {
		return overrides
	}
	return map[string]any{}
}

func cloneRuntimeConfiguration(cfg map[string]map[string]any) map[string]map[string]any {
	if cfg == nil {
		return nil
	}
	cloned := make(map[string]map[string]any, len(cfg))
	for plugin, overrides := range cfg {
		inner := make(map[string]any, len(overrides))
		for k, v := range overrides {
			inner[k] = v
		}
		cloned[plugin] = inner
	}
	return cloned
}

const (
	CodeJobNotFound xerrors.Code = "JOB_NOT_FOUND"
	CodeJobConflict xerrors.Code = "JOB_CONFLICT"
	CodeJobTerminal xerrors.Code = "JOB_TERMINAL"
)

var (
	// ErrJobNotFound signals that the job does not exist.
	ErrJobNotFound = xerrors.New(CodeJobNotFound, "job not found")
	// ErrJobConflict signals an illegal status transition.
	ErrJobConflict = xerrors.New(CodeJobConflict, "illegal job status transition", xerrors.WithSeverity(xerrors.SeverityWarning))
	// ErrJobTerminal signals that the job already reached a final state.
	ErrJobTerminal = xerrors.New(CodeJobTerminal, "job already terminal", xerrors.WithSeverity(xerrors.SeverityInfo))
)

func init() {
	xerrors.Register(CodeJobNotFound, xerrors.Attributes{
		Message:   "job not found",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeJobConflict, xerrors.Attributes{
		Message:   "illegal job status transition",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeJobTerminal, xerrors.Attributes{
		Message:   "job already terminal",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
}
