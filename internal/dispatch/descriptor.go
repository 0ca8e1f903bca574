package dispatch

import (
	xerrors "IntelHive/internal/errors"
)

// Targets understood by worker processes.
const (
	// TargetRunPlugin executes one plugin handler with resolved parameters.
	TargetRunPlugin = "plugin.run"
	// TargetSetJobStatus advances a job to the status named in Args. This is
	// how pipeline stages are sequenced without the dispatcher blocking.
	TargetSetJobStatus = "job.set_status"
)

// ArgStatus is the Args key carrying the target status of a
// TargetSetJobStatus descriptor.
const ArgStatus = "status"

// Descriptor is one unit of work for the external worker pool. It is
// immutable once built: a retry is a new descriptor with a fresh token.
// The worker pool guarantees at-least-once delivery with at-most-one
// concurrent execution per token, and runs a descriptor only after every
// token in Dependencies has finished.
type Descriptor struct {
	Token         string         `json:"token"`
	JobID         string         `json:"job_id"`
	Target        string         `json:"target"`
	Plugin        string         `json:"plugin,omitempty"`
	Kind          string         `json:"kind,omitempty"`
	Args          map[string]any `json:"args,omitempty"`
	Queue         string         `json:"queue"`
	SoftTimeLimit int            `json:"soft_time_limit"`
	Dependencies  []string       `json:"dependencies,omitempty"`
}

// TargetStatus returns the status argument of a stage-transition
// descriptor, or the empty string.
func (d *Descriptor) TargetStatus() string {
	if d == nil || d.Target != TargetSetJobStatus {
		return ""
	}
	status, _ := d.Args[ArgStatus].(string)
	return status
}

// Error codes raised by the dispatch subsystem.
const (
	CodeTaskSubmit  xerrors.Code = "TASK_SUBMIT_FAILED"
	CodeStageSubmit xerrors.Code = "STAGE_SUBMIT_FAILED"
)

func init() {
	xerrors.Register(CodeTaskSubmit, xerrors.Attributes{
		Message:   "failed to submit task descriptor",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     true,
	})
	xerrors.Register(CodeStageSubmit, xerrors.Attributes{
		Message:   "failed to submit an entire stage",
		Severity:  xerrors.SeverityCritical,
		Retryable: false,
		Alert:     true,
	})
}
