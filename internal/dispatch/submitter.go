package dispatch

import (
	"context"
)

// Submitter hands task descriptors to the external worker pool. The pool
// owns retries and cancellation of already-submitted descriptors; the core
// never recalls a descriptor.
type Submitter interface {
	Submit(ctx context.Context, descriptor *Descriptor) error
	Close() error
}

// CompletionEvent is the asynchronous report the worker pool emits when a
// descriptor reaches a terminal state.
type CompletionEvent struct {
	JobID      string   `json:"job_id"`
	Token      string   `json:"token"`
	Plugin     string   `json:"plugin,omitempty"`
	Kind       string   `json:"kind,omitempty"`
	Success    bool     `json:"success"`
	Errors     []string `json:"errors,omitempty"`
	StartedAt  int64    `json:"started_at"`
	FinishedAt int64    `json:"finished_at"`
}

// CompletionHandler consumes completion events.
type CompletionHandler func(ctx context.Context, event CompletionEvent)
