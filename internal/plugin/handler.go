package plugin

import (
	"context"
	"fmt"
	"sync"

	xerrors "IntelHive/internal/errors"
)

// Invocation carries everything a handler needs for one execution.
type Invocation struct {
	JobID      string
	Plugin     string
	Observable string
	// Params is the resolved parameter map produced by the Resolver.
	Params map[string]any
}

// Report is the outcome of one handler execution.
type Report struct {
	Data   map[string]any `json:"data"`
	Errors []string       `json:"errors,omitempty"`
}

// Runnable is the capability interface every compiled-in plugin handler
// implements. Handlers are registered once at startup; the manifest refers
// to them by entry-point name.
type Runnable interface {
	Run(ctx context.Context, inv Invocation) (Report, error)
}

// Describable is optionally implemented by handlers that carry their own
// human readable description.
type Describable interface {
	Describe() string
}

// RunnableFunc adapts a plain function to the Runnable interface.
type RunnableFunc func(ctx context.Context, inv Invocation) (Report, error)

// Run implements Runnable.
func (f RunnableFunc) Run(ctx context.Context, inv Invocation) (Report, error) {
	return f(ctx, inv)
}

// HandlerRegistry is the static table mapping entry-point names to
// compiled-in handlers. It replaces import-by-string plugin discovery.
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string]Runnable
}

// NewHandlerRegistry creates an empty registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: make(map[string]Runnable)}
}

// Register adds a handler under the given entry-point name.
func (r *HandlerRegistry) Register(name string, handler Runnable) error {
	if name == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "entry point name cannot be empty")
	}
	if handler == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "handler cannot be nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[name]; exists {
		return xerrors.New(xerrors.CodeConflict, fmt.Sprintf("entry point %s already registered", name))
	}
	r.handlers[name] = handler
	return nil
}

// Lookup resolves an entry-point name to its handler.
func (r *HandlerRegistry) Lookup(name string) (Runnable, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handler, ok := r.handlers[name]
	if !ok {
		return nil, xerrors.Wrap(CodeEntryPointNotFound, ErrEntryPointNotFound, fmt.Sprintf("entry point %s is not registered", name))
	}
	return handler, nil
}

// Has reports whether an entry-point name is registered.
func (r *HandlerRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[name]
	return ok
}
