package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Runner executes the body of one descriptor.
type Runner func(ctx context.Context, descriptor *Descriptor) error

// MemoryPool is an in-process worker pool, used for tests and single-node
// deployments. It honours the pool contract the core relies on: at most one
// execution per token, and a descriptor runs only after every dependency
// token has finished, whether those finished successfully or not.
type MemoryPool struct {
	runner     Runner
	onComplete CompletionHandler
	baseCtx    context.Context

	mu       sync.Mutex
	finished map[string]struct{}
	started  map[string]struct{}
	waiting  []*Descriptor
	closed   bool
	wg       sync.WaitGroup
}

// NewMemoryPool creates a pool that executes descriptors with runner and
// reports terminal states through onComplete. Execution stops when ctx is
// cancelled.
func NewMemoryPool(ctx context.Context, runner Runner, onComplete CompletionHandler) *MemoryPool {
	if ctx == nil {
		ctx = context.Background()
	}
	return &MemoryPool{
		runner:     runner,
		onComplete: onComplete,
		baseCtx:    ctx,
		finished:   make(map[string]struct{}),
		started:    make(map[string]struct{}),
	}
}

// Submit implements the Submitter interface.
func (p *MemoryPool) Submit(_ context.Context, descriptor *Descriptor) error {
	if descriptor == nil || descriptor.Token == "" {
		return errors.New("descriptor needs a token")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errors.New("pool is closed")
	}
	if p.ready(descriptor) {
		p.launch(descriptor)
		return nil
	}
	p.waiting = append(p.waiting, descriptor)
	return nil
}

// ready and launch require p.mu to be held.
func (p *MemoryPool) ready(descriptor *Descriptor) bool {
	if _, dup := p.started[descriptor.Token]; dup {
		return false
	}
	for _, dep := range descriptor.Dependencies {
		if _, done := p.finished[dep]; !done {
			return false
		}
	}
	return true
}

func (p *MemoryPool) launch(descriptor *Descriptor) {
	p.started[descriptor.Token] = struct{}{}
	p.wg.Add(1)
	go p.run(descriptor)
}

func (p *MemoryPool) run(descriptor *Descriptor) {
	defer p.wg.Done()

	ctx := p.baseCtx
	var cancel context.CancelFunc
	if descriptor.SoftTimeLimit > 0 {
		ctx, cancel = context.WithTimeout(ctx, time.Duration(descriptor.SoftTimeLimit)*time.Second)
		defer cancel()
	}

	startedAt := time.Now().Unix()
	err := p.runner(ctx, descriptor)
	finishedAt := time.Now().Unix()

	if p.onComplete != nil {
		event := CompletionEvent{
			JobID:      descriptor.JobID,
			Token:      descriptor.Token,
			Plugin:     descriptor.Plugin,
			Kind:       descriptor.Kind,
			Success:    err == nil,
			StartedAt:  startedAt,
			FinishedAt: finishedAt,
		}
		if err != nil {
			event.Errors = []string{err.Error()}
		}
		p.onComplete(p.baseCtx, event)
	}

	p.mu.Lock()
	p.finished[descriptor.Token] = struct{}{}
	released := p.collectReady()
	for _, next := range released {
		p.launch(next)
	}
	p.mu.Unlock()
}

// collectReady requires p.mu to be held.
func (p *MemoryPool) collectReady() []*Descriptor {
	var released []*Descriptor
	var remaining []*Descriptor
	for _, waiting := range p.waiting {
		if p.ready(waiting) {
			released = append(released, waiting)
		} else {
			remaining = append(remaining, waiting)
		}
	}
	p.waiting = remaining
	return released
}

// Drain blocks until every started descriptor has finished.
func (p *MemoryPool) Drain() {
	p.wg.Wait()
}

// Close stops accepting descriptors and waits for in-flight executions.
func (p *MemoryPool) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.wg.Wait()
	return nil
}

var _ Submitter = (*MemoryPool)(nil)
