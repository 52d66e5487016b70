// Package registry tracks which campaigns have a live dispatch loop in this process.
package registry

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// Stop causes passed to Signal. The loop reads them back through context.Cause.
var (
	ErrPauseRequested  = errors.New("pause requested")
	ErrCancelRequested = errors.New("cancel requested")
	ErrShutdown        = errors.New("service shutting down")
)

// Run is one live dispatch loop.
type Run struct {
	CampaignID int
	StartedAt  time.Time

	cancel context.CancelCauseFunc
	done   chan struct{}
	once   sync.Once
}

// Done is closed when the run is unregistered.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

func (r *Run) finish() {
	r.once.Do(func() { close(r.done) })
}

// Registry is the process-wide set of active runs, keyed by campaign id.
type Registry struct {
	mu   sync.Mutex
	runs map[int]*Run
}

func New() *Registry {
	return &Registry{runs: make(map[int]*Run)}
}

// Register records a run for id. It returns false, and the existing run, when id is already active.
func (r *Registry) Register(id int, cancel context.CancelCauseFunc) (*Run, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.runs[id]; ok {
		return existing, false
	}
	run := &Run{
		CampaignID: id,
		StartedAt:  time.Now(),
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	r.runs[id] = run
	return run, true
}

// Unregister removes run and wakes its waiters. A stale run never evicts a newer one.
func (r *Registry) Unregister(run *Run) {
	r.mu.Lock()
	if current, ok := r.runs[run.CampaignID]; ok && current == run {
		delete(r.runs, run.CampaignID)
	}
	r.mu.Unlock()
	run.finish()
}

func (r *Registry) IsActive(id int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.runs[id]
	return ok
}

// ListActive returns the active campaign ids in ascending order.
func (r *Registry) ListActive() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]int, 0, len(r.runs))
	for id := range r.runs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Signal asks the run for id to stop with cause. Repeated signals keep the first cause.
func (r *Registry) Signal(id int, cause error) bool {
	r.mu.Lock()
	run, ok := r.runs[id]
	r.mu.Unlock()
	if !ok {
		return false
	}
	run.cancel(cause)
	return true
}

// SignalAll stops every run with cause and returns the runs signalled.
func (r *Registry) SignalAll(cause error) []*Run {
	r.mu.Lock()
	runs := make([]*Run, 0, len(r.runs))
	for _, run := range r.runs {
		runs = append(runs, run)
	}
	r.mu.Unlock()

	for _, run := range runs {
		run.cancel(cause)
	}
	return runs
}

// Done returns a channel closed when the run for id exits, or nil when id is not active.
func (r *Registry) Done(id int) <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	if run, ok := r.runs[id]; ok {
		return run.done
	}
	return nil
}

// Wait blocks until the run for id exits or ctx is done.
func (r *Registry) Wait(ctx context.Context, id int) error {
	done := r.Done(id)
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
