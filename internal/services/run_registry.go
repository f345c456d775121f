package services

import (
	"context"
	"sync"
)

// RunRegistry tracks which jobs have a live run loop in this process and
// whether each loop should keep going. It also makes runs single-flight per
// job id, optionally across processes through a RunLock.
type RunRegistry struct {
	mu   sync.Mutex
	runs map[string]*runEntry
	lock RunLock
}

type runEntry struct {
	keepRunning bool
	aborted     bool
	cancel      context.CancelFunc
	done        chan struct{}
}

// RunHandle is owned by the goroutine executing one run of a job.
type RunHandle struct {
	registry *RunRegistry
	jobID    string
	entry    *runEntry
	release  func()
	once     sync.Once
}

// NewRunRegistry creates a registry. lock may be nil.
func NewRunRegistry(lock RunLock) *RunRegistry {
	return &RunRegistry{
		runs: make(map[string]*runEntry),
		lock: lock,
	}
}

// Acquire reserves the run slot of jobID and sets its flag to true.
// It fails with ErrJobAlreadyRunning when a run is already active.
func (r *RunRegistry) Acquire(ctx context.Context, jobID string) (*RunHandle, error) {
	r.mu.Lock()
	if _, busy := r.runs[jobID]; busy {
		r.mu.Unlock()
		return nil, ErrJobAlreadyRunning
	}
	entry := &runEntry{keepRunning: true, done: make(chan struct{})}
	r.runs[jobID] = entry
	r.mu.Unlock()

	h := &RunHandle{registry: r, jobID: jobID, entry: entry}
	if r.lock != nil {
		release, ok, err := r.lock.TryLock(ctx, jobID)
		if err != nil || !ok {
			r.drop(jobID, entry)
			if err != nil {
				return nil, err
			}
			return nil, ErrJobAlreadyRunning
		}
		h.release = release
	}
	return h, nil
}

// Set changes the keep-running flag of an active run. It has no effect when
// no run is active for jobID.
func (r *RunRegistry) Set(jobID string, keepRunning bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.runs[jobID]; ok {
		e.keepRunning = keepRunning
	}
}

// Get reports the keep-running flag; false when no run is active.
func (r *RunRegistry) Get(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.runs[jobID]
	return ok && e.keepRunning
}

// Abort clears the flag of an active run and cancels its context, so a row
// stuck in an upstream call stops without reaching a row boundary.
func (r *RunRegistry) Abort(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.runs[jobID]
	if !ok {
		return
	}
	e.keepRunning = false
	e.aborted = true
	if e.cancel != nil {
		e.cancel()
	}
}

// Active reports whether a run of jobID currently holds the slot.
func (r *RunRegistry) Active(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.runs[jobID]
	return ok
}

// Count returns the number of active runs.
func (r *RunRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs)
}

var closedChan = func() chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}()

// Done returns a channel closed when the active run of jobID finishes.
// It is already closed when nothing is running.
func (r *RunRegistry) Done(jobID string) <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.runs[jobID]; ok {
		return e.done
	}
	return closedChan
}

func (r *RunRegistry) drop(jobID string, entry *runEntry) {
	r.mu.Lock()
	if r.runs[jobID] == entry {
		delete(r.runs, jobID)
	}
	r.mu.Unlock()
	close(entry.done)
}

// Context derives the context of this run from parent. It is canceled by
// Abort and by Release.
func (h *RunHandle) Context(parent context.Context) context.Context {
	ctx, cancel := context.WithCancel(parent)
	h.registry.mu.Lock()
	defer h.registry.mu.Unlock()
	if h.entry.cancel != nil {
		h.entry.cancel()
	}
	h.entry.cancel = cancel
	if h.entry.aborted {
		cancel()
	}
	return ctx
}

// KeepRunning is polled by the run loop between rows.
func (h *RunHandle) KeepRunning() bool {
	h.registry.mu.Lock()
	defer h.registry.mu.Unlock()
	return h.entry.keepRunning
}

// Release clears the flag and frees the slot. Safe to call more than once.
func (h *RunHandle) Release() {
	h.once.Do(func() {
		h.registry.mu.Lock()
		h.entry.keepRunning = false
		if h.entry.cancel != nil {
			h.entry.cancel()
		}
		h.registry.mu.Unlock()
		if h.release != nil {
			h.release()
		}
		h.registry.drop(h.jobID, h.entry)
	})
}
