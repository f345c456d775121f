package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestRunRegistryDefaultsToFalse(t *testing.T) {
	r := NewRunRegistry(nil)
	if r.Get("unknown") {
		t.Errorf("Expected false for an unknown job")
	}
	r.Set("unknown", true)
	if r.Get("unknown") {
		t.Errorf("Set must not create a run")
	}
	select {
	case <-r.Done("unknown"):
	default:
		t.Errorf("Expected Done to be closed when nothing runs")
	}
}

func TestRunRegistrySingleFlight(t *testing.T) {
	r := NewRunRegistry(nil)
	h, err := r.Acquire(context.Background(), "job")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if !r.Get("job") || !h.KeepRunning() {
		t.Errorf("Expected flag true after acquire")
	}
	if _, err := r.Acquire(context.Background(), "job"); !errors.Is(err, ErrJobAlreadyRunning) {
		t.Errorf("Expected ErrJobAlreadyRunning, got %v", err)
	}

	r.Set("job", false)
	if h.KeepRunning() {
		t.Errorf("Expected handle to observe the cleared flag")
	}

	done := r.Done("job")
	h.Release()
	h.Release()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Done not closed after release")
	}
	if r.Count() != 0 {
		t.Errorf("Expected no active runs, got %d", r.Count())
	}
	if _, err := r.Acquire(context.Background(), "job"); err != nil {
		t.Errorf("Expected reacquire after release, got %v", err)
	}
}

func TestRunRegistryConcurrentAcquire(t *testing.T) {
	r := NewRunRegistry(nil)
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.Acquire(context.Background(), "job"); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Errorf("Expected exactly one winner, got %d", wins)
	}
}

type denyLock struct{ err error }

func (d denyLock) TryLock(ctx context.Context, jobID string) (func(), bool, error) {
	return nil, false, d.err
}

func TestRunRegistryHonorsDistributedLock(t *testing.T) {
	r := NewRunRegistry(denyLock{})
	if _, err := r.Acquire(context.Background(), "job"); !errors.Is(err, ErrJobAlreadyRunning) {
		t.Errorf("Expected ErrJobAlreadyRunning when lock is held elsewhere, got %v", err)
	}
	if r.Count() != 0 {
		t.Errorf("Expected the local slot to be freed")
	}

	r = NewRunRegistry(denyLock{err: errors.New("redis down")})
	if _, err := r.Acquire(context.Background(), "job"); err == nil || errors.Is(err, ErrJobAlreadyRunning) {
		t.Errorf("Expected the lock error to surface, got %v", err)
	}
}

func TestRunRegistryAbortCancelsRunContext(t *testing.T) {
	r := NewRunRegistry(nil)
	h, err := r.Acquire(context.Background(), "job")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	ctx := h.Context(context.Background())

	r.Set("job", false)
	if ctx.Err() != nil {
		t.Fatalf("Clearing the flag must not cancel the run context")
	}

	r.Abort("job")
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatalf("Expected the run context canceled by Abort")
	}
	if h.KeepRunning() {
		t.Errorf("Expected flag cleared by Abort")
	}
	if h.Context(context.Background()).Err() == nil {
		t.Errorf("Expected a context derived after Abort to be canceled")
	}
	h.Release()

	r.Abort("unknown")
}
