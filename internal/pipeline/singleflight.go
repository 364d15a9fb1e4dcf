// Package pipeline implements the change-coordination primitive shared
// by every compile pipeline: a debounced single-flight task runner that
// guarantees at most one active compile per asset class, with exactly
// one trailing re-run covering everything that changed while busy.
package pipeline

import (
	"context"
	"sync"
	"time"
)

// MergeFunc folds the next incoming batch into the accumulated pending
// batch. It is called with the zero value of B when nothing is pending.
type MergeFunc[B any] func(pending B, next B) B

// RunFunc executes one compile over a drained batch.
type RunFunc[B any] func(ctx context.Context, batch B) error

// Hooks lets the owner observe state transitions. All hooks are
// optional and are invoked outside the internal lock.
type Hooks[B any] struct {
	// OnWait fires at most once per busy period, when the first change
	// arrives while a run is active.
	OnWait func()
	// OnFinish fires after every run with its batch, outcome, and
	// elapsed time.
	OnFinish func(batch B, err error, elapsed time.Duration)
}

// SingleFlight is a debounced single-flight runner.
//
// State machine: Idle --change--> debouncing --timer--> Running.
// A change while Running marks the runner queued and grows the next
// batch without interrupting the active run; when the run finishes a
// fresh debounce cycle starts immediately from the accumulated batch.
// A change while debouncing grows the pending batch without resetting
// the already-scheduled timer.
type SingleFlight[B any] struct {
	debounce time.Duration
	merge    MergeFunc[B]
	run      RunFunc[B]
	hooks    Hooks[B]

	mu         sync.Mutex
	ctx        context.Context
	cancel     context.CancelFunc
	pending    B
	hasPending bool
	timer      *time.Timer
	running    bool
	queued     bool
	waited     bool
	closed     bool
	idle       sync.WaitGroup
}

// NewSingleFlight creates a runner with the given debounce delay.
func NewSingleFlight[B any](debounce time.Duration, merge MergeFunc[B], run RunFunc[B], hooks Hooks[B]) *SingleFlight[B] {
	return &SingleFlight[B]{
		debounce: debounce,
		merge:    merge,
		run:      run,
		hooks:    hooks,
	}
}

// Start binds the runner to a context. Runs started afterwards observe
// this context; Close cancels it.
func (s *SingleFlight[B]) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctx, s.cancel = context.WithCancel(ctx)
}

// Add merges the batch into the pending set and schedules work
// according to the single-flight discipline.
func (s *SingleFlight[B]) Add(batch B) {
	var notifyWait bool

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}

	s.pending = s.merge(s.pending, batch)
	s.hasPending = true

	if s.running {
		// Never interrupt the active run; remember to go again.
		if !s.queued {
			s.queued = true
		}
		if !s.waited {
			s.waited = true
			notifyWait = true
		}
		s.mu.Unlock()
		if notifyWait && s.hooks.OnWait != nil {
			s.hooks.OnWait()
		}
		return
	}

	// An already-scheduled timer keeps its deadline; only the first
	// change after idle starts a fresh one.
	if s.timer == nil {
		s.timer = time.AfterFunc(s.debounce, s.fire)
	}
	s.mu.Unlock()
}

// RunNow drains whatever is pending and runs immediately, bypassing the
// debounce delay. Used for the startup compile. It follows the same
// single-flight rules: if a run is active the batch is queued instead.
func (s *SingleFlight[B]) RunNow(batch B) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.pending = s.merge(s.pending, batch)
	s.hasPending = true
	if s.running {
		s.queued = true
		s.mu.Unlock()
		return
	}
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()
	s.fire()
}

// fire drains the pending batch and executes one run.
func (s *SingleFlight[B]) fire() {
	s.mu.Lock()
	s.timer = nil
	if s.closed || s.running || !s.hasPending {
		s.mu.Unlock()
		return
	}
	batch := s.pending
	var zero B
	s.pending = zero
	s.hasPending = false
	s.running = true
	ctx := s.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	s.idle.Add(1)
	s.mu.Unlock()

	started := time.Now()
	err := s.run(ctx, batch)
	elapsed := time.Since(started)

	if s.hooks.OnFinish != nil {
		s.hooks.OnFinish(batch, err, elapsed)
	}

	s.mu.Lock()
	s.running = false
	s.waited = false
	goAgain := s.queued
	s.queued = false
	if goAgain && !s.closed {
		// Queued changes begin a fresh debounce cycle immediately.
		s.timer = time.AfterFunc(s.debounce, s.fire)
	}
	s.mu.Unlock()
	s.idle.Done()
}

// Close cancels any pending timer, prevents new runs, and waits for an
// active run to finish. No partial state lingers after it returns.
func (s *SingleFlight[B]) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	s.idle.Wait()
}

// Busy reports whether a run is currently active.
func (s *SingleFlight[B]) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
