package pipeline

import (
	"context"
	"time"

	"github.com/storewatch/storewatch/internal/errors"
	"github.com/storewatch/storewatch/internal/logging"
	"github.com/storewatch/storewatch/internal/watcher"
)

// CompileFunc is the single-flight body of one asset pipeline. A failed
// compile leaves prior output on disk untouched; the coordinator logs it
// and still honors any queued re-run.
type CompileFunc func(ctx context.Context, trigger string, changedFiles []string) error

// Coordinator drives one asset class's compile loop. It implements
// watcher.Dispatcher so the change detector can feed it directly.
type Coordinator struct {
	name     string
	reporter *logging.StatusReporter
	flight   *SingleFlight[ChangeBatch]
}

// NewCoordinator wires a compile function behind the debounced
// single-flight discipline.
func NewCoordinator(name string, debounce time.Duration, logger logging.Logger, compile CompileFunc) *Coordinator {
	c := &Coordinator{
		name:     name,
		reporter: logging.NewStatusReporter(logger, name),
	}

	c.flight = NewSingleFlight(
		debounce,
		MergeBatches,
		func(ctx context.Context, batch ChangeBatch) error {
			c.reporter.Running(ctx, batch.Label())
			return compile(ctx, batch.Trigger, batch.SortedFiles())
		},
		Hooks[ChangeBatch]{
			OnWait: func() {
				c.reporter.Waiting(context.Background())
			},
			OnFinish: func(batch ChangeBatch, err error, elapsed time.Duration) {
				if err != nil {
					c.reporter.Failed(context.Background(), truncated(err), elapsed)
					return
				}
				c.reporter.Succeeded(context.Background(), elapsed)
			},
		},
	)

	return c
}

// Start binds the coordinator's compiles to ctx.
func (c *Coordinator) Start(ctx context.Context) {
	c.flight.Start(ctx)
}

// OnChangeDetected implements watcher.Dispatcher.
func (c *Coordinator) OnChangeDetected(event watcher.ChangeEvent) {
	c.flight.Add(ChangeBatch{
		Trigger: event.Kind.String(),
		Files:   map[string]struct{}{event.RelPath: {}},
	})
}

// CompileNow runs a startup compile immediately, outside any debounce
// window, on the caller's goroutine.
func (c *Coordinator) CompileNow() {
	c.flight.RunNow(ChangeBatch{Trigger: TriggerStartup})
}

// Close cancels pending timers and waits for an active compile.
func (c *Coordinator) Close() {
	c.flight.Close()
}

// Busy reports whether a compile is in flight.
func (c *Coordinator) Busy() bool {
	return c.flight.Busy()
}

// truncated collapses a compile error to a single readable line.
func truncated(err error) error {
	return errTruncated{msg: errors.SingleLine(err.Error(), 200), cause: err}
}

type errTruncated struct {
	msg   string
	cause error
}

func (e errTruncated) Error() string { return e.msg }
func (e errTruncated) Unwrap() error { return e.cause }
