package logging

import (
	"context"
	"time"
)

// Status is the uniform compile-status vocabulary shared by every
// pipeline so that tooling consuming the log stream can reason about it
// uniformly.
type Status string

const (
	StatusRun  Status = "RUN"
	StatusWait Status = "WAIT"
	StatusOK   Status = "OK"
	StatusErr  Status = "ERR"
)

// StatusReporter emits RUN/WAIT/OK/ERR lines for one compile pipeline.
// All pipelines report through the same reporter shape so their output
// interleaves consistently.
type StatusReporter struct {
	logger Logger
	name   string
}

// NewStatusReporter creates a reporter for the named pipeline.
func NewStatusReporter(logger Logger, pipeline string) *StatusReporter {
	return &StatusReporter{
		logger: logger.WithComponent(pipeline),
		name:   pipeline,
	}
}

// Running reports the start of a compile with its trigger reason.
func (r *StatusReporter) Running(ctx context.Context, reason string) {
	r.logger.Info(ctx, string(StatusRun), "reason", reason)
}

// Waiting reports that changes arrived while a compile was active.
// Callers emit this at most once per busy period.
func (r *StatusReporter) Waiting(ctx context.Context) {
	r.logger.Info(ctx, string(StatusWait), "detail", "changes queued until the active compile finishes")
}

// Succeeded reports a finished compile with its elapsed time.
func (r *StatusReporter) Succeeded(ctx context.Context, elapsed time.Duration) {
	r.logger.Info(ctx, string(StatusOK), "elapsed_ms", elapsed.Milliseconds())
}

// Failed reports a failed compile with its elapsed time and a
// single-line reason.
func (r *StatusReporter) Failed(ctx context.Context, err error, elapsed time.Duration) {
	r.logger.Error(ctx, err, string(StatusErr), "elapsed_ms", elapsed.Milliseconds())
}

// Disabled reports that the pipeline will not run and why. The rest of
// the system continues without it.
func (r *StatusReporter) Disabled(ctx context.Context, reason string) {
	r.logger.Warn(ctx, nil, "pipeline disabled", "reason", reason)
}
