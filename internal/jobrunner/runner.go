// Package jobrunner executes one scheduled job command to completion.
//
// The runner is stateless and reentrant across different jobs; the
// scheduler guarantees it is never invoked concurrently for the same job
// id. Every invocation yields exactly one terminal JobRun: failures of
// any kind (spawn error, non-zero exit, timeout, signal death) become
// run records, never errors crossing the boundary.
package jobrunner

import (
	"context"
	"errors"
	"os/exec"
	"syscall"
	"time"

	"caretaker/internal/history"
	"caretaker/internal/schedule"
	logx "caretaker/pkg/logx"
)

const defaultMaxOutput = 8 * 1024

type Runner struct {
	killGrace time.Duration
	maxOutput int
	log       logx.Logger
}

type Option func(*Runner)

// WithMaxOutput bounds the captured output tail per run, in bytes.
func WithMaxOutput(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.maxOutput = n
		}
	}
}

// New creates a runner. killGrace is the SIGTERM→SIGKILL window applied
// when a run is cancelled or exceeds its timeout.
func New(killGrace time.Duration, log logx.Logger, opts ...Option) *Runner {
	if killGrace <= 0 {
		killGrace = 5 * time.Second
	}
	r := &Runner{killGrace: killGrace, maxOutput: defaultMaxOutput, log: log}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Run executes spec's command and blocks until it reaches a terminal
// state. On timeout the process gets SIGTERM; if it ignores that for the
// kill grace window it is SIGKILLed and the run is recorded as killed.
func (r *Runner) Run(ctx context.Context, spec schedule.JobSpec) history.JobRun {
	run := history.JobRun{JobID: spec.ID, StartedAt: time.Now()}

	runCtx := ctx
	var cancel context.CancelFunc
	if spec.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, spec.Command[0], spec.Command[1:]...)
	if spec.WorkDir != "" {
		cmd.Dir = spec.WorkDir
	}

	// Cooperative stop first, forced kill after the grace window.
	cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGTERM) }
	cmd.WaitDelay = r.killGrace

	out := newTailBuffer(r.maxOutput)
	cmd.Stdout = out
	cmd.Stderr = out

	if err := cmd.Start(); err != nil {
		// Command not found, permission denied, bad workdir: nothing ran.
		run.FinishedAt = time.Now()
		run.Status = history.StatusError
		run.ExitCode = -1
		run.Err = err.Error()
		if !r.log.IsZero() {
			r.log.Error("job spawn failed", logx.String("job", spec.ID), logx.Err(err))
		}
		return run
	}

	waitErr := cmd.Wait()
	run.FinishedAt = time.Now()
	run.OutputSummary = out.String()

	switch {
	case waitErr == nil:
		run.Status = history.StatusSuccess
		run.ExitCode = 0
	case runCtx.Err() != nil:
		// Timeout or drain cancellation won the race.
		run.Status = history.StatusKilled
		run.ExitCode = exitCode(waitErr)
		run.Err = runCtx.Err().Error()
	default:
		run.Status = history.StatusFailed
		run.ExitCode = exitCode(waitErr)
		run.Err = waitErr.Error()
	}

	dur := run.Duration()
	switch run.Status {
	case history.StatusSuccess:
		if !r.log.IsZero() {
			r.log.Debug("job completed", logx.String("job", spec.ID), logx.Duration("dur", dur))
		}
	case history.StatusKilled:
		if !r.log.IsZero() {
			r.log.Warn("job killed", logx.String("job", spec.ID), logx.Duration("dur", dur), logx.String("cause", run.Err))
		}
	default:
		if !r.log.IsZero() {
			r.log.Warn("job failed", logx.String("job", spec.ID), logx.Int("exit_code", run.ExitCode), logx.Duration("dur", dur), logx.String("err", run.Err))
		}
	}
	return run
}

func exitCode(err error) int {
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ee.ExitCode()
	}
	return -1
}
