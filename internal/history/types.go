package history

import "time"

// Status is the terminal outcome of one job run.
type Status string

const (
	// StatusSuccess: the command exited zero.
	StatusSuccess Status = "success"
	// StatusFailed: the command ran and exited non-zero.
	StatusFailed Status = "failed"
	// StatusKilled: the command was terminated (timeout or drain).
	StatusKilled Status = "killed"
	// StatusError: the command never ran (not found, spawn failure).
	StatusError Status = "error"
)

// JobRun is one concrete execution record of a job.
//
// Created when the scheduler fires a due spec, mutated only by the runner,
// immutable once FinishedAt is set.
type JobRun struct {
	JobID      string    `json:"job_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitzero"`

	Status   Status `json:"status"`
	ExitCode int    `json:"exit_code"`

	// OutputSummary is a bounded tail of combined stdout/stderr.
	OutputSummary string `json:"output_summary,omitempty"`
	Err           string `json:"err,omitempty"`
}

// Running reports whether the run has not reached a terminal state yet.
func (r JobRun) Running() bool { return r.FinishedAt.IsZero() }

// Duration is the wall time of a finished run (zero while running).
func (r JobRun) Duration() time.Duration {
	if r.Running() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// OK reports a clean run.
func (r JobRun) OK() bool { return r.Status == StatusSuccess }
