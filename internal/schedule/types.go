package schedule

import (
	"fmt"
	"strings"
	"time"
)

// RestartPolicy decides what happens to a job after a failed run and how
// its in-flight run is treated during shutdown.
//
//   - never: the job is not fired again after a failed/killed run, and an
//     in-flight run is cancelled immediately when draining begins.
//   - on-failure: failures are expected; the job fires again at its next
//     trigger time. In-flight runs get the drain grace window. Default.
//   - always: like on-failure, and the job stays scheduled even after
//     being killed during a drain.
type RestartPolicy string

const (
	RestartNever     RestartPolicy = "never"
	RestartOnFailure RestartPolicy = "on-failure"
	RestartAlways    RestartPolicy = "always"
)

func parseRestartPolicy(raw string) (RestartPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return RestartOnFailure, nil
	case "never":
		return RestartNever, nil
	case "on-failure", "on_failure", "onfailure":
		return RestartOnFailure, nil
	case "always":
		return RestartAlways, nil
	default:
		return "", fmt.Errorf("unknown restart policy %q", raw)
	}
}

// JobSpec is one recurring job definition. Immutable after load.
type JobSpec struct {
	ID         string
	RawTrigger string
	Trigger    Trigger

	// Command is the argv of the job process.
	Command []string
	WorkDir string

	Timeout time.Duration
	Restart RestartPolicy
}

// jobSpecFile is the on-disk shape, decoded strictly (see Load).
type jobSpecFile struct {
	ID      string   `json:"id"`
	Trigger string   `json:"trigger"`
	Command []string `json:"command"`
	WorkDir string   `json:"work_dir,omitempty"`
	Timeout string   `json:"timeout,omitempty"`
	Restart string   `json:"restart,omitempty"`
}

type scheduleFile struct {
	Timezone string        `json:"timezone,omitempty"`
	Jobs     []jobSpecFile `json:"jobs"`
}
