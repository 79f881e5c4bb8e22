package config

// Config is the on-disk configuration of the caretaker entry point.
//
// Files may be JSON or YAML; YAML is coerced to JSON before strict decoding,
// so unknown keys are rejected in both formats.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	// ScheduleSource is the path of the job schedule file (YAML or JSON).
	ScheduleSource string `json:"schedule_source"`

	Serving ServingConfig `json:"serving"`

	// StartupDeadline bounds how long the serving process may take to
	// become ready before startup is treated as failed. Default "30s".
	StartupDeadline string `json:"startup_deadline,omitempty"`

	// ShutdownDeadline bounds the whole Draining phase. Default "30s".
	ShutdownDeadline string `json:"shutdown_deadline,omitempty"`

	// JobTimeoutDefault applies to jobs without their own timeout. Default "10m".
	JobTimeoutDefault string `json:"job_timeout_default,omitempty"`

	// KillGrace is the window between SIGTERM and SIGKILL for any child
	// process we have to stop. Default "5s".
	KillGrace string `json:"kill_grace,omitempty"`

	// Timezone applies to cron triggers (IANA name, e.g. "Asia/Shanghai").
	// Empty means the process-local zone.
	Timezone string `json:"timezone,omitempty"`

	Admin   AdminConfig   `json:"admin,omitempty"`
	History HistoryConfig `json:"history,omitempty"`
	Logging LoggingConfig `json:"logging"`
}

// ServingConfig describes the wrapped request-serving worker.
type ServingConfig struct {
	// Command is the argv of the serving process (path + args).
	Command []string `json:"command"`

	// BindAddress is the host:port the serving process listens on.
	// Readiness is probed by dialing this address.
	BindAddress string `json:"bind_address"`

	WorkDir string `json:"work_dir,omitempty"`

	// ReadyInterval is the poll interval of the readiness probe. Default "250ms".
	ReadyInterval string `json:"ready_interval,omitempty"`
}

// AdminConfig controls the built-in liveness/status HTTP server.
//
// Security note:
//   - This surface is unauthenticated; prefer binding to localhost or a
//     container-internal address.
type AdminConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:9801"

	// RatePerSec / Burst bound request admission (token bucket).
	// Zero values keep the defaults (10 rps, burst 20).
	RatePerSec float64 `json:"rate_per_sec,omitempty"`
	Burst      int     `json:"burst,omitempty"`
}

// HistoryConfig controls JobRun retention.
type HistoryConfig struct {
	// Size is the most-recent-N runs retained per job in memory. Default 50.
	Size int `json:"size,omitempty"`

	// Journal optionally appends finished runs to a persistent sink.
	Journal JournalConfig `json:"journal,omitempty"`
}

// JournalConfig selects the run journal driver.
//
// Driver values:
//   - "" or "none": journaling disabled
//   - "file": append-only JSONL file
//   - "sqlite": SQLite database file (requires the sqlite build tag)
type JournalConfig struct {
	Driver      string `json:"driver,omitempty"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}
