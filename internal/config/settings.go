package config

import (
	"fmt"
	"strings"
	"time"

	logx "caretaker/pkg/logx"
)

// Settings is the validated, fully parsed view of Config.
// Everything downstream of main consumes Settings, never raw Config.
type Settings struct {
	ScheduleSource string

	ServingCommand []string
	ServingWorkDir string
	BindAddress    string
	ReadyInterval  time.Duration

	StartupDeadline   time.Duration
	ShutdownDeadline  time.Duration
	JobTimeoutDefault time.Duration
	KillGrace         time.Duration

	Location *time.Location

	Admin   AdminSettings
	History HistorySettings
	Log     logx.Config
}

type AdminSettings struct {
	Enabled    bool
	Addr       string
	RatePerSec float64
	Burst      int
}

type HistorySettings struct {
	Size               int
	JournalDriver      string
	JournalPath        string
	JournalBusyTimeout time.Duration
}

const (
	defaultStartupDeadline  = 30 * time.Second
	defaultShutdownDeadline = 30 * time.Second
	defaultJobTimeout       = 10 * time.Minute
	defaultKillGrace        = 5 * time.Second
	defaultReadyInterval    = 250 * time.Millisecond
	defaultAdminAddr        = "127.0.0.1:9801"
	defaultHistorySize      = 50
)

// Resolve validates cfg, applies defaults, and parses duration/zone fields.
func (c *Config) Resolve() (Settings, error) {
	var s Settings

	s.ScheduleSource = strings.TrimSpace(c.ScheduleSource)
	if s.ScheduleSource == "" {
		return s, fmt.Errorf("%w: schedule_source is required", ErrInvalid)
	}

	if len(c.Serving.Command) == 0 || strings.TrimSpace(c.Serving.Command[0]) == "" {
		return s, fmt.Errorf("%w: serving.command is required", ErrInvalid)
	}
	s.ServingCommand = append([]string(nil), c.Serving.Command...)
	s.ServingWorkDir = strings.TrimSpace(c.Serving.WorkDir)

	s.BindAddress = strings.TrimSpace(c.Serving.BindAddress)
	if s.BindAddress == "" {
		return s, fmt.Errorf("%w: serving.bind_address is required", ErrInvalid)
	}
	if !strings.Contains(s.BindAddress, ":") {
		return s, fmt.Errorf("%w: serving.bind_address %q must be host:port", ErrInvalid, s.BindAddress)
	}

	var err error
	if s.ReadyInterval, err = ParseDurationOrDefault("serving.ready_interval", c.Serving.ReadyInterval, defaultReadyInterval); err != nil {
		return s, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if s.StartupDeadline, err = ParseDurationOrDefault("startup_deadline", c.StartupDeadline, defaultStartupDeadline); err != nil {
		return s, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if s.ShutdownDeadline, err = ParseDurationOrDefault("shutdown_deadline", c.ShutdownDeadline, defaultShutdownDeadline); err != nil {
		return s, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if s.JobTimeoutDefault, err = ParseDurationOrDefault("job_timeout_default", c.JobTimeoutDefault, defaultJobTimeout); err != nil {
		return s, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if s.KillGrace, err = ParseDurationOrDefault("kill_grace", c.KillGrace, defaultKillGrace); err != nil {
		return s, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	s.Location = time.Local
	if tz := strings.TrimSpace(c.Timezone); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return s, fmt.Errorf("%w: timezone %q: %v", ErrInvalid, tz, err)
		}
		s.Location = loc
	}

	s.Admin = AdminSettings{
		Enabled:    c.Admin.Enabled,
		Addr:       strings.TrimSpace(c.Admin.Addr),
		RatePerSec: c.Admin.RatePerSec,
		Burst:      c.Admin.Burst,
	}
	if s.Admin.Addr == "" {
		s.Admin.Addr = defaultAdminAddr
	}
	if s.Admin.RatePerSec <= 0 {
		s.Admin.RatePerSec = 10
	}
	if s.Admin.Burst <= 0 {
		s.Admin.Burst = 20
	}

	s.History = HistorySettings{
		Size:          c.History.Size,
		JournalDriver: strings.ToLower(strings.TrimSpace(c.History.Journal.Driver)),
		JournalPath:   strings.TrimSpace(c.History.Journal.Path),
	}
	if s.History.Size <= 0 {
		s.History.Size = defaultHistorySize
	}
	if s.History.JournalBusyTimeout, err = ParseDurationField("history.journal.busy_timeout", c.History.Journal.BusyTimeout); err != nil {
		return s, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	switch s.History.JournalDriver {
	case "", "none", "file", "sqlite", "sqlite3":
	default:
		return s, fmt.Errorf("%w: history.journal.driver %q is not supported", ErrInvalid, s.History.JournalDriver)
	}
	if (s.History.JournalDriver == "file" || strings.HasPrefix(s.History.JournalDriver, "sqlite")) && s.History.JournalPath == "" {
		return s, fmt.Errorf("%w: history.journal.path is required for driver %q", ErrInvalid, s.History.JournalDriver)
	}

	s.Log = logx.Config{
		Level:   c.Logging.Level,
		Console: c.Logging.Console,
		File: logx.FileConfig{
			Enabled: c.Logging.File.Enabled,
			Path:    c.Logging.File.Path,
		},
	}
	// A config with no sinks at all still logs to console.
	if !s.Log.Console && !s.Log.File.Enabled {
		s.Log.Console = true
	}

	return s, nil
}
