package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

const minimalYAML = `
schedule_source: /etc/caretaker/schedule.yaml
serving:
  command: ["gunicorn", "app:app", "-b", "0.0.0.0:8080"]
  bind_address: "127.0.0.1:8080"
logging:
  level: info
  console: true
`

func TestLoadMinimalYAML(t *testing.T) {
	t.Parallel()

	cfg, err := Load(writeFile(t, "caretaker.yaml", minimalYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ScheduleSource != "/etc/caretaker/schedule.yaml" {
		t.Fatalf("schedule_source = %q", cfg.ScheduleSource)
	}
	if len(cfg.Serving.Command) != 4 || cfg.Serving.Command[0] != "gunicorn" {
		t.Fatalf("serving.command = %v", cfg.Serving.Command)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	t.Parallel()

	_, err := Load(writeFile(t, "caretaker.yaml", minimalYAML+"\nshedule_typo: x\n"))
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("err = %v, want ErrInvalid", err)
	}
	if !strings.Contains(err.Error(), "shedule_typo") {
		t.Fatalf("error %q does not name the unknown key", err)
	}
}

func TestLoadRejectsTrailingJSON(t *testing.T) {
	t.Parallel()

	body := `{"schedule_source":"s.yaml","serving":{"command":["x"],"bind_address":"a:1"},"logging":{"level":"info","console":true}}{}`
	if _, err := Load(writeFile(t, "caretaker.json", body)); !errors.Is(err, ErrInvalid) {
		t.Fatalf("err = %v, want ErrInvalid", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); !errors.Is(err, ErrInvalid) {
		t.Fatalf("err = %v, want ErrInvalid", err)
	}
}

func validConfig() *Config {
	return &Config{
		ScheduleSource: "schedule.yaml",
		Serving: ServingConfig{
			Command:     []string{"/usr/bin/server"},
			BindAddress: "127.0.0.1:8080",
		},
	}
}

func TestResolveDefaults(t *testing.T) {
	t.Parallel()

	s, err := validConfig().Resolve()
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if s.StartupDeadline != 30*time.Second || s.ShutdownDeadline != 30*time.Second {
		t.Fatalf("deadlines = %v / %v", s.StartupDeadline, s.ShutdownDeadline)
	}
	if s.JobTimeoutDefault != 10*time.Minute || s.KillGrace != 5*time.Second {
		t.Fatalf("job timeout %v, kill grace %v", s.JobTimeoutDefault, s.KillGrace)
	}
	if s.ReadyInterval != 250*time.Millisecond {
		t.Fatalf("ready interval = %v", s.ReadyInterval)
	}
	if s.Admin.Addr != "127.0.0.1:9801" || s.Admin.RatePerSec != 10 || s.Admin.Burst != 20 {
		t.Fatalf("admin defaults = %+v", s.Admin)
	}
	if s.History.Size != 50 {
		t.Fatalf("history size = %d", s.History.Size)
	}
	if !s.Log.Console {
		t.Fatal("sinkless config should fall back to console logging")
	}
}

func TestResolveRejections(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		mut    func(c *Config)
		substr string
	}{
		{"missing schedule source", func(c *Config) { c.ScheduleSource = " " }, "schedule_source"},
		{"missing serving command", func(c *Config) { c.Serving.Command = nil }, "serving.command"},
		{"missing bind address", func(c *Config) { c.Serving.BindAddress = "" }, "bind_address"},
		{"bind address without port", func(c *Config) { c.Serving.BindAddress = "localhost" }, "host:port"},
		{"bad duration", func(c *Config) { c.ShutdownDeadline = "30 seconds" }, "shutdown_deadline"},
		{"bad timezone", func(c *Config) { c.Timezone = "Mars/Olympus" }, "timezone"},
		{"unknown journal driver", func(c *Config) { c.History.Journal.Driver = "postgres" }, "driver"},
		{"file journal without path", func(c *Config) { c.History.Journal.Driver = "file" }, "path"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tc.mut(cfg)
			_, err := cfg.Resolve()
			if !errors.Is(err, ErrInvalid) {
				t.Fatalf("err = %v, want ErrInvalid", err)
			}
			if !strings.Contains(err.Error(), tc.substr) {
				t.Fatalf("error %q missing %q", err, tc.substr)
			}
		})
	}
}

func TestResolveTimezone(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Timezone = "Asia/Shanghai"
	s, err := cfg.Resolve()
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if s.Location.String() != "Asia/Shanghai" {
		t.Fatalf("location = %v", s.Location)
	}
}
