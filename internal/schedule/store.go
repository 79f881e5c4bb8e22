// Package schedule holds the immutable set of recurring job definitions.
//
// A Store is built once from the schedule source file and never mutated;
// reload constructs a new Store and swaps it atomically under the
// scheduler's control (see the watcher).
package schedule

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"caretaker/internal/config"
)

// ErrConfig tags schedule definition problems. Fatal at initial load; a
// hot-reload that fails with it keeps the previous store.
var ErrConfig = errors.New("schedule config")

// LoadOptions supplies defaults the schedule file may omit.
type LoadOptions struct {
	// DefaultTimeout applies to jobs without their own timeout.
	DefaultTimeout time.Duration

	// Location applies to cron triggers unless the file sets its own
	// timezone. Nil means time.Local.
	Location *time.Location
}

// Store is an immutable, insertion-ordered set of JobSpecs.
type Store struct {
	jobs []JobSpec
	byID map[string]int
	loc  *time.Location
}

// Load reads and validates the schedule file (YAML or JSON, strict keys).
//
// All problems are reported together so an operator fixes the file in one
// pass instead of replaying load errors one at a time.
func Load(path string, opts LoadOptions) (*Store, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	return Parse(path, b, opts)
}

// Parse builds a Store from raw schedule file content.
// The path chooses the format (see config.CoerceToJSONBytes).
func Parse(path string, raw []byte, opts LoadOptions) (*Store, error) {
	jb, _, err := config.CoerceToJSONBytes(path, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}

	var f scheduleFile
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("%w: trailing data", ErrConfig)
	}

	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	if tz := strings.TrimSpace(f.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("%w: timezone %q: %v", ErrConfig, tz, err)
		}
		loc = l
	}

	st := &Store{byID: make(map[string]int, len(f.Jobs)), loc: loc}
	var problems []error
	now := time.Now()

	for i, jf := range f.Jobs {
		id := strings.TrimSpace(jf.ID)
		if id == "" {
			problems = append(problems, fmt.Errorf("jobs[%d]: id is required", i))
			continue
		}
		if _, dup := st.byID[id]; dup {
			problems = append(problems, fmt.Errorf("jobs[%d]: duplicate id %q", i, id))
			continue
		}

		spec := JobSpec{ID: id, RawTrigger: jf.Trigger, WorkDir: strings.TrimSpace(jf.WorkDir)}

		trig, err := ParseTrigger(jf.Trigger, loc)
		if err != nil {
			problems = append(problems, fmt.Errorf("job %q: %v", id, err))
			continue
		}
		// An inert trigger would make the job silently never run; flag it
		// at load instead.
		if next := trig.Next(now); next.IsZero() || !next.After(now) {
			problems = append(problems, fmt.Errorf("job %q: trigger %q has no future fire time", id, jf.Trigger))
			continue
		}
		spec.Trigger = trig

		if len(jf.Command) == 0 || strings.TrimSpace(jf.Command[0]) == "" {
			problems = append(problems, fmt.Errorf("job %q: command is required", id))
			continue
		}
		spec.Command = append([]string(nil), jf.Command...)

		spec.Timeout, err = config.ParseDurationOrDefault("timeout", jf.Timeout, opts.DefaultTimeout)
		if err != nil {
			problems = append(problems, fmt.Errorf("job %q: %v", id, err))
			continue
		}

		spec.Restart, err = parseRestartPolicy(jf.Restart)
		if err != nil {
			problems = append(problems, fmt.Errorf("job %q: %v", id, err))
			continue
		}

		st.byID[id] = len(st.jobs)
		st.jobs = append(st.jobs, spec)
	}

	if len(problems) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrConfig, errors.Join(problems...))
	}
	return st, nil
}

// NewStore builds a Store from already-validated specs, for callers that
// assemble schedules programmatically rather than from a file. Duplicate
// ids are an error; trigger validity is the caller's concern.
func NewStore(loc *time.Location, jobs ...JobSpec) (*Store, error) {
	if loc == nil {
		loc = time.Local
	}
	st := &Store{byID: make(map[string]int, len(jobs)), loc: loc}
	for _, spec := range jobs {
		if spec.ID == "" {
			return nil, fmt.Errorf("%w: job without id", ErrConfig)
		}
		if _, dup := st.byID[spec.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate id %q", ErrConfig, spec.ID)
		}
		st.byID[spec.ID] = len(st.jobs)
		st.jobs = append(st.jobs, spec)
	}
	return st, nil
}

// Jobs returns the specs in insertion order. Callers must not mutate.
func (s *Store) Jobs() []JobSpec {
	if s == nil {
		return nil
	}
	return s.jobs
}

// Lookup returns the spec for id.
func (s *Store) Lookup(id string) (JobSpec, bool) {
	if s == nil {
		return JobSpec{}, false
	}
	i, ok := s.byID[id]
	if !ok {
		return JobSpec{}, false
	}
	return s.jobs[i], true
}

// Len reports the number of jobs.
func (s *Store) Len() int {
	if s == nil {
		return 0
	}
	return len(s.jobs)
}

// Location is the timezone cron triggers evaluate in.
func (s *Store) Location() *time.Location {
	if s == nil || s.loc == nil {
		return time.Local
	}
	return s.loc
}
