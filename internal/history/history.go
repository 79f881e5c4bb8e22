// Package history retains finished JobRuns for observability.
//
// The authoritative store is a bounded in-memory ring (most-recent-N per
// job); an optional journal additionally appends every finished run to a
// persistent sink. The ring requires no tie-breaking: the scheduler never
// has two runs of the same job in flight.
package history

import (
	"context"
	"sort"
	"sync"
	"time"

	logx "caretaker/pkg/logx"
)

// History is the bounded in-memory JobRun store.
type History struct {
	mu      sync.Mutex
	perJob  map[string][]JobRun // append-only per job, trimmed to size
	size    int
	journal Journal
	log     logx.Logger
}

func New(size int, journal Journal, log logx.Logger) *History {
	if size <= 0 {
		size = 50
	}
	return &History{
		perJob:  map[string][]JobRun{},
		size:    size,
		journal: journal,
		log:     log,
	}
}

// Append records a finished run. Calls with an unfinished run are ignored;
// the scheduler only reports terminal states downward.
func (h *History) Append(run JobRun) {
	if run.JobID == "" || run.Running() {
		return
	}

	h.mu.Lock()
	runs := append(h.perJob[run.JobID], run)
	if len(runs) > h.size {
		runs = runs[len(runs)-h.size:]
	}
	h.perJob[run.JobID] = runs
	j := h.journal
	h.mu.Unlock()

	observeRun(run)

	if j != nil {
		// Journal writes are best-effort; history must never block or fail
		// the scheduling path.
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := j.Append(ctx, run); err != nil && !h.log.IsZero() {
			h.log.Warn("run journal append failed", logx.String("job", run.JobID), logx.Err(err))
		}
		cancel()
	}
}

// Recent returns up to n most recent runs for one job, oldest first.
func (h *History) Recent(jobID string, n int) []JobRun {
	h.mu.Lock()
	defer h.mu.Unlock()
	runs := h.perJob[jobID]
	if n <= 0 || n > len(runs) {
		n = len(runs)
	}
	out := make([]JobRun, n)
	copy(out, runs[len(runs)-n:])
	return out
}

// All returns the retained runs of every job, most recent first.
func (h *History) All() []JobRun {
	h.mu.Lock()
	var out []JobRun
	for _, runs := range h.perJob {
		out = append(out, runs...)
	}
	h.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

// Close flushes and closes the journal, if any.
func (h *History) Close() error {
	h.mu.Lock()
	j := h.journal
	h.journal = nil
	h.mu.Unlock()
	if j == nil {
		return nil
	}
	return j.Close()
}
