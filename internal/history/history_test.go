package history

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"caretaker/internal/config"
	logx "caretaker/pkg/logx"
)

func finishedRun(job string, at time.Time, status Status) JobRun {
	return JobRun{
		JobID:      job,
		StartedAt:  at,
		FinishedAt: at.Add(10 * time.Millisecond),
		Status:     status,
	}
}

func TestHistoryBoundsPerJob(t *testing.T) {
	t.Parallel()
	h := New(3, nil, logx.Nop())
	base := time.Now()
	for i := 0; i < 10; i++ {
		h.Append(finishedRun("a", base.Add(time.Duration(i)*time.Second), StatusSuccess))
	}
	h.Append(finishedRun("b", base, StatusFailed))

	runs := h.Recent("a", 0)
	if len(runs) != 3 {
		t.Fatalf("retained %d runs, want 3", len(runs))
	}
	// Oldest first, and only the most recent three survive.
	if got, want := runs[0].StartedAt, base.Add(7*time.Second); !got.Equal(want) {
		t.Fatalf("oldest retained = %v, want %v", got, want)
	}
	if len(h.Recent("b", 0)) != 1 {
		t.Fatalf("job b history lost")
	}
}

func TestHistoryIgnoresUnfinishedRuns(t *testing.T) {
	t.Parallel()
	h := New(5, nil, logx.Nop())
	h.Append(JobRun{JobID: "a", StartedAt: time.Now()})
	if len(h.Recent("a", 0)) != 0 {
		t.Fatalf("unfinished run was recorded")
	}
}

func TestFileJournalAppends(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "runs.jsonl")
	j, err := OpenJournal(config.HistorySettings{JournalDriver: "file", JournalPath: path}, logx.Nop())
	if err != nil {
		t.Fatalf("OpenJournal: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	for _, st := range []Status{StatusSuccess, StatusKilled} {
		if err := j.Append(context.Background(), finishedRun("daily", now, st)); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := j.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	defer f.Close()

	var got []JobRun
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r JobRun
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			t.Fatalf("bad journal line: %v", err)
		}
		got = append(got, r)
	}
	if len(got) != 2 {
		t.Fatalf("journal has %d records, want 2", len(got))
	}
	if got[0].Status != StatusSuccess || got[1].Status != StatusKilled {
		t.Fatalf("statuses = %s,%s", got[0].Status, got[1].Status)
	}
}

func TestOpenJournalDisabled(t *testing.T) {
	t.Parallel()
	j, err := OpenJournal(config.HistorySettings{}, logx.Nop())
	if err != nil || j != nil {
		t.Fatalf("disabled journal: j=%v err=%v", j, err)
	}
}
