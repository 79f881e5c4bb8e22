package jobrunner

import (
	"context"
	"strings"
	"testing"
	"time"

	"caretaker/internal/history"
	"caretaker/internal/schedule"
	logx "caretaker/pkg/logx"
)

func shJob(id string, timeout time.Duration, script string) schedule.JobSpec {
	return schedule.JobSpec{
		ID:      id,
		Command: []string{"/bin/sh", "-c", script},
		Timeout: timeout,
	}
}

func TestRunSuccessCapturesOutput(t *testing.T) {
	t.Parallel()
	r := New(time.Second, logx.Nop())
	run := r.Run(context.Background(), shJob("ok", 5*time.Second, "echo hello; echo oops 1>&2"))

	if run.Status != history.StatusSuccess {
		t.Fatalf("status = %s, want success (err=%s)", run.Status, run.Err)
	}
	if run.ExitCode != 0 {
		t.Fatalf("exit code = %d", run.ExitCode)
	}
	if run.Running() {
		t.Fatalf("run not finished")
	}
	if !strings.Contains(run.OutputSummary, "hello") || !strings.Contains(run.OutputSummary, "oops") {
		t.Fatalf("output summary %q misses streams", run.OutputSummary)
	}
}

func TestRunNonZeroExit(t *testing.T) {
	t.Parallel()
	r := New(time.Second, logx.Nop())
	run := r.Run(context.Background(), shJob("bad", 5*time.Second, "exit 3"))

	if run.Status != history.StatusFailed {
		t.Fatalf("status = %s, want failed", run.Status)
	}
	if run.ExitCode != 3 {
		t.Fatalf("exit code = %d, want 3", run.ExitCode)
	}
}

func TestRunCommandNotFound(t *testing.T) {
	t.Parallel()
	r := New(time.Second, logx.Nop())
	run := r.Run(context.Background(), schedule.JobSpec{
		ID:      "ghost",
		Command: []string{"/no/such/binary"},
		Timeout: time.Second,
	})

	if run.Status != history.StatusError {
		t.Fatalf("status = %s, want error", run.Status)
	}
	if run.Err == "" {
		t.Fatalf("missing spawn error")
	}
	if run.Running() {
		t.Fatalf("spawn failure must still finish the run")
	}
}

func TestRunTimeoutEscalatesToKill(t *testing.T) {
	t.Parallel()
	r := New(200*time.Millisecond, logx.Nop())
	start := time.Now()
	// The script ignores SIGTERM, so only the SIGKILL escalation ends it.
	run := r.Run(context.Background(), shJob("stuck", 150*time.Millisecond, `trap "" TERM; sleep 10`))
	took := time.Since(start)

	if run.Status != history.StatusKilled {
		t.Fatalf("status = %s, want killed", run.Status)
	}
	// Bounded above by timeout + kill grace (plus slack for slow CI).
	if took > 3*time.Second {
		t.Fatalf("kill took %v, want ~timeout+grace", took)
	}
	if took < 150*time.Millisecond {
		t.Fatalf("killed before the timeout elapsed (%v)", took)
	}
}

func TestRunCancelledContextKills(t *testing.T) {
	t.Parallel()
	r := New(100*time.Millisecond, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	run := r.Run(ctx, shJob("drained", 10*time.Second, "sleep 10"))

	if run.Status != history.StatusKilled {
		t.Fatalf("status = %s, want killed", run.Status)
	}
}

func TestTailBufferKeepsTail(t *testing.T) {
	t.Parallel()
	b := newTailBuffer(8)
	if _, err := b.Write([]byte("0123456789abcdef")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := b.String(); got != "...89abcdef" {
		t.Fatalf("tail = %q", got)
	}

	b = newTailBuffer(8)
	_, _ = b.Write([]byte("abc"))
	_, _ = b.Write([]byte("defgh"))
	_, _ = b.Write([]byte("ij"))
	if got := b.String(); got != "...cdefghij" {
		t.Fatalf("tail = %q", got)
	}
}
