package admin

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"caretaker/internal/core"
	"caretaker/internal/history"
	"caretaker/internal/scheduler"
	logx "caretaker/pkg/logx"
)

type fakeHealth struct {
	healthy bool
	state   core.State
}

func (f fakeHealth) Healthy() bool     { return f.healthy }
func (f fakeHealth) State() core.State { return f.state }

type fakeJobs struct{ snap []scheduler.JobState }

func (f fakeJobs) Snapshot() []scheduler.JobState { return f.snap }

type fakeRuns struct{ runs []history.JobRun }

func (f fakeRuns) All() []history.JobRun { return f.runs }

func (f fakeRuns) Recent(jobID string, n int) []history.JobRun {
	var out []history.JobRun
	for _, r := range f.runs {
		if r.JobID == jobID {
			out = append(out, r)
		}
	}
	if len(out) > n {
		out = out[len(out)-n:]
	}
	return out
}

func testServer(t *testing.T, h Health, j Jobs, r Runs) *httptest.Server {
	t.Helper()
	srv := New(Config{Addr: "127.0.0.1:0", RPS: 100, Burst: 100}, h, j, r, logx.Nop())
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, string(body)
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		health  fakeHealth
		code    int
		bodyHas string
	}{
		{"running and ready", fakeHealth{healthy: true, state: core.StateRunning}, http.StatusOK, "ok"},
		{"draining", fakeHealth{healthy: false, state: core.StateDraining}, http.StatusServiceUnavailable, "draining"},
		{"initializing", fakeHealth{healthy: false, state: core.StateInitializing}, http.StatusServiceUnavailable, "initializing"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			ts := testServer(t, tc.health, fakeJobs{}, fakeRuns{})
			resp, body := get(t, ts.URL+"/healthz")
			if resp.StatusCode != tc.code {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tc.code)
			}
			if !strings.Contains(body, tc.bodyHas) {
				t.Fatalf("body %q missing %q", body, tc.bodyHas)
			}
		})
	}
}

func TestStatus(t *testing.T) {
	t.Parallel()

	jobs := fakeJobs{snap: []scheduler.JobState{
		{ID: "sync", Trigger: "0 3,21 * * *", Next: time.Now().Add(time.Hour)},
		{ID: "retry", Trigger: "every:5m", InFlight: true},
	}}
	ts := testServer(t, fakeHealth{healthy: true, state: core.StateRunning}, jobs, fakeRuns{})

	resp, body := get(t, ts.URL+"/status")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var got statusResponse
	if err := json.Unmarshal([]byte(body), &got); err != nil {
		t.Fatalf("unmarshal: %v\n%s", err, body)
	}
	if got.State != "running" || !got.Healthy {
		t.Fatalf("state=%q healthy=%v", got.State, got.Healthy)
	}
	if len(got.Jobs) != 2 || got.Jobs[0].ID != "sync" || !got.Jobs[1].InFlight {
		t.Fatalf("jobs = %+v", got.Jobs)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	t.Parallel()

	now := time.Now()
	runs := fakeRuns{runs: []history.JobRun{
		{JobID: "sync", StartedAt: now.Add(-2 * time.Minute), FinishedAt: now.Add(-time.Minute), Status: history.StatusSuccess},
		{JobID: "sync", StartedAt: now.Add(-time.Minute), FinishedAt: now, Status: history.StatusFailed, ExitCode: 2},
		{JobID: "other", StartedAt: now, FinishedAt: now, Status: history.StatusSuccess},
	}}
	ts := testServer(t, fakeHealth{healthy: true, state: core.StateRunning}, fakeJobs{}, runs)

	resp, body := get(t, ts.URL+"/history?job=sync")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var got []history.JobRun
	if err := json.Unmarshal([]byte(body), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("runs = %d, want 2", len(got))
	}

	resp, _ = get(t, ts.URL+"/history?job=sync&n=zero")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad n: status = %d, want 400", resp.StatusCode)
	}

	resp, body = get(t, ts.URL+"/history")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if err := json.Unmarshal([]byte(body), &got); err != nil {
		t.Fatalf("unmarshal all: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("all runs = %d, want 3", len(got))
	}
}

func TestMetricsExposed(t *testing.T) {
	t.Parallel()

	ts := testServer(t, fakeHealth{healthy: true, state: core.StateRunning}, fakeJobs{}, fakeRuns{})
	resp, body := get(t, ts.URL+"/metrics")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if !strings.Contains(body, "go_goroutines") {
		t.Fatal("metrics body missing standard collectors")
	}
}

func TestRateLimit(t *testing.T) {
	t.Parallel()

	srv := New(Config{Addr: "127.0.0.1:0", RPS: 1, Burst: 2}, fakeHealth{healthy: true, state: core.StateRunning}, fakeJobs{}, fakeRuns{}, logx.Nop())
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	limited := false
	for i := 0; i < 5; i++ {
		resp, _ := get(t, ts.URL+"/healthz")
		if resp.StatusCode == http.StatusTooManyRequests {
			limited = true
		}
	}
	if !limited {
		t.Fatal("burst of requests was never rate limited")
	}
}
