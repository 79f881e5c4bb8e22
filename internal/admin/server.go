// Package admin is the local operational HTTP surface: liveness, status,
// run history, and Prometheus metrics. It binds to loopback by default
// and is rate limited; it is not meant to face the outside.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"caretaker/internal/core"
	"caretaker/internal/history"
	"caretaker/internal/runtime/supervisor"
	"caretaker/internal/scheduler"
	logx "caretaker/pkg/logx"
)

// Health answers liveness questions. *core.Supervisor satisfies it.
type Health interface {
	Healthy() bool
	State() core.State
}

// Jobs exposes the scheduling view. *scheduler.Scheduler satisfies it.
type Jobs interface {
	Snapshot() []scheduler.JobState
}

// Runs exposes completed job runs. *history.History satisfies it.
type Runs interface {
	All() []history.JobRun
	Recent(jobID string, n int) []history.JobRun
}

// Goroutines exposes background-goroutine stats.
// *supervisor.Supervisor satisfies it.
type Goroutines interface {
	Snapshot() supervisor.Snapshot
}

// Config for the admin listener.
type Config struct {
	Addr  string
	RPS   float64
	Burst int
}

type Server struct {
	cfg    Config
	health Health
	jobs   Jobs
	runs   Runs
	gor    Goroutines
	log    logx.Logger
	router chi.Router
}

type Option func(*Server)

// WithGoroutines adds background-goroutine stats to /status.
func WithGoroutines(g Goroutines) Option {
	return func(s *Server) { s.gor = g }
}

func New(cfg Config, health Health, jobs Jobs, runs Runs, log logx.Logger, opts ...Option) *Server {
	s := &Server{cfg: cfg, health: health, jobs: jobs, runs: runs, log: log}
	for _, o := range opts {
		o(s)
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(rateLimit(s.cfg.RPS, s.cfg.Burst))

	r.Get("/healthz", s.handleHealthz)
	r.Get("/status", s.handleStatus)
	r.Get("/history", s.handleHistory)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Mount("/debug", middleware.Profiler())
	return r
}

// Router exposes the handler tree (tests mount it on httptest.Server).
func (s *Server) Router() http.Handler { return s.router }

// rateLimit is a single token bucket shared by all clients; the surface
// is loopback-only, so per-client buckets buy nothing.
func rateLimit(rps float64, burst int) func(http.Handler) http.Handler {
	lim := rate.NewLimiter(rate.Limit(rps), burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !lim.Allow() {
				http.Error(w, "rate limited", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if s.health.Healthy() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
		return
	}
	http.Error(w, "unhealthy: "+s.health.State().String(), http.StatusServiceUnavailable)
}

type statusResponse struct {
	State      string               `json:"state"`
	Healthy    bool                 `json:"healthy"`
	Time       time.Time            `json:"time"`
	Jobs       []scheduler.JobState `json:"jobs"`
	Goroutines *supervisor.Snapshot `json:"goroutines,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		State:   s.health.State().String(),
		Healthy: s.health.Healthy(),
		Time:    time.Now(),
		Jobs:    s.jobs.Snapshot(),
	}
	if s.gor != nil {
		snap := s.gor.Snapshot()
		resp.Goroutines = &snap
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if job := q.Get("job"); job != "" {
		n := 20
		if raw := q.Get("n"); raw != "" {
			v, err := strconv.Atoi(raw)
			if err != nil || v <= 0 {
				http.Error(w, "n must be a positive integer", http.StatusBadRequest)
				return
			}
			n = v
		}
		writeJSON(w, http.StatusOK, s.runs.Recent(job, n))
		return
	}
	writeJSON(w, http.StatusOK, s.runs.All())
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// Run serves until ctx is cancelled. The admin surface is best effort: a
// failed listener is logged by the caller, never fatal to the unit.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	if !s.log.IsZero() {
		s.log.Info("admin server listening", logx.String("addr", s.cfg.Addr))
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := srv.Shutdown(shCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
