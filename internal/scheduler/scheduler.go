// Package scheduler drives recurring jobs from a schedule store.
//
// One wake loop owns all trigger evaluation: it sleeps until the earliest
// pending fire time, fires every due job at most once, and reschedules
// relative to "now" at fire time. Per job there is never more than one run
// in flight; a fire that lands while the previous run is still going is
// dropped (logged and counted), never queued.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"caretaker/internal/eventbus"
	"caretaker/internal/history"
	"caretaker/internal/schedule"
	logx "caretaker/pkg/logx"
)

// RunFunc executes one job to completion. It must return a terminal run
// and never panic; jobrunner.Runner.Run satisfies it.
type RunFunc func(ctx context.Context, spec schedule.JobSpec) history.JobRun

// ErrStopForced reports that Stop hit its deadline and had to cancel
// in-flight runs instead of letting them finish.
var ErrStopForced = errors.New("scheduler stop forced")

type entry struct {
	spec     schedule.JobSpec
	next     time.Time
	inFlight bool

	// disabled marks a job with restart policy "never" whose last run
	// failed; it stays loaded (visible in snapshots) but never fires
	// again until a schedule reload replaces it.
	disabled bool
}

type Scheduler struct {
	log   logx.Logger
	run   RunFunc
	hist  *history.History
	bus   eventbus.Bus
	nowFn func() time.Time

	mu      sync.Mutex
	store   *schedule.Store
	entries map[string]*entry
	order   []string // insertion order, stable iteration
	stopped bool

	wake chan struct{}

	runWG sync.WaitGroup

	// graceCancel ends runs that get the drain grace window; hardCancel
	// ends restart-policy-never runs the moment draining begins.
	graceCtx    context.Context
	graceCancel context.CancelFunc
	hardCtx     context.Context
	hardCancel  context.CancelFunc
}

type Option func(*Scheduler)

// WithNow injects the clock (tests only).
func WithNow(now func() time.Time) Option {
	return func(s *Scheduler) { s.nowFn = now }
}

func New(st *schedule.Store, run RunFunc, hist *history.History, bus eventbus.Bus, log logx.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		log:     log,
		run:     run,
		hist:    hist,
		bus:     bus,
		nowFn:   time.Now,
		entries: map[string]*entry{},
		wake:    make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(s)
	}
	s.graceCtx, s.graceCancel = context.WithCancel(context.Background())
	s.hardCtx, s.hardCancel = context.WithCancel(s.graceCtx)
	s.swapLocked(st)
	return s
}

// SetStore atomically swaps the schedule. In-flight state survives for
// jobs whose id is unchanged; vanished jobs stop firing once their
// current run (if any) finishes.
func (s *Scheduler) SetStore(st *schedule.Store) {
	s.mu.Lock()
	s.swapLocked(st)
	s.mu.Unlock()
	s.kick()
}

func (s *Scheduler) swapLocked(st *schedule.Store) {
	now := s.nowFn()
	old := s.entries
	s.store = st
	s.entries = make(map[string]*entry, st.Len())
	s.order = s.order[:0]
	for _, spec := range st.Jobs() {
		e := &entry{spec: spec, next: spec.Trigger.Next(now)}
		if prev, ok := old[spec.ID]; ok {
			e.inFlight = prev.inFlight
		}
		s.entries[spec.ID] = e
		s.order = append(s.order, spec.ID)
	}
}

// Run is the scheduling loop. It blocks until ctx is cancelled or Stop is
// called, and returns nil on a clean stop. The supervisor treats any
// early error return as fatal.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.log.IsZero() {
		s.mu.Lock()
		n := len(s.order)
		s.mu.Unlock()
		s.log.Info("scheduler started", logx.Int("jobs", n))
	}

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		next, ok := s.earliest()
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		if ok {
			d := time.Until(next)
			if d < 0 {
				d = 0
			}
			timer.Reset(d)
		} else {
			// Nothing schedulable right now; sleep until kicked.
			timer.Reset(time.Hour)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-s.wake:
			if s.isStopped() {
				return nil
			}
			continue
		case <-timer.C:
			if s.isStopped() {
				return nil
			}
			s.fireDue(s.nowFn())
		}
	}
}

// earliest returns the soonest pending fire time across schedulable jobs.
func (s *Scheduler) earliest() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best time.Time
	found := false
	for _, id := range s.order {
		e := s.entries[id]
		if e.disabled || e.next.IsZero() {
			continue
		}
		if !found || e.next.Before(best) {
			best = e.next
			found = true
		}
	}
	return best, found
}

// fireDue fires every job whose time has arrived, at most once per job.
// Rescheduling from "now" coalesces any fire times missed during a clock
// jump or long sleep: only the most recent one is honored.
func (s *Scheduler) fireDue(now time.Time) {
	type firing struct {
		spec schedule.JobSpec
	}
	var due []firing

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	for _, id := range s.order {
		e := s.entries[id]
		if e.disabled || e.next.IsZero() || e.next.After(now) {
			continue
		}
		// Reschedule first so the decision below can't double-fire.
		e.next = e.spec.Trigger.Next(now)

		if e.inFlight {
			observeSkip(e.spec.ID)
			if !s.log.IsZero() {
				s.log.Warn("overlap skip: previous run still in flight", logx.String("job", e.spec.ID), logx.Time("next", e.next))
			}
			eventbus.Emit(s.bus, eventbus.KindJobSkipped, e.spec.ID)
			continue
		}

		e.inFlight = true
		due = append(due, firing{spec: e.spec})
	}
	s.mu.Unlock()

	for _, f := range due {
		s.launch(f.spec)
	}
}

// launch runs one job in its own goroutine. Run ordering per job id is
// strict because inFlight stays set until the run reaches a terminal
// state.
func (s *Scheduler) launch(spec schedule.JobSpec) {
	runCtx := s.graceCtx
	if spec.Restart == schedule.RestartNever {
		runCtx = s.hardCtx
	}

	observeLaunch()
	eventbus.Emit(s.bus, eventbus.KindJobStarted, spec.ID)
	if !s.log.IsZero() {
		s.log.Debug("job fired", logx.String("job", spec.ID), logx.String("trigger", spec.RawTrigger))
	}

	s.runWG.Add(1)
	go func() {
		defer s.runWG.Done()
		defer observeDone()

		run := s.run(runCtx, spec)

		s.mu.Lock()
		if e, ok := s.entries[spec.ID]; ok {
			e.inFlight = false
			if !run.OK() && e.spec.Restart == schedule.RestartNever {
				e.disabled = true
				if !s.log.IsZero() {
					s.log.Warn("job disabled after failure (restart policy never)", logx.String("job", spec.ID))
				}
			}
		}
		s.mu.Unlock()

		if s.hist != nil {
			s.hist.Append(run)
		}
		eventbus.Emit(s.bus, eventbus.KindJobFinished, run)
		s.kick()
	}()
}

// Stop prevents new fires and waits for in-flight runs. Runs with restart
// policy "never" are cancelled immediately; the rest get until ctx's
// deadline, after which they are cancelled too (the runner records them
// as killed). Stop is idempotent.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	already := s.stopped
	s.stopped = true
	s.mu.Unlock()
	if !already {
		s.hardCancel()
		s.kick()
	}

	done := make(chan struct{})
	go func() {
		s.runWG.Wait()
		close(done)
	}()

	select {
	case <-done:
		if !s.log.IsZero() {
			s.log.Info("scheduler stopped")
		}
		return nil
	case <-ctx.Done():
	}

	// Deadline hit: force the stragglers down and wait for the runner's
	// bounded kill escalation to reap them.
	s.graceCancel()
	<-done
	if !s.log.IsZero() {
		s.log.Warn("scheduler stop forced", logx.Err(ctx.Err()))
	}
	return ErrStopForced
}

func (s *Scheduler) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

func (s *Scheduler) kick() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}
