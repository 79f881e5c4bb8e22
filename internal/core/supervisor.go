// Package core ties the serving process and the job scheduler together
// under one lifecycle and maps every way the pair can end to a distinct
// process exit code.
package core

import (
	"context"
	"os"
	"sync"
	"time"

	"caretaker/internal/eventbus"
	"caretaker/internal/runtime/supervisor"
	"caretaker/internal/serving"
	logx "caretaker/pkg/logx"
)

// ServingProcess is what the supervisor needs from the serving child.
// *serving.Process satisfies it.
type ServingProcess interface {
	Start(ctx context.Context) error
	Ready() bool
	Done() <-chan struct{}
	Exit() serving.ExitState
	Stop(ctx context.Context) error
}

// JobScheduler is what the supervisor needs from the scheduling loop.
// *scheduler.Scheduler satisfies it.
type JobScheduler interface {
	Run(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Options configures the supervisor.
type Options struct {
	// ShutdownDeadline bounds the drain: scheduler stop plus serving stop
	// share it.
	ShutdownDeadline time.Duration

	// Signals delivers termination signals. The first one starts a drain;
	// a second one during the drain skips the remaining grace.
	Signals <-chan os.Signal

	// OnReady fires once on the transition to Running (sd_notify hook).
	OnReady func()

	Bus eventbus.Bus
	Log logx.Logger
}

// Supervisor runs the whole unit: bring the serving child up, keep the
// scheduler firing, and take everything down in order (scheduler first,
// serving second) when asked or when a child fails.
type Supervisor struct {
	serving ServingProcess
	sched   JobScheduler
	opts    Options
	log     logx.Logger

	mu    sync.Mutex
	state State
}

func New(sp ServingProcess, js JobScheduler, opts Options) *Supervisor {
	return &Supervisor{serving: sp, sched: js, opts: opts, log: opts.Log}
}

// State returns the current lifecycle phase.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Healthy is the liveness answer: only a Running supervisor whose serving
// child still accepts connections is healthy.
func (s *Supervisor) Healthy() bool {
	return s.State() == StateRunning && s.serving.Ready()
}

func (s *Supervisor) setState(st State) {
	s.mu.Lock()
	prev := s.state
	s.state = st
	s.mu.Unlock()
	if prev == st && st != StateInitializing {
		return
	}
	observeState(st)
	if !s.log.IsZero() {
		s.log.Info("state change", logx.String("from", prev.String()), logx.String("to", st.String()))
	}
	eventbus.Emit(s.opts.Bus, eventbus.KindStateChange, st.String())
}

// Run drives the lifecycle to completion and returns the process exit
// code. It blocks until the unit is fully stopped.
func (s *Supervisor) Run(ctx context.Context) int {
	s.setState(StateInitializing)

	if err := s.serving.Start(ctx); err != nil {
		if !s.log.IsZero() {
			s.log.Error("serving process failed to start", logx.Err(err))
		}
		// Nothing else started yet; the drain is just the transition.
		s.setState(StateDraining)
		s.setState(StateStopped)
		return ExitStartup
	}

	// The scheduling loop runs under the goroutine supervisor so a panic
	// inside it surfaces as an error instead of crashing the process.
	sup := supervisor.New(ctx, supervisor.WithLogger(s.log))
	schedDone := make(chan error, 1)
	sup.Go("scheduler", func(ctx context.Context) error {
		err := s.sched.Run(ctx)
		schedDone <- err
		return err
	})

	s.setState(StateRunning)
	if s.opts.OnReady != nil {
		s.opts.OnReady()
	}

	select {
	case sig := <-s.opts.Signals:
		if !s.log.IsZero() {
			s.log.Info("termination signal received", logx.String("signal", sig.String()))
		}
		return s.drain(sup, true)

	case <-s.serving.Done():
		st := s.serving.Exit()
		if !s.log.IsZero() {
			s.log.Error("serving process exited unexpectedly", logx.Int("code", st.Code), logx.Err(st.Err))
		}
		eventbus.Emit(s.opts.Bus, eventbus.KindChildExit, st)
		s.drainScheduler(sup)
		s.setState(StateStopped)
		return ExitServingDied

	case err := <-schedDone:
		// The loop only returns on stop; any return while Running is fatal.
		if !s.log.IsZero() {
			s.log.Error("scheduling loop exited unexpectedly", logx.Err(err))
		}
		s.setState(StateDraining)
		stopCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownDeadline)
		// The loop is gone but runs it launched may still be in flight.
		if err := s.sched.Stop(stopCtx); err != nil && !s.log.IsZero() {
			s.log.Warn("scheduler stop", logx.Err(err))
		}
		if err := s.serving.Stop(stopCtx); err != nil && !s.log.IsZero() {
			s.log.Warn("serving stop", logx.Err(err))
		}
		cancel()
		s.setState(StateStopped)
		return ExitSchedulerDied

	case <-ctx.Done():
		return s.drain(sup, false)
	}
}

// drain takes the unit down in order: scheduler first so in-flight jobs
// may still reach the serving child, then the child itself.
func (s *Supervisor) drain(sup *supervisor.Supervisor, signalInitiated bool) int {
	s.setState(StateDraining)

	drainCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownDeadline)
	defer cancel()

	// A second signal during the drain means "now": drop the grace window.
	stopWatch := make(chan struct{})
	defer close(stopWatch)
	if signalInitiated {
		go func() {
			select {
			case sig := <-s.opts.Signals:
				if !s.log.IsZero() {
					s.log.Warn("second signal, skipping shutdown grace", logx.String("signal", sig.String()))
				}
				cancel()
			case <-stopWatch:
			}
		}()
	}

	if err := s.sched.Stop(drainCtx); err != nil && !s.log.IsZero() {
		s.log.Warn("scheduler stop", logx.Err(err))
	}
	sup.Cancel()
	_ = sup.Wait(drainCtx)

	if err := s.serving.Stop(drainCtx); err != nil && !s.log.IsZero() {
		s.log.Warn("serving stop", logx.Err(err))
	}

	s.setState(StateStopped)
	if !s.log.IsZero() {
		s.log.Info("shutdown complete")
	}
	return ExitOK
}

// drainScheduler is the serving-already-dead path: only the scheduler is
// left to wind down.
func (s *Supervisor) drainScheduler(sup *supervisor.Supervisor) {
	s.setState(StateDraining)
	stopCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownDeadline)
	defer cancel()
	if err := s.sched.Stop(stopCtx); err != nil && !s.log.IsZero() {
		s.log.Warn("scheduler stop", logx.Err(err))
	}
	sup.Cancel()
	_ = sup.Wait(stopCtx)
}
