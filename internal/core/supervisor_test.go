package core

import (
	"context"
	"errors"
	"os"
	"sync"
	"syscall"
	"testing"
	"time"

	"caretaker/internal/serving"
	logx "caretaker/pkg/logx"
)

// callLog records the order of child shutdown calls across stubs.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(name string) {
	l.mu.Lock()
	l.calls = append(l.calls, name)
	l.mu.Unlock()
}

func (l *callLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

type stubServing struct {
	log      *callLog
	startErr error
	ready    bool
	done     chan struct{}
	exit     serving.ExitState
	stopFn   func(ctx context.Context) error
}

func newStubServing(l *callLog) *stubServing {
	return &stubServing{log: l, ready: true, done: make(chan struct{})}
}

func (s *stubServing) Start(ctx context.Context) error {
	s.log.add("serving.start")
	return s.startErr
}
func (s *stubServing) Ready() bool             { return s.ready }
func (s *stubServing) Done() <-chan struct{}   { return s.done }
func (s *stubServing) Exit() serving.ExitState { return s.exit }

func (s *stubServing) Stop(ctx context.Context) error {
	s.log.add("serving.stop")
	if s.stopFn != nil {
		return s.stopFn(ctx)
	}
	return nil
}

type stubScheduler struct {
	log    *callLog
	runErr chan error // non-nil: Run returns the first value sent
	stopFn func(ctx context.Context) error
}

func newStubScheduler(l *callLog) *stubScheduler {
	return &stubScheduler{log: l}
}

func (s *stubScheduler) Run(ctx context.Context) error {
	if s.runErr != nil {
		select {
		case err := <-s.runErr:
			return err
		case <-ctx.Done():
			return nil
		}
	}
	<-ctx.Done()
	return nil
}

func (s *stubScheduler) Stop(ctx context.Context) error {
	s.log.add("scheduler.stop")
	if s.stopFn != nil {
		return s.stopFn(ctx)
	}
	return nil
}

func testOptions(sigs chan os.Signal) Options {
	return Options{
		ShutdownDeadline: 2 * time.Second,
		Signals:          sigs,
		Log:              logx.Nop(),
	}
}

func TestRunStartupFailure(t *testing.T) {
	t.Parallel()

	l := &callLog{}
	sp := newStubServing(l)
	sp.startErr = errors.New("bind refused")
	s := New(sp, newStubScheduler(l), testOptions(make(chan os.Signal, 2)))

	if code := s.Run(context.Background()); code != ExitStartup {
		t.Fatalf("Run = %d, want %d", code, ExitStartup)
	}
	if st := s.State(); st != StateStopped {
		t.Fatalf("state = %v, want stopped", st)
	}
}

func TestRunSignalDrainsInOrder(t *testing.T) {
	t.Parallel()

	l := &callLog{}
	sigs := make(chan os.Signal, 2)
	s := New(newStubServing(l), newStubScheduler(l), testOptions(sigs))

	ready := make(chan struct{})
	opts := s.opts
	opts.OnReady = func() { close(ready) }
	s.opts = opts

	codeCh := make(chan int, 1)
	go func() { codeCh <- s.Run(context.Background()) }()

	<-ready
	if st := s.State(); st != StateRunning {
		t.Fatalf("state after ready = %v, want running", st)
	}
	if !s.Healthy() {
		t.Fatal("Healthy = false while running and ready")
	}
	sigs <- syscall.SIGTERM

	select {
	case code := <-codeCh:
		if code != ExitOK {
			t.Fatalf("Run = %d, want %d", code, ExitOK)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after signal")
	}

	got := l.snapshot()
	want := []string{"serving.start", "scheduler.stop", "serving.stop"}
	if len(got) != len(want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("calls = %v, want %v", got, want)
		}
	}
	if st := s.State(); st != StateStopped {
		t.Fatalf("final state = %v, want stopped", st)
	}
	if s.Healthy() {
		t.Fatal("Healthy = true after stop")
	}
}

func TestRunServingDeathIsFatal(t *testing.T) {
	t.Parallel()

	l := &callLog{}
	sp := newStubServing(l)
	sp.exit = serving.ExitState{Code: 137}
	s := New(sp, newStubScheduler(l), testOptions(make(chan os.Signal, 2)))

	go func() {
		time.Sleep(30 * time.Millisecond)
		close(sp.done)
	}()

	if code := s.Run(context.Background()); code != ExitServingDied {
		t.Fatalf("Run = %d, want %d", code, ExitServingDied)
	}

	// The scheduler still gets a drain even though serving is gone.
	found := false
	for _, c := range l.snapshot() {
		if c == "scheduler.stop" {
			found = true
		}
	}
	if !found {
		t.Fatal("scheduler was not stopped after serving death")
	}
}

func TestRunSchedulerDeathIsFatal(t *testing.T) {
	t.Parallel()

	l := &callLog{}
	js := newStubScheduler(l)
	js.runErr = make(chan error, 1)
	js.runErr <- errors.New("loop wedged")
	s := New(newStubServing(l), js, testOptions(make(chan os.Signal, 2)))

	if code := s.Run(context.Background()); code != ExitSchedulerDied {
		t.Fatalf("Run = %d, want %d", code, ExitSchedulerDied)
	}

	found := false
	for _, c := range l.snapshot() {
		if c == "serving.stop" {
			found = true
		}
	}
	if !found {
		t.Fatal("serving was not stopped after scheduler death")
	}
}

func TestSecondSignalSkipsGrace(t *testing.T) {
	t.Parallel()

	l := &callLog{}
	sigs := make(chan os.Signal, 2)
	js := newStubScheduler(l)
	js.stopFn = func(ctx context.Context) error {
		<-ctx.Done() // pretend in-flight jobs never finish
		return ctx.Err()
	}
	opts := testOptions(sigs)
	opts.ShutdownDeadline = time.Hour
	s := New(newStubServing(l), js, opts)

	codeCh := make(chan int, 1)
	go func() { codeCh <- s.Run(context.Background()) }()

	time.Sleep(30 * time.Millisecond)
	sigs <- syscall.SIGTERM
	time.Sleep(30 * time.Millisecond)
	sigs <- syscall.SIGTERM // skip the hour-long grace

	select {
	case code := <-codeCh:
		if code != ExitOK {
			t.Fatalf("Run = %d, want %d", code, ExitOK)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("second signal did not cut the drain short")
	}
}
