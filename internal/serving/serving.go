// Package serving owns the long-lived serving child process.
//
// The child's stdout/stderr pass straight through to ours so its logs
// land in the container log stream untouched. Readiness is observed from
// the outside: a plain TCP dial against the child's bind address.
package serving

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	logx "caretaker/pkg/logx"
)

// ErrStartup tags a child that never became ready: either it exited
// before accepting connections or the startup deadline passed first.
var ErrStartup = errors.New("serving startup")

// Config describes the serving child.
type Config struct {
	// Command is argv; Command[0] is the binary.
	Command []string
	// BindAddress is the host:port the child must listen on.
	BindAddress string
	// WorkDir is the child's working directory ("" inherits ours).
	WorkDir string
	// ReadyInterval is the dial probe period during startup.
	ReadyInterval time.Duration
	// StartupDeadline bounds the wait for the first successful dial.
	StartupDeadline time.Duration
	// KillGrace is the SIGTERM-to-SIGKILL window when stopping.
	KillGrace time.Duration
}

// ExitState is the child's terminal state, valid once Done is closed.
type ExitState struct {
	Code int
	Err  error
}

// Process supervises one serving child from spawn to reaped exit.
type Process struct {
	cfg Config
	log logx.Logger

	dial func(addr string, timeout time.Duration) error

	cancel context.CancelFunc
	cmd    *exec.Cmd
	done   chan struct{}

	mu   sync.Mutex
	exit ExitState
}

type Option func(*Process)

// WithDialer replaces the readiness probe (tests only).
func WithDialer(dial func(addr string, timeout time.Duration) error) Option {
	return func(p *Process) { p.dial = dial }
}

func New(cfg Config, log logx.Logger, opts ...Option) *Process {
	p := &Process{
		cfg:  cfg,
		log:  log,
		dial: tcpDial,
		done: make(chan struct{}),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func tcpDial(addr string, timeout time.Duration) error {
	c, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return err
	}
	return c.Close()
}

// Start spawns the child and blocks until it accepts a TCP connection on
// the bind address, the startup deadline passes, the child dies, or ctx
// is cancelled. Every failure path reaps the child before returning and
// wraps ErrStartup.
func (p *Process) Start(ctx context.Context) error {
	if len(p.cfg.Command) == 0 || p.cfg.Command[0] == "" {
		return fmt.Errorf("%w: empty command", ErrStartup)
	}

	procCtx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	cmd := exec.CommandContext(procCtx, p.cfg.Command[0], p.cfg.Command[1:]...)
	cmd.Dir = p.cfg.WorkDir
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = p.cfg.KillGrace
	p.cmd = cmd

	if err := cmd.Start(); err != nil {
		cancel()
		close(p.done)
		p.setExit(ExitState{Code: -1, Err: err})
		return fmt.Errorf("%w: spawn %q: %v", ErrStartup, p.cfg.Command[0], err)
	}
	if !p.log.IsZero() {
		p.log.Info("serving process started",
			logx.String("command", p.cfg.Command[0]),
			logx.Int("pid", cmd.Process.Pid),
			logx.String("bind", p.cfg.BindAddress))
	}

	go func() {
		err := cmd.Wait()
		st := ExitState{Code: 0, Err: err}
		if err != nil {
			st.Code = -1
			var ee *exec.ExitError
			if errors.As(err, &ee) {
				st.Code = ee.ExitCode()
			}
		}
		p.setExit(st)
		close(p.done)
	}()

	deadline := time.NewTimer(p.cfg.StartupDeadline)
	defer deadline.Stop()
	probe := time.NewTicker(p.cfg.ReadyInterval)
	defer probe.Stop()

	for {
		select {
		case <-ctx.Done():
			p.cancel()
			<-p.done
			return fmt.Errorf("%w: cancelled: %v", ErrStartup, ctx.Err())
		case <-p.done:
			st := p.Exit()
			return fmt.Errorf("%w: process exited with code %d before becoming ready", ErrStartup, st.Code)
		case <-deadline.C:
			p.cancel()
			<-p.done
			return fmt.Errorf("%w: %s not accepting connections within %s", ErrStartup, p.cfg.BindAddress, p.cfg.StartupDeadline)
		case <-probe.C:
			if p.dial(p.cfg.BindAddress, p.cfg.ReadyInterval) == nil {
				if !p.log.IsZero() {
					p.log.Info("serving process ready", logx.String("bind", p.cfg.BindAddress))
				}
				return nil
			}
		}
	}
}

// Ready re-probes the bind address. Used by the liveness surface so a
// wedged child (process alive, socket gone) reads as unhealthy.
func (p *Process) Ready() bool {
	select {
	case <-p.done:
		return false
	default:
	}
	return p.dial(p.cfg.BindAddress, p.cfg.ReadyInterval) == nil
}

// Done is closed once the child is reaped, however it ended.
func (p *Process) Done() <-chan struct{} { return p.done }

// Exit returns the terminal state; meaningful only after Done.
func (p *Process) Exit() ExitState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exit
}

func (p *Process) setExit(st ExitState) {
	p.mu.Lock()
	p.exit = st
	p.mu.Unlock()
}

// Signal forwards sig to the child, if it is still running.
func (p *Process) Signal(sig os.Signal) {
	select {
	case <-p.done:
		return
	default:
	}
	if p.cmd != nil && p.cmd.Process != nil {
		_ = p.cmd.Process.Signal(sig)
	}
}

// Stop terminates the child: SIGTERM first, SIGKILL after the kill grace
// window, and blocks until the child is reaped or ctx expires. A nil
// return means the child exited cleanly (code 0) after SIGTERM.
func (p *Process) Stop(ctx context.Context) error {
	if p.cancel == nil {
		return nil
	}
	p.cancel()

	select {
	case <-p.done:
	case <-ctx.Done():
		if p.cmd != nil && p.cmd.Process != nil {
			_ = p.cmd.Process.Kill()
		}
		<-p.done
	}

	st := p.Exit()
	if !p.log.IsZero() {
		p.log.Info("serving process stopped", logx.Int("code", st.Code))
	}
	// SIGTERM deaths count as a clean shutdown: the child died of the
	// signal we sent it.
	if st.Err != nil && !signalled(st.Err, syscall.SIGTERM) && st.Code != 0 {
		return fmt.Errorf("serving process exited with code %d: %v", st.Code, st.Err)
	}
	return nil
}

func signalled(err error, sig syscall.Signal) bool {
	var ee *exec.ExitError
	if !errors.As(err, &ee) {
		return false
	}
	ws, ok := ee.Sys().(syscall.WaitStatus)
	return ok && ws.Signaled() && ws.Signal() == sig
}
