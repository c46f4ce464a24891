//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Managed process lifecycle.
//

package process

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rbmk-project/common/errclass"
)

// Spec describes how to spawn a process.
type Spec struct {
	// Path is the executable to run. When it does not contain a
	// path separator, it is resolved using the PATH.
	Path string

	// Args contains the arguments, excluding the executable name.
	Args []string

	// Dir is the optional working directory. If empty, the child
	// runs in the current directory of the harness.
	Dir string

	// Env contains optional KEY=VALUE entries appended to the
	// environment inherited from the harness.
	Env []string
}

// String returns the command line.
func (s Spec) String() string {
	return strings.Join(append([]string{s.Path}, s.Args...), " ")
}

// State is the lifecycle state of a [*Process].
type State int32

const (
	// StateCreated means the process has not been started yet.
	StateCreated State = iota

	// StateRunning means the process is running.
	StateRunning

	// StateTerminating means we asked the process to stop.
	StateTerminating

	// StateTerminated means the process has been reaped.
	StateTerminated
)

// String implements [fmt.Stringer].
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateTerminating:
		return "terminating"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// defaultGracePeriod is the default [Launcher] GracePeriod.
const defaultGracePeriod = 2 * time.Second

// Launcher starts processes.
//
// The zero value is ready to use.
type Launcher struct {
	// Logger is the optional structured logger. If this field is
	// nil, we will not be emitting structured logs.
	Logger *slog.Logger

	// Output receives the merged standard output and standard error
	// of the spawned processes. If this field is nil, we use [os.Stdout].
	Output io.Writer

	// GracePeriod is the time we wait after asking a process to stop
	// because its context is done before forcefully killing it. The
	// same delay bounds the time for draining the output once the
	// process has exited. If this field is zero, we use two seconds.
	GracePeriod time.Duration

	// TimeNow is an optional function that returns the current time.
	// If this field is nil, the [time.Now] function will be used.
	TimeNow func() time.Time
}

// DefaultLauncher is the default [*Launcher] used by this package.
var DefaultLauncher = &Launcher{}

// Start is like [*Launcher.Start] but uses [DefaultLauncher].
func Start(ctx context.Context, spec Spec) (*Process, error) {
	return DefaultLauncher.Start(ctx, spec)
}

// Do is like [*Launcher.Do] but uses [DefaultLauncher].
func Do(ctx context.Context, spec Spec, fn func(p *Process) error) error {
	return DefaultLauncher.Do(ctx, spec, fn)
}

// Do starts a process, invokes fn with it, and then closes the
// process on every exit path, including a panic inside fn. The
// returned error joins the error returned by fn and the one
// returned by [*Process.Close].
func (l *Launcher) Do(ctx context.Context, spec Spec, fn func(p *Process) error) (err error) {
	proc, err := l.Start(ctx, spec)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, proc.Close())
	}()
	return fn(proc)
}

// Start spawns a new process using the given spec.
//
// When the context is done, the process is asked to terminate and
// is killed if it is still running after the grace period.
//
// The returned process is in the [StateRunning] state. Launch
// failures are reported as [*SpawnError].
func (l *Launcher) Start(ctx context.Context, spec Spec) (*Process, error) {
	t0 := l.timeNow()
	if l.Logger != nil {
		l.Logger.InfoContext(
			ctx,
			"spawnStart",
			slog.String("path", spec.Path),
			slog.Any("args", spec.Args),
			slog.String("dir", spec.Dir),
			slog.Time("t", t0),
		)
	}

	cmd := exec.CommandContext(ctx, spec.Path, spec.Args...)
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	output := l.output()
	cmd.Stdout = output
	cmd.Stderr = output
	cmd.WaitDelay = l.gracePeriod()

	// The process must exist before cmd.Start because the context
	// may be done, and cmd.Cancel invoked, as soon as it returns.
	proc := &Process{
		cmd:      cmd,
		ctx:      ctx,
		done:     make(chan struct{}),
		launcher: l,
		spec:     spec,
	}
	cmd.Cancel = func() error {
		proc.stopped.Store(true)
		return signalProcess(cmd.Process, terminateSignal)
	}

	stdin, err := cmd.StdinPipe()
	if err == nil {
		proc.stdin = stdin
		err = cmd.Start()
	}
	if err != nil {
		err = &SpawnError{Path: spec.Path, Err: err}
		l.logSpawnDone(ctx, spec, 0, err, t0)
		return nil, err
	}
	proc.state.Store(int32(StateRunning))
	go proc.reap()

	l.logSpawnDone(ctx, spec, proc.Pid(), nil, t0)
	return proc, nil
}

func (l *Launcher) logSpawnDone(ctx context.Context, spec Spec, pid int, err error, t0 time.Time) {
	if l.Logger != nil {
		l.Logger.InfoContext(
			ctx,
			"spawnDone",
			slog.String("path", spec.Path),
			slog.Int("pid", pid),
			slog.Any("err", err),
			slog.String("errClass", errclass.New(err)),
			slog.Time("t0", t0),
			slog.Time("t", l.timeNow()),
		)
	}
}

func (l *Launcher) output() io.Writer {
	if l.Output != nil {
		return l.Output
	}
	return os.Stdout
}

func (l *Launcher) gracePeriod() time.Duration {
	if l.GracePeriod > 0 {
		return l.GracePeriod
	}
	return defaultGracePeriod
}

func (l *Launcher) timeNow() time.Time {
	if l.TimeNow != nil {
		return l.TimeNow()
	}
	return time.Now()
}

// Process is a running process owned by the harness.
//
// Construct using [*Launcher.Start] or [*Launcher.Do].
//
// A [*Process] is meant to be driven by a single goroutine.
type Process struct {
	cmd       *exec.Cmd
	ctx       context.Context // only used for logging
	closeErr  error
	closeOnce sync.Once
	done      chan struct{} // closed by reap
	launcher  *Launcher
	spec      Spec
	state     atomic.Int32
	stdin     io.WriteCloser
	stopped   atomic.Bool // we asked the process to stop
	waitErr   error       // set by reap before closing done
}

// Spec returns the spec used to spawn the process.
func (p *Process) Spec() Spec {
	return p.spec
}

// Pid returns the process ID.
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// State returns the current lifecycle state.
func (p *Process) State() State {
	return State(p.state.Load())
}

// Done returns a channel closed once the process has been reaped.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// reap waits for the process to exit exactly once.
func (p *Process) reap() {
	err := wrapExitError(p.cmd.Wait())
	p.waitErr = err
	p.state.Store(int32(StateTerminated))
	close(p.done)

	if logger := p.launcher.Logger; logger != nil {
		code, _ := ExitCode(err)
		logger.InfoContext(
			p.ctx,
			"waitDone",
			slog.String("path", p.spec.Path),
			slog.Int("pid", p.Pid()),
			slog.Int("exitCode", code),
			slog.Bool("stopRequested", p.stopped.Load()),
			slog.Any("err", err),
			slog.String("errClass", errclass.New(err)),
			slog.Time("t", p.launcher.timeNow()),
		)
	}
}

// Write writes data to the process standard input. The input is not
// buffered, so the child observes the data as soon as Write returns.
//
// Writing after the process exited or after [*Process.Close] fails
// with an [*IOError].
func (p *Process) Write(data []byte) (int, error) {
	select {
	case <-p.done:
		return 0, &IOError{Op: "write", Pid: p.Pid(), Err: ErrNotRunning}
	default:
	}
	count, err := p.stdin.Write(data)
	if err != nil {
		return count, &IOError{Op: "write", Pid: p.Pid(), Err: err}
	}
	return count, nil
}

// Terminate asks the process to stop (SIGTERM on Unix). It does
// not wait for the process to exit and is a no-op once the process
// has been reaped.
func (p *Process) Terminate() error {
	return p.signal("terminate", terminateSignal)
}

// Kill forcefully stops the process (SIGKILL on Unix). It does
// not wait for the process to exit and is a no-op once the process
// has been reaped.
func (p *Process) Kill() error {
	return p.signal("kill", killSignal)
}

func (p *Process) signal(name string, sig os.Signal) error {
	select {
	case <-p.done:
		return nil
	default:
	}
	p.stopped.Store(true)
	p.state.CompareAndSwap(int32(StateRunning), int32(StateTerminating))

	err := sendSignal(p.cmd.Process, sig)

	if logger := p.launcher.Logger; logger != nil {
		logger.InfoContext(
			p.ctx,
			"signal",
			slog.String("path", p.spec.Path),
			slog.Int("pid", p.Pid()),
			slog.String("request", name),
			slog.Any("err", err),
			slog.String("errClass", errclass.New(err)),
			slog.Time("t", p.launcher.timeNow()),
		)
	}
	return err
}

// Wait blocks until the process has been reaped and returns an
// [*ExitError] if it exited with a non-zero status or because of
// a signal.
func (p *Process) Wait() error {
	<-p.done
	return p.waitErr
}

// Stop terminates the process, waits up to grace for it to exit,
// kills it if it is still running, and closes it. The process is
// in the [StateTerminated] state when Stop returns nil.
//
// When terminating fails we kill right away. When killing fails,
// Stop closes the input and returns without reaping the process.
func (p *Process) Stop(grace time.Duration) error {
	if err := p.Terminate(); err != nil {
		if kerr := p.Kill(); kerr != nil {
			return errors.Join(err, kerr, p.closeInput())
		}
		return errors.Join(err, p.Close())
	}
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-p.done:
	case <-timer.C:
		if err := p.Kill(); err != nil {
			return errors.Join(err, p.closeInput())
		}
	}
	return p.Close()
}

// Shutdown closes the process input and gives the process up to
// grace to exit on its own, then falls back to [*Process.Stop].
func (p *Process) Shutdown(grace time.Duration) error {
	_ = p.closeInput()
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-p.done:
		return p.Close()
	case <-timer.C:
		return p.Stop(grace)
	}
}

// Close closes the process input and waits for the process to
// exit, releasing its OS resources. It is safe to call Close
// multiple times.
//
// Close returns an [*ExitError] when the process exited abnormally
// without us asking it to stop.
func (p *Process) Close() error {
	p.closeOnce.Do(func() {
		t0 := p.launcher.timeNow()
		logger := p.launcher.Logger
		if logger != nil {
			logger.InfoContext(
				p.ctx,
				"closeStart",
				slog.String("path", p.spec.Path),
				slog.Int("pid", p.Pid()),
				slog.Time("t", t0),
			)
		}

		err := p.closeInput()
		<-p.done
		if !p.stopped.Load() && p.waitErr != nil {
			err = errors.Join(err, p.waitErr)
		}
		p.closeErr = err

		if logger != nil {
			logger.InfoContext(
				p.ctx,
				"closeDone",
				slog.String("path", p.spec.Path),
				slog.Int("pid", p.Pid()),
				slog.Any("err", err),
				slog.String("errClass", errclass.New(err)),
				slog.Time("t0", t0),
				slog.Time("t", p.launcher.timeNow()),
			)
		}
	})
	return p.closeErr
}

// closeInput closes the standard input pipe.
func (p *Process) closeInput() error {
	if err := p.stdin.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		return &IOError{Op: "close", Pid: p.Pid(), Err: err}
	}
	return nil
}

// sendSignal is the function used by [*Process.Terminate] and [*Process.Kill].
var sendSignal = signalProcess

// signalProcess sends sig to a process, returning nil if the process
// has already exited (os.ErrProcessDone).
func signalProcess(proc *os.Process, sig os.Signal) error {
	err := proc.Signal(sig)
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}
