//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Orchestration of a reproduction run.
//

package scenario

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/rbmk-project/common/errclass"
	"github.com/rbmk-project/reproharness/console"
	"github.com/rbmk-project/reproharness/process"
	"github.com/rbmk-project/reproharness/script"
	"github.com/rbmk-project/reproharness/shell"
	"github.com/rbmk-project/reproharness/teardown"
)

// Phase labels, in execution order.
const (
	PhaseSetup        = "SETUP"
	PhaseTargetStart  = "DYNAMIPS.START"
	PhaseConsoleStart = "TELNET.START"
	PhaseConsole      = "TELNET"
	PhaseConsoleStop  = "TELNET.STOP"
	PhaseTest         = "TEST"
	PhaseTargetStop   = "DYNAMIPS.STOP"
	PhaseCleanup      = "CLEANUP"
)

// PhaseError is the error returned when a phase fails.
type PhaseError struct {
	// Phase is the phase label.
	Phase string

	// Err is the underlying error.
	Err error
}

// Error implements error.
func (e *PhaseError) Error() string {
	return e.Phase + ": " + e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *PhaseError) Unwrap() error {
	return e.Err
}

// ErrNoConfig indicates that [*Sequencer] has no [*Config].
var ErrNoConfig = errors.New("scenario: no config")

// Sequencer runs a scenario.
//
// Construct using a struct literal. Config is mandatory; the other
// fields are optional.
type Sequencer struct {
	// Config is the scenario to run.
	Config *Config

	// Dialer is the optional [*console.Dialer] used to probe and
	// dial the console listener. If this field is nil, we use a
	// zero-value dialer sharing our logger.
	Dialer *console.Dialer

	// Launcher is the optional [*process.Launcher] used to spawn the
	// target, the relay and the shell commands. If this field is nil,
	// we use a launcher sharing our logger.
	Launcher *process.Launcher

	// Logger is the optional structured logger. If this field is
	// nil, we will not be emitting structured logs.
	Logger *slog.Logger

	// RunID is the optional identifier attached to every log record.
	// If this field is empty, we generate a random UUID.
	RunID string

	// Shell is the optional target for the setup, workload and cleanup
	// scripts. If this field is nil, we use a [*shell.Executor].
	Shell script.Target

	// Sleep is the optional function used for every delay. It must
	// return early with an error when the context is done. If this
	// field is nil, we use [script.Sleep].
	Sleep func(ctx context.Context, d time.Duration) error

	// TimeNow is an optional function that returns the current time.
	// If this field is nil, the [time.Now] function will be used.
	TimeNow func() time.Time
}

// Run runs the scenario.
//
// The cleanup script is registered before anything else happens, so
// it runs on every exit path, including a panic or the context being
// done. Releasing processes and running the cleanup use a context
// that is never canceled. The returned error joins the errors of every
// failed phase, each wrapped in a [*PhaseError].
func (s *Sequencer) Run(ctx context.Context) (err error) {
	if s.Config == nil {
		return ErrNoConfig
	}
	r := s.newRun()

	r.logger.InfoContext(ctx, "runStart", slog.String("mode", r.cfg.mode()), slog.Time("t", r.timeNow()))
	t0 := r.timeNow()
	defer func() {
		r.logger.InfoContext(
			ctx,
			"runDone",
			slog.Any("err", err),
			slog.String("errClass", errclass.New(err)),
			slog.Time("t0", t0),
			slog.Time("t", r.timeNow()),
		)
	}()

	stack := r.newStack()
	defer func() {
		err = errors.Join(err, stack.Run(context.WithoutCancel(ctx)))
	}()

	stack.Push(PhaseCleanup, func(ctx context.Context) error {
		return r.phase(ctx, PhaseCleanup, func(ctx context.Context) error {
			return r.cleanupRunner.Run(ctx, r.scripts.Cleanup, r.shell, PhaseCleanup)
		})
	})

	if err := r.phase(ctx, PhaseSetup, func(ctx context.Context) error {
		return r.runner.Run(ctx, r.scripts.Setup, r.shell, PhaseSetup)
	}); err != nil {
		return err
	}

	var target *process.Process
	if err := r.phase(ctx, PhaseTargetStart, func(ctx context.Context) error {
		proc, err := r.launcher.Start(ctx, r.cfg.Target.Spec())
		if err != nil {
			return err
		}
		target = proc
		stack.Push(PhaseTargetStop, func(ctx context.Context) error {
			return r.phase(ctx, PhaseTargetStop, func(context.Context) error {
				return proc.Stop(r.grace)
			})
		})
		return r.sleep(ctx, r.warmup)
	}); err != nil {
		return err
	}

	if err := r.configure(ctx, target); err != nil {
		return err
	}

	return r.phase(ctx, PhaseTest, func(ctx context.Context) error {
		return r.runner.Run(ctx, r.scripts.Workload, r.shell, PhaseTest)
	})
}

// run contains the state of a single [*Sequencer.Run].
type run struct {
	cfg           *Config
	cleanupRunner *script.Runner
	dialer        *console.Dialer
	grace         time.Duration
	launcher      *process.Launcher
	logger        *slog.Logger
	relayGrace    time.Duration
	relayWarmup   time.Duration
	readyTimeout  time.Duration
	runner        *script.Runner
	scripts       Parsed
	seq           *Sequencer
	shell         script.Target
	warmup        time.Duration
}

func (s *Sequencer) newRun() *run {
	cfg := s.Config
	logger := s.Logger
	if logger == nil {
		logger = slog.New(discardHandler{})
	}
	logger = logger.With(slog.String("runID", s.runID()), slog.String("scenario", cfg.Name))

	launcher := s.Launcher
	if launcher == nil {
		launcher = &process.Launcher{Logger: logger, TimeNow: s.TimeNow}
	}
	dialer := s.Dialer
	if dialer == nil {
		dialer = &console.Dialer{Logger: logger, TimeNow: s.TimeNow}
	}
	var target script.Target = s.Shell
	if target == nil {
		target = &shell.Executor{Launcher: launcher, Logger: logger}
	}

	return &run{
		cfg:           cfg,
		cleanupRunner: s.newRunner(logger, true),
		dialer:        dialer,
		grace:         durationOr(cfg.Grace, DefaultGrace),
		launcher:      launcher,
		logger:        logger,
		relayGrace:    durationOr(cfg.RelayGrace, DefaultRelayGrace),
		relayWarmup:   durationOr(cfg.RelayWarmup, DefaultRelayWarmup),
		readyTimeout:  durationOr(cfg.Console.ReadyTimeout, DefaultReadyTimeout),
		runner:        s.newRunner(logger, false),
		scripts:       cfg.Scripts.Parse(),
		seq:           s,
		shell:         target,
		warmup:        durationOr(cfg.Warmup, DefaultWarmup),
	}
}

func (s *Sequencer) newRunner(logger *slog.Logger, keepGoing bool) *script.Runner {
	return &script.Runner{
		Logger:    logger,
		Pace:      s.Config.Pace,
		KeepGoing: keepGoing,
		Sleep:     s.Sleep,
		TimeNow:   s.TimeNow,
	}
}

func (s *Sequencer) runID() string {
	if s.RunID != "" {
		return s.RunID
	}
	return uuid.NewString()
}

// configure opens the console, runs the configuration script through
// it, and then closes the console before returning.
func (r *run) configure(ctx context.Context, target *process.Process) (err error) {
	scope := r.newStack()
	defer func() {
		err = errors.Join(err, scope.Run(context.WithoutCancel(ctx)))
	}()

	var sink console.Sink
	switch r.cfg.mode() {
	case ModeDirect:
		sink = console.NewDirect(target)

	case ModeDial:
		if err := r.phase(ctx, PhaseConsoleStart, func(ctx context.Context) error {
			if err := r.waitListening(ctx); err != nil {
				return err
			}
			conn, err := r.dialer.Dial(ctx, r.cfg.Console.Address)
			if err != nil {
				return err
			}
			sink = conn
			scope.Push(PhaseConsoleStop, func(ctx context.Context) error {
				return r.phase(ctx, PhaseConsoleStop, func(context.Context) error {
					return conn.Close()
				})
			})
			return nil
		}); err != nil {
			return err
		}

	default:
		if err := r.phase(ctx, PhaseConsoleStart, func(ctx context.Context) error {
			if err := r.waitListening(ctx); err != nil {
				return err
			}
			relay, err := r.launcher.Start(ctx, r.cfg.Console.Relay.Spec())
			if err != nil {
				return err
			}
			sink = console.NewRelayed(relay, r.cfg.Console.Address, r.runner)
			scope.Push(PhaseConsoleStop, func(ctx context.Context) error {
				return r.phase(ctx, PhaseConsoleStop, func(ctx context.Context) error {
					return r.stopRelay(ctx, relay)
				})
			})
			return r.sleep(ctx, r.relayWarmup)
		}); err != nil {
			return err
		}
	}

	return r.phase(ctx, PhaseConsole, func(ctx context.Context) error {
		return r.runner.Run(ctx, r.scripts.Configure, console.Target(sink), PhaseConsole)
	})
}

// stopRelay shuts the relay down. Relays like telnet may exit with a
// non-zero status once their input is closed, so we only warn about it.
func (r *run) stopRelay(ctx context.Context, relay *process.Process) error {
	err := relay.Shutdown(r.relayGrace)
	if code, ok := process.ExitCode(err); ok {
		r.logger.WarnContext(
			ctx,
			"relayExitIgnored",
			slog.Int("exitCode", code),
			slog.Any("err", err),
			slog.Time("t", r.timeNow()),
		)
		return nil
	}
	return err
}

// waitListening waits for the console listener when configured to do so.
func (r *run) waitListening(ctx context.Context) error {
	if !r.cfg.Console.WaitListener {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.readyTimeout)
	defer cancel()
	return r.dialer.WaitListening(ctx, r.cfg.Console.Address)
}

// phase runs fn and emits the related events.
func (r *run) phase(ctx context.Context, label string, fn func(ctx context.Context) error) error {
	t0 := r.timeNow()
	r.logger.InfoContext(
		ctx,
		"phaseStart",
		slog.String("phase", label),
		slog.Time("t", t0),
	)

	err := fn(ctx)

	r.logger.InfoContext(
		ctx,
		"phaseDone",
		slog.String("phase", label),
		slog.Any("err", err),
		slog.String("errClass", errclass.New(err)),
		slog.Time("t0", t0),
		slog.Time("t", r.timeNow()),
	)
	if err != nil {
		return &PhaseError{Phase: label, Err: err}
	}
	return nil
}

func (r *run) newStack() *teardown.Stack {
	return &teardown.Stack{Logger: r.logger, TimeNow: r.seq.TimeNow}
}

func (r *run) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	if r.seq.Sleep != nil {
		return r.seq.Sleep(ctx, d)
	}
	return script.Sleep(ctx, d)
}

func (r *run) timeNow() time.Time {
	if r.seq.TimeNow != nil {
		return r.seq.TimeNow()
	}
	return time.Now()
}

// discardHandler is a [slog.Handler] dropping every record.
type discardHandler struct{}

var _ slog.Handler = discardHandler{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (h discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return h }
func (h discardHandler) WithGroup(string) slog.Handler           { return h }
