// SPDX-License-Identifier: GPL-3.0-or-later

// Package shell executes command lines as local processes.
//
// Each line is split on whitespace into a program name and its
// arguments. There is no quoting, globbing or variable expansion:
// a line like `sudo ip netns exec left ping 10.0.0.2 -c 10` runs
// `sudo` with the remaining words as arguments.
package shell

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/rbmk-project/reproharness/process"
	"github.com/rbmk-project/reproharness/script"
)

// CommandFailure is returned when a command exits with a non-zero
// status or is killed by a signal.
type CommandFailure struct {
	// Command is the command line.
	Command string

	// ExitCode is the exit status, or -1 if the command was
	// killed by a signal.
	ExitCode int

	// Err is the underlying error.
	Err error
}

// Error implements error.
func (e *CommandFailure) Error() string {
	return "command failed with exit code " + strconv.Itoa(e.ExitCode)
}

// Unwrap returns the underlying error.
func (e *CommandFailure) Unwrap() error {
	return e.Err
}

// Executor runs each command line to completion.
//
// The zero value is ready to use.
type Executor struct {
	// Dir is the optional working directory for the commands.
	Dir string

	// Env contains optional KEY=VALUE entries appended to the
	// inherited environment.
	Env []string

	// IgnoreFailure makes a non-zero exit status a warning rather
	// than an error. Launch failures are always errors.
	IgnoreFailure bool

	// Launcher is the optional [*process.Launcher] for spawning the
	// commands. If this field is nil, we use [process.DefaultLauncher].
	Launcher *process.Launcher

	// Logger is the optional structured logger. If this field is
	// nil, we will not be emitting structured logs.
	Logger *slog.Logger
}

var _ script.Target = &Executor{}

// Dispatch implements [script.Target]. It runs line and waits for
// it to terminate. Empty lines are ignored.
func (ex *Executor) Dispatch(ctx context.Context, line string) error {
	argv := strings.Fields(line)
	if len(argv) <= 0 {
		return nil
	}
	spec := process.Spec{Path: argv[0], Args: argv[1:], Dir: ex.Dir, Env: ex.Env}

	// The process input is a pipe that we close right away, so the
	// command reads EOF rather than the operator's keystrokes.
	err := ex.launcher().Do(ctx, spec, func(p *process.Process) error {
		return nil
	})

	// A command stopped because the context is done does not
	// report its signal exit, so we report the context error.
	if err == nil {
		if cerr := ctx.Err(); cerr != nil {
			return fmt.Errorf("command interrupted: %w", cerr)
		}
		return nil
	}

	var spawnErr *process.SpawnError
	if errors.As(err, &spawnErr) {
		return err
	}

	code, ok := process.ExitCode(err)
	if !ok {
		return err
	}
	failure := &CommandFailure{Command: line, ExitCode: code, Err: err}
	if !ex.IgnoreFailure {
		return failure
	}
	if ex.Logger != nil {
		ex.Logger.WarnContext(
			ctx,
			"commandFailureIgnored",
			slog.String("command", line),
			slog.Int("exitCode", code),
			slog.Any("err", err),
		)
	}
	return nil
}

func (ex *Executor) launcher() *process.Launcher {
	if ex.Launcher != nil {
		return ex.Launcher
	}
	return process.DefaultLauncher
}
