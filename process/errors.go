// SPDX-License-Identifier: GPL-3.0-or-later

package process

import (
	"errors"
	"os/exec"
	"strconv"
)

// ErrNotRunning indicates the process is not running anymore.
var ErrNotRunning = errors.New("process: not running")

// SpawnError is the error returned when a process cannot be launched.
//
// The underlying error is typically [exec.ErrNotFound], or a
// [*fs.PathError] wrapping [fs.ErrNotExist] or [fs.ErrPermission].
type SpawnError struct {
	// Path is the executable we tried to run.
	Path string

	// Err is the underlying error.
	Err error
}

// Error implements error.
func (e *SpawnError) Error() string {
	return "process: cannot spawn " + e.Path + ": " + e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *SpawnError) Unwrap() error {
	return e.Err
}

// IOError is the error returned when writing to or closing the
// process input fails, typically because the process exited.
type IOError struct {
	// Op is the failed operation.
	Op string

	// Pid is the process ID.
	Pid int

	// Err is the underlying error.
	Err error
}

// Error implements error.
func (e *IOError) Error() string {
	return "process: " + e.Op + " stdin of pid " + strconv.Itoa(e.Pid) + ": " + e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *IOError) Unwrap() error {
	return e.Err
}

// ExitError is the error returned when a process exits with
// a non-zero status or because of a signal.
type ExitError struct {
	// Code is the exit status, or -1 if a signal killed the process.
	Code int

	// Err is the underlying error.
	Err error
}

// Error implements error.
func (e *ExitError) Error() string {
	if e.Err != nil {
		return "process: " + e.Err.Error()
	}
	return "process: exit status " + strconv.Itoa(e.Code)
}

// Unwrap returns the underlying error.
func (e *ExitError) Unwrap() error {
	return e.Err
}

// ExitCode returns the code of the [*ExitError] in the chain of err
// and whether there was one.
func ExitCode(err error) (int, bool) {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code, true
	}
	return 0, false
}

// wrapExitError converts an [*exec.ExitError] with a non-zero code
// into an [*ExitError]. Other errors are returned unchanged.
func wrapExitError(err error) error {
	var ee *exec.ExitError
	if !errors.As(err, &ee) {
		return err
	}
	code := ee.ExitCode()
	if code == 0 {
		return nil
	}
	return &ExitError{Code: code, Err: err}
}
