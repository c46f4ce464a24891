//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Line-by-line script execution.
//

package script

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/rbmk-project/common/errclass"
)

// DefaultPace is the default delay between two consecutive lines.
const DefaultPace = 100 * time.Millisecond

// Target accepts one command line at a time.
type Target interface {
	// Dispatch hands the line to the target. It returns once the
	// line has been handed over, not once it has been processed.
	Dispatch(ctx context.Context, line string) error
}

// TargetFunc adapts a function to the [Target] interface.
type TargetFunc func(ctx context.Context, line string) error

var _ Target = TargetFunc(nil)

// Dispatch implements [Target].
func (fx TargetFunc) Dispatch(ctx context.Context, line string) error {
	return fx(ctx, line)
}

// LineError is the error returned when dispatching a line fails.
type LineError struct {
	// Label is the label passed to [*Runner.Run].
	Label string

	// Index is the one-based position of the line in the script.
	Index int

	// Line is the line that failed.
	Line string

	// Err is the underlying error.
	Err error
}

// Error implements error.
func (e *LineError) Error() string {
	return "line " + strconv.Itoa(e.Index) + " " + strconv.Quote(e.Line) + ": " + e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *LineError) Unwrap() error {
	return e.Err
}

// Runner runs a [Script] against a [Target].
//
// The zero value is ready to use.
type Runner struct {
	// Logger is the optional structured logger. If this field is
	// nil, we will not be emitting structured logs.
	Logger *slog.Logger

	// Pace is the delay after each dispatched line. If this field
	// is zero, we use [DefaultPace]. A negative value disables pacing.
	Pace time.Duration

	// KeepGoing makes the runner continue with the next line after
	// a dispatch failure. The failures are joined and returned once
	// all the lines have been dispatched. By default, the first
	// failure aborts the remaining lines.
	KeepGoing bool

	// Sleep is the optional function used to wait for the pacing
	// interval. It must return early with an error when the context
	// is done. If this field is nil, we use a timer.
	Sleep func(ctx context.Context, d time.Duration) error

	// TimeNow is an optional function that returns the current time.
	// If this field is nil, the [time.Now] function will be used.
	TimeNow func() time.Time
}

// DefaultRunner is the default [*Runner] used by this package.
var DefaultRunner = &Runner{}

// Run is like [*Runner.Run] but uses [DefaultRunner].
func Run(ctx context.Context, s Script, target Target, label string) error {
	return DefaultRunner.Run(ctx, s, target, label)
}

// Run dispatches each line of the script to the target, in order,
// labeling the emitted events with label.
//
// The next line is dispatched only after the previous dispatch returned
// and the pacing interval elapsed. Failures are wrapped in [*LineError].
func (r *Runner) Run(ctx context.Context, s Script, target Target, label string) error {
	var errv []error
	for idx, line := range s.All() {
		if err := ctx.Err(); err != nil {
			return errors.Join(append(errv, err)...)
		}

		if err := r.dispatch(ctx, target, label, idx+1, line); err != nil {
			lerr := &LineError{Label: label, Index: idx + 1, Line: line, Err: err}
			if !r.KeepGoing {
				return lerr
			}
			errv = append(errv, lerr)
		}

		if err := r.pace(ctx); err != nil {
			return errors.Join(append(errv, err)...)
		}
	}
	return errors.Join(errv...)
}

// dispatch dispatches a single line and emits the related events.
func (r *Runner) dispatch(ctx context.Context, target Target, label string, index int, line string) error {
	t0 := r.timeNow()
	if r.Logger != nil {
		r.Logger.InfoContext(
			ctx,
			"dispatchStart",
			slog.String("label", label),
			slog.Int("index", index),
			slog.String("line", line),
			slog.Time("t", t0),
		)
	}

	err := target.Dispatch(ctx, line)

	if r.Logger != nil {
		r.Logger.InfoContext(
			ctx,
			"dispatchDone",
			slog.String("label", label),
			slog.Int("index", index),
			slog.String("line", line),
			slog.Any("err", err),
			slog.String("errClass", errclass.New(err)),
			slog.Time("t0", t0),
			slog.Time("t", r.timeNow()),
		)
	}
	return err
}

// pace waits for the pacing interval.
func (r *Runner) pace(ctx context.Context) error {
	d := r.Pace
	switch {
	case d < 0:
		return nil
	case d == 0:
		d = DefaultPace
	}
	if r.Sleep != nil {
		return r.Sleep(ctx, d)
	}
	return Sleep(ctx, d)
}

// timeNow returns the current time.
func (r *Runner) timeNow() time.Time {
	if r.TimeNow != nil {
		return r.TimeNow()
	}
	return time.Now()
}

// Sleep waits for the given duration or until the context is done,
// in which case it returns the context error.
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("sleep interrupted: %w", ctx.Err())
	}
}
