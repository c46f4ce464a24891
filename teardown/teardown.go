// SPDX-License-Identifier: GPL-3.0-or-later

// Package teardown registers release steps and runs them
// in reverse order in a single operation.
//
// Register each step right after acquiring the resource it releases,
// and defer [*Stack.Run], so that the release happens on every exit
// path, including errors and panics.
package teardown

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/rbmk-project/common/errclass"
)

// Stack allows registering release steps.
//
// The zero value is ready to use.
type Stack struct {
	// Logger is the optional structured logger. If this field is
	// nil, we will not be emitting structured logs.
	Logger *slog.Logger

	// TimeNow is an optional function that returns the current time.
	// If this field is nil, the [time.Now] function will be used.
	TimeNow func() time.Time

	// steps contains the steps to run.
	steps []step

	// mu provides mutual exclusion.
	mu sync.Mutex
}

// step is a named release function.
type step struct {
	name string
	fn   func(ctx context.Context) error
}

// Push registers a release step.
func (s *Stack) Push(name string, fn func(ctx context.Context) error) {
	s.mu.Lock()
	s.steps = append(s.steps, step{name: name, fn: fn})
	s.mu.Unlock()
}

// PushCloser registers a release step closing c.
func (s *Stack) PushCloser(name string, c io.Closer) {
	s.Push(name, func(context.Context) error {
		return c.Close()
	})
}

// Len returns the number of pending steps.
func (s *Stack) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.steps)
}

// Run runs all the pending steps iterating in backward order, so
// that the resource acquired last is released first. Every step
// runs exactly once, even when a previous step failed or panicked.
// The returned error is the join of the errors returned by the failed
// steps. If a step panicked, Run panics with the first panic value
// once all the steps have run.
func (s *Stack) Run(ctx context.Context) error {
	// Lock and copy the steps to run.
	s.mu.Lock()
	steps := s.steps
	s.steps = nil
	s.mu.Unlock()

	// Run all the steps.
	var (
		errv     []error
		panicked bool
		panicVal any
	)
	for _, st := range slices.Backward(steps) {
		pv, ok, err := s.runRecover(ctx, st)
		if ok && !panicked {
			panicked, panicVal = true, pv
		}
		if err != nil {
			errv = append(errv, err)
		}
	}
	if panicked {
		panic(panicVal)
	}
	return errors.Join(errv...)
}

// runRecover is like run but recovers a panicking step.
func (s *Stack) runRecover(ctx context.Context, st step) (pv any, panicked bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			pv, panicked, err = r, true, fmt.Errorf("teardown: step %s panicked: %v", st.name, r)
		}
	}()
	return nil, false, s.run(ctx, st)
}

// run runs a single step and emits the related events.
func (s *Stack) run(ctx context.Context, st step) error {
	t0 := s.timeNow()
	if s.Logger != nil {
		s.Logger.InfoContext(
			ctx,
			"teardownStart",
			slog.String("step", st.name),
			slog.Time("t", t0),
		)
	}

	err := st.fn(ctx)

	if s.Logger != nil {
		s.Logger.InfoContext(
			ctx,
			"teardownDone",
			slog.String("step", st.name),
			slog.Any("err", err),
			slog.String("errClass", errclass.New(err)),
			slog.Time("t0", t0),
			slog.Time("t", s.timeNow()),
		)
	}
	return err
}

func (s *Stack) timeNow() time.Time {
	if s.TimeNow != nil {
		return s.TimeNow()
	}
	return time.Now()
}
