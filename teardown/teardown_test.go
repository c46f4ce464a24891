// SPDX-License-Identifier: GPL-3.0-or-later

package teardown_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rbmk-project/reproharness/teardown"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockCloser implements io.Closer for testing
type mockCloser struct {
	closed atomic.Int64
	err    error
}

// t0 is the time when we started running
var t0 = time.Now()

func (m *mockCloser) Close() error {
	m.closed.Add(int64(time.Since(t0)))
	return m.err
}

func TestStack(t *testing.T) {
	t.Run("successful run", func(t *testing.T) {
		stack := &teardown.Stack{}
		m1 := &mockCloser{}
		m2 := &mockCloser{}

		stack.PushCloser("first", m1)
		stack.PushCloser("second", m2)
		assert.Equal(t, 2, stack.Len())

		err := stack.Run(context.Background())
		require.NoError(t, err)

		assert.Positive(t, m1.closed.Load(), "first closer was not closed")
		assert.Positive(t, m2.closed.Load(), "second closer was not closed")
		assert.Equal(t, 0, stack.Len())
	})

	t.Run("reverse order", func(t *testing.T) {
		stack := &teardown.Stack{}
		var order []string
		for _, name := range []string{"CLEANUP", "DYNAMIPS.STOP", "TELNET.STOP"} {
			stack.Push(name, func(ctx context.Context) error {
				order = append(order, name)
				return nil
			})
		}

		require.NoError(t, stack.Run(context.Background()))
		assert.Equal(t, []string{"TELNET.STOP", "DYNAMIPS.STOP", "CLEANUP"}, order)
	})

	t.Run("failures do not stop the remaining steps", func(t *testing.T) {
		stack := &teardown.Stack{}
		expectedErr1 := errors.New("step error #1")
		expectedErr2 := errors.New("step error #2")
		ran := 0

		stack.Push("one", func(ctx context.Context) error { ran++; return expectedErr1 })
		stack.Push("two", func(ctx context.Context) error { ran++; return nil })
		stack.Push("three", func(ctx context.Context) error { ran++; return expectedErr2 })

		err := stack.Run(context.Background())
		require.Error(t, err)
		assert.Equal(t, 3, ran)
		assert.ErrorIs(t, err, expectedErr1)
		assert.ErrorIs(t, err, expectedErr2)
		assert.Equal(t, errors.Join(expectedErr2, expectedErr1).Error(), err.Error())
	})

	t.Run("steps run only once", func(t *testing.T) {
		stack := &teardown.Stack{}
		ran := 0
		stack.Push("once", func(ctx context.Context) error { ran++; return nil })

		require.NoError(t, stack.Run(context.Background()))
		require.NoError(t, stack.Run(context.Background()))
		assert.Equal(t, 1, ran)
	})

	t.Run("runs when the protected body panics", func(t *testing.T) {
		ran := false
		assert.Panics(t, func() {
			stack := &teardown.Stack{}
			defer stack.Run(context.Background())
			stack.Push("cleanup", func(ctx context.Context) error { ran = true; return nil })
			panic("mocked panic")
		})
		assert.True(t, ran)
	})

	t.Run("a panicking step does not skip the others", func(t *testing.T) {
		stack := &teardown.Stack{}
		var order []string
		stack.Push("CLEANUP", func(ctx context.Context) error {
			order = append(order, "CLEANUP")
			return nil
		})
		stack.Push("DYNAMIPS.STOP", func(ctx context.Context) error {
			order = append(order, "DYNAMIPS.STOP")
			panic("mocked panic")
		})
		stack.Push("TELNET.STOP", func(ctx context.Context) error {
			order = append(order, "TELNET.STOP")
			return nil
		})

		assert.PanicsWithValue(t, "mocked panic", func() {
			_ = stack.Run(context.Background())
		})
		assert.Equal(t, []string{"TELNET.STOP", "DYNAMIPS.STOP", "CLEANUP"}, order)
		assert.Equal(t, 0, stack.Len())
	})

	t.Run("concurrent usage", func(t *testing.T) {
		stack := &teardown.Stack{}
		done := make(chan struct{})

		// Concurrently add closers
		go func() {
			for i := 0; i < 100; i++ {
				stack.PushCloser("background", &mockCloser{})
			}
			close(done)
		}()

		// Add more closers from main goroutine
		for i := 0; i < 100; i++ {
			stack.PushCloser("foreground", &mockCloser{})
		}

		<-done // Wait for goroutine to finish

		assert.Equal(t, 200, stack.Len())
		assert.NoError(t, stack.Run(context.Background()))
	})
}

func TestStack_logging(t *testing.T) {
	var buf bytes.Buffer
	fixedTime := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				return slog.Attr{}
			}
			return a
		},
	}))
	stack := &teardown.Stack{Logger: logger, TimeNow: func() time.Time { return fixedTime }}
	stack.Push("CLEANUP", func(ctx context.Context) error { return nil })

	require.NoError(t, stack.Run(context.Background()))

	logs := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, logs, 2)

	var doneLog map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(logs[1]), &doneLog))
	assert.Equal(t, map[string]interface{}{
		"level":    "INFO",
		"msg":      "teardownDone",
		"step":     "CLEANUP",
		"err":      nil,
		"errClass": "",
		"t0":       fixedTime.Format(time.RFC3339Nano),
		"t":        fixedTime.Format(time.RFC3339Nano),
	}, doneLog)
}
