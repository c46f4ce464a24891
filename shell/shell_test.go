//go:build unix

// SPDX-License-Identifier: GPL-3.0-or-later

package shell_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/rbmk-project/reproharness/process"
	"github.com/rbmk-project/reproharness/script"
	"github.com/rbmk-project/reproharness/shell"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutor_Dispatch(t *testing.T) {
	t.Run("runs the command to completion", func(t *testing.T) {
		var out bytes.Buffer
		ex := &shell.Executor{Launcher: &process.Launcher{Output: &out}}

		err := ex.Dispatch(context.Background(), "echo  hello   world")
		require.NoError(t, err)
		assert.Equal(t, "hello world\n", out.String())
	})

	t.Run("the command reads EOF from its input", func(t *testing.T) {
		var out bytes.Buffer
		ex := &shell.Executor{Launcher: &process.Launcher{Output: &out}}

		require.NoError(t, ex.Dispatch(context.Background(), "cat"))
		assert.Empty(t, out.String())
	})

	t.Run("working directory", func(t *testing.T) {
		var out bytes.Buffer
		dir := t.TempDir()
		ex := &shell.Executor{Dir: dir, Launcher: &process.Launcher{Output: &out}}

		require.NoError(t, ex.Dispatch(context.Background(), "pwd"))
		assert.Equal(t, dir+"\n", out.String())
	})

	t.Run("empty line", func(t *testing.T) {
		ex := &shell.Executor{}
		assert.NoError(t, ex.Dispatch(context.Background(), "   "))
	})

	t.Run("non-zero exit status", func(t *testing.T) {
		var out bytes.Buffer
		ex := &shell.Executor{Launcher: &process.Launcher{Output: &out}}

		err := ex.Dispatch(context.Background(), "false")
		var failure *shell.CommandFailure
		require.ErrorAs(t, err, &failure)
		assert.Equal(t, "false", failure.Command)
		assert.Equal(t, 1, failure.ExitCode)
		assert.Equal(t, "command failed with exit code 1", failure.Error())

		var exitErr *exec.ExitError
		assert.ErrorAs(t, err, &exitErr)
	})

	t.Run("ignored failure", func(t *testing.T) {
		var out, logs bytes.Buffer
		ex := &shell.Executor{
			IgnoreFailure: true,
			Launcher:      &process.Launcher{Output: &out},
			Logger:        slog.New(slog.NewJSONHandler(&logs, nil)),
		}

		require.NoError(t, ex.Dispatch(context.Background(), "false"))

		var entry map[string]any
		require.NoError(t, json.Unmarshal(bytes.TrimSpace(logs.Bytes()), &entry))
		assert.Equal(t, "WARN", entry["level"])
		assert.Equal(t, "commandFailureIgnored", entry["msg"])
		assert.Equal(t, float64(1), entry["exitCode"])
		assert.Equal(t, "false", entry["command"])
	})

	t.Run("cancellation interrupts the command", func(t *testing.T) {
		ex := &shell.Executor{IgnoreFailure: true, Launcher: &process.Launcher{Output: io.Discard}}
		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()

		t0 := time.Now()
		err := ex.Dispatch(ctx, "sleep 5")
		assert.Less(t, time.Since(t0), 4*time.Second)
		require.Error(t, err)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Equal(t, "command interrupted: context deadline exceeded", err.Error())
	})

	t.Run("launch failures are never ignored", func(t *testing.T) {
		ex := &shell.Executor{IgnoreFailure: true}

		err := ex.Dispatch(context.Background(), "reproharness-missing-command --flag")
		var spawnErr *process.SpawnError
		require.ErrorAs(t, err, &spawnErr)
		assert.ErrorIs(t, err, exec.ErrNotFound)
	})
}

func TestExecutor_withRunner(t *testing.T) {
	var out bytes.Buffer
	ex := &shell.Executor{Launcher: &process.Launcher{Output: &out}}
	r := &script.Runner{Pace: -1}

	text := `
		echo one
		false
		echo three
	`
	err := r.Run(context.Background(), script.Parse(text), ex, "SETUP")

	var lerr *script.LineError
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, 2, lerr.Index)
	assert.Equal(t, "false", lerr.Line)
	assert.Equal(t, `line 2 "false": command failed with exit code 1`, err.Error())
	assert.Equal(t, []string{"one"}, strings.Fields(out.String()))
}

func TestExecutor_withRunnerCancellation(t *testing.T) {
	ex := &shell.Executor{Launcher: &process.Launcher{Output: io.Discard}}
	r := &script.Runner{Pace: -1}
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err := r.Run(ctx, script.Parse("sleep 5\necho unreachable"), ex, "TEST")
	var lerr *script.LineError
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, 1, lerr.Index)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
