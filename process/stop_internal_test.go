//go:build unix

// SPDX-License-Identifier: GPL-3.0-or-later

package process

import (
	"context"
	"errors"
	"io"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failSignals makes sendSignal fail for the given signals.
func failSignals(t *testing.T, expectedErr error, sigs ...os.Signal) {
	saved := sendSignal
	t.Cleanup(func() { sendSignal = saved })
	sendSignal = func(proc *os.Process, sig os.Signal) error {
		for _, s := range sigs {
			if s == sig {
				return expectedErr
			}
		}
		return saved(proc, sig)
	}
}

func TestProcess_StopSignalFailures(t *testing.T) {
	t.Run("kills and reaps when terminating fails", func(t *testing.T) {
		expectedErr := errors.New("mocked terminate error")
		failSignals(t, expectedErr, terminateSignal)

		l := &Launcher{Output: io.Discard}
		proc, err := l.Start(context.Background(), Spec{Path: "sleep", Args: []string{"30"}})
		require.NoError(t, err)

		err = proc.Stop(time.Second)
		assert.ErrorIs(t, err, expectedErr)
		assert.Equal(t, StateTerminated, proc.State())
	})

	t.Run("closes the input when killing fails", func(t *testing.T) {
		expectedErr := errors.New("mocked kill error")
		failSignals(t, expectedErr, terminateSignal, killSignal)

		l := &Launcher{Output: io.Discard}
		proc, err := l.Start(context.Background(), Spec{Path: "cat"})
		require.NoError(t, err)

		err = proc.Stop(10 * time.Millisecond)
		assert.ErrorIs(t, err, expectedErr)

		// cat exits once it reads EOF from its closed input
		select {
		case <-proc.Done():
		case <-time.After(5 * time.Second):
			t.Fatal("input not closed")
		}
		assert.NoError(t, proc.Close())
	})
}
