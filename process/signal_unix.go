//go:build unix

// SPDX-License-Identifier: GPL-3.0-or-later

package process

import (
	"os"

	"golang.org/x/sys/unix"
)

var (
	terminateSignal os.Signal = unix.SIGTERM
	killSignal      os.Signal = unix.SIGKILL
)
