//go:build windows

// SPDX-License-Identifier: GPL-3.0-or-later

package process

import "os"

// Windows cannot deliver a polite stop request, so both
// requests end up killing the process.
var (
	terminateSignal = os.Kill
	killSignal      = os.Kill
)
