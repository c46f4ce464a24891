// SPDX-License-Identifier: GPL-3.0-or-later

/*
Package process manages the lifecycle of spawned processes.

A [*Process] owns exactly one OS process. Its standard input is always
a pipe owned by the harness, so that an interactive parent terminal
never leaks keystrokes into the child, and its standard error is merged
into its standard output.

Use [*Launcher.Do] for scoped acquisition: the process is started, the
body runs, and the process input is closed and the process reaped on
every exit path, including a panicking body. Reaping waits for a natural
exit, so when the child does not exit once its input is closed, call
[*Process.Stop] (or [*Process.Terminate] and [*Process.Kill]) before
leaving the scope.

When the context passed to [*Launcher.Start] is done, the process is
asked to terminate, which counts as a stop request for [*Process.Close].

# Structured Logging

When the [*Launcher] Logger field is set, we emit the "spawnStart"
and "spawnDone" events around spawning, a "signal" event for each
stop request, a "waitDone" event once the process is reaped, and the
"closeStart" and "closeDone" events around [*Process.Close].
*/
package process
