// SPDX-License-Identifier: GPL-3.0-or-later

/*
Package scenario describes and runs reproduction scenarios.

A [*Config] names the target process, how to reach its console, and
four scripts. [*Sequencer.Run] executes them in a fixed phase order:

 1. SETUP runs the setup script against the local shell.
 2. DYNAMIPS.START starts the target and waits for it to warm up.
 3. TELNET.START starts the relay or dials the console.
 4. TELNET sends the configuration script to the console.
 5. TELNET.STOP releases the relay or the connection.
 6. TEST runs the workload script against the local shell.
 7. DYNAMIPS.STOP terminates, and if needed kills, the target.
 8. CLEANUP runs the cleanup script against the local shell.

The release phases and CLEANUP run on every exit path. A failure in
the workload is reported once the target has been stopped and the
cleanup has run.

[Default] returns the embedded scenario reproducing dynamips issue #105,
printed by [DefaultYAML] as a starting point for new scenarios.
*/
package scenario
