// SPDX-License-Identifier: GPL-3.0-or-later

/*
Package console sends command lines to interactive consoles.

Every console is a [Sink]. The [*Direct] sink writes into the standard
input of the target process. The [*Relayed] sink writes into the
standard input of a relay process, typically telnet, connected to the
network listener that exposes the console. The [*Conn] sink connects
to that listener itself and does not need a relay process.

Sinks are fire-and-forget: Send returns once the line has been handed
to the operating system. Nothing is read back for interpretation.

# Structured Logging

The [*Conn] sink emits "connectStart", "connectDone", "writeStart",
"writeDone", "closeStart", and "closeDone" events when the [*Dialer]
Logger field is set. [*Dialer.WaitListening] emits a "probeDone" event
for each connection attempt.
*/
package console
