// SPDX-License-Identifier: GPL-3.0-or-later

/*
Package script models command scripts and runs them line by line.

A [Script] is the ordered list of non-empty lines contained in a block
of text. The [*Runner] dispatches each line to a [Target], which may be
the local shell or an interactive console, pausing for a fixed pacing
interval between lines.

# Structured Logging

When the [*Runner] Logger field is set, each line emits a
"dispatchStart" and a "dispatchDone" event carrying the label and the
line. The "dispatchDone" event also carries "err" and "errClass".

# Pacing

The pacing interval prevents flooding the console parser of the
receiving process and gives link state changes time to settle. It is
a heuristic: a dispatch returning does not imply the receiver has
finished processing the line.
*/
package script
