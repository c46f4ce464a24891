// SPDX-License-Identifier: GPL-3.0-or-later

package console

import (
	"context"
	"io"

	"github.com/rbmk-project/reproharness/script"
)

// Terminator terminates each line sent to a console.
const Terminator = "\n"

// Sink is an interactive, line-oriented console.
type Sink interface {
	// Send sends line followed by [Terminator].
	Send(ctx context.Context, line string) error
}

// Target adapts a [Sink] to a [script.Target].
func Target(sink Sink) script.Target {
	return script.TargetFunc(sink.Send)
}

// writeLine writes line and the terminator using a single write.
func writeLine(ctx context.Context, w io.Writer, line string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := w.Write([]byte(line + Terminator))
	return err
}

// Direct is a console reachable through the standard input of
// the target process.
type Direct struct {
	w io.Writer
}

var _ Sink = &Direct{}

// NewDirect returns a [*Direct] writing to w, which is usually
// the target [*process.Process].
func NewDirect(w io.Writer) *Direct {
	return &Direct{w: w}
}

// Send implements [Sink].
func (d *Direct) Send(ctx context.Context, line string) error {
	return writeLine(ctx, d.w, line)
}

// Relayed is a console reachable only through a network listener,
// which we reach by writing into the standard input of a relay
// process, such as telnet, connected to that listener.
type Relayed struct {
	address string
	relay   io.Writer
	runner  *script.Runner
}

var _ Sink = &Relayed{}

// NewRelayed returns a [*Relayed] writing to relay, which is
// connected to address. The runner is used by [*Relayed.Run]
// and may be nil, in which case we use [script.DefaultRunner].
func NewRelayed(relay io.Writer, address string, runner *script.Runner) *Relayed {
	if runner == nil {
		runner = script.DefaultRunner
	}
	return &Relayed{address: address, relay: relay, runner: runner}
}

// Address returns the address of the listener behind the relay.
func (r *Relayed) Address() string {
	return r.address
}

// Send implements [Sink].
func (r *Relayed) Send(ctx context.Context, line string) error {
	return writeLine(ctx, r.relay, line)
}

// Run sends each line of s through the relay using the runner.
func (r *Relayed) Run(ctx context.Context, s script.Script, label string) error {
	return r.runner.Run(ctx, s, Target(r), label)
}
