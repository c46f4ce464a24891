//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: https://github.com/rbmk-project/x/blob/main/netcore/conn.go
//
// Console over a TCP connection.
//

package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/rbmk-project/common/errclass"
)

// defaultProbeInterval is the default [Dialer] ProbeInterval.
const defaultProbeInterval = 100 * time.Millisecond

// Dialer connects to console listeners.
//
// The zero value is ready to use.
type Dialer struct {
	// DialContextFunc is the optional dialer for creating new
	// TCP connections. If this field is nil, the default dialer
	// from the [net] package will be used.
	DialContextFunc func(ctx context.Context, network, address string) (net.Conn, error)

	// Logger is the optional structured logger. If this field is
	// nil, we will not be emitting structured logs.
	Logger *slog.Logger

	// Output receives whatever the console writes back. If this
	// field is nil, we discard it. We always drain the connection
	// so that the console never blocks writing its replies.
	Output io.Writer

	// ProbeInterval is the delay between the connection attempts
	// of [*Dialer.WaitListening]. If zero, we use 100 milliseconds.
	ProbeInterval time.Duration

	// TimeNow is an optional function that returns the current time.
	// If this field is nil, the [time.Now] function will be used.
	TimeNow func() time.Time
}

// Dial connects to the console listening at address.
func (d *Dialer) Dial(ctx context.Context, address string) (*Conn, error) {
	t0 := d.timeNow()
	if d.Logger != nil {
		d.Logger.InfoContext(
			ctx,
			"connectStart",
			slog.String("remoteAddr", address),
			slog.Time("t", t0),
		)
	}

	conn, err := d.dialNet(ctx, "tcp", address)

	if d.Logger != nil {
		d.Logger.InfoContext(
			ctx,
			"connectDone",
			slog.Any("err", err),
			slog.String("errClass", errclass.New(err)),
			slog.String("localAddr", connLocalAddr(conn).String()),
			slog.String("remoteAddr", address),
			slog.Time("t0", t0),
			slog.Time("t", d.timeNow()),
		)
	}

	if err != nil {
		return nil, err
	}
	return d.newConn(ctx, conn), nil
}

// WaitListening blocks until a connection to address succeeds or the
// context is done. The probing connection is closed right away.
func (d *Dialer) WaitListening(ctx context.Context, address string) error {
	for {
		t0 := d.timeNow()
		conn, err := d.dialNet(ctx, "tcp", address)
		if conn != nil {
			conn.Close()
		}

		if d.Logger != nil {
			d.Logger.DebugContext(
				ctx,
				"probeDone",
				slog.Any("err", err),
				slog.String("errClass", errclass.New(err)),
				slog.String("remoteAddr", address),
				slog.Time("t0", t0),
				slog.Time("t", d.timeNow()),
			)
		}

		if err == nil {
			return nil
		}

		timer := time.NewTimer(d.probeInterval())
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("console: %s is not listening: %w", address, errors.Join(ctx.Err(), err))
		case <-timer.C:
		}
	}
}

func (d *Dialer) dialNet(ctx context.Context, network, address string) (net.Conn, error) {
	// if there's an user provided dialer func, use it
	if d.DialContextFunc != nil {
		return d.DialContextFunc(ctx, network, address)
	}

	// otherwise use the net package
	child := &net.Dialer{}
	return child.DialContext(ctx, network, address)
}

func (d *Dialer) newConn(ctx context.Context, conn net.Conn) *Conn {
	output := d.Output
	if output == nil {
		output = io.Discard
	}
	laddr := connLocalAddr(conn)
	c := &Conn{
		conn:     conn,
		ctx:      ctx,
		dialer:   d,
		drained:  make(chan struct{}),
		laddr:    laddr.String(),
		protocol: laddr.Network(),
		raddr:    connRemoteAddr(conn).String(),
	}
	go func() {
		defer close(c.drained)
		_, _ = io.Copy(output, conn)
	}()
	return c
}

func (d *Dialer) probeInterval() time.Duration {
	if d.ProbeInterval > 0 {
		return d.ProbeInterval
	}
	return defaultProbeInterval
}

func (d *Dialer) timeNow() time.Time {
	if d.TimeNow != nil {
		return d.TimeNow()
	}
	return time.Now()
}

// Conn is a console reachable over a TCP connection.
//
// Construct using [*Dialer.Dial].
type Conn struct {
	closeonce sync.Once
	closeErr  error
	conn      net.Conn
	ctx       context.Context // only used for logging
	dialer    *Dialer         // may contain nil logger!
	drained   chan struct{}
	laddr     string
	protocol  string
	raddr     string
}

var _ Sink = &Conn{}

// Send implements [Sink].
func (c *Conn) Send(ctx context.Context, line string) error {
	data := []byte(line + Terminator)
	t0 := c.dialer.timeNow()
	if c.dialer.Logger != nil {
		c.dialer.Logger.InfoContext(
			ctx,
			"writeStart",
			slog.Int("ioBufferSize", len(data)),
			slog.String("localAddr", c.laddr),
			slog.String("protocol", c.protocol),
			slog.String("remoteAddr", c.raddr),
			slog.Time("t", t0),
		)
	}

	err := ctx.Err()
	count := 0
	if err == nil {
		count, err = c.conn.Write(data)
	}

	if c.dialer.Logger != nil {
		c.dialer.Logger.InfoContext(
			ctx,
			"writeDone",
			slog.Int("ioBytesCount", count),
			slog.Any("err", err),
			slog.String("errClass", errclass.New(err)),
			slog.String("localAddr", c.laddr),
			slog.String("protocol", c.protocol),
			slog.String("remoteAddr", c.raddr),
			slog.Time("t0", t0),
			slog.Time("t", c.dialer.timeNow()),
		)
	}
	return err
}

// Close closes the connection and waits for the drain of the
// console replies to stop. It is safe to call Close multiple times.
func (c *Conn) Close() error {
	c.closeonce.Do(func() {
		t0 := c.dialer.timeNow()
		if c.dialer.Logger != nil {
			c.dialer.Logger.InfoContext(
				c.ctx,
				"closeStart",
				slog.String("localAddr", c.laddr),
				slog.String("protocol", c.protocol),
				slog.String("remoteAddr", c.raddr),
				slog.Time("t", t0),
			)
		}

		c.closeErr = c.conn.Close()
		<-c.drained

		if c.dialer.Logger != nil {
			c.dialer.Logger.InfoContext(
				c.ctx,
				"closeDone",
				slog.Any("err", c.closeErr),
				slog.String("errClass", errclass.New(c.closeErr)),
				slog.String("localAddr", c.laddr),
				slog.String("protocol", c.protocol),
				slog.String("remoteAddr", c.raddr),
				slog.Time("t0", t0),
				slog.Time("t", c.dialer.timeNow()),
			)
		}
	})
	return c.closeErr
}

// connLocalAddr is a safe way to get the local address of a connection.
func connLocalAddr(conn net.Conn) net.Addr {
	if conn != nil && conn.LocalAddr() != nil {
		return conn.LocalAddr()
	}
	return emptyAddr{}
}

// connRemoteAddr is a safe way to get the remote address of a connection.
func connRemoteAddr(conn net.Conn) net.Addr {
	if conn != nil && conn.RemoteAddr() != nil {
		return conn.RemoteAddr()
	}
	return emptyAddr{}
}

// emptyAddr is an empty [net.Addr].
type emptyAddr struct{}

// Network implements [net.Addr].
func (emptyAddr) Network() string { return "" }

// String implements [net.Addr].
func (emptyAddr) String() string { return "" }
