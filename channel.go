// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package sshsess

import (
	"context"
	"io"
)

// Channel types.
const (
	ChannelTypeSession     = "session"
	ChannelTypeDirectTCPIP = "direct-tcpip"
)

// Stream identifiers of a session channel.
const (
	StreamStdout = 0
	StreamStderr = 1
)

// Channel is a multiplexed sub-stream of a Session.
//
// Every call goes through the owning Session and is subject to its
// single-call rule. Close performs the protocol close exchange; Free
// releases the engine state and must be called once the Channel is no
// longer needed.
type Channel struct {
	sess  *Session
	raw   EngineChannel
	typ   string
	win   uint32
	pkt   uint32
	freed bool
}

func newChannel(s *Session, raw EngineChannel, o ChannelOptions) *Channel {
	return &Channel{sess: s, raw: raw, typ: o.Type, win: o.WindowSize, pkt: o.PacketSize}
}

// Type returns the channel type.
func (c *Channel) Type() string { return c.typ }

// WindowSize returns the window size requested at open.
func (c *Channel) WindowSize() uint32 { return c.win }

// PacketSize returns the maximum packet size requested at open.
func (c *Channel) PacketSize() uint32 { return c.pkt }

func (c *Channel) check() error {
	if c.freed {
		return ErrClosed
	}
	return nil
}

func (c *Channel) run(ctx context.Context, try func() error) error {
	if err := c.check(); err != nil {
		return err
	}
	return doErr(ctx, c.sess, try)
}

// Setenv asks the server to set an environment variable for the process
// started later on this channel. Servers commonly reject this; the
// rejection is returned, not ignored.
func (c *Channel) Setenv(ctx context.Context, name, value string) error {
	return c.run(ctx, func() error { return c.raw.Setenv(name, value) })
}

func message(s string) []byte {
	if s == "" {
		return nil
	}
	return []byte(s)
}

// ProcessStartup issues a process request: "shell" with no message,
// "exec" with a command, "subsystem" with a subsystem name.
func (c *Channel) ProcessStartup(ctx context.Context, request, msg string) error {
	c.sess.log.Debug("process startup", "request", request, "message", msg)
	return c.run(ctx, c.startupTry(request, msg))
}

func (c *Channel) startupTry(request, msg string) func() error {
	m := message(msg)
	return func() error { return c.raw.ProcessStartup(request, m) }
}

// Shell starts the user's login shell.
func (c *Channel) Shell(ctx context.Context) error {
	return c.ProcessStartup(ctx, "shell", "")
}

// Exec runs command.
func (c *Channel) Exec(ctx context.Context, command string) error {
	return c.ProcessStartup(ctx, "exec", command)
}

// Subsystem starts the named subsystem.
func (c *Channel) Subsystem(ctx context.Context, name string) error {
	return c.ProcessStartup(ctx, "subsystem", name)
}

// Stream returns a view of the numbered data stream.
func (c *Channel) Stream(id int) *Stream { return &Stream{ch: c, id: id} }

// Stderr returns the extended data stream.
func (c *Channel) Stderr() *Stream { return c.Stream(StreamStderr) }

// Read reads from the primary stream.
func (c *Channel) Read(ctx context.Context, p []byte) (int, error) {
	return c.Stream(StreamStdout).Read(ctx, p)
}

// Write writes to the primary stream.
func (c *Channel) Write(ctx context.Context, p []byte) (int, error) {
	return c.Stream(StreamStdout).Write(ctx, p)
}

// Reader returns an io.Reader over the primary stream bound to ctx.
func (c *Channel) Reader(ctx context.Context) io.Reader {
	return c.Stream(StreamStdout).Reader(ctx)
}

// Writer returns an io.Writer over the primary stream bound to ctx.
func (c *Channel) Writer(ctx context.Context) io.Writer {
	return c.Stream(StreamStdout).Writer(ctx)
}

// SendEOF tells the peer no more data will be written.
func (c *Channel) SendEOF(ctx context.Context) error {
	return c.run(ctx, c.raw.SendEOF)
}

// EOF reports whether the peer has sent EOF. It does not touch the connection.
func (c *Channel) EOF() bool { return !c.freed && c.raw.EOF() }

// ExitStatus returns the exit status of the remote process. It is
// meaningful only after the exit has been observed, typically after
// reading to EOF or after Close.
func (c *Channel) ExitStatus() int {
	if c.freed {
		return 0
	}
	return c.raw.ExitStatus()
}

// ExitSignal returns the signal that ended the remote process, if any.
func (c *Channel) ExitSignal() string {
	if c.freed {
		return ""
	}
	return c.raw.ExitSignal()
}

// Close performs the channel close exchange. The engine state survives
// until Free.
func (c *Channel) Close(ctx context.Context) error {
	return c.run(ctx, c.raw.Close)
}

// Free releases the channel's engine state without waiting. A failure is
// logged and dropped; calling Free again is a no-op.
func (c *Channel) Free() {
	if c.freed {
		return
	}
	c.freed = true
	if err := c.raw.Free(); err != nil {
		c.sess.log.Warn("free channel", "type", c.typ, "err", err)
	}
}

// Stream is one numbered data stream of a Channel.
type Stream struct {
	ch *Channel
	id int
}

// ID returns the stream identifier.
func (st *Stream) ID() int { return st.id }

// Read reads at most len(p) bytes. It returns 0 with io.EOF once the
// stream is drained and the peer sent EOF. One call, one engine exchange:
// short reads are normal.
func (st *Stream) Read(ctx context.Context, p []byte) (int, error) {
	if err := st.ch.check(); err != nil {
		return 0, err
	}
	n, err := do(ctx, st.ch.sess, st.readTry(p))
	if err != nil {
		return n, err
	}
	if n == 0 && len(p) > 0 && st.ch.raw.EOF() {
		return 0, io.EOF
	}
	return n, nil
}

func (st *Stream) readTry(p []byte) func() (int, error) {
	return func() (int, error) { return st.ch.raw.Read(st.id, p) }
}

// Write writes at most len(p) bytes and reports how many the engine took.
func (st *Stream) Write(ctx context.Context, p []byte) (int, error) {
	if err := st.ch.check(); err != nil {
		return 0, err
	}
	return do(ctx, st.ch.sess, st.writeTry(p))
}

func (st *Stream) writeTry(p []byte) func() (int, error) {
	return func() (int, error) { return st.ch.raw.Write(st.id, p) }
}

// Flush discards unread data on the stream.
func (st *Stream) Flush(ctx context.Context) error {
	return st.ch.run(ctx, func() error { return st.ch.raw.Flush(st.id) })
}

// Reader returns an io.Reader bound to ctx.
func (st *Stream) Reader(ctx context.Context) io.Reader {
	return readerFunc(func(p []byte) (int, error) { return st.Read(ctx, p) })
}

// Writer returns an io.Writer bound to ctx. Unlike Stream.Write, it
// loops until all of p is written, as io.Writer requires.
func (st *Stream) Writer(ctx context.Context) io.Writer {
	return writerFunc(func(p []byte) (int, error) { return writeFull(p, func(b []byte) (int, error) { return st.Write(ctx, b) }) })
}

type readerFunc func(p []byte) (int, error)

func (f readerFunc) Read(p []byte) (int, error) { return f(p) }

type writerFunc func(p []byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }

func writeFull(p []byte, write func([]byte) (int, error)) (int, error) {
	total := 0
	for total < len(p) {
		n, err := write(p[total:])
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, io.ErrShortWrite
		}
	}
	return total, nil
}
