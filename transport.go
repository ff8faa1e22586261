// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package sshsess

import (
	"context"
	"net"
	"syscall"
	"time"

	"github.com/pkg/errors"
)

// Transport is the readiness source of one connection.
type Transport interface {
	// Wait blocks until dir is ready or ctx is done.
	// dir holds exactly one direction.
	Wait(ctx context.Context, dir Direction) error
	// Clear drops readiness observed for dir in the current round.
	Clear(dir Direction) error
}

// deadliner is the subset of net.Conn used to interrupt a wait.
type deadliner interface {
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// netTransport waits on the Go runtime poller through syscall.RawConn.
// The poller consumes an edge when a wait returns, so Clear is a no-op.
type netTransport struct {
	raw syscall.RawConn
	dl  deadliner
}

// aLongTimeAgo is a non-zero time far in the past, used to interrupt
// a pending poller wait.
var aLongTimeAgo = time.Unix(1, 0)

// NewNetTransport registers conn with the runtime poller.
// conn must be in non-blocking mode, as every net.Conn from package net is.
func NewNetTransport(conn syscall.Conn) (Transport, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return nil, wrapIO(err)
	}
	t := &netTransport{raw: raw}
	if dl, ok := conn.(deadliner); ok {
		t.dl = dl
	}
	return t, nil
}

func (t *netTransport) Wait(ctx context.Context, dir Direction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	// Decline the first callback so the poller parks until the next edge.
	waited := false
	fn := func(uintptr) bool {
		if waited {
			return true
		}
		waited = true
		return false
	}

	var set func(time.Time) error
	if t.dl != nil {
		set = t.dl.SetReadDeadline
		if dir == DirWrite {
			set = t.dl.SetWriteDeadline
		}
	}
	var (
		stop  func() bool
		fired chan struct{}
	)
	if set != nil && ctx.Done() != nil {
		fired = make(chan struct{})
		stop = context.AfterFunc(ctx, func() {
			defer close(fired)
			_ = set(aLongTimeAgo)
		})
	}

	var err error
	switch dir {
	case DirRead:
		err = t.raw.Read(fn)
	case DirWrite:
		err = t.raw.Write(fn)
	default:
		err = errors.Errorf("sshsess: wait on %v", dir)
	}

	if stop != nil && !stop() {
		// The interrupt started. Let it finish setting the past
		// deadline before restoring, or it could land after the reset.
		<-fired
		_ = set(time.Time{})
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
	}
	return err
}

func (t *netTransport) Clear(Direction) error { return nil }

// registerTransport picks the readiness source for conn.
func registerTransport(e Engine, conn net.Conn, custom func(net.Conn) (Transport, error)) (Transport, error) {
	if r, ok := e.(Registrar); ok {
		return r.Register(conn)
	}
	if custom != nil {
		return custom(conn)
	}
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return nil, errors.Errorf("sshsess: %T does not expose a raw connection", conn)
	}
	return NewNetTransport(sc)
}
