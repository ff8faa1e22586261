// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package sshsess

import (
	"context"

	"code.hybscloud.com/kont"
)

// Call is the effect operation for one engine exchange.
// Perform(Call[T]{Try: f}) resumes with the value f produced once it
// stopped reporting would-block.
//
// Try must be a try-once step: it returns iox.ErrWouldBlock when the
// engine stalled, and is invoked again, unchanged, after the readiness
// the session recorded has been observed.
type Call[T any] struct {
	kont.Phantom[T]
	Try func() (T, error)
}

// DispatchCall runs Try once on s. Non-blocking: returns
// iox.ErrWouldBlock with s.Pending() naming what to wait for.
// The caller must hold the session.
func (c Call[T]) DispatchCall(s *Session) (kont.Resumed, error) {
	v, err := poll(s, c.Try)
	if err != nil {
		return nil, err
	}
	return v, nil
}

// DispatchWait drives Try to completion on s, waiting on transport
// readiness between attempts.
func (c Call[T]) DispatchWait(ctx context.Context, s *Session) (kont.Resumed, error) {
	v, err := do(ctx, s, c.Try)
	if err != nil {
		return nil, err
	}
	return v, nil
}

// callDispatcher is the structural interface of Call, independent of T.
type callDispatcher interface {
	DispatchCall(s *Session) (kont.Resumed, error)
	DispatchWait(ctx context.Context, s *Session) (kont.Resumed, error)
}

// Perform lifts a try-once function into a Cont-world effect.
func Perform[T any](try func() (T, error)) kont.Eff[T] {
	return kont.Perform(Call[T]{Try: try})
}

// ExprPerform lifts a try-once function into an Expr-world effect.
func ExprPerform[T any](try func() (T, error)) kont.Expr[T] {
	return kont.ExprPerform(Call[T]{Try: try})
}

// unit adapts a try-once function with no result.
func unit(try func() error) func() (struct{}, error) {
	return func() (struct{}, error) { return struct{}{}, try() }
}

// guarded prefixes try with a liveness check of the owning entity.
func guarded[T any](check func() error, try func() (T, error)) func() (T, error) {
	return func() (T, error) {
		if err := check(); err != nil {
			var zero T
			return zero, err
		}
		return try()
	}
}

// ReadOp is the effect form of Read on the primary stream. At end of
// stream it resumes with 0; EOF tells the cases apart.
func (c *Channel) ReadOp(p []byte) Call[int] {
	return Call[int]{Try: guarded(c.check, c.Stream(StreamStdout).readTry(p))}
}

// WriteOp is the effect form of Write on the primary stream.
func (c *Channel) WriteOp(p []byte) Call[int] {
	return Call[int]{Try: guarded(c.check, c.Stream(StreamStdout).writeTry(p))}
}

// ExecOp is the effect form of Exec.
func (c *Channel) ExecOp(command string) Call[struct{}] {
	return Call[struct{}]{Try: guarded(c.check, unit(c.startupTry("exec", command)))}
}

// SendEOFOp is the effect form of SendEOF.
func (c *Channel) SendEOFOp() Call[struct{}] {
	return Call[struct{}]{Try: guarded(c.check, unit(func() error { return c.raw.SendEOF() }))}
}

// CloseOp is the effect form of Close.
func (c *Channel) CloseOp() Call[struct{}] {
	return Call[struct{}]{Try: guarded(c.check, unit(func() error { return c.raw.Close() }))}
}

// ReadOp is the effect form of Read. At end of file it resumes with 0.
func (fl *File) ReadOp(p []byte) Call[int] {
	return Call[int]{Try: sftpTry(fl.h.sftp, guarded(fl.h.check, fl.readTry(p)))}
}

// WriteOp is the effect form of Write.
func (fl *File) WriteOp(p []byte) Call[int] {
	return Call[int]{Try: sftpTry(fl.h.sftp, guarded(fl.h.check, fl.writeTry(p)))}
}

// ReaddirOp is the effect form of Readdir. At the end of the directory
// it resumes with an entry whose Name is empty.
func (d *Dir) ReaddirOp() Call[DirEntry] {
	return Call[DirEntry]{Try: sftpTry(d.handle.sftp, guarded(d.handle.check, d.readdirTry()))}
}
