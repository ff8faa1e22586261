// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package sshsess

import (
	"context"

	"code.hybscloud.com/kont"
)

// errorDispatcher is the structural interface of kont error operations
// with error as the error type.
type errorDispatcher interface {
	DispatchError(ctx *kont.ErrorContext[error]) (kont.Resumed, bool)
}

// callHandler implements kont.Handler for Call and kont error effects.
// Calls wait on transport readiness; the first failure or Throw aborts
// the computation with Left.
// Value type: passed to evalFrames on the stack, avoiding heap allocation.
type callHandler[R any] struct {
	ctx    context.Context
	s      *Session
	errCtx *kont.ErrorContext[error]
}

// Dispatch implements kont.Handler. Dispatch order: Call → Error.
func (h callHandler[R]) Dispatch(op kont.Operation) (kont.Resumed, bool) {
	if cop, ok := op.(callDispatcher); ok {
		v, err := cop.DispatchWait(h.ctx, h.s)
		if err != nil {
			return kont.Left[error, R](err), false
		}
		return v, true
	}
	if eop, ok := op.(errorDispatcher); ok {
		v, _ := eop.DispatchError(h.errCtx)
		if h.errCtx.HasErr {
			return kont.Left[error, R](h.errCtx.Err), false
		}
		return v, true
	}
	panic("sshsess: unhandled effect in callHandler")
}

func either[R any](e kont.Either[error, R]) (R, error) {
	if err, ok := e.GetLeft(); ok {
		var zero R
		return zero, err
	}
	r, _ := e.GetRight()
	return r, nil
}

// Exec runs a Cont-world computation against s, blocking on transport
// readiness between engine calls. It returns the first failure, whether
// reported by an engine call or thrown with kont.ThrowError.
func Exec[R any](ctx context.Context, s *Session, protocol kont.Eff[R]) (R, error) {
	wrapped := kont.Map[kont.Resumed, R, kont.Either[error, R]](protocol, func(r R) kont.Either[error, R] {
		return kont.Right[error, R](r)
	})
	var errCtx kont.ErrorContext[error]
	h := callHandler[R]{ctx: ctx, s: s, errCtx: &errCtx}
	return either(kont.Handle(wrapped, h))
}

// ExecExpr runs an Expr-world computation against s. See Exec.
func ExecExpr[R any](ctx context.Context, s *Session, protocol kont.Expr[R]) (R, error) {
	wrapped := kont.ExprMap(protocol, func(r R) kont.Either[error, R] {
		return kont.Right[error, R](r)
	})
	var errCtx kont.ErrorContext[error]
	h := callHandler[R]{ctx: ctx, s: s, errCtx: &errCtx}
	return either(kont.HandleExpr(wrapped, h))
}
