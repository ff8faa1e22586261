// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package sshsess

import (
	"code.hybscloud.com/iox"
	"code.hybscloud.com/kont"
)

// Step evaluates a computation until the first effect suspension.
// Returns (result, nil) on completion, or (zero, suspension) if pending.
func Step[R any](protocol kont.Expr[R]) (R, *kont.Suspension[R]) {
	return kont.StepExpr(protocol)
}

// Advance dispatches the suspended operation on s without blocking.
//
// On success the suspension is consumed and the computation advances to
// the next effect or completion.
// On iox.ErrWouldBlock the suspension is returned unconsumed; wait for
// s.Pending() readiness (or call s.WaitPending) and advance it again.
// On any other failure, or a kont.ThrowError, the suspension is
// discarded and the failure returned with a nil suspension.
func Advance[R any](s *Session, susp *kont.Suspension[R]) (R, *kont.Suspension[R], error) {
	var zero R
	switch op := susp.Op().(type) {
	case callDispatcher:
		if err := s.acquire(); err != nil {
			susp.Discard()
			return zero, nil, err
		}
		v, err := op.DispatchCall(s)
		s.release()
		if err != nil {
			if iox.IsWouldBlock(err) {
				return zero, susp, err
			}
			susp.Discard()
			return zero, nil, err
		}
		result, next := susp.Resume(v)
		return result, next, nil
	case errorDispatcher:
		var ctx kont.ErrorContext[error]
		v, _ := op.DispatchError(&ctx)
		if ctx.HasErr {
			susp.Discard()
			return zero, nil, ctx.Err
		}
		result, next := susp.Resume(v)
		return result, next, nil
	}
	panic("sshsess: unhandled effect in Advance")
}
