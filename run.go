// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package sshsess

import (
	"context"

	"code.hybscloud.com/iox"
	"code.hybscloud.com/kont"
)

// Run drives a Cont-world computation on s with Step and Advance,
// parking in s.WaitPending whenever an engine call would block.
func Run[R any](ctx context.Context, s *Session, protocol kont.Eff[R]) (R, error) {
	return RunExpr(ctx, s, Reify(protocol))
}

// RunExpr drives an Expr-world computation on s. It is the reference
// proactor loop: a caller multiplexing many sessions replaces
// WaitPending with its own readiness wait on s.Pending().
func RunExpr[R any](ctx context.Context, s *Session, protocol kont.Expr[R]) (R, error) {
	result, susp := Step(protocol)
	for susp != nil {
		var err error
		result, susp, err = Advance(s, susp)
		if err == nil {
			continue
		}
		if !iox.IsWouldBlock(err) {
			return result, err
		}
		if werr := s.WaitPending(ctx); werr != nil {
			susp.Discard()
			var zero R
			return zero, werr
		}
	}
	return result, nil
}
