// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package sshsess

import (
	"code.hybscloud.com/kont"
)

// Pre-allocated return frame, avoiding a heap escape per fused call.
var exprReturnFrame kont.Frame = kont.ReturnFrame{}

// identityResume is the identity resume function for EffectFrame construction.
func identityResume(v kont.Erased) kont.Erased { return v }

func thenFrame[B any](next kont.Expr[B]) kont.Frame {
	tf := kont.AcquireThenFrame()
	tf.Second = kont.Expr[kont.Erased]{Value: kont.Erased(next.Value), Frame: next.Frame}
	tf.Next = exprReturnFrame
	return tf
}

// ExprCallThen performs c, discards its value and continues with next.
// Fuses ExprPerform(c) + ExprThen.
func ExprCallThen[T, B any](c Call[T], next kont.Expr[B]) kont.Expr[B] {
	ef := kont.AcquireEffectFrame()
	ef.Operation = c
	ef.Resume = identityResume
	ef.Next = thenFrame(next)
	return kont.ExprSuspend[B](ef)
}

func callBindUnwind[T, B any](data, _, _ kont.Erased, current kont.Erased) (kont.Erased, kont.Frame) {
	f := data.(func(T) kont.Expr[B])
	result := f(current.(T))
	return kont.Erased(result.Value), result.Frame
}

// ExprCallBind performs c and passes its value to f.
// Fuses ExprPerform(c) + ExprBind.
func ExprCallBind[T, B any](c Call[T], f func(T) kont.Expr[B]) kont.Expr[B] {
	bf := kont.AcquireUnwindFrame()
	bf.Data1 = f
	bf.Unwind = callBindUnwind[T, B]
	ef := kont.AcquireEffectFrame()
	ef.Operation = c
	ef.Resume = identityResume
	ef.Next = bf
	return kont.ExprSuspend[B](ef)
}

// ExprCallDone performs c and returns a.
// Fuses ExprPerform(c) + ExprThen + ExprReturn.
func ExprCallDone[T, A any](c Call[T], a A) kont.Expr[A] {
	ef := kont.AcquireEffectFrame()
	ef.Operation = c
	ef.Resume = identityResume
	ef.Next = thenFrame(kont.Expr[A]{Value: a, Frame: exprReturnFrame})
	return kont.ExprSuspend[A](ef)
}
