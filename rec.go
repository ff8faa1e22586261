// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package sshsess

import (
	"code.hybscloud.com/kont"
)

// Loop runs an iterative computation (Cont-world).
// step returns Left(nextState) to continue or Right(result) to finish.
func Loop[S, A any](initial S, step func(S) kont.Eff[kont.Either[S, A]]) kont.Eff[A] {
	return kont.Bind(step(initial), func(e kont.Either[S, A]) kont.Eff[A] {
		if next, ok := e.GetLeft(); ok {
			return Loop(next, step)
		}
		a, _ := e.GetRight()
		return kont.Pure(a)
	})
}

// loopNext turns one iteration result into the rest of the loop.
func loopNext[S, A any](e kont.Either[S, A], step func(S) kont.Expr[kont.Either[S, A]]) kont.Expr[A] {
	if next, ok := e.GetLeft(); ok {
		return ExprLoop(next, step)
	}
	a, _ := e.GetRight()
	return kont.ExprReturn(a)
}

// ExprLoop runs an iterative computation (Expr-world).
// step returns Left(nextState) to continue or Right(result) to finish.
// Iterations that complete without suspending are unrolled in place.
func ExprLoop[S, A any](initial S, step func(S) kont.Expr[kont.Either[S, A]]) kont.Expr[A] {
	m := step(initial)
	if _, ok := m.Frame.(kont.ReturnFrame); ok {
		return loopNext(m.Value, step)
	}
	bf := kont.AcquireBindFrame()
	bf.F = func(v kont.Erased) kont.Expr[kont.Erased] {
		rest := loopNext(v.(kont.Either[S, A]), step)
		return kont.Expr[kont.Erased]{Value: kont.Erased(rest.Value), Frame: rest.Frame}
	}
	bf.Next = exprReturnFrame
	var zero A
	return kont.Expr[A]{Value: zero, Frame: kont.ChainFrames(m.Frame, bf)}
}

// ReadToEOF reads the primary stream of c in chunks of size bytes until
// the peer's EOF and returns everything read.
func ReadToEOF(c *Channel, size int) kont.Expr[[]byte] {
	if size <= 0 {
		size = int(DefaultPacketSize)
	}
	return ExprLoop([]byte(nil), func(acc []byte) kont.Expr[kont.Either[[]byte, []byte]] {
		buf := make([]byte, size)
		return ExprCallBind(c.ReadOp(buf), func(n int) kont.Expr[kont.Either[[]byte, []byte]] {
			if n == 0 {
				return kont.ExprReturn(kont.Right[[]byte](acc))
			}
			return kont.ExprReturn(kont.Left[[]byte, []byte](append(acc, buf[:n]...)))
		})
	})
}

// ReadDirAll enumerates d to the end and returns its entries.
func ReadDirAll(d *Dir) kont.Expr[[]DirEntry] {
	return ExprLoop([]DirEntry(nil), func(acc []DirEntry) kont.Expr[kont.Either[[]DirEntry, []DirEntry]] {
		return ExprCallBind(d.ReaddirOp(), func(e DirEntry) kont.Expr[kont.Either[[]DirEntry, []DirEntry]] {
			if e.Name == "" {
				d.done = true
				return kont.ExprReturn(kont.Right[[]DirEntry](acc))
			}
			return kont.ExprReturn(kont.Left[[]DirEntry, []DirEntry](append(acc, e)))
		})
	})
}
