// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package sshsess

import (
	"code.hybscloud.com/kont"
)

// CallThen performs c, discards its value and continues with next.
// Fuses kont.Perform(c) + Then.
func CallThen[T, B any](c Call[T], next kont.Eff[B]) kont.Eff[B] {
	return kont.Then(kont.Perform(c), next)
}

// CallBind performs c and passes its value to f.
// Fuses kont.Perform(c) + Bind.
func CallBind[T, B any](c Call[T], f func(T) kont.Eff[B]) kont.Eff[B] {
	return kont.Bind(kont.Perform(c), f)
}

// CallDone performs c and returns a.
// Fuses kont.Perform(c) + Then + Pure.
func CallDone[T, A any](c Call[T], a A) kont.Eff[A] {
	return kont.Then(kont.Perform(c), kont.Pure(a))
}
