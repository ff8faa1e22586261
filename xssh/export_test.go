// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package xssh

// SkipRace exposes skipRace to the external test package.
var SkipRace = skipRace
