// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package sshsess

// Direction is a set of transport readiness directions.
type Direction uint8

const (
	// DirRead is inbound readiness.
	DirRead Direction = 1 << iota
	// DirWrite is outbound readiness.
	DirWrite

	dirNone Direction = 0
	dirBoth           = DirRead | DirWrite
)

// Has reports whether every direction in o is set in d.
func (d Direction) Has(o Direction) bool { return d&o == o && o != 0 }

func (d Direction) String() string {
	switch d & dirBoth {
	case DirRead:
		return "read"
	case DirWrite:
		return "write"
	case dirBoth:
		return "read|write"
	default:
		return "none"
	}
}
