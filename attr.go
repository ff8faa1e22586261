// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package sshsess

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// AttrFlags records which FileAttr fields the remote side reported.
type AttrFlags uint32

// Attribute presence flags, as in SSH_FILEXFER_ATTR_*.
const (
	AttrSize        AttrFlags = 0x00000001
	AttrUIDGID      AttrFlags = 0x00000002
	AttrPermissions AttrFlags = 0x00000004
	AttrACModTime   AttrFlags = 0x00000008
)

// Permission type bits carried in the permissions field.
const (
	modeTypeMask = 0o170000
	modeDir      = 0o040000
	modeRegular  = 0o100000
	modeSymlink  = 0o120000
)

// FileAttr holds remote file attributes. A field is meaningful only
// when its flag is set; an absent field is distinct from a zero one.
type FileAttr struct {
	Flags       AttrFlags
	Size        uint64
	UID, GID    uint32
	Permissions uint32
	Atime       uint32
	Mtime       uint32
}

// FileSize returns the size in bytes, if reported.
func (a FileAttr) FileSize() (uint64, bool) { return a.Size, a.Flags&AttrSize != 0 }

// Owner returns the uid and gid, if reported.
func (a FileAttr) Owner() (uid, gid uint32, ok bool) {
	return a.UID, a.GID, a.Flags&AttrUIDGID != 0
}

// Perm returns the raw permission bits, file type included, if reported.
func (a FileAttr) Perm() (uint32, bool) { return a.Permissions, a.Flags&AttrPermissions != 0 }

// Times returns the access and modification times, if reported.
func (a FileAttr) Times() (atime, mtime time.Time, ok bool) {
	if a.Flags&AttrACModTime == 0 {
		return time.Time{}, time.Time{}, false
	}
	return time.Unix(int64(a.Atime), 0), time.Unix(int64(a.Mtime), 0), true
}

// SetSize marks the size present.
func (a *FileAttr) SetSize(n uint64) { a.Size, a.Flags = n, a.Flags|AttrSize }

// SetOwner marks uid and gid present.
func (a *FileAttr) SetOwner(uid, gid uint32) {
	a.UID, a.GID, a.Flags = uid, gid, a.Flags|AttrUIDGID
}

// SetPermissions marks the permission bits present.
func (a *FileAttr) SetPermissions(perm uint32) {
	a.Permissions, a.Flags = perm, a.Flags|AttrPermissions
}

// SetTimes marks access and modification times present.
func (a *FileAttr) SetTimes(atime, mtime time.Time) {
	a.Atime, a.Mtime = uint32(atime.Unix()), uint32(mtime.Unix())
	a.Flags |= AttrACModTime
}

// Mode converts the permission bits to an os.FileMode. It returns 0
// when permissions were not reported.
func (a FileAttr) Mode() os.FileMode {
	if a.Flags&AttrPermissions == 0 {
		return 0
	}
	m := os.FileMode(a.Permissions & 0o777)
	switch a.Permissions & modeTypeMask {
	case modeDir:
		m |= os.ModeDir
	case modeSymlink:
		m |= os.ModeSymlink
	case modeRegular:
	default:
		if a.Permissions&modeTypeMask != 0 {
			m |= os.ModeIrregular
		}
	}
	return m
}

// IsDir reports whether the permission bits describe a directory.
func (a FileAttr) IsDir() bool {
	return a.Flags&AttrPermissions != 0 && a.Permissions&modeTypeMask == modeDir
}

// IsRegular reports whether the permission bits describe a regular file.
func (a FileAttr) IsRegular() bool {
	return a.Flags&AttrPermissions != 0 && a.Permissions&modeTypeMask == modeRegular
}

func (a FileAttr) String() string {
	var b strings.Builder
	b.WriteString("FileAttr{")
	sep := ""
	field := func(format string, args ...any) {
		b.WriteString(sep)
		fmt.Fprintf(&b, format, args...)
		sep = " "
	}
	if a.Flags&AttrPermissions != 0 {
		field("perm=%o", a.Permissions)
	}
	if a.Flags&AttrSize != 0 {
		field("size=%d", a.Size)
	}
	if a.Flags&AttrUIDGID != 0 {
		field("uid=%d gid=%d", a.UID, a.GID)
	}
	if a.Flags&AttrACModTime != 0 {
		field("atime=%d mtime=%d", a.Atime, a.Mtime)
	}
	b.WriteString("}")
	return b.String()
}

// DirEntry is one directory entry.
type DirEntry struct {
	Name string
	Attr FileAttr
}
