// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package xssh

import (
	"io"
	"os"

	"code.hybscloud.com/iox"
	"code.hybscloud.com/sshsess"
	"github.com/pkg/errors"
	"github.com/pkg/sftp"
)

func (e *Engine) startSFTP() (any, error) {
	c, err := sftp.NewClient(e.client)
	if err != nil {
		return nil, err
	}
	return &sftpSubsystem{e: e, c: c}, nil
}

// sftpSubsystem adapts an sftp.Client.
//
// pkg/sftp reports attributes as os.FileInfo and drops the presence
// flags of the wire format, so every attribute comes back as present.
type sftpSubsystem struct {
	e    *Engine
	c    *sftp.Client
	code sshsess.Code
}

// status records the SFTP status carried by err and returns the generic
// SFTP failure the session refines through LastError. Errors without a
// status are transport failures and pass through.
func (s *sftpSubsystem) status(err error) error {
	var se *sftp.StatusError
	switch {
	case errors.As(err, &se):
		s.code = sshsess.Code(se.Code)
	case errors.Is(err, os.ErrNotExist):
		s.code = sshsess.FxNoSuchFile
	case errors.Is(err, os.ErrPermission):
		s.code = sshsess.FxPermissionDenied
	case errors.Is(err, os.ErrExist):
		s.code = sshsess.FxFileAlreadyExists
	case errors.Is(err, io.EOF):
		s.code = sshsess.FxEOF
	default:
		return err
	}
	return s.e.fail(sshsess.ErrorSFTPProtocol, err.Error())
}

// finish maps the result of run.
func (s *sftpSubsystem) finish(err error) error {
	if err == nil || iox.IsWouldBlock(err) {
		return err
	}
	return s.status(err)
}

func toAttr(fi os.FileInfo, attr *sshsess.FileAttr) {
	*attr = sshsess.FileAttr{}
	if st, ok := fi.Sys().(*sftp.FileStat); ok {
		attr.SetSize(st.Size)
		attr.SetOwner(st.UID, st.GID)
		attr.SetPermissions(st.Mode)
		attr.Atime, attr.Mtime = st.Atime, st.Mtime
		attr.Flags |= sshsess.AttrACModTime
		return
	}
	attr.SetSize(uint64(fi.Size()))
	attr.SetPermissions(fromFileMode(fi.Mode()))
	attr.SetTimes(fi.ModTime(), fi.ModTime())
}

func fromFileMode(m os.FileMode) uint32 {
	perm := uint32(m.Perm())
	switch {
	case m.IsDir():
		perm |= 0o040000
	case m&os.ModeSymlink != 0:
		perm |= 0o120000
	case m.IsRegular():
		perm |= 0o100000
	}
	return perm
}

// setter is the part of sftp.Client and sftp.File used to apply
// attributes.
type setter interface {
	Truncate(size int64) error
	Chmod(mode os.FileMode) error
	Chown(uid, gid int) error
}

// pathSetter binds a path to the path-based sftp.Client methods.
type pathSetter struct {
	c    *sftp.Client
	path string
}

func (p pathSetter) Truncate(size int64) error    { return p.c.Truncate(p.path, size) }
func (p pathSetter) Chmod(mode os.FileMode) error { return p.c.Chmod(p.path, mode) }
func (p pathSetter) Chown(uid, gid int) error     { return p.c.Chown(p.path, uid, gid) }

// apply issues one request per attribute group present in a.
func apply(c *sftp.Client, path string, set setter, a sshsess.FileAttr) error {
	if size, ok := a.FileSize(); ok {
		if err := set.Truncate(int64(size)); err != nil {
			return err
		}
	}
	if perm, ok := a.Perm(); ok {
		if err := set.Chmod(os.FileMode(perm & 0o7777)); err != nil {
			return err
		}
	}
	if uid, gid, ok := a.Owner(); ok {
		if err := set.Chown(int(uid), int(gid)); err != nil {
			return err
		}
	}
	if atime, mtime, ok := a.Times(); ok {
		if err := c.Chtimes(path, atime, mtime); err != nil {
			return err
		}
	}
	return nil
}

func (s *sftpSubsystem) Stat(path string, kind sshsess.StatKind, attr *sshsess.FileAttr) error {
	a := *attr
	v, err := s.e.run(opKey{op: "stat", obj: s, n: int(kind), arg: path}, sshsess.DirRead, func() (any, error) {
		switch kind {
		case sshsess.StatSet:
			return nil, apply(s.c, path, pathSetter{c: s.c, path: path}, a)
		case sshsess.StatNoFollow:
			return s.c.Lstat(path)
		default:
			return s.c.Stat(path)
		}
	})
	if err != nil {
		return s.finish(err)
	}
	if fi, ok := v.(os.FileInfo); ok {
		toAttr(fi, attr)
	}
	return nil
}

func osFlags(f sshsess.OpenFlags) int {
	var flags int
	switch {
	case f&sshsess.FlagRead != 0 && f&sshsess.FlagWrite != 0:
		flags = os.O_RDWR
	case f&sshsess.FlagWrite != 0:
		flags = os.O_WRONLY
	default:
		flags = os.O_RDONLY
	}
	if f&sshsess.FlagAppend != 0 {
		flags |= os.O_APPEND
	}
	if f&sshsess.FlagCreate != 0 {
		flags |= os.O_CREATE
	}
	if f&sshsess.FlagTruncate != 0 {
		flags |= os.O_TRUNC
	}
	if f&sshsess.FlagExclusive != 0 {
		flags |= os.O_EXCL
	}
	return flags
}

// Open opens a file, or lists a directory in one go. A directory handle
// serves its entries from that listing.
func (s *sftpSubsystem) Open(path string, flags sshsess.OpenFlags, mode uint32, kind sshsess.OpenKind) (sshsess.EngineHandle, error) {
	if kind == sshsess.OpenDir {
		v, err := s.e.run(opKey{op: "opendir", obj: s, arg: path}, sshsess.DirRead, func() (any, error) {
			fi, err := s.c.Stat(path)
			if err != nil {
				return nil, err
			}
			if !fi.IsDir() {
				return nil, &sftp.StatusError{Code: uint32(sshsess.FxNotADirectory)}
			}
			return s.c.ReadDir(path)
		})
		if err != nil {
			return nil, s.finish(err)
		}
		return &handle{s: s, path: path, entries: v.([]os.FileInfo)}, nil
	}

	v, err := s.e.run(opKey{op: "open", obj: s, n: int(flags), arg: path}, sshsess.DirRead, func() (any, error) {
		created := s.creates(path, flags, mode)
		f, err := s.c.OpenFile(path, osFlags(flags))
		if err != nil {
			return nil, err
		}
		if created {
			if err := f.Chmod(os.FileMode(mode & 0o7777)); err != nil {
				_ = f.Close()
				return nil, err
			}
		}
		return f, nil
	})
	if err != nil {
		return nil, s.finish(err)
	}
	return &handle{s: s, path: path, f: v.(*sftp.File)}, nil
}

// creates reports whether opening path with flags makes a new file that
// mode must be applied to. pkg/sftp sends no attributes with the open
// request, so an existing file is detected up front and left alone.
func (s *sftpSubsystem) creates(path string, flags sshsess.OpenFlags, mode uint32) bool {
	if flags&sshsess.FlagCreate == 0 || mode == 0 {
		return false
	}
	if flags&sshsess.FlagExclusive != 0 {
		return true
	}
	_, err := s.c.Lstat(path)
	var se *sftp.StatusError
	return errors.Is(err, os.ErrNotExist) ||
		(errors.As(err, &se) && sshsess.Code(se.Code) == sshsess.FxNoSuchFile)
}

func (s *sftpSubsystem) LastError() sshsess.Code { return s.code }

func (s *sftpSubsystem) Shutdown() error {
	go func() {
		if err := s.c.Close(); err != nil {
			s.e.log.Debug("close sftp", "err", err)
		}
	}()
	return nil
}

// handle is an open file (f set) or a directory listing (entries set).
type handle struct {
	s    *sftpSubsystem
	path string
	f    *sftp.File
	rest []byte

	entries []os.FileInfo
	next    int
}

func (h *handle) Fstat(attr *sshsess.FileAttr, set bool) error {
	a := *attr
	c := h.s.c
	v, err := h.s.e.run(opKey{op: "fstat", obj: h}, sshsess.DirRead, func() (any, error) {
		if set {
			var st setter = pathSetter{c: c, path: h.path}
			if h.f != nil {
				st = h.f
			}
			return nil, apply(c, h.path, st, a)
		}
		if h.f != nil {
			return h.f.Stat()
		}
		return c.Stat(h.path)
	})
	if err != nil {
		return h.s.finish(err)
	}
	if fi, ok := v.(os.FileInfo); ok {
		toAttr(fi, attr)
	}
	return nil
}

func (h *handle) file() error {
	if h.f == nil {
		return h.s.status(&sftp.StatusError{Code: uint32(sshsess.FxFailure)})
	}
	return nil
}

func (h *handle) Read(p []byte) (int, error) {
	if err := h.file(); err != nil {
		return 0, err
	}
	if len(h.rest) > 0 {
		n := copy(p, h.rest)
		h.rest = h.rest[n:]
		return n, nil
	}
	size := len(p)
	v, err := h.s.e.run(opKey{op: "read", obj: h}, sshsess.DirRead, func() (any, error) {
		buf := make([]byte, size)
		n, err := h.f.Read(buf)
		if errors.Is(err, io.EOF) {
			err = nil
		}
		return buf[:n], err
	})
	if err != nil {
		return 0, h.s.finish(err)
	}
	buf := v.([]byte)
	n := copy(p, buf)
	h.rest = buf[n:]
	return n, nil
}

func (h *handle) Write(p []byte) (int, error) {
	if err := h.file(); err != nil {
		return 0, err
	}
	buf := append([]byte(nil), p...)
	v, err := h.s.e.run(opKey{op: "write", obj: h}, sshsess.DirWrite, func() (any, error) {
		return h.f.Write(buf)
	})
	if err != nil {
		return 0, h.s.finish(err)
	}
	return v.(int), nil
}

func (h *handle) Fsync() error {
	if err := h.file(); err != nil {
		return err
	}
	_, err := h.s.e.run(opKey{op: "fsync", obj: h}, sshsess.DirWrite, func() (any, error) {
		return nil, h.f.Sync()
	})
	return h.s.finish(err)
}

func (h *handle) Readdir(attr *sshsess.FileAttr) (string, error) {
	if h.next >= len(h.entries) {
		return "", nil
	}
	fi := h.entries[h.next]
	h.next++
	toAttr(fi, attr)
	return fi.Name(), nil
}

func (h *handle) Close() error {
	if h.f != nil {
		f := h.f
		go func() { _ = f.Close() }()
	}
	return nil
}
