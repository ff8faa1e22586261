// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package sshsess

import (
	"context"
	"io"
	"strings"
)

// OpenFlags is the SFTP open flag set (SSH_FXF_*).
type OpenFlags uint32

const (
	FlagRead      OpenFlags = 0x00000001
	FlagWrite     OpenFlags = 0x00000002
	FlagAppend    OpenFlags = 0x00000004
	FlagCreate    OpenFlags = 0x00000008
	FlagTruncate  OpenFlags = 0x00000010
	FlagExclusive OpenFlags = 0x00000020
)

// OpenOptions configures SFTP.OpenWith.
//
// An empty flag set is passed through unchanged; whether it is accepted
// is up to the engine and server.
type OpenOptions struct {
	Flags OpenFlags
	Mode  uint32
}

func (o *OpenOptions) set(f OpenFlags, on bool) *OpenOptions {
	if on {
		o.Flags |= f
	} else {
		o.Flags &^= f
	}
	return o
}

func (o *OpenOptions) Read(on bool) *OpenOptions      { return o.set(FlagRead, on) }
func (o *OpenOptions) Write(on bool) *OpenOptions     { return o.set(FlagWrite, on) }
func (o *OpenOptions) Append(on bool) *OpenOptions    { return o.set(FlagAppend, on) }
func (o *OpenOptions) Create(on bool) *OpenOptions    { return o.set(FlagCreate, on) }
func (o *OpenOptions) Truncate(on bool) *OpenOptions  { return o.set(FlagTruncate, on) }
func (o *OpenOptions) Exclusive(on bool) *OpenOptions { return o.set(FlagExclusive, on) }

// WithMode sets the permission bits used when the file is created.
func (o *OpenOptions) WithMode(mode uint32) *OpenOptions {
	o.Mode = mode
	return o
}

// Open opens path on sftp with o.
func (o *OpenOptions) Open(ctx context.Context, sftp *SFTP, path string) (*File, error) {
	return sftp.OpenWith(ctx, path, *o)
}

// SFTP is the file transfer subsystem of a Session.
type SFTP struct {
	sess   *Session
	raw    EngineSFTP
	closed bool
}

func checkPath(path string) error {
	if strings.IndexByte(path, 0) >= 0 {
		return ErrInvalidPath
	}
	return nil
}

func (f *SFTP) check(path string) error {
	if f.closed {
		return ErrClosed
	}
	return checkPath(path)
}

// sftpErr replaces a generic SFTP protocol failure with the status code
// of the last reply, which is what callers can act on.
func (f *SFTP) sftpErr(err error) error {
	if !IsCode(err, ErrorSFTPProtocol) {
		return err
	}
	if c := f.raw.LastError(); c != ErrorNone {
		return FromCode(c)
	}
	return err
}

// sftpTry applies sftpErr inside a try-once function, for callers that
// bypass the blocking methods.
func sftpTry[T any](f *SFTP, try func() (T, error)) func() (T, error) {
	return func() (T, error) {
		v, err := try()
		if err != nil {
			return v, f.sftpErr(err)
		}
		return v, nil
	}
}

func (f *SFTP) stat(ctx context.Context, path string, kind StatKind, attr *FileAttr) error {
	if err := f.check(path); err != nil {
		return err
	}
	err := doErr(ctx, f.sess, func() error { return f.raw.Stat(path, kind, attr) })
	return f.sftpErr(err)
}

// Stat returns the attributes of path, following a final symbolic link.
func (f *SFTP) Stat(ctx context.Context, path string) (FileAttr, error) {
	var a FileAttr
	err := f.stat(ctx, path, StatFollow, &a)
	return a, err
}

// Lstat returns the attributes of path without following a final
// symbolic link.
func (f *SFTP) Lstat(ctx context.Context, path string) (FileAttr, error) {
	var a FileAttr
	err := f.stat(ctx, path, StatNoFollow, &a)
	return a, err
}

// Setstat applies the fields of attr whose flags are set.
func (f *SFTP) Setstat(ctx context.Context, path string, attr FileAttr) error {
	return f.stat(ctx, path, StatSet, &attr)
}

func (f *SFTP) open(ctx context.Context, path string, o OpenOptions, kind OpenKind) (EngineHandle, error) {
	if err := f.check(path); err != nil {
		return nil, err
	}
	h, err := do(ctx, f.sess, func() (EngineHandle, error) {
		return f.raw.Open(path, o.Flags, o.Mode, kind)
	})
	return h, f.sftpErr(err)
}

// Open opens path for reading.
func (f *SFTP) Open(ctx context.Context, path string) (*File, error) {
	return f.OpenWith(ctx, path, OpenOptions{Flags: FlagRead})
}

// Create opens path for writing, creating or truncating it.
func (f *SFTP) Create(ctx context.Context, path string, mode uint32) (*File, error) {
	return f.OpenWith(ctx, path, OpenOptions{Flags: FlagWrite | FlagCreate | FlagTruncate, Mode: mode})
}

// OpenWith opens path with explicit options.
func (f *SFTP) OpenWith(ctx context.Context, path string, o OpenOptions) (*File, error) {
	h, err := f.open(ctx, path, o, OpenFile)
	if err != nil {
		return nil, err
	}
	return &File{handle{sftp: f, raw: h, path: path, flags: o.Flags}}, nil
}

// Opendir opens a directory for enumeration.
func (f *SFTP) Opendir(ctx context.Context, path string) (*Dir, error) {
	h, err := f.open(ctx, path, OpenOptions{Flags: FlagRead}, OpenDir)
	if err != nil {
		return nil, err
	}
	return &Dir{handle: handle{sftp: f, raw: h, path: path, flags: FlagRead}}, nil
}

// Close shuts the subsystem down without waiting. Failures are logged.
// Files and directories opened from f must be closed first.
func (f *SFTP) Close() {
	if f.closed {
		return
	}
	f.closed = true
	if err := f.raw.Shutdown(); err != nil {
		f.sess.log.Warn("sftp shutdown", "err", err)
	}
}

// handle is the state shared by File and Dir.
//
// Reusing a handle after a call on it was cancelled mid-wait is not
// supported: the engine may hold a partially sent request for it.
type handle struct {
	sftp   *SFTP
	raw    EngineHandle
	path   string
	flags  OpenFlags
	closed bool
}

func (h *handle) check() error {
	if h.closed || h.sftp.closed {
		return ErrClosed
	}
	return nil
}

func (h *handle) run(ctx context.Context, try func() error) error {
	if err := h.check(); err != nil {
		return err
	}
	return h.sftp.sftpErr(doErr(ctx, h.sftp.sess, try))
}

func (h *handle) fstat(ctx context.Context) (FileAttr, error) {
	var a FileAttr
	err := h.run(ctx, func() error { return h.raw.Fstat(&a, false) })
	return a, err
}

func (h *handle) fsetstat(ctx context.Context, attr FileAttr) error {
	return h.run(ctx, func() error { return h.raw.Fstat(&attr, true) })
}

func (h *handle) close() {
	if h.closed {
		return
	}
	h.closed = true
	if err := h.raw.Close(); err != nil {
		h.sftp.sess.log.Warn("close handle", "path", h.path, "err", err)
	}
}

// File is an open remote file.
type File struct {
	h handle
}

// Path returns the path the file was opened with.
func (fl *File) Path() string { return fl.h.path }

// Flags returns the flags the file was opened with.
func (fl *File) Flags() OpenFlags { return fl.h.flags }

// Stat returns the attributes of the open file.
func (fl *File) Stat(ctx context.Context) (FileAttr, error) { return fl.h.fstat(ctx) }

// Setstat applies attr to the open file.
func (fl *File) Setstat(ctx context.Context, attr FileAttr) error {
	return fl.h.fsetstat(ctx, attr)
}

// Read reads at most len(p) bytes in one exchange. At end of file it
// returns 0 and io.EOF.
func (fl *File) Read(ctx context.Context, p []byte) (int, error) {
	if err := fl.h.check(); err != nil {
		return 0, err
	}
	n, err := do(ctx, fl.h.sftp.sess, fl.readTry(p))
	if err != nil {
		return n, fl.h.sftp.sftpErr(err)
	}
	if n == 0 && len(p) > 0 {
		return 0, io.EOF
	}
	return n, nil
}

func (fl *File) readTry(p []byte) func() (int, error) {
	return func() (int, error) { return fl.h.raw.Read(p) }
}

// Write writes at most len(p) bytes in one exchange.
func (fl *File) Write(ctx context.Context, p []byte) (int, error) {
	if err := fl.h.check(); err != nil {
		return 0, err
	}
	n, err := do(ctx, fl.h.sftp.sess, fl.writeTry(p))
	return n, fl.h.sftp.sftpErr(err)
}

func (fl *File) writeTry(p []byte) func() (int, error) {
	return func() (int, error) { return fl.h.raw.Write(p) }
}

// Fsync asks the server to flush the file to stable storage.
func (fl *File) Fsync(ctx context.Context) error {
	return fl.h.run(ctx, fl.h.raw.Fsync)
}

// Reader returns an io.Reader bound to ctx.
func (fl *File) Reader(ctx context.Context) io.Reader {
	return readerFunc(func(p []byte) (int, error) { return fl.Read(ctx, p) })
}

// Writer returns an io.Writer bound to ctx that writes all of p.
func (fl *File) Writer(ctx context.Context) io.Writer {
	return writerFunc(func(p []byte) (int, error) {
		return writeFull(p, func(b []byte) (int, error) { return fl.Write(ctx, b) })
	})
}

// Close releases the handle without waiting. Failures are logged.
func (fl *File) Close() { fl.h.close() }

// Dir is an open remote directory.
type Dir struct {
	handle handle
	done   bool
}

// Path returns the directory path.
func (d *Dir) Path() string { return d.handle.path }

// Stat returns the attributes of the directory.
func (d *Dir) Stat(ctx context.Context) (FileAttr, error) { return d.handle.fstat(ctx) }

// Setstat applies attr to the directory.
func (d *Dir) Setstat(ctx context.Context, attr FileAttr) error {
	return d.handle.fsetstat(ctx, attr)
}

// Readdir returns the next entry, or io.EOF once the directory is
// exhausted. Enumeration cannot be restarted; open the directory again.
func (d *Dir) Readdir(ctx context.Context) (DirEntry, error) {
	if err := d.handle.check(); err != nil {
		return DirEntry{}, err
	}
	if d.done {
		return DirEntry{}, io.EOF
	}
	e, err := do(ctx, d.handle.sftp.sess, d.readdirTry())
	if err != nil {
		return DirEntry{}, d.handle.sftp.sftpErr(err)
	}
	if e.Name == "" {
		d.done = true
		return DirEntry{}, io.EOF
	}
	return e, nil
}

func (d *Dir) readdirTry() func() (DirEntry, error) {
	return func() (DirEntry, error) {
		var e DirEntry
		name, err := d.handle.raw.Readdir(&e.Attr)
		e.Name = name
		return e, err
	}
}

// Close releases the handle without waiting. Failures are logged.
func (d *Dir) Close() { d.handle.close() }
