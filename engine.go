// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package sshsess

import "net"

// Default channel parameters used when a caller passes zero.
const (
	DefaultWindowSize uint32 = 2 * 1024 * 1024
	DefaultPacketSize uint32 = 32768
)

// Engine is the protocol state machine underneath a Session.
//
// Every method that talks to the peer is a try-once call. It returns nil
// on success, iox.ErrWouldBlock when it stalled on transport readiness,
// or a failure. A would-block call may have advanced internal state; the
// engine must accept the identical call again once the readiness named by
// BlockDirections has been observed. Failures are usually a Code; the
// engine's LastError refines its message.
//
// An Engine is not safe for concurrent use. Session guarantees at most
// one call in flight.
type Engine interface {
	// SetBanner sets the identification banner sent during Handshake.
	SetBanner(banner string) error
	// Handshake advances the transport handshake on conn.
	Handshake(conn net.Conn) error
	// BlockDirections reports which readiness the last would-block
	// call is waiting for.
	BlockDirections() Direction
	// LastError returns the code and message of the last failure.
	LastError() (Code, string)

	Authenticated() bool
	// UserauthList returns the comma-separated list of methods the
	// server accepts for user.
	UserauthList(user string) (string, error)
	UserauthPassword(user, password string) error
	UserauthPublickey(user string, privateKey, passphrase []byte) error

	OpenChannel(typ string, window, packet uint32, msg []byte) (EngineChannel, error)
	OpenSFTP() (EngineSFTP, error)

	// Free releases the engine. It never blocks.
	Free() error
}

// EngineChannel is the engine state of one channel.
type EngineChannel interface {
	Setenv(name, value string) error
	// ProcessStartup issues a "shell", "exec" or "subsystem" request.
	// message is nil when the request carries none.
	ProcessStartup(request string, message []byte) error
	// Read reads from the numbered data stream. 0 with a nil error
	// means no data and, once EOF reports true, end of stream.
	Read(stream int, p []byte) (int, error)
	Write(stream int, p []byte) (int, error)
	Flush(stream int) error
	SendEOF() error
	EOF() bool
	// ExitStatus is the last exit status received, 0 if none.
	ExitStatus() int
	// ExitSignal is the name of the signal that ended the remote
	// process, or "".
	ExitSignal() string
	Close() error
	// Free releases the channel. It never blocks.
	Free() error
}

// StatKind selects the attribute operation of EngineSFTP.Stat.
type StatKind int

const (
	// StatFollow follows a terminal symbolic link.
	StatFollow StatKind = iota
	// StatNoFollow reports on the link itself.
	StatNoFollow
	// StatSet applies the attributes.
	StatSet
)

// OpenKind selects whether EngineSFTP.Open opens a file or a directory.
type OpenKind int

const (
	OpenFile OpenKind = iota
	OpenDir
)

// EngineSFTP is the engine state of the SFTP subsystem.
type EngineSFTP interface {
	Stat(path string, kind StatKind, attr *FileAttr) error
	Open(path string, flags OpenFlags, mode uint32, kind OpenKind) (EngineHandle, error)
	// LastError returns the last SFTP status code.
	LastError() Code
	// Shutdown releases the subsystem. It never blocks.
	Shutdown() error
}

// EngineHandle is an open remote file or directory.
type EngineHandle interface {
	// Fstat reads attributes into attr, or applies attr when set is true.
	Fstat(attr *FileAttr, set bool) error
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Fsync() error
	// Readdir returns the next entry name and fills attr.
	// An empty name marks the end of the directory.
	Readdir(attr *FileAttr) (string, error)
	// Close releases the handle. It never blocks.
	Close() error
}

// Registrar is implemented by engines that supply their own readiness
// source instead of the socket's.
type Registrar interface {
	Register(conn net.Conn) (Transport, error)
}
