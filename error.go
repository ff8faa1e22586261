// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package sshsess

import (
	"context"
	"fmt"

	"code.hybscloud.com/iox"
	"github.com/pkg/errors"
)

// Code is a protocol engine status code.
// Negative values are session-level codes; positive values are SFTP
// status codes as carried in SSH_FXP_STATUS replies.
type Code int

// Session-level codes.
const (
	ErrorNone                  Code = 0
	ErrorSocketNone            Code = -1
	ErrorBannerRecv            Code = -2
	ErrorBannerSend            Code = -3
	ErrorInvalidMAC            Code = -4
	ErrorKexFailure            Code = -5
	ErrorAlloc                 Code = -6
	ErrorSocketSend            Code = -7
	ErrorKeyExchangeFailure    Code = -8
	ErrorTimeout               Code = -9
	ErrorHostkeyInit           Code = -10
	ErrorHostkeySign           Code = -11
	ErrorDecrypt               Code = -12
	ErrorSocketDisconnect      Code = -13
	ErrorProto                 Code = -14
	ErrorPasswordExpired       Code = -15
	ErrorFile                  Code = -16
	ErrorMethodNone            Code = -17
	ErrorAuthenticationFailed  Code = -18
	ErrorPublickeyUnverified   Code = -19
	ErrorChannelOutOfOrder     Code = -20
	ErrorChannelFailure        Code = -21
	ErrorChannelRequestDenied  Code = -22
	ErrorChannelUnknown        Code = -23
	ErrorChannelWindowExceeded Code = -24
	ErrorChannelPacketExceeded Code = -25
	ErrorChannelClosed         Code = -26
	ErrorChannelEOFSent        Code = -27
	ErrorSCPProtocol           Code = -28
	ErrorZlib                  Code = -29
	ErrorSocketTimeout         Code = -30
	ErrorSFTPProtocol          Code = -31
	ErrorRequestDenied         Code = -32
	ErrorMethodNotSupported    Code = -33
	ErrorInval                 Code = -34
	ErrorInvalidPollType       Code = -35
	ErrorPublickeyProtocol     Code = -36
	ErrorEAGAIN                Code = -37
	ErrorBufferTooSmall        Code = -38
	ErrorBadUse                Code = -39
	ErrorCompress              Code = -40
	ErrorOutOfBoundary         Code = -41
	ErrorAgentProtocol         Code = -42
	ErrorSocketRecv            Code = -43
	ErrorEncrypt               Code = -44
	ErrorBadSocket             Code = -45
	ErrorKnownHosts            Code = -46
)

// SFTP status codes.
const (
	FxEOF                 Code = 1
	FxNoSuchFile          Code = 2
	FxPermissionDenied    Code = 3
	FxFailure             Code = 4
	FxBadMessage          Code = 5
	FxNoConnection        Code = 6
	FxConnectionLost      Code = 7
	FxOpUnsupported       Code = 8
	FxInvalidHandle       Code = 9
	FxNoSuchPath          Code = 10
	FxFileAlreadyExists   Code = 11
	FxWriteProtect        Code = 12
	FxNoMedia             Code = 13
	FxNoSpaceOnFilesystem Code = 14
	FxQuotaExceeded       Code = 15
	FxUnknownPrincipal    Code = 16
	FxLockConflict        Code = 17
	FxDirNotEmpty         Code = 18
	FxNotADirectory       Code = 19
	FxInvalidFilename     Code = 20
	FxLinkLoop            Code = 21
)

// CodeUnknown is reported when the engine fails without a usable code.
const CodeUnknown Code = -1 << 31

var codeText = map[Code]string{
	ErrorSocketNone:            "socket none",
	ErrorBannerRecv:            "banner recv failure",
	ErrorBannerSend:            "banner send failure",
	ErrorInvalidMAC:            "invalid mac",
	ErrorKexFailure:            "kex failure",
	ErrorAlloc:                 "alloc failure",
	ErrorSocketSend:            "socket send failure",
	ErrorKeyExchangeFailure:    "key exchange failure",
	ErrorTimeout:               "timed out",
	ErrorHostkeyInit:           "hostkey init error",
	ErrorHostkeySign:           "hostkey sign error",
	ErrorDecrypt:               "decrypt error",
	ErrorSocketDisconnect:      "socket disconnected",
	ErrorProto:                 "protocol error",
	ErrorPasswordExpired:       "password expired",
	ErrorFile:                  "file error",
	ErrorMethodNone:            "bad method name",
	ErrorAuthenticationFailed:  "authentication failed",
	ErrorPublickeyUnverified:   "public key unverified",
	ErrorChannelOutOfOrder:     "channel out of order",
	ErrorChannelFailure:        "channel failure",
	ErrorChannelRequestDenied:  "request denied",
	ErrorChannelUnknown:        "unknown channel error",
	ErrorChannelWindowExceeded: "window exceeded",
	ErrorChannelPacketExceeded: "packet exceeded",
	ErrorChannelClosed:         "closed channel",
	ErrorChannelEOFSent:        "eof sent",
	ErrorSCPProtocol:           "scp protocol error",
	ErrorZlib:                  "zlib error",
	ErrorSocketTimeout:         "socket timeout",
	ErrorSFTPProtocol:          "sftp protocol error",
	ErrorRequestDenied:         "request denied",
	ErrorMethodNotSupported:    "method not supported",
	ErrorInval:                 "invalid",
	ErrorInvalidPollType:       "invalid poll type",
	ErrorPublickeyProtocol:     "public key protocol error",
	ErrorEAGAIN:                "operation would block",
	ErrorBufferTooSmall:        "buffer too small",
	ErrorBadUse:                "bad use error",
	ErrorCompress:              "compression error",
	ErrorOutOfBoundary:         "out of bounds",
	ErrorAgentProtocol:         "invalid agent protocol",
	ErrorSocketRecv:            "error receiving on socket",
	ErrorEncrypt:               "bad encrypt",
	ErrorBadSocket:             "bad socket",
	ErrorKnownHosts:            "known hosts error",
	FxEOF:                      "end of file",
	FxNoSuchFile:               "no such file",
	FxPermissionDenied:         "permission denied",
	FxFailure:                  "failure",
	FxBadMessage:               "bad message",
	FxNoConnection:             "no connection",
	FxConnectionLost:           "connection lost",
	FxOpUnsupported:            "operation unsupported",
	FxInvalidHandle:            "invalid handle",
	FxNoSuchPath:               "no such path",
	FxFileAlreadyExists:        "file already exists",
	FxWriteProtect:             "file is write protected",
	FxNoMedia:                  "no media available",
	FxNoSpaceOnFilesystem:      "no space on filesystem",
	FxQuotaExceeded:            "quota exceeded",
	FxUnknownPrincipal:         "unknown principal",
	FxLockConflict:             "lock conflict",
	FxDirNotEmpty:              "directory not empty",
	FxNotADirectory:            "not a directory",
	FxInvalidFilename:          "invalid filename",
	FxLinkLoop:                 "link loop",
}

// String returns the canonical message for c.
func (c Code) String() string {
	if s, ok := codeText[c]; ok {
		return s
	}
	return "unknown error"
}

// Error lets an engine return a bare Code as a failure.
// The adapter turns it into an *Error before it reaches a caller.
func (c Code) Error() string { return c.String() }

// IsSFTP reports whether c is an SFTP status code.
func (c Code) IsSFTP() bool { return c > 0 }

// Error is a protocol error reported by the engine.
type Error struct {
	Code Code
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (code = %d)", e.Msg, int(e.Code))
}

// Is matches another *Error with the same code, or the bare Code.
func (e *Error) Is(target error) bool {
	switch t := target.(type) {
	case *Error:
		return t.Code == e.Code
	case Code:
		return t == e.Code
	}
	return false
}

// FromCode returns an *Error carrying the canonical message for code.
func FromCode(code Code) *Error {
	if _, ok := codeText[code]; !ok {
		return &Error{Code: CodeUnknown, Msg: "unknown error"}
	}
	return &Error{Code: code, Msg: code.String()}
}

func newError(code Code, msg string) *Error {
	if msg == "" {
		return FromCode(code)
	}
	return &Error{Code: code, Msg: msg}
}

// Sentinel errors.
var (
	// ErrNotHandshaken is returned by calls that need an established transport.
	ErrNotHandshaken = errors.New("sshsess: handshake not completed")
	// ErrHandshaken is returned by a second Handshake on the same session.
	ErrHandshaken = errors.New("sshsess: handshake already completed")
	// ErrBusy is returned when a call enters a session that another call
	// is still driving. Callers must serialize operations per session.
	ErrBusy = errors.New("sshsess: session busy")
	// ErrClosed is returned by operations on a closed entity.
	ErrClosed = errors.New("sshsess: use of closed entity")
	// ErrInvalidPath is returned for paths containing a NUL byte.
	ErrInvalidPath = errors.New("sshsess: unexpected null character in path")
	// ErrNoDirection marks a would-block result with no readiness
	// direction. It is always wrapped in an *Error with ErrorBadUse.
	ErrNoDirection = errors.New("sshsess: would block without direction")
)

// ioError marks transport failures so callers can tell them from protocol errors.
type ioError struct{ err error }

func (e *ioError) Error() string { return "sshsess: i/o: " + e.err.Error() }
func (e *ioError) Unwrap() error { return e.err }
func (e *ioError) Cause() error  { return e.err }

func wrapIO(err error) error {
	if err == nil {
		return nil
	}
	return errors.WithStack(&ioError{err: err})
}

// IsIO reports whether err is a transport I/O failure.
func IsIO(err error) bool {
	var e *ioError
	return errors.As(err, &e)
}

// CodeOf extracts the engine code from err.
func CodeOf(err error) (Code, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	var c Code
	if errors.As(err, &c) {
		return c, true
	}
	return 0, false
}

// IsCode reports whether err carries the engine code c.
func IsCode(err error, c Code) bool {
	got, ok := CodeOf(err)
	return ok && got == c
}

// lastErrorer is the part of the engine contract used to enrich codes.
type lastErrorer interface {
	LastError() (Code, string)
}

// translate maps an engine failure onto the error taxonomy.
// It must not be called with nil or a would-block error.
func translate(e lastErrorer, err error) error {
	var pe *Error
	if errors.As(err, &pe) {
		return err
	}
	var c Code
	if errors.As(err, &c) {
		if e != nil {
			if lc, msg := e.LastError(); lc == c {
				return newError(c, msg)
			}
		}
		return FromCode(c)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if isSentinel(err) {
		return err
	}
	return wrapIO(err)
}

func isSentinel(err error) bool {
	for _, s := range [...]error{ErrNotHandshaken, ErrHandshaken, ErrBusy, ErrClosed, ErrInvalidPath} {
		if errors.Is(err, s) {
			return true
		}
	}
	return false
}

// isWouldBlock accepts both the iox sentinel and a bare EAGAIN code.
func isWouldBlock(err error) bool {
	if iox.IsWouldBlock(err) {
		return true
	}
	var c Code
	return errors.As(err, &c) && c == ErrorEAGAIN
}
