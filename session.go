// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package sshsess

import (
	"context"
	"log/slog"
	"net"
	"strings"

	"code.hybscloud.com/atomix"
	"github.com/pkg/errors"
)

// State is the lifecycle position of a Session.
type State uint32

const (
	StateNew State = iota
	StateHandshaken
	StateAuthenticated
	StateClosed
)

func (st State) String() string {
	switch st {
	case StateNew:
		return "new"
	case StateHandshaken:
		return "handshaken"
	case StateAuthenticated:
		return "authenticated"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session owns one connection and the engine state driving it.
//
// Channels, the SFTP subsystem and their handles all reach the
// connection through their Session. A Session admits one call at a time:
// a call entering while another is in flight fails with ErrBusy. Sub
// entities must be released before the Session is closed.
type Session struct {
	engine    Engine
	transport Transport
	conn      net.Conn

	// pending is the readiness the last would-block call stalled on.
	pending Direction
	state   State
	busy    atomix.Uint32
	serial  Serial

	banner       string
	log          *slog.Logger
	newTransport func(net.Conn) (Transport, error)
}

// New creates a Session over engine.
func New(engine Engine, opts ...Option) *Session {
	s := &Session{
		engine: engine,
		serial: nextSerial(),
		log:    discardLogger,
	}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.With("session", s.serial)
	return s
}

// Serial returns the serial number assigned to this session.
func (s *Session) Serial() Serial { return s.serial }

// State returns the lifecycle state.
func (s *Session) State() State { return s.state }

// Engine returns the engine driven by s.
func (s *Session) Engine() Engine { return s.engine }

// Pending returns the readiness the last would-block call is waiting for.
func (s *Session) Pending() Direction { return s.pending }

// WaitPending blocks until the pending readiness has been observed.
// It is the waiting half of the Step/Advance API.
func (s *Session) WaitPending(ctx context.Context) error {
	if err := s.acquire(); err != nil {
		return err
	}
	defer s.release()
	return s.waitPending(ctx)
}

func (s *Session) acquire() error {
	if s.busy.Add(1) != 1 {
		s.busy.Add(^uint32(0))
		return ErrBusy
	}
	if s.state == StateClosed {
		s.busy.Add(^uint32(0))
		return ErrClosed
	}
	return nil
}

func (s *Session) release() { s.busy.Add(^uint32(0)) }

func (s *Session) requireHandshake() error {
	if s.state == StateNew {
		return ErrNotHandshaken
	}
	return nil
}

// doHandshaken is do for calls that need a completed handshake. The
// state is checked under the guard.
func doHandshaken[T any](ctx context.Context, s *Session, try func() (T, error)) (T, error) {
	var zero T
	if err := s.acquire(); err != nil {
		return zero, err
	}
	defer s.release()
	if err := s.requireHandshake(); err != nil {
		return zero, err
	}
	return call(ctx, s, try)
}

// SetBanner sets the identification banner sent during Handshake.
func (s *Session) SetBanner(banner string) error {
	if s.state != StateNew {
		return ErrHandshaken
	}
	if err := s.engine.SetBanner(banner); err != nil {
		return translate(s.engine, err)
	}
	return nil
}

// Handshake registers conn for readiness and runs the transport
// handshake to completion. It must precede every other network call.
func (s *Session) Handshake(ctx context.Context, conn net.Conn) error {
	if err := s.acquire(); err != nil {
		return err
	}
	defer s.release()
	if s.state != StateNew {
		return ErrHandshaken
	}
	if s.transport == nil {
		t, err := registerTransport(s.engine, conn, s.newTransport)
		if err != nil {
			return err
		}
		s.transport = t
		s.conn = conn
	}
	if s.banner != "" {
		if err := s.engine.SetBanner(s.banner); err != nil {
			return translate(s.engine, err)
		}
	}
	s.log.Debug("handshake", "remote", remoteAddr(conn))
	_, err := call(ctx, s, func() (struct{}, error) {
		return struct{}{}, s.engine.Handshake(conn)
	})
	if err != nil {
		return err
	}
	s.state = StateHandshaken
	return nil
}

// Authenticate runs auth for username until it succeeds or fails.
func (s *Session) Authenticate(ctx context.Context, username string, auth Authenticator) error {
	if err := s.acquire(); err != nil {
		return err
	}
	defer s.release()
	if err := s.requireHandshake(); err != nil {
		return err
	}
	ac := AuthContext{Engine: s.engine, Username: username}
	_, err := call(ctx, s, func() (struct{}, error) {
		return struct{}{}, auth.Attempt(ac)
	})
	if err != nil {
		return err
	}
	s.state = StateAuthenticated
	return nil
}

// Authenticated reports whether the engine considers the session authenticated.
func (s *Session) Authenticated() bool {
	return s.state != StateClosed && s.engine.Authenticated()
}

// ListUserauth returns the authentication methods the server accepts for username.
func (s *Session) ListUserauth(ctx context.Context, username string) ([]string, error) {
	list, err := doHandshaken(ctx, s, func() (string, error) {
		return s.engine.UserauthList(username)
	})
	if err != nil {
		return nil, err
	}
	var methods []string
	for _, m := range strings.Split(list, ",") {
		if m = strings.TrimSpace(m); m != "" {
			methods = append(methods, m)
		}
	}
	return methods, nil
}

// ChannelOptions describes a channel open request.
// Zero sizes select DefaultWindowSize and DefaultPacketSize.
type ChannelOptions struct {
	Type       string
	WindowSize uint32
	PacketSize uint32
	Message    []byte
}

// OpenChannel opens a channel. The returned Channel uses s for all I/O.
func (s *Session) OpenChannel(ctx context.Context, o ChannelOptions) (*Channel, error) {
	if o.Type == "" {
		o.Type = ChannelTypeSession
	}
	if o.WindowSize == 0 {
		o.WindowSize = DefaultWindowSize
	}
	if o.PacketSize == 0 {
		o.PacketSize = DefaultPacketSize
	}
	raw, err := doHandshaken(ctx, s, func() (EngineChannel, error) {
		return s.engine.OpenChannel(o.Type, o.WindowSize, o.PacketSize, o.Message)
	})
	if err != nil {
		return nil, err
	}
	s.log.Debug("channel opened", "type", o.Type)
	return newChannel(s, raw, o), nil
}

// OpenSession opens a "session" channel with default parameters.
func (s *Session) OpenSession(ctx context.Context) (*Channel, error) {
	return s.OpenChannel(ctx, ChannelOptions{Type: ChannelTypeSession})
}

// SFTP starts the SFTP subsystem.
func (s *Session) SFTP(ctx context.Context) (*SFTP, error) {
	raw, err := doHandshaken(ctx, s, func() (EngineSFTP, error) {
		return s.engine.OpenSFTP()
	})
	if err != nil {
		return nil, err
	}
	return &SFTP{sess: s, raw: raw}, nil
}

// Close frees the engine state and marks the session closed.
// A failure to free is logged and otherwise ignored. The connection is
// not closed; it belongs to the caller.
func (s *Session) Close() error {
	if err := s.acquire(); err != nil {
		if errors.Is(err, ErrClosed) {
			return nil
		}
		return err
	}
	defer s.release()
	s.state = StateClosed
	if err := s.engine.Free(); err != nil {
		s.log.Warn("free session", "err", err)
	}
	return nil
}

func remoteAddr(conn net.Conn) string {
	if conn == nil || conn.RemoteAddr() == nil {
		return ""
	}
	return conn.RemoteAddr().String()
}
