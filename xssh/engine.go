// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package xssh implements sshsess.Engine on top of golang.org/x/crypto/ssh
// and github.com/pkg/sftp.
//
// Both libraries block. The engine runs each blocking call on a worker
// goroutine and reports would-block until the worker's completion has
// arrived; the completion also wakes the engine's own readiness source,
// which the session picks up through sshsess.Registrar. Channel reads
// are the exception: every stream has a pump goroutine of its own, so a
// read waiting on an idle process never holds up writes to it.
//
// x/crypto/ssh couples key exchange with user authentication, so
// Handshake only records the connection and the transport handshake
// runs inside the first userauth call. A failed authentication closes the
// connection; a new one is needed to try other credentials.
package xssh

import (
	"context"
	"io"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"

	"code.hybscloud.com/iox"
	"code.hybscloud.com/lfq"
	"code.hybscloud.com/sshsess"
	"github.com/pkg/errors"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// DefaultClientVersion is the identification string sent when no banner
// was set.
const DefaultClientVersion = "SSH-2.0-sshsess"

// completionCapacity bounds the completion queue. One operation is in
// flight at a time; the slack absorbs a completion left behind by a
// cancelled call.
const completionCapacity = 4

// Config configures an Engine.
type Config struct {
	// Addr is the address host keys are checked against. Empty uses
	// the connection's remote address.
	Addr string
	// HostKeyCallback verifies the server's host key. When nil,
	// KnownHosts is consulted; when both are unset any key is accepted.
	HostKeyCallback ssh.HostKeyCallback
	// KnownHosts is the path of an OpenSSH known_hosts file.
	KnownHosts string
	// ClientVersion is the identification string. The session banner
	// overrides it.
	ClientVersion string
	// Timeout bounds the key exchange and authentication round trip.
	// Zero means no limit beyond the caller's context.
	Timeout time.Duration
	// Logger receives worker diagnostics. Nil discards them.
	Logger *slog.Logger
}

// opKey identifies an operation so that a retried call can claim the
// completion of the worker it launched.
type opKey struct {
	op  string
	obj any
	n   int
	arg string
}

type completion struct {
	key opKey
	v   any
	err error
}

type inflight struct {
	key opKey
	dir sshsess.Direction
}

// Engine is an sshsess.Engine backed by x/crypto/ssh.
type Engine struct {
	cfg  Config
	log  *slog.Logger
	conn net.Conn

	client  *ssh.Client
	hostCB  ssh.HostKeyCallback
	version string

	pending *inflight
	done    lfq.SPSC[completion]
	wake    chan struct{}

	dir      sshsess.Direction
	armed    bool
	lastCode sshsess.Code
	lastMsg  string
}

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// New returns an engine for cfg. The known_hosts file, if named, is
// read here.
func New(cfg Config) (*Engine, error) {
	e := &Engine{
		cfg:     cfg,
		log:     cfg.Logger,
		hostCB:  cfg.HostKeyCallback,
		version: cfg.ClientVersion,
		wake:    make(chan struct{}, 1),
	}
	if e.log == nil {
		e.log = discard
	}
	if e.hostCB == nil && cfg.KnownHosts != "" {
		cb, err := knownhosts.New(cfg.KnownHosts)
		if err != nil {
			return nil, errors.Wrap(err, "xssh: known hosts")
		}
		e.hostCB = cb
	}
	if e.hostCB == nil {
		e.hostCB = ssh.InsecureIgnoreHostKey()
	}
	if e.version == "" {
		e.version = DefaultClientVersion
	}
	e.done.Init(completionCapacity)
	return e, nil
}

// Client returns the underlying client once authentication succeeded.
func (e *Engine) Client() *ssh.Client { return e.client }

// run is the try-once core of every blocking operation. The first call
// for key launches fn on a worker and reports would-block on dir; a
// later call with the same key returns the worker's result once it has
// arrived. A completion for any other key is stale and dropped.
func (e *Engine) run(key opKey, dir sshsess.Direction, fn func() (any, error)) (any, error) {
	if e.pending != nil {
		c, err := e.done.Dequeue()
		if err != nil {
			return nil, e.block(e.pending.dir)
		}
		e.pending = nil
		if c.key == key {
			return c.v, c.err
		}
		e.log.Debug("drop stale completion", "op", c.key.op, "err", c.err)
	}
	e.pending = &inflight{key: key, dir: dir}
	go e.work(key, fn)
	return nil, e.block(dir)
}

// block records dir and arms the next transport wait.
func (e *Engine) block(dir sshsess.Direction) error {
	e.dir = dir
	e.armed = true
	return iox.ErrWouldBlock
}

func (e *Engine) work(key opKey, fn func() (any, error)) {
	v, err := fn()
	c := completion{key: key, v: v, err: err}
	var bo iox.Backoff
	for e.done.Enqueue(&c) != nil {
		bo.Wait()
	}
	e.signal()
}

// signal wakes the transport. A token already queued covers this one.
func (e *Engine) signal() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// Register implements sshsess.Registrar: readiness comes from worker
// completions, not from the socket.
func (e *Engine) Register(net.Conn) (sshsess.Transport, error) {
	return transport{e: e}, nil
}

// transport parks until a worker completes or a channel stream has data.
// Directions are advisory: every completion wakes every wait. Spurious
// wakeups only cost a retry.
//
// A wait blocks only on behalf of the latest would-block result. Once
// that wait has returned, cancelled or not, the next one returns at once
// so that the retried call, which may be a different operation, reports
// what it is actually waiting for.
type transport struct {
	e *Engine
}

func (t transport) Wait(ctx context.Context, _ sshsess.Direction) error {
	if !t.e.armed {
		return ctx.Err()
	}
	t.e.armed = false
	select {
	case <-t.e.wake:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Clear is a no-op. Draining the wake token here could lose a
// completion that raced with the call that reported would-block.
func (transport) Clear(sshsess.Direction) error { return nil }

func (e *Engine) fail(code sshsess.Code, msg string) error {
	e.lastCode, e.lastMsg = code, msg
	return code
}

// SetBanner implements sshsess.Engine.
func (e *Engine) SetBanner(banner string) error {
	if e.conn != nil {
		return e.fail(sshsess.ErrorBadUse, "banner set after handshake")
	}
	if !strings.HasPrefix(banner, "SSH-2.0-") {
		banner = "SSH-2.0-" + banner
	}
	e.version = banner
	return nil
}

// Handshake implements sshsess.Engine. It records conn; the transport
// handshake runs with the first authentication attempt.
func (e *Engine) Handshake(conn net.Conn) error {
	if conn == nil {
		return e.fail(sshsess.ErrorBadSocket, "nil connection")
	}
	e.conn = conn
	return nil
}

// BlockDirections implements sshsess.Engine.
func (e *Engine) BlockDirections() sshsess.Direction { return e.dir }

// LastError implements sshsess.Engine.
func (e *Engine) LastError() (sshsess.Code, string) { return e.lastCode, e.lastMsg }

// Authenticated implements sshsess.Engine.
func (e *Engine) Authenticated() bool { return e.client != nil }

// UserauthList implements sshsess.Engine. x/crypto/ssh does not expose
// the server's method list.
func (e *Engine) UserauthList(string) (string, error) {
	return "", e.fail(sshsess.ErrorMethodNotSupported, "userauth list not available")
}

// UserauthPassword implements sshsess.Engine.
func (e *Engine) UserauthPassword(user, password string) error {
	return e.userauth(user, "password", ssh.Password(password))
}

// UserauthPublickey implements sshsess.Engine. privateKey is PEM.
func (e *Engine) UserauthPublickey(user string, privateKey, passphrase []byte) error {
	var (
		signer ssh.Signer
		err    error
	)
	if len(passphrase) > 0 {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(privateKey, passphrase)
	} else {
		signer, err = ssh.ParsePrivateKey(privateKey)
	}
	if err != nil {
		return e.fail(sshsess.ErrorFile, err.Error())
	}
	return e.userauth(user, "publickey", ssh.PublicKeys(signer))
}

// userauth runs key exchange and authentication with a single method.
func (e *Engine) userauth(user, method string, m ssh.AuthMethod) error {
	if e.client != nil {
		return nil
	}
	if e.conn == nil {
		return e.fail(sshsess.ErrorSocketNone, "handshake not performed")
	}
	conn, addr := e.conn, e.addr()
	cfg := &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{m},
		HostKeyCallback: e.hostCB,
		ClientVersion:   e.version,
	}
	timeout := e.cfg.Timeout
	v, err := e.run(opKey{op: "userauth-" + method}, sshsess.DirRead, func() (any, error) {
		if timeout > 0 {
			_ = conn.SetDeadline(time.Now().Add(timeout))
			defer conn.SetDeadline(time.Time{})
		}
		c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
		if err != nil {
			return nil, err
		}
		return ssh.NewClient(c, chans, reqs), nil
	})
	if err != nil {
		if iox.IsWouldBlock(err) {
			return err
		}
		return e.authError(err)
	}
	e.client = v.(*ssh.Client)
	e.log.Debug("authenticated", "user", user, "method", method,
		"server", string(e.client.ServerVersion()))
	return nil
}

func (e *Engine) addr() string {
	if e.cfg.Addr != "" {
		return e.cfg.Addr
	}
	if ra := e.conn.RemoteAddr(); ra != nil {
		return ra.String()
	}
	return ""
}

func (e *Engine) authError(err error) error {
	var keyErr *knownhosts.KeyError
	var revoked *knownhosts.RevokedError
	switch {
	case errors.As(err, &keyErr), errors.As(err, &revoked),
		strings.Contains(err.Error(), "knownhosts: "):
		return e.fail(sshsess.ErrorKnownHosts, err.Error())
	case strings.Contains(err.Error(), "unable to authenticate"):
		return e.fail(sshsess.ErrorAuthenticationFailed, err.Error())
	case errors.Is(err, io.EOF), errors.Is(err, os.ErrDeadlineExceeded):
		return err
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return err
	}
	return e.fail(sshsess.ErrorKexFailure, err.Error())
}

// OpenChannel implements sshsess.Engine. x/crypto/ssh picks its own
// window and packet sizes; window and packet are not forwarded.
func (e *Engine) OpenChannel(typ string, _, _ uint32, msg []byte) (sshsess.EngineChannel, error) {
	if e.client == nil {
		return nil, e.fail(sshsess.ErrorChannelFailure, "not authenticated")
	}
	client := e.client
	v, err := e.run(opKey{op: "channel-open", arg: typ}, sshsess.DirRead, func() (any, error) {
		ch, reqs, err := client.OpenChannel(typ, msg)
		if err != nil {
			return nil, err
		}
		return newChannel(e, ch, reqs), nil
	})
	if err != nil {
		if iox.IsWouldBlock(err) {
			return nil, err
		}
		var oe *ssh.OpenChannelError
		if errors.As(err, &oe) {
			return nil, e.fail(sshsess.ErrorChannelFailure, oe.Error())
		}
		return nil, err
	}
	return v.(*channel), nil
}

// OpenSFTP implements sshsess.Engine.
func (e *Engine) OpenSFTP() (sshsess.EngineSFTP, error) {
	if e.client == nil {
		return nil, e.fail(sshsess.ErrorChannelFailure, "not authenticated")
	}
	v, err := e.run(opKey{op: "sftp-init"}, sshsess.DirRead, e.startSFTP)
	if err != nil {
		if iox.IsWouldBlock(err) {
			return nil, err
		}
		return nil, e.fail(sshsess.ErrorSFTPProtocol, err.Error())
	}
	return v.(*sftpSubsystem), nil
}

// Free implements sshsess.Engine. The client is closed in the
// background; the caller's connection closes with it.
func (e *Engine) Free() error {
	if c := e.client; c != nil {
		e.client = nil
		go func() {
			if err := c.Close(); err != nil {
				e.log.Debug("close client", "err", err)
			}
		}()
	}
	return nil
}
