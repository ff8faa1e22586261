// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package xssh_test

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"code.hybscloud.com/sshsess"
	"code.hybscloud.com/sshsess/xssh"
	"github.com/pkg/sftp"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

const (
	testUser     = "alice"
	testPassword = "secret"
)

// server is a loopback SSH server running exec and the sftp subsystem.
type server struct {
	addr    string
	hostKey ssh.Signer

	mu      sync.Mutex
	keys    [][]byte
	env     map[string]string
	version string
}

func newKey(tb testing.TB) (ed25519.PrivateKey, ssh.Signer) {
	tb.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(tb, err)
	signer, err := ssh.NewSignerFromKey(priv)
	require.NoError(tb, err)
	return priv, signer
}

// pemKey encodes priv as an unencrypted OpenSSH private key.
func pemKey(tb testing.TB, priv ed25519.PrivateKey) []byte {
	tb.Helper()
	block, err := ssh.MarshalPrivateKey(priv, "")
	require.NoError(tb, err)
	return pem.EncodeToMemory(block)
}

func newServer(tb testing.TB) *server {
	tb.Helper()
	_, hostKey := newKey(tb)
	srv := &server{hostKey: hostKey, env: make(map[string]string)}

	cfg := &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			srv.mu.Lock()
			srv.version = string(c.ClientVersion())
			srv.mu.Unlock()
			if c.User() == testUser && string(pass) == testPassword {
				return nil, nil
			}
			return nil, fmt.Errorf("password rejected for %q", c.User())
		},
		PublicKeyCallback: func(c ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			srv.mu.Lock()
			defer srv.mu.Unlock()
			for _, k := range srv.keys {
				if bytes.Equal(k, key.Marshal()) {
					return nil, nil
				}
			}
			return nil, fmt.Errorf("unknown key")
		},
	}
	cfg.AddHostKey(hostKey)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(tb, err)
	srv.addr = ln.Addr().String()
	tb.Cleanup(func() { _ = ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go srv.serve(conn, cfg)
		}
	}()
	return srv
}

// authorize accepts key for public key authentication.
func (srv *server) authorize(key ssh.PublicKey) {
	srv.mu.Lock()
	srv.keys = append(srv.keys, key.Marshal())
	srv.mu.Unlock()
}

func (srv *server) clientVersion() string {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return srv.version
}

func (srv *server) getenv(name string) string {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return srv.env[name]
}

func (srv *server) serve(conn net.Conn, cfg *ssh.ServerConfig) {
	defer conn.Close()
	_, chans, reqs, err := ssh.NewServerConn(conn, cfg)
	if err != nil {
		return
	}
	go ssh.DiscardRequests(reqs)
	for nc := range chans {
		if nc.ChannelType() != "session" {
			_ = nc.Reject(ssh.UnknownChannelType, "only session channels")
			continue
		}
		ch, reqs, err := nc.Accept()
		if err != nil {
			continue
		}
		go srv.session(ch, reqs)
	}
}

func (srv *server) session(ch ssh.Channel, reqs <-chan *ssh.Request) {
	for req := range reqs {
		switch req.Type {
		case "env":
			var m struct{ Name, Value string }
			if ssh.Unmarshal(req.Payload, &m) != nil {
				_ = req.Reply(false, nil)
				continue
			}
			srv.mu.Lock()
			srv.env[m.Name] = m.Value
			srv.mu.Unlock()
			_ = req.Reply(true, nil)
		case "exec":
			var m struct{ Command string }
			if ssh.Unmarshal(req.Payload, &m) != nil {
				_ = req.Reply(false, nil)
				continue
			}
			_ = req.Reply(true, nil)
			go run(ch, m.Command)
		case "subsystem":
			var m struct{ Name string }
			if ssh.Unmarshal(req.Payload, &m) != nil || m.Name != "sftp" {
				_ = req.Reply(false, nil)
				continue
			}
			_ = req.Reply(true, nil)
			go func() {
				defer ch.Close()
				s, err := sftp.NewServer(ch)
				if err != nil {
					return
				}
				_ = s.Serve()
			}()
		default:
			_ = req.Reply(false, nil)
		}
	}
}

// run plays a canned command and reports its exit status.
func run(ch ssh.Channel, command string) {
	var status uint32
	switch command {
	case "echo hello":
		_, _ = io.WriteString(ch, "hello\n")
	case "fail":
		_, _ = io.WriteString(ch.Stderr(), "boom\n")
		status = 3
	case "cat":
		_, _ = io.Copy(ch, ch)
	default:
		_, _ = io.WriteString(ch.Stderr(), command+": not found\n")
		status = 127
	}
	_, _ = ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{status}))
	_ = ch.CloseWrite()
	_ = ch.Close()
}

// dial connects a session to srv without authenticating.
func dial(tb testing.TB, srv *server, cfg xssh.Config, opts ...sshsess.Option) *sshsess.Session {
	tb.Helper()
	conn, err := net.Dial("tcp", srv.addr)
	require.NoError(tb, err)
	e, err := xssh.New(cfg)
	require.NoError(tb, err)
	s := sshsess.New(e, opts...)
	tb.Cleanup(func() {
		_ = s.Close()
		_ = conn.Close()
	})
	require.NoError(tb, s.Handshake(testContext(tb), conn))
	return s
}

// login returns an authenticated session to srv.
func login(tb testing.TB, srv *server) *sshsess.Session {
	tb.Helper()
	s := dial(tb, srv, xssh.Config{})
	require.NoError(tb, s.Authenticate(testContext(tb), testUser, sshsess.Password(testPassword)))
	return s
}

func testContext(tb testing.TB) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	tb.Cleanup(cancel)
	return ctx
}
