// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package sshsess

import (
	"io"
	"log/slog"
	"net"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// Option configures a Session.
type Option func(*Session)

// WithLogger routes session diagnostics to l. Waits and blocked
// directions are logged at debug level, swallowed release failures at
// warn level. Nil keeps the default, which discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.log = l
		}
	}
}

// WithTransport overrides how Handshake registers the connection.
// Engines implementing Registrar take precedence.
func WithTransport(f func(net.Conn) (Transport, error)) Option {
	return func(s *Session) { s.newTransport = f }
}

// WithBanner sets the identification banner sent by Handshake.
func WithBanner(banner string) Option {
	return func(s *Session) { s.banner = banner }
}
