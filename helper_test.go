// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package sshsess_test

import (
	"context"
	"testing"

	"code.hybscloud.com/iox"
	"code.hybscloud.com/kont"
	"code.hybscloud.com/sshsess"
	"code.hybscloud.com/sshsess/enginetest"
	"github.com/stretchr/testify/require"
)

const (
	testUser     = "alice"
	testPassword = "secret"
)

// newSession returns a handshaken, authenticated session over e.
func newSession(tb testing.TB, e *enginetest.Engine, opts ...sshsess.Option) *sshsess.Session {
	tb.Helper()
	e.AddUser(testUser, testPassword)
	s := sshsess.New(e, opts...)
	ctx := context.Background()
	require.NoError(tb, s.Handshake(ctx, nil))
	require.NoError(tb, s.Authenticate(ctx, testUser, sshsess.Password(testPassword)))
	tb.Cleanup(func() { _ = s.Close() })
	return s
}

// newSFTP returns the SFTP subsystem of a fresh session over e.
func newSFTP(tb testing.TB, e *enginetest.Engine) *sshsess.SFTP {
	tb.Helper()
	s := newSession(tb, e)
	f, err := s.SFTP(context.Background())
	require.NoError(tb, err)
	tb.Cleanup(f.Close)
	return f
}

// stepAll drives a computation to completion via Step+Advance, waiting
// on the session's pending readiness after every would-block.
// It returns the number of would-block rounds observed.
func stepAll[R any](tb testing.TB, s *sshsess.Session, protocol kont.Expr[R]) (R, int) {
	tb.Helper()
	blocked := 0
	result, susp := sshsess.Step(protocol)
	for susp != nil {
		var err error
		result, susp, err = sshsess.Advance(s, susp)
		if err == nil {
			continue
		}
		require.ErrorIs(tb, err, iox.ErrWouldBlock)
		require.NotNil(tb, susp)
		blocked++
		require.NoError(tb, s.WaitPending(context.Background()))
	}
	return result, blocked
}

// openChannel returns a fresh session over e and a session channel on it.
func openChannel(tb testing.TB, e *enginetest.Engine) (*sshsess.Session, *sshsess.Channel) {
	tb.Helper()
	s := newSession(tb, e)
	ch, err := s.OpenSession(context.Background())
	require.NoError(tb, err)
	tb.Cleanup(ch.Free)
	return s, ch
}
