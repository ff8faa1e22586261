// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package xssh

import (
	"context"
	"net"
	"testing"
	"time"

	"code.hybscloud.com/iox"
	"code.hybscloud.com/sshsess"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitWake(t *testing.T, e *Engine) {
	t.Helper()
	tr, err := e.Register(nil)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, tr.Wait(ctx, sshsess.DirRead))
}

func TestRunCompletion(t *testing.T) {
	skipRace(t)
	e, err := New(Config{})
	require.NoError(t, err)

	key := opKey{op: "test"}
	calls := 0
	fn := func() (any, error) { calls++; return 42, nil }

	_, err = e.run(key, sshsess.DirWrite, fn)
	assert.True(t, iox.IsWouldBlock(err))
	assert.Equal(t, sshsess.DirWrite, e.BlockDirections())

	waitWake(t, e)
	v, err := e.run(key, sshsess.DirWrite, fn)
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, 1, calls, "a retry claims the result instead of running again")
}

func TestRunStillPending(t *testing.T) {
	skipRace(t)
	e, err := New(Config{})
	require.NoError(t, err)

	release := make(chan struct{})
	key := opKey{op: "slow"}
	fn := func() (any, error) { <-release; return "done", nil }

	_, err = e.run(key, sshsess.DirRead, fn)
	assert.True(t, iox.IsWouldBlock(err))
	_, err = e.run(key, sshsess.DirRead, fn)
	assert.True(t, iox.IsWouldBlock(err), "no completion yet")

	close(release)
	waitWake(t, e)
	v, err := e.run(key, sshsess.DirRead, fn)
	require.NoError(t, err)
	assert.Equal(t, "done", v)
}

func TestRunDropsStaleCompletion(t *testing.T) {
	skipRace(t)
	e, err := New(Config{})
	require.NoError(t, err)

	// A cancelled call leaves its worker behind.
	_, err = e.run(opKey{op: "old"}, sshsess.DirRead, func() (any, error) { return "old", nil })
	assert.True(t, iox.IsWouldBlock(err))
	waitWake(t, e)

	next := opKey{op: "new", arg: "/path"}
	_, err = e.run(next, sshsess.DirRead, func() (any, error) { return "new", nil })
	assert.True(t, iox.IsWouldBlock(err), "stale result is dropped and the new call launched")
	waitWake(t, e)
	v, err := e.run(next, sshsess.DirRead, nil)
	require.NoError(t, err)
	assert.Equal(t, "new", v)
}

func TestSetBannerAfterHandshake(t *testing.T) {
	e, err := New(Config{})
	require.NoError(t, err)
	require.NoError(t, e.SetBanner("client_1.0"))
	assert.Equal(t, "SSH-2.0-client_1.0", e.version)

	assert.ErrorIs(t, e.Handshake(nil), sshsess.ErrorBadSocket)
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	require.NoError(t, e.Handshake(client))
	assert.ErrorIs(t, e.SetBanner("late"), sshsess.ErrorBadUse)
	code, msg := e.LastError()
	assert.Equal(t, sshsess.ErrorBadUse, code)
	assert.Equal(t, "banner set after handshake", msg)
}

func TestNotAuthenticated(t *testing.T) {
	e, err := New(Config{})
	require.NoError(t, err)
	assert.False(t, e.Authenticated())
	_, err = e.OpenChannel(sshsess.ChannelTypeSession, 0, 0, nil)
	assert.ErrorIs(t, err, sshsess.ErrorChannelFailure)
	_, err = e.OpenSFTP()
	assert.ErrorIs(t, err, sshsess.ErrorChannelFailure)
	assert.ErrorIs(t, e.UserauthPassword("u", "p"), sshsess.ErrorSocketNone)
	assert.NoError(t, e.Free())
}

func TestWaitBlocksOncePerWouldBlock(t *testing.T) {
	skipRace(t)
	e, err := New(Config{})
	require.NoError(t, err)
	tr, err := e.Register(nil)
	require.NoError(t, err)
	require.NoError(t, tr.Wait(context.Background(), sshsess.DirRead), "nothing reported would-block")

	release := make(chan struct{})
	defer close(release)
	_, err = e.run(opKey{op: "slow"}, sshsess.DirRead, func() (any, error) { <-release; return nil, nil })
	assert.True(t, iox.IsWouldBlock(err))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, tr.Wait(ctx, sshsess.DirRead), context.DeadlineExceeded)
	assert.NoError(t, tr.Wait(context.Background(), sshsess.DirRead), "a cancelled wait does not carry over")
}
