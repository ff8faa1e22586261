// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package sshsess_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"code.hybscloud.com/sshsess"
	"code.hybscloud.com/sshsess/enginetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestCallDirections checks that only the directions the engine blocked on
// are waited for, and that readiness observed for a retry is cleared
// before the next wait.
func TestCallDirections(t *testing.T) {
	e := enginetest.New()
	s := newSession(t, e)
	tr := e.Transport()
	tr.ResetLog()

	e.Block(1, sshsess.DirWrite).Block(1, sshsess.DirRead|sshsess.DirWrite)
	methods, err := s.ListUserauth(context.Background(), testUser)
	require.NoError(t, err)
	assert.Equal(t, []string{"publickey", "password"}, methods)

	assert.Equal(t, []sshsess.Direction{sshsess.DirWrite, sshsess.DirRead, sshsess.DirWrite}, tr.Waits())
	assert.Equal(t, []sshsess.Direction{sshsess.DirWrite}, tr.Clears())
	assert.Equal(t, 3, e.Calls("userauth-list"))
	for _, entry := range e.Log()[len(e.Log())-3:] {
		assert.Equal(t, "userauth-list alice", entry, "retries repeat the same call")
	}
	assert.Equal(t, sshsess.Direction(0), s.Pending())
}

// TestCallWrongDirectionNoRetry checks that readiness in a direction
// the engine did not ask for does not trigger a retry.
func TestCallWrongDirectionNoRetry(t *testing.T) {
	e := enginetest.New()
	s := newSession(t, e)
	tr := e.Transport()
	tr.SetAutoReady(false)
	tr.ResetLog()

	e.Block(1, sshsess.DirWrite)
	tr.Ready(sshsess.DirRead)
	done := make(chan error, 1)
	go func() {
		_, err := s.ListUserauth(context.Background(), testUser)
		done <- err
	}()

	require.Eventually(t, func() bool { return len(tr.Waits()) > 0 }, 5*time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, e.Calls("userauth-list"), "read readiness must not retry a write-blocked call")
	select {
	case err := <-done:
		t.Fatalf("call completed on the wrong direction: %v", err)
	default:
	}

	tr.Ready(sshsess.DirWrite)
	require.NoError(t, <-done)
	assert.Equal(t, 2, e.Calls("userauth-list"))
	assert.Equal(t, []sshsess.Direction{sshsess.DirWrite}, tr.Waits())
}

func TestCallNoDirection(t *testing.T) {
	e := enginetest.New()
	s := newSession(t, e)

	e.Block(1, 0)
	_, err := s.ListUserauth(context.Background(), testUser)
	require.Error(t, err)
	assert.True(t, sshsess.IsCode(err, sshsess.ErrorBadUse))
	assert.Contains(t, err.Error(), "without direction")
	assert.Equal(t, 1, e.Calls("userauth-list"), "no retry loop")
	assert.Equal(t, sshsess.Direction(0), s.Pending())
}

func TestCallCancelKeepsPending(t *testing.T) {
	e := enginetest.New()
	s := newSession(t, e)
	tr := e.Transport()
	tr.SetAutoReady(false)

	e.Block(1, sshsess.DirRead)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := s.ListUserauth(ctx, testUser)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, sshsess.DirRead, s.Pending())
	assert.Equal(t, 1, e.Calls("userauth-list"))

	tr.Ready(sshsess.DirRead)
	_, err = s.ListUserauth(context.Background(), testUser)
	require.NoError(t, err)
	assert.Equal(t, 2, e.Calls("userauth-list"))
}

func TestCallTransportError(t *testing.T) {
	e := enginetest.New()
	s := newSession(t, e)
	boom := errors.New("boom")
	e.Transport().SetWaitError(boom)

	e.Block(1, sshsess.DirRead)
	_, err := s.ListUserauth(context.Background(), testUser)
	assert.True(t, sshsess.IsIO(err))
	assert.ErrorIs(t, err, boom)
	_, isCode := sshsess.CodeOf(err)
	assert.False(t, isCode)
}

func TestCallEngineFailure(t *testing.T) {
	e := enginetest.New()
	s := newSession(t, e)

	e.Fail(sshsess.ErrorSocketDisconnect, "")
	_, err := s.ListUserauth(context.Background(), testUser)
	assert.True(t, sshsess.IsCode(err, sshsess.ErrorSocketDisconnect))
	assert.Contains(t, err.Error(), "socket disconnected")
	assert.False(t, sshsess.IsIO(err))

	e.Fail(sshsess.ErrorTimeout, "Timed out waiting on socket")
	_, err = s.ListUserauth(context.Background(), testUser)
	assert.True(t, sshsess.IsCode(err, sshsess.ErrorTimeout))
	assert.Contains(t, err.Error(), "Timed out waiting on socket")
}

func TestCallCancelledBeforeWait(t *testing.T) {
	e := enginetest.New()
	s := newSession(t, e)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e.Block(1, sshsess.DirRead)
	_, err := s.ListUserauth(ctx, testUser)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, e.Calls("userauth-list"))
}
