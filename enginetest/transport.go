// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package enginetest

import (
	"context"
	"sync"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/iox"
	"code.hybscloud.com/sshsess"
)

// Transport is a level-triggered readiness source driven by the test.
//
// In auto-ready mode every Wait returns at once. Otherwise Wait spins
// with iox.Backoff until Ready raised the level or ctx is done, and
// Clear lowers it again.
type Transport struct {
	read, write atomix.Uint32
	auto        atomix.Uint32

	mu      sync.Mutex
	waits   []sshsess.Direction
	clears  []sshsess.Direction
	waitErr error
}

// NewTransport returns a transport in auto-ready mode.
func NewTransport() *Transport {
	t := &Transport{}
	t.auto.Store(1)
	return t
}

// SetAutoReady switches auto-ready mode.
func (t *Transport) SetAutoReady(on bool) {
	if on {
		t.auto.Store(1)
	} else {
		t.auto.Store(0)
	}
}

// SetWaitError makes every later Wait fail with err. Nil restores
// normal waits.
func (t *Transport) SetWaitError(err error) {
	t.mu.Lock()
	t.waitErr = err
	t.mu.Unlock()
}

func (t *Transport) level(dir sshsess.Direction) *atomix.Uint32 {
	if dir == sshsess.DirWrite {
		return &t.write
	}
	return &t.read
}

// Ready raises the readiness level of every direction in dir.
func (t *Transport) Ready(dir sshsess.Direction) {
	for _, d := range [...]sshsess.Direction{sshsess.DirRead, sshsess.DirWrite} {
		if dir&d != 0 {
			t.level(d).Store(1)
		}
	}
}

// Wait implements sshsess.Transport.
func (t *Transport) Wait(ctx context.Context, dir sshsess.Direction) error {
	t.mu.Lock()
	t.waits = append(t.waits, dir)
	werr := t.waitErr
	t.mu.Unlock()
	if werr != nil {
		return werr
	}

	var bo iox.Backoff
	for t.auto.Load() == 0 && t.level(dir).Load() == 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		bo.Wait()
	}
	return ctx.Err()
}

// Clear implements sshsess.Transport.
func (t *Transport) Clear(dir sshsess.Direction) error {
	t.mu.Lock()
	t.clears = append(t.clears, dir)
	t.mu.Unlock()
	t.level(dir).Store(0)
	return nil
}

// Waits returns the directions waited on, in order.
func (t *Transport) Waits() []sshsess.Direction {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]sshsess.Direction(nil), t.waits...)
}

// Clears returns the directions cleared, in order.
func (t *Transport) Clears() []sshsess.Direction {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]sshsess.Direction(nil), t.clears...)
}

// ResetLog forgets recorded waits and clears.
func (t *Transport) ResetLog() {
	t.mu.Lock()
	t.waits, t.clears = nil, nil
	t.mu.Unlock()
}
