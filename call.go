// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package sshsess

import (
	"context"

	"code.hybscloud.com/iox"
)

// poll runs try exactly once against the session's engine.
//
// The pending direction is cleared before the call and only set again
// right after a would-block result. A would-block with no direction is
// a broken engine contract and becomes a hard failure rather than a
// retry loop. Never blocks.
func poll[T any](s *Session, try func() (T, error)) (T, error) {
	observed := s.pending
	s.pending = dirNone

	v, err := try()
	if err == nil {
		return v, nil
	}
	var zero T
	if !isWouldBlock(err) {
		return zero, translate(s.engine, err)
	}

	dir := s.engine.BlockDirections() & dirBoth
	if dir == dirNone {
		s.log.Debug("engine would block without direction", "serial", s.serial)
		return zero, &Error{Code: ErrorBadUse, Msg: ErrNoDirection.Error()}
	}
	s.pending = dir
	s.log.Debug("blocked", "serial", s.serial, "directions", dir)

	for _, d := range [...]Direction{DirRead, DirWrite} {
		if observed&d == 0 || s.transport == nil {
			continue
		}
		s.log.Debug("clear readiness", "serial", s.serial, "direction", d)
		if cerr := s.transport.Clear(d); cerr != nil {
			return zero, wrapIO(cerr)
		}
	}
	return zero, iox.ErrWouldBlock
}

// waitPending waits for exactly the directions the last would-block
// call stalled on, read before write. The pending set is left intact
// on failure so that a later call resumes against the same condition.
func (s *Session) waitPending(ctx context.Context) error {
	for _, d := range [...]Direction{DirRead, DirWrite} {
		if s.pending&d == 0 {
			continue
		}
		if s.transport == nil {
			return ErrNotHandshaken
		}
		s.log.Debug("wait readiness", "serial", s.serial, "direction", d)
		if err := s.transport.Wait(ctx, d); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return wrapIO(err)
		}
	}
	return nil
}

// call drives try until it completes or fails, suspending on transport
// readiness between attempts. The caller must hold the session.
func call[T any](ctx context.Context, s *Session, try func() (T, error)) (T, error) {
	for {
		if err := s.waitPending(ctx); err != nil {
			var zero T
			return zero, err
		}
		v, err := poll(s, try)
		if err == nil || !iox.IsWouldBlock(err) {
			return v, err
		}
	}
}

// do is call with the single-owner guard held for the whole exchange.
func do[T any](ctx context.Context, s *Session, try func() (T, error)) (T, error) {
	var zero T
	if err := s.acquire(); err != nil {
		return zero, err
	}
	defer s.release()
	return call(ctx, s, try)
}

// doErr adapts a try-once func with no result.
func doErr(ctx context.Context, s *Session, try func() error) error {
	_, err := do(ctx, s, func() (struct{}, error) { return struct{}{}, try() })
	return err
}
