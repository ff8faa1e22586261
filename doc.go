// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package sshsess drives a non-blocking SSH protocol engine over an
// ordinary connection, exposing sessions, channels and SFTP as calls that
// suspend on transport readiness instead of blocking a thread.
//
// # Architecture
//
//   - Engine: A try-once protocol state machine ([Engine]). Every call returns
//     nil, a failure, or [code.hybscloud.com/iox.ErrWouldBlock] together with
//     the readiness it stalled on ([Engine.BlockDirections]).
//   - Transport: A readiness source for the connection ([Transport]). The
//     default waits on the Go runtime poller; engines may supply their own
//     ([Registrar]).
//   - Adapter: Each entity method runs its engine call, records the blocked
//     directions, waits for exactly those, and retries the identical call.
//   - Ownership: A [Session] admits one call at a time. [Channel], [SFTP],
//     [File] and [Dir] reach the connection through their Session.
//
// # Errors
//
// Engine failures are [*Error] values carrying a libssh2-numbered [Code]
// (negative for session errors, positive for SFTP status codes).
// Transport failures satisfy [IsIO]. Cancellation returns the context's
// error and leaves the pending readiness recorded.
//
// # Effects
//
// Engine calls are also available as [code.hybscloud.com/kont] effects:
//
//   - Operation: [Call], built with [Perform]/[ExprPerform] or entity
//     constructors such as [Channel.ReadOp] and [Dir.ReaddirOp].
//   - Cont-world: [CallThen], [CallBind], [CallDone], [Loop].
//   - Expr-world: [ExprCallThen], [ExprCallBind], [ExprCallDone], [ExprLoop].
//     Bridge via [Reify] and [Reflect].
//   - Blocking: [Exec] and [ExecExpr] wait past would-block on the transport.
//   - Stepping: [Step] and [Advance] never block; [Run] and [RunExpr] are the
//     reference proactor loop.
//
// # Example
//
//	s := sshsess.New(engine)
//	if err := s.Handshake(ctx, conn); err != nil {
//		return err
//	}
//	if err := s.Authenticate(ctx, "alice", sshsess.Password(pw)); err != nil {
//		return err
//	}
//	ch, err := s.OpenSession(ctx)
//	if err != nil {
//		return err
//	}
//	defer ch.Free()
//	out, err := sshsess.RunExpr(ctx, s,
//		sshsess.ExprCallThen(ch.ExecOp("uptime"), sshsess.ReadToEOF(ch, 0)))
package sshsess
