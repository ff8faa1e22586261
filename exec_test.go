// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package sshsess_test

import (
	"context"
	"errors"
	"testing"

	"code.hybscloud.com/kont"
	"code.hybscloud.com/sshsess"
	"code.hybscloud.com/sshsess/enginetest"
)

func TestExecShellRoundTrip(t *testing.T) {
	e := enginetest.New()
	s, ch := openChannel(t, e)
	if err := ch.Shell(context.Background()); err != nil {
		t.Fatalf("shell: %v", err)
	}

	buf := make([]byte, 16)
	e.Block(1, sshsess.DirWrite)
	protocol := sshsess.CallBind(ch.WriteOp([]byte("ping")), func(n int) kont.Eff[string] {
		return sshsess.CallBind(ch.ReadOp(buf), func(m int) kont.Eff[string] {
			return kont.Pure(string(buf[:m]))
		})
	})
	got, err := sshsess.Exec(context.Background(), s, protocol)
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if got != "ping" {
		t.Fatalf("got %q, want %q", got, "ping")
	}
}

func TestExecExprFused(t *testing.T) {
	e := enginetest.New().AddCommand("date", enginetest.Command{Stdout: []byte("today")})
	s, ch := openChannel(t, e)

	buf := make([]byte, 64)
	protocol := sshsess.ExprCallThen(ch.ExecOp("date"),
		sshsess.ExprCallBind(ch.ReadOp(buf), func(n int) kont.Expr[string] {
			out := string(buf[:n])
			return sshsess.ExprCallDone(ch.CloseOp(), out)
		}))
	got, err := sshsess.ExecExpr(context.Background(), s, protocol)
	if err != nil {
		t.Fatalf("ExecExpr: %v", err)
	}
	if got != "today" {
		t.Fatalf("got %q, want %q", got, "today")
	}
	if n := e.Calls("channel-close"); n != 1 {
		t.Fatalf("channel-close called %d times, want 1", n)
	}
}

func TestExecCallDone(t *testing.T) {
	e := enginetest.New()
	s, ch := openChannel(t, e)

	got, err := sshsess.Exec(context.Background(), s, sshsess.CallDone(ch.SendEOFOp(), 42))
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if got != 42 {
		t.Fatalf("got %d, want 42", got)
	}
	if n := e.Calls("send-eof"); n != 1 {
		t.Fatalf("send-eof called %d times, want 1", n)
	}
}

func TestExecPerform(t *testing.T) {
	e := enginetest.New()
	s := newSession(t, e)

	e.Block(2, sshsess.DirRead)
	protocol := kont.Bind(sshsess.Perform(func() (string, error) {
		return s.Engine().UserauthList(testUser)
	}), func(methods string) kont.Eff[int] {
		return kont.Pure(len(methods))
	})
	got, err := sshsess.Exec(context.Background(), s, protocol)
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if got != len("publickey,password") {
		t.Fatalf("got %d", got)
	}
	if n := e.Calls("userauth-list"); n != 3 {
		t.Fatalf("userauth-list called %d times, want 3", n)
	}
}

func TestExecFailureStops(t *testing.T) {
	e := enginetest.New()
	s, ch := openChannel(t, e)

	e.Deny("exec")
	reached := false
	protocol := sshsess.CallThen(ch.ExecOp("ls"), kont.Bind(kont.Pure(0), func(int) kont.Eff[int] {
		reached = true
		return kont.Pure(1)
	}))
	_, err := sshsess.Exec(context.Background(), s, protocol)
	if !sshsess.IsCode(err, sshsess.ErrorChannelRequestDenied) {
		t.Fatalf("got %v, want ErrorChannelRequestDenied", err)
	}
	if reached {
		t.Fatal("continuation ran after a failed call")
	}
}

func TestExecThrow(t *testing.T) {
	e := enginetest.New()
	s, ch := openChannel(t, e)
	boom := errors.New("boom")

	protocol := sshsess.CallThen(ch.SendEOFOp(), kont.ThrowError[error, int](boom))
	_, err := sshsess.Exec(context.Background(), s, protocol)
	if !errors.Is(err, boom) {
		t.Fatalf("got %v, want boom", err)
	}
	if n := e.Calls("send-eof"); n != 1 {
		t.Fatalf("send-eof called %d times, want 1", n)
	}

	_, err = sshsess.ExecExpr(context.Background(), s, kont.ExprThrowError[error, int](boom))
	if !errors.Is(err, boom) {
		t.Fatalf("expr: got %v, want boom", err)
	}
}

func TestExecCatchError(t *testing.T) {
	e := enginetest.New()
	s, ch := openChannel(t, e)

	protocol := kont.Bind(
		kont.CatchError[error](
			kont.ThrowError[error, string](errors.New("nope")),
			func(err error) kont.Eff[string] {
				return kont.Pure("recovered: " + err.Error())
			},
		),
		func(msg string) kont.Eff[string] {
			return sshsess.CallDone(ch.SendEOFOp(), msg)
		},
	)
	got, err := sshsess.Exec(context.Background(), s, protocol)
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if got != "recovered: nope" {
		t.Fatalf("got %q", got)
	}
}

func TestExecClosedEntity(t *testing.T) {
	e := enginetest.New()
	s, ch := openChannel(t, e)
	ch.Free()

	_, err := sshsess.Exec(context.Background(), s, sshsess.CallDone(ch.WriteOp([]byte("x")), 0))
	if !errors.Is(err, sshsess.ErrClosed) {
		t.Fatalf("got %v, want ErrClosed", err)
	}
	if n := e.Calls("write"); n != 0 {
		t.Fatalf("write reached the engine %d times", n)
	}
}
