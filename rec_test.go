// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package sshsess_test

import (
	"bytes"
	"context"
	"io"
	"testing"

	"code.hybscloud.com/kont"
	"code.hybscloud.com/sshsess"
	"code.hybscloud.com/sshsess/enginetest"
)

func TestLoopWriteAll(t *testing.T) {
	e := enginetest.New()
	s, ch := openChannel(t, e)
	if err := ch.Shell(context.Background()); err != nil {
		t.Fatalf("shell: %v", err)
	}

	payload := []byte("0123456789")
	// Cont-world: write in packet-sized pieces until nothing is left.
	protocol := sshsess.Loop(payload, func(rest []byte) kont.Eff[kont.Either[[]byte, int]] {
		if len(rest) == 0 {
			return kont.Pure(kont.Right[[]byte](len(payload)))
		}
		chunk := rest[:min(3, len(rest))]
		return sshsess.CallBind(ch.WriteOp(chunk), func(n int) kont.Eff[kont.Either[[]byte, int]] {
			return kont.Pure(kont.Left[[]byte, int](rest[n:]))
		})
	})
	n, err := sshsess.Exec(context.Background(), s, protocol)
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if n != len(payload) {
		t.Fatalf("wrote %d, want %d", n, len(payload))
	}
	if w := e.Calls("write"); w != 4 {
		t.Fatalf("write called %d times, want 4", w)
	}
}

func TestExprLoopPure(t *testing.T) {
	// Iterations that never suspend are unrolled.
	protocol := sshsess.ExprLoop(0, func(i int) kont.Expr[kont.Either[int, int]] {
		if i == 1000 {
			return kont.ExprReturn(kont.Right[int](i))
		}
		return kont.ExprReturn(kont.Left[int, int](i + 1))
	})
	got, susp := sshsess.Step(protocol)
	if susp != nil {
		t.Fatal("pure loop should not suspend")
	}
	if got != 1000 {
		t.Fatalf("got %d, want 1000", got)
	}
}

func TestReadToEOF(t *testing.T) {
	stdout := bytes.Repeat([]byte("x"), 100)
	e := enginetest.New().AddCommand("yes", enginetest.Command{Stdout: stdout})
	s, ch := openChannel(t, e)
	if err := ch.Exec(context.Background(), "yes"); err != nil {
		t.Fatalf("exec: %v", err)
	}

	e.Block(1, sshsess.DirRead)
	out, blocked := stepAll(t, s, sshsess.ReadToEOF(ch, 32))
	if !bytes.Equal(out, stdout) {
		t.Fatalf("got %d bytes, want %d", len(out), len(stdout))
	}
	if blocked != 1 {
		t.Fatalf("blocked %d times, want 1", blocked)
	}
	// 4 chunks, one EOF read, one blocked attempt
	if n := e.Calls("read"); n != 6 {
		t.Fatalf("read called %d times, want 6", n)
	}
}

func TestReadToEOFEmpty(t *testing.T) {
	e := enginetest.New().AddCommand("true", enginetest.Command{})
	s, ch := openChannel(t, e)
	if err := ch.Exec(context.Background(), "true"); err != nil {
		t.Fatalf("exec: %v", err)
	}
	out, err := sshsess.ExecExpr(context.Background(), s, sshsess.ReadToEOF(ch, 0))
	if err != nil {
		t.Fatalf("ExecExpr: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("got %q, want nothing", out)
	}
}

func TestReadDirAll(t *testing.T) {
	e := enginetest.New().
		AddDir("/srv", 0o755).
		AddDir("/srv/www", 0o755).
		AddFile("/srv/README", []byte("hi"), 0o644).
		AddSymlink("/srv/current", "/srv/www")
	s := newSession(t, e)
	ctx := context.Background()
	f, err := s.SFTP(ctx)
	if err != nil {
		t.Fatalf("sftp: %v", err)
	}
	defer f.Close()
	d, err := f.Opendir(ctx, "/srv")
	if err != nil {
		t.Fatalf("opendir: %v", err)
	}
	defer d.Close()

	e.Block(2, sshsess.DirRead)
	entries, err := sshsess.RunExpr(ctx, s, sshsess.ReadDirAll(d))
	if err != nil {
		t.Fatalf("RunExpr: %v", err)
	}
	want := []string{"README", "current", "www"}
	if len(entries) != len(want) {
		t.Fatalf("got %d entries, want %d", len(entries), len(want))
	}
	for i, ent := range entries {
		if ent.Name != want[i] {
			t.Fatalf("entry %d: got %q, want %q", i, ent.Name, want[i])
		}
	}
	if !entries[2].Attr.IsDir() {
		t.Fatalf("www: got %v, want a directory", entries[2].Attr)
	}

	calls := e.Calls("sftp-readdir")
	if _, err := d.Readdir(ctx); err != io.EOF {
		t.Fatalf("got %v, want io.EOF", err)
	}
	if e.Calls("sftp-readdir") != calls {
		t.Fatal("Readdir after ReadDirAll reached the engine")
	}
}

func TestReadFileLoop(t *testing.T) {
	e := enginetest.New().AddFile("/blob", []byte("abcdefgh"), 0o600)
	s := newSession(t, e)
	ctx := context.Background()
	f, err := s.SFTP(ctx)
	if err != nil {
		t.Fatalf("sftp: %v", err)
	}
	defer f.Close()
	fl, err := f.Open(ctx, "/blob")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer fl.Close()

	buf := make([]byte, 3)
	protocol := sshsess.ExprLoop([]byte(nil), func(acc []byte) kont.Expr[kont.Either[[]byte, []byte]] {
		return sshsess.ExprCallBind(fl.ReadOp(buf), func(n int) kont.Expr[kont.Either[[]byte, []byte]] {
			if n == 0 {
				return kont.ExprReturn(kont.Right[[]byte](acc))
			}
			return kont.ExprReturn(kont.Left[[]byte, []byte](append(acc, buf[:n]...)))
		})
	})
	got, err := sshsess.RunExpr(ctx, s, protocol)
	if err != nil {
		t.Fatalf("RunExpr: %v", err)
	}
	if string(got) != "abcdefgh" {
		t.Fatalf("got %q", got)
	}
}
