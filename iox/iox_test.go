package iox

import (
	"errors"
	"strings"
	"testing"
)

type spyCloser struct{ closed bool }

func (s *spyCloser) Close() error { s.closed = true; return errors.New("ignored") }

func TestDiscardClose(t *testing.T) {
	s := &spyCloser{}
	DiscardClose(s)
	if !s.closed {
		t.Fatal("Close was not called")
	}
}

func TestCloseFunc(t *testing.T) {
	s := &spyCloser{}
	fn := CloseFunc(s)
	if s.closed {
		t.Fatal("Close called before invoking returned func")
	}
	fn()
	if !s.closed {
		t.Fatal("Close was not called")
	}
}

func TestDiscardErr(t *testing.T) {
	called := false
	DiscardErr(func() error {
		called = true
		return errors.New("ignored")
	})
	if !called {
		t.Fatal("fn was not called")
	}
}

func TestCountingWriter(t *testing.T) {
	var sink strings.Builder
	cw := &CountingWriter{W: &sink}
	for _, s := range []string{"abc", "", "defgh"} {
		if _, err := cw.Write([]byte(s)); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}
	if cw.N != 8 || sink.String() != "abcdefgh" {
		t.Errorf("N = %d, sink = %q", cw.N, sink.String())
	}
}
