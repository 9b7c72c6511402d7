package sink

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestSinkConvertsBeforeEnqueue(t *testing.T) {
	dest := &testDest{auto: true}
	w := New(quiet(), dest)
	go w.Start(context.Background())
	defer w.Close()

	conv := func(in int, wctx WriteContext) (string, error) {
		if wctx.Timestamp.IsZero() {
			t.Error("WriteContext.Timestamp should be set")
		}
		return strings.Repeat("x", in), nil
	}
	s := NewSink(conv, w)

	if err := s.Write(context.Background(), 3); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := s.Writer().Flush(context.Background()); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	waitFor(t, func() bool { return dest.callCount() == 1 }, "one submission")
	if got := dest.call(0); len(got) != 1 || got[0] != "xxx" {
		t.Fatalf("batch = %v, want [xxx]", got)
	}
}

func TestSinkConversionErrorIsNotBuffered(t *testing.T) {
	dest := &testDest{auto: true}
	cfg := quiet()
	cfg.MaxTimeInBuffer = 10 * time.Millisecond
	w := New(cfg, dest)
	go w.Start(context.Background())
	defer w.Close()

	convErr := errors.New("bad element")
	s := NewSink(func(int, WriteContext) (string, error) { return "", convErr }, w)

	if err := s.Write(context.Background(), 1); !errors.Is(err, convErr) {
		t.Fatalf("Write = %v, want conversion error", err)
	}
	time.Sleep(30 * time.Millisecond)
	if n := dest.callCount(); n != 0 {
		t.Fatalf("submissions = %d, want 0 (nothing buffered)", n)
	}
}
