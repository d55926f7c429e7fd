package transport

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/danmuck/canlink/internal/protocol/frame"
)

func mustFrame(t *testing.T, id frame.ID, data ...byte) frame.Frame {
	t.Helper()
	f, err := frame.New(id, data)
	if err != nil {
		t.Fatalf("new frame: %v", err)
	}
	return f
}

func TestLoopbackBroadcastSkipsSender(t *testing.T) {
	ctx := context.Background()
	bus := NewLoopback(4)
	a := bus.Attach("a")
	b := bus.Attach("b")
	c := bus.Attach("c")

	f := mustFrame(t, frame.Encode(1, 2, frame.Single, 3), 0x42)
	if err := a.SendFrame(ctx, f); err != nil {
		t.Fatalf("send: %v", err)
	}
	for _, p := range []*Port{b, c} {
		got, ok, err := p.ReceiveFrame(ctx, 10*time.Millisecond)
		if err != nil || !ok {
			t.Fatalf("%s receive ok=%v err=%v", p.Name(), ok, err)
		}
		if got != f {
			t.Fatalf("%s frame mismatch: %v", p.Name(), got)
		}
	}
	if _, ok, _ := a.ReceiveFrame(ctx, 5*time.Millisecond); ok {
		t.Fatalf("sender must not hear its own frame")
	}
	if s := a.Stats(); s.Sent != 1 {
		t.Fatalf("unexpected sender stats: %+v", s)
	}
}

func TestLoopbackReceiveTimeout(t *testing.T) {
	bus := NewLoopback(0)
	p := bus.Attach("solo")
	start := time.Now()
	_, ok, err := p.ReceiveFrame(context.Background(), 15*time.Millisecond)
	if ok || err != nil {
		t.Fatalf("expected empty receive, ok=%v err=%v", ok, err)
	}
	if time.Since(start) < 10*time.Millisecond {
		t.Fatalf("receive returned before timeout")
	}
	if _, ok, _ := p.ReceiveFrame(context.Background(), 0); ok {
		t.Fatalf("non-blocking receive returned a frame")
	}
}

func TestLoopbackOverrunDropsForReceiver(t *testing.T) {
	ctx := context.Background()
	bus := NewLoopback(1)
	a := bus.Attach("a")
	b := bus.Attach("b")
	f := mustFrame(t, frame.Encode(0, 1, frame.Single, 1), 1)
	_ = a.SendFrame(ctx, f)
	_ = a.SendFrame(ctx, f)
	if s := b.Stats(); s.Received != 1 || s.Overruns != 1 {
		t.Fatalf("unexpected receiver stats: %+v", s)
	}
}

func TestLoopbackInterceptor(t *testing.T) {
	ctx := context.Background()
	bus := NewLoopback(4)
	a := bus.Attach("a")
	b := bus.Attach("b")
	bus.Intercept(func(from string, f frame.Frame) (frame.Frame, bool) {
		if f.Data[0] == 0xFF {
			return f, false
		}
		f.Data[0] ^= 0x01
		return f, true
	})
	_ = a.SendFrame(ctx, mustFrame(t, 1, 0xFF))
	_ = a.SendFrame(ctx, mustFrame(t, 1, 0x10))
	got, ok, _ := b.ReceiveFrame(ctx, 10*time.Millisecond)
	if !ok || got.Data[0] != 0x11 {
		t.Fatalf("expected altered frame, ok=%v got=%v", ok, got)
	}
	if _, ok, _ := b.ReceiveFrame(ctx, 5*time.Millisecond); ok {
		t.Fatalf("dropped frame was delivered")
	}
}

func TestPortClose(t *testing.T) {
	ctx := context.Background()
	bus := NewLoopback(0)
	p := bus.Attach("a")
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := p.SendFrame(ctx, mustFrame(t, 1, 1)); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if _, _, err := p.ReceiveFrame(ctx, 10*time.Millisecond); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestOpenKinds(t *testing.T) {
	bus := NewLoopback(0)
	d, err := Open("loopback", "", bus, "n1")
	if err != nil {
		t.Fatalf("open loopback: %v", err)
	}
	if _, ok := d.(*Port); !ok {
		t.Fatalf("unexpected driver type %T", d)
	}
	if _, err := Open("carrier-pigeon", "", nil, "x"); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
}
