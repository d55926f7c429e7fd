package session

import (
	"errors"
	"testing"
	"time"

	"github.com/danmuck/canlink/internal/protocol/frame"
	"github.com/danmuck/canlink/internal/testutil/testlog"
)

func TestNextBackoffDelayDeterministicNoJitter(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{
		InitialDelay: 20 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     100 * time.Millisecond,
		Jitter:       false,
	}
	if got := NextBackoffDelay(cfg, 1, nil); got != 20*time.Millisecond {
		t.Fatalf("attempt1 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 2, nil); got != 40*time.Millisecond {
		t.Fatalf("attempt2 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 3, nil); got != 80*time.Millisecond {
		t.Fatalf("attempt3 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 6, nil); got != 100*time.Millisecond {
		t.Fatalf("attempt6 got=%v", got)
	}
}

func TestNextBackoffDelayZeroValueIsImmediate(t *testing.T) {
	testlog.Start(t)
	if got := NextBackoffDelay(BackoffConfig{}, 3, nil); got != 0 {
		t.Fatalf("expected no delay, got=%v", got)
	}
}

func TestConfigDefaults(t *testing.T) {
	testlog.Start(t)
	cfg := Config{RetryLimit: 0}.WithDefaults()
	if cfg.RetryLimit != 0 {
		t.Fatalf("retry limit zero must survive defaults")
	}
	if cfg.AckTimeout != 100*time.Millisecond || cfg.ReassemblyTimeout != 500*time.Millisecond {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.AcksEnabled() {
		t.Fatalf("acks must be disabled with retry limit 0")
	}
	if got := DefaultConfig().MaxSendDuration(); got != 400*time.Millisecond {
		t.Fatalf("unexpected max send duration: %v", got)
	}
	if err := (Config{RetryLimit: -1}).Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestAckFrameRoundTrip(t *testing.T) {
	testlog.Start(t)
	f := NewAckFrame(3, 2)
	fields := frame.Decode(f.ID)
	if fields.Type != frame.AckType || fields.Sequence != frame.Single || fields.Priority != AckPriority {
		t.Fatalf("unexpected ack identifier: %s", f.ID)
	}
	key, err := ParseAck(f)
	if err != nil {
		t.Fatalf("parse ack: %v", err)
	}
	if key != (ExchangeKey{Address: 3, Type: 2}) {
		t.Fatalf("unexpected key: %v", key)
	}

	data, _ := frame.New(frame.Encode(0, 3, frame.Single, 2), []byte{1})
	if _, err := ParseAck(data); !errors.Is(err, ErrNotAck) {
		t.Fatalf("expected ErrNotAck, got %v", err)
	}
	empty, _ := frame.New(frame.Encode(3, 3, frame.Single, frame.AckType), nil)
	if _, err := ParseAck(empty); !errors.Is(err, ErrEmptyAck) {
		t.Fatalf("expected ErrEmptyAck, got %v", err)
	}
}

func TestAckTrackerLifecycle(t *testing.T) {
	testlog.Start(t)
	tr := NewAckTracker()
	now := time.Unix(1700000000, 0)
	key := ExchangeKey{Address: 3, Type: 2}

	p, err := tr.Begin(key, now)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := tr.Begin(key, now); !errors.Is(err, ErrExchangeBusy) {
		t.Fatalf("expected ErrExchangeBusy, got %v", err)
	}
	if n := tr.MarkAttempt(p, now); n != 1 {
		t.Fatalf("unexpected attempts=%d", n)
	}
	if tr.Resolve(ExchangeKey{Address: 4, Type: 2}) {
		t.Fatalf("ack for another peer must not resolve")
	}
	if tr.Resolve(ExchangeKey{Address: 3, Type: 1}) {
		t.Fatalf("ack for another type must not resolve")
	}
	if tr.Acked(p) {
		t.Fatalf("exchange resolved too early")
	}
	if !tr.Resolve(key) {
		t.Fatalf("expected resolve")
	}
	select {
	case <-p.Done():
	default:
		t.Fatalf("done channel not closed")
	}
	if tr.Resolve(key) {
		t.Fatalf("duplicate ack must not resolve twice")
	}
	tr.End(p)
	if tr.Len() != 0 {
		t.Fatalf("exchange should be removed")
	}
	if tr.Resolve(key) {
		t.Fatalf("late ack must be ignored")
	}
}

func TestAckTrackerIndependentExchanges(t *testing.T) {
	testlog.Start(t)
	tr := NewAckTracker()
	now := time.Unix(1700000000, 0)
	a, _ := tr.Begin(ExchangeKey{Address: 2, Type: 3}, now)
	b, _ := tr.Begin(ExchangeKey{Address: 1, Type: 3}, now)
	if got := tr.List(); len(got) != 2 || got[0].Address != 1 {
		t.Fatalf("unexpected list: %+v", got)
	}
	tr.Resolve(b.Key)
	if tr.Acked(a) {
		t.Fatalf("resolving one exchange satisfied another")
	}
	tr.End(a)
	tr.End(b)
}
