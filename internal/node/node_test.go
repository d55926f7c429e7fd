package node

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/danmuck/canlink/internal/bus"
	"github.com/danmuck/canlink/internal/config"
	"github.com/danmuck/canlink/internal/messages"
	"github.com/danmuck/canlink/internal/protocol/frame"
	"github.com/danmuck/canlink/internal/testutil/testlog"
	"github.com/danmuck/canlink/internal/transport"
)

func loopbackConfig(name string, addr uint8) config.Config {
	cfg := config.Default()
	cfg.Node.Name = name
	cfg.Node.Address = addr
	cfg.Bus.Driver = transport.KindLoopback
	cfg.Metrics.Listen = ""
	cfg.Protocol.AckTimeout = 50 * time.Millisecond
	cfg.Protocol.PollInterval = 2 * time.Millisecond
	return cfg
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met")
}

func TestBeaconReachesPeer(t *testing.T) {
	testlog.Start(t)
	lb := transport.NewLoopback(64)

	cfg := loopbackConfig("beacon", 1)
	cfg.Status.Enabled = true
	cfg.Status.Interval = 10 * time.Millisecond
	cfg.Status.Target = frame.Broadcast
	src, err := New(cfg, lb)
	if err != nil {
		t.Fatalf("new beacon node: %v", err)
	}
	dst, err := New(loopbackConfig("listener", 2), lb)
	if err != nil {
		t.Fatalf("new listener node: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 2)
	go func() { done <- src.Run(ctx) }()
	go func() { done <- dst.Run(ctx) }()

	waitFor(t, func() bool { return dst.Received(messages.TypeStatus) >= 2 })
	cancel()
	for i := 0; i < 2; i++ {
		if err := <-done; err != nil {
			t.Fatalf("run: %v", err)
		}
	}
}

func TestTelemetryAcknowledgedBetweenNodes(t *testing.T) {
	testlog.Start(t)
	lb := transport.NewLoopback(64)
	a, _ := New(loopbackConfig("a", 1), lb)
	b, _ := New(loopbackConfig("b", 2), lb)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = b.Run(ctx) }()
	waitFor(t, func() bool { return b.Endpoint().Snapshot().Running })

	report := messages.Telemetry{UptimeSeconds: 7, Voltage: 11.9, Node: 1}
	if err := a.Endpoint().Send(ctx, 1, 2, report); err != nil {
		t.Fatalf("send telemetry: %v", err)
	}
	if b.Received(messages.TypeTelemetry) != 1 {
		t.Fatalf("expected one telemetry dispatch, got %d", b.Received(messages.TypeTelemetry))
	}
}

func TestDeliveryFailureDegradesStatus(t *testing.T) {
	testlog.Start(t)
	lb := transport.NewLoopback(64)
	cfg := loopbackConfig("lonely", 1)
	cfg.Protocol.RetryLimit = 1
	cfg.Protocol.AckTimeout = 10 * time.Millisecond
	n, err := New(cfg, lb)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if s := n.Status(); s.State != StateStarting {
		t.Fatalf("expected starting state, got %+v", s)
	}
	err = n.Endpoint().Send(context.Background(), 0, 9, messages.Telemetry{})
	if !errors.Is(err, bus.ErrDeliveryFailed) {
		t.Fatalf("expected ErrDeliveryFailed, got %v", err)
	}
	if n.Failures() != 1 {
		t.Fatalf("expected one failure, got %d", n.Failures())
	}
	if s := n.Status(); s.State != StateDegraded || s.ErrorCode != messages.TypeTelemetry {
		t.Fatalf("unexpected status %+v", s)
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	testlog.Start(t)
	cfg := loopbackConfig("bad", 1)
	cfg.Bus.Driver = "serial"
	if _, err := New(cfg, nil); !errors.Is(err, config.ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}
