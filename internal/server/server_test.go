package server

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/canlink/internal/bus"
	"github.com/danmuck/canlink/internal/protocol/session"
	"github.com/danmuck/canlink/internal/testutil/testlog"
)

type staticSource struct{ snap bus.Snapshot }

func (s staticSource) Snapshot() bus.Snapshot { return s.snap }

func get(t *testing.T, a *Admin, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rr := httptest.NewRecorder()
	a.Router().ServeHTTP(rr, req)
	return rr
}

func TestStatsServesSnapshot(t *testing.T) {
	testlog.Start(t)
	snap := bus.Snapshot{
		Node:        "node-a",
		Address:     4,
		Running:     true,
		RetryLimit:  3,
		InFlight:    1,
		PendingAcks: []session.ExchangeKey{{Address: 2, Type: 3}},
		Handlers:    []int{1, 2},
	}
	a := NewAdmin("node-a", "127.0.0.1:0", staticSource{snap: snap})

	rr := get(t, a, "/stats")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	var got bus.Snapshot
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if got.Node != "node-a" || got.InFlight != 1 || len(got.PendingAcks) != 1 || len(got.Handlers) != 2 {
		t.Fatalf("unexpected snapshot: %+v", got)
	}
}

func TestReadyReflectsRunLoop(t *testing.T) {
	testlog.Start(t)
	idle := NewAdmin("node-a", "127.0.0.1:0", staticSource{})
	if rr := get(t, idle, "/ready"); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 while idle, got %d", rr.Code)
	}
	live := NewAdmin("node-a", "127.0.0.1:0", staticSource{snap: bus.Snapshot{Running: true}})
	if rr := get(t, live, "/ready"); rr.Code != http.StatusOK {
		t.Fatalf("expected 200 while running, got %d", rr.Code)
	}
	none := NewAdmin("node-a", "127.0.0.1:0", nil)
	if rr := get(t, none, "/stats"); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without endpoint, got %d", rr.Code)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	testlog.Start(t)
	a := NewAdmin("node-a", "127.0.0.1:0", staticSource{})
	rr := get(t, a, "/health")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if body["status"] != "ok" || body["node"] != "node-a" {
		t.Fatalf("unexpected health body: %#v", body)
	}
	if rr := get(t, a, "/healthz"); rr.Code != http.StatusOK || rr.Body.String() != "ok" {
		t.Fatalf("unexpected healthz: %d %q", rr.Code, rr.Body.String())
	}

	rr = get(t, a, "/metrics")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 from metrics, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "canlink_http_requests_total") {
		t.Fatalf("metrics output missing request counter")
	}
}

func TestServeShutsDownOnCancel(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	a := NewAdmin("node-a", ln.Addr().String(), staticSource{})
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- a.serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	if err != nil {
		t.Fatalf("get healthz: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "ok" {
		t.Fatalf("unexpected body %q", body)
	}

	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("serve did not stop")
	}
}
