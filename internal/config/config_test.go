package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/canlink/internal/protocol/session"
	"github.com/danmuck/canlink/internal/testutil/testlog"
	"github.com/danmuck/canlink/internal/transport"
)

func TestTemplatesLoad(t *testing.T) {
	testlog.Start(t)
	for _, kind := range []string{"socketcan", "loopback"} {
		path := filepath.Join(t.TempDir(), kind+".toml")
		if err := WriteTemplate(path, kind, false); err != nil {
			t.Fatalf("%s: write template: %v", kind, err)
		}
		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("%s: load template: %v", kind, err)
		}
		if cfg.Bus.Driver != kind {
			t.Fatalf("%s: unexpected driver %q", kind, cfg.Bus.Driver)
		}
		if cfg.Protocol.RetryLimit != 3 || cfg.Protocol.AckTimeout != 100*time.Millisecond {
			t.Fatalf("%s: unexpected protocol config %+v", kind, cfg.Protocol)
		}
	}
}

func TestWriteTemplateRefusesOverwrite(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "node.toml")
	if err := WriteTemplate(path, "socketcan", false); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := WriteTemplate(path, "socketcan", false); err == nil {
		t.Fatalf("expected overwrite refusal")
	}
	if err := WriteTemplate(path, "loopback", true); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if _, err := Template("bogus"); !errors.Is(err, transport.ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
	body, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if want, _ := Template(transport.KindLoopback); string(body) != want {
		t.Fatalf("overwrite did not replace contents")
	}
}

func TestPartialFileKeepsDefaults(t *testing.T) {
	testlog.Start(t)
	cfg, err := Decode(`
[node]
name = "sensor-3"
address = 3

[bus]
driver = "loopback"

[protocol]
retry_limit = 0
`)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	def := session.DefaultConfig()
	if cfg.Node.Name != "sensor-3" || cfg.Node.Address != 3 {
		t.Fatalf("unexpected node: %+v", cfg.Node)
	}
	if cfg.Protocol.RetryLimit != 0 {
		t.Fatalf("explicit zero retry limit must be kept, got %d", cfg.Protocol.RetryLimit)
	}
	if cfg.Protocol.AckTimeout != def.AckTimeout || cfg.Protocol.ReassemblyTimeout != def.ReassemblyTimeout {
		t.Fatalf("unset durations should keep defaults: %+v", cfg.Protocol)
	}
	if cfg.Metrics.Listen != ":9108" {
		t.Fatalf("unexpected metrics listen %q", cfg.Metrics.Listen)
	}
}

func TestInvalidValuesRejected(t *testing.T) {
	testlog.Start(t)
	cases := map[string]string{
		"address":  "[node]\naddress = 16\n",
		"priority": "[status]\npriority = 4\n",
		"driver":   "[bus]\ndriver = \"serial\"\n",
		"iface":    "[bus]\ndriver = \"socketcan\"\ninterface = \"\"\n",
		"name":     "[node]\nname = \"  \"\n",
		"retry":    "[bus]\ndriver = \"loopback\"\n[protocol]\nretry_limit = 300\n",
		"interval": "[bus]\ndriver = \"loopback\"\n[status]\nenabled = true\ninterval = \"0s\"\n",
	}
	for name, body := range cases {
		if _, err := Decode(body); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
	if _, err := Decode("[node]\naddress = 16\n"); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
	if _, err := Decode("[protocol]\nack_timeout = \"soon\"\n"); err == nil {
		t.Fatalf("expected duration parse error")
	}
}

func TestLoadMissingFile(t *testing.T) {
	testlog.Start(t)
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err == nil || !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}
