package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/danmuck/canlink/internal/transport"
)

// Template returns the starter config for a bus driver kind. An empty kind
// selects socketcan.
func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case transport.KindSocketCAN, "":
		return socketcanTemplate, nil
	case transport.KindLoopback:
		return loopbackTemplate, nil
	default:
		return "", fmt.Errorf("%w: %q (want %s or %s)",
			transport.ErrUnknownKind, kind, transport.KindSocketCAN, transport.KindLoopback)
	}
}

// WriteTemplate writes the template for kind to path. Without overwrite an
// existing file is left untouched.
func WriteTemplate(path, kind string, overwrite bool) error {
	body, err := Template(kind)
	if err != nil {
		return err
	}
	if _, err := Decode(body); err != nil {
		return fmt.Errorf("template %s: %w", kind, err)
	}
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !overwrite {
		flags = os.O_WRONLY | os.O_CREATE | os.O_EXCL
	}
	f, err := os.OpenFile(path, flags, 0o600)
	if err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("config already exists: %s", path)
		}
		return err
	}
	if _, err := f.WriteString(body); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

const socketcanTemplate = `[node]
name = "canlink"
address = 1
promiscuous = false

[bus]
driver = "socketcan"
interface = "can0"

[protocol]
retry_limit = 3
ack_timeout = "100ms"
reassembly_timeout = "500ms"
poll_interval = "10ms"

[protocol.backoff]
initial_delay = "0s"
multiplier = 2.0
max_delay = "200ms"
jitter = false

[metrics]
listen = ":9108"

[status]
enabled = true
interval = "1s"
target = 15
priority = 2
`

const loopbackTemplate = `[node]
name = "canlink-loop"
address = 1
promiscuous = true

[bus]
driver = "loopback"

[protocol]
retry_limit = 3
ack_timeout = "100ms"
reassembly_timeout = "500ms"
poll_interval = "10ms"

[metrics]
listen = "127.0.0.1:9108"

[status]
enabled = false
interval = "1s"
target = 15
priority = 2
`
