package transport

import (
	"fmt"
	"strings"
)

// Open returns the driver for kind. Loopback ports attach to bus under name;
// a nil bus gets a private one, which is only useful for tests.
func Open(kind, iface string, bus *Loopback, name string) (Driver, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case KindSocketCAN:
		d, err := OpenSocketCAN(iface)
		if err != nil {
			return nil, err
		}
		return d, nil
	case KindLoopback, "":
		if bus == nil {
			bus = NewLoopback(0)
		}
		return bus.Attach(name), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}
