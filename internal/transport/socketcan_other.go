//go:build !linux

package transport

import (
	"context"
	"time"

	"github.com/danmuck/canlink/internal/protocol/frame"
)

// SocketCAN is only available on Linux.
type SocketCAN struct{}

func OpenSocketCAN(iface string) (*SocketCAN, error) {
	return nil, ErrUnsupported
}

func (s *SocketCAN) Interface() string { return "" }

func (s *SocketCAN) SendFrame(context.Context, frame.Frame) error { return ErrUnsupported }

func (s *SocketCAN) ReceiveFrame(context.Context, time.Duration) (frame.Frame, bool, error) {
	return frame.Frame{}, false, ErrUnsupported
}

func (s *SocketCAN) Close() error { return nil }
