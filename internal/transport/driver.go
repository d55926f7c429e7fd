// Package transport provides raw frame drivers for the bus endpoint.
package transport

import (
	"context"
	"errors"
	"time"

	"github.com/danmuck/canlink/internal/protocol/frame"
)

var (
	ErrClosed      = errors.New("transport: closed")
	ErrQueueFull   = errors.New("transport: transmit queue full")
	ErrUnsupported = errors.New("transport: driver not supported on this platform")
	ErrUnknownKind = errors.New("transport: unknown driver kind")
)

// Driver is the raw frame boundary. ReceiveFrame waits at most timeout and
// reports ok=false when nothing arrived.
type Driver interface {
	SendFrame(ctx context.Context, f frame.Frame) error
	ReceiveFrame(ctx context.Context, timeout time.Duration) (f frame.Frame, ok bool, err error)
	Close() error
}

const (
	KindLoopback  = "loopback"
	KindSocketCAN = "socketcan"
)
