//go:build linux

package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/danmuck/canlink/internal/protocol/frame"
	"golang.org/x/sys/unix"
)

// SocketCAN drives a Linux CAN_RAW socket bound to one interface. Only
// standard data frames pass the kernel filter.
type SocketCAN struct {
	iface string

	mu        sync.Mutex
	fd        int
	rcvTimeo  time.Duration
	closed    bool
	closeOnce sync.Once
}

// OpenSocketCAN binds a raw CAN socket to the named interface (e.g. can0).
func OpenSocketCAN(iface string) (*SocketCAN, error) {
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		return nil, fmt.Errorf("socketcan: lookup %s: %w", iface, err)
	}
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW|unix.SOCK_CLOEXEC, unix.CAN_RAW)
	if err != nil {
		return nil, fmt.Errorf("socketcan: socket: %w", err)
	}
	filter := []unix.CanFilter{{Id: 0, Mask: unix.CAN_EFF_FLAG | unix.CAN_RTR_FLAG}}
	if err := unix.SetsockoptCanRawFilter(fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FILTER, filter); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("socketcan: filter: %w", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrCAN{Ifindex: ifi.Index}); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("socketcan: bind %s: %w", iface, err)
	}
	return &SocketCAN{iface: iface, fd: fd}, nil
}

func (s *SocketCAN) Interface() string { return s.iface }

func (s *SocketCAN) SendFrame(ctx context.Context, f frame.Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := f.MarshalBinary()
	if err != nil {
		return err
	}
	fd, err := s.handle()
	if err != nil {
		return err
	}
	for {
		n, err := unix.Write(fd, raw)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if errors.Is(err, unix.ENOBUFS) || errors.Is(err, unix.EAGAIN) {
			return fmt.Errorf("socketcan: %w", ErrQueueFull)
		}
		if err != nil {
			return fmt.Errorf("socketcan: write: %w", err)
		}
		if n != frame.WireLen {
			return fmt.Errorf("socketcan: short write %d", n)
		}
		return nil
	}
}

func (s *SocketCAN) ReceiveFrame(ctx context.Context, timeout time.Duration) (frame.Frame, bool, error) {
	if err := ctx.Err(); err != nil {
		return frame.Frame{}, false, err
	}
	if timeout <= 0 {
		timeout = time.Microsecond
	}
	fd, err := s.handle()
	if err != nil {
		return frame.Frame{}, false, err
	}
	if err := s.setReadTimeout(fd, timeout); err != nil {
		return frame.Frame{}, false, err
	}

	buf := make([]byte, frame.WireLen)
	n, err := unix.Read(fd, buf)
	switch {
	case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EINTR):
		return frame.Frame{}, false, nil
	case err != nil:
		return frame.Frame{}, false, fmt.Errorf("socketcan: read: %w", err)
	}
	var f frame.Frame
	if err := f.UnmarshalBinary(buf[:n]); err != nil {
		return frame.Frame{}, false, nil
	}
	return f, true, nil
}

func (s *SocketCAN) setReadTimeout(fd int, timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rcvTimeo == timeout {
		return nil
	}
	tv := unix.NsecToTimeval(timeout.Nanoseconds())
	if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
		return fmt.Errorf("socketcan: rcvtimeo: %w", err)
	}
	s.rcvTimeo = timeout
	return nil
}

func (s *SocketCAN) handle() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return -1, ErrClosed
	}
	return s.fd, nil
}

func (s *SocketCAN) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		fd := s.fd
		s.mu.Unlock()
		err = unix.Close(fd)
	})
	return err
}
