package transport

import (
	"context"
	"sync"
	"time"

	"github.com/danmuck/canlink/internal/protocol/frame"
)

// DefaultQueueLen matches the firmware's receive queue depth.
const DefaultQueueLen = 10

// Interceptor sees every frame put on a Loopback bus. It returns the frame to
// deliver (possibly altered) and whether to deliver it at all.
type Interceptor func(from string, f frame.Frame) (frame.Frame, bool)

// Loopback is an in-process broadcast bus. Every frame sent by one port is
// delivered to all other attached ports; the sender never hears itself.
type Loopback struct {
	mu          sync.RWMutex
	ports       map[string]*Port
	queueLen    int
	interceptor Interceptor
}

func NewLoopback(queueLen int) *Loopback {
	if queueLen <= 0 {
		queueLen = DefaultQueueLen
	}
	return &Loopback{ports: make(map[string]*Port), queueLen: queueLen}
}

// Intercept installs fn for subsequent frames. Nil removes it.
func (b *Loopback) Intercept(fn Interceptor) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.interceptor = fn
}

// Attach adds a named port. Attaching an existing name returns that port.
func (b *Loopback) Attach(name string) *Port {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p, ok := b.ports[name]; ok {
		return p
	}
	p := &Port{
		name:   name,
		bus:    b,
		rx:     make(chan frame.Frame, b.queueLen),
		closed: make(chan struct{}),
	}
	b.ports[name] = p
	return p
}

func (b *Loopback) detach(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.ports, name)
}

// broadcast delivers f to every port except from. A full receiver queue
// drops the frame for that receiver only, as a saturated controller would.
func (b *Loopback) broadcast(from string, f frame.Frame) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.interceptor != nil {
		var deliver bool
		f, deliver = b.interceptor(from, f)
		if !deliver {
			return
		}
	}
	for name, p := range b.ports {
		if name == from {
			continue
		}
		select {
		case p.rx <- f:
			p.mu.Lock()
			p.stats.Received++
			p.mu.Unlock()
		default:
			p.mu.Lock()
			p.stats.Overruns++
			p.mu.Unlock()
		}
	}
}

// PortStats counts traffic through one port.
type PortStats struct {
	Sent     uint64
	Received uint64
	Overruns uint64
}

// Port is one node's attachment to a Loopback bus.
type Port struct {
	name string
	bus  *Loopback
	rx   chan frame.Frame

	mu        sync.Mutex
	stats     PortStats
	closeOnce sync.Once
	closed    chan struct{}
}

func (p *Port) Name() string { return p.name }

func (p *Port) Stats() PortStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

func (p *Port) SendFrame(ctx context.Context, f frame.Frame) error {
	if err := f.Validate(); err != nil {
		return err
	}
	select {
	case <-p.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	p.mu.Lock()
	p.stats.Sent++
	p.mu.Unlock()
	p.bus.broadcast(p.name, f)
	return nil
}

func (p *Port) ReceiveFrame(ctx context.Context, timeout time.Duration) (frame.Frame, bool, error) {
	select {
	case f := <-p.rx:
		return f, true, nil
	default:
	}
	if timeout <= 0 {
		return frame.Frame{}, false, nil
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case f := <-p.rx:
		return f, true, nil
	case <-timer.C:
		return frame.Frame{}, false, nil
	case <-p.closed:
		return frame.Frame{}, false, ErrClosed
	case <-ctx.Done():
		return frame.Frame{}, false, ctx.Err()
	}
}

func (p *Port) Close() error {
	p.closeOnce.Do(func() {
		close(p.closed)
		p.bus.detach(p.name)
	})
	return nil
}
