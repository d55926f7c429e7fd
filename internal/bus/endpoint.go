package bus

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/canlink/internal/observability"
	"github.com/danmuck/canlink/internal/protocol/frame"
	"github.com/danmuck/canlink/internal/protocol/reassembly"
	"github.com/danmuck/canlink/internal/protocol/schema"
	"github.com/danmuck/canlink/internal/protocol/session"
	"github.com/danmuck/canlink/internal/transport"
	"github.com/rs/zerolog"
)

var (
	ErrDeliveryFailed  = errors.New("bus: delivery not acknowledged")
	ErrInvalidAddress  = errors.New("bus: address out of range")
	ErrInvalidPriority = errors.New("bus: priority out of range")
	ErrClosed          = errors.New("bus: endpoint closed")
	ErrAlreadyRunning  = errors.New("bus: run loop already active")
	ErrNilDriver       = errors.New("bus: driver is nil")
)

// ErrorHandler is notified once per send that exhausted its retries.
type ErrorHandler func(typeID, address uint8)

// Endpoint is one node on the bus. It owns its driver, reassembly table,
// handler registry and pending acknowledgments.
type Endpoint struct {
	name      string
	driver    transport.Driver
	cfg       session.Config
	log       zerolog.Logger
	customLog bool
	now       func() time.Time
	address   uint8
	filter    bool

	registry *schema.Registry
	acks     *session.AckTracker

	// rx is the receive token. Its holder owns the driver's receive side
	// from ReceiveFrame through table acceptance.
	rx chan struct{}

	mu      sync.Mutex
	table   *reassembly.Table
	onError ErrorHandler
	rng     *rand.Rand

	running atomic.Bool
	closed  atomic.Bool
}

// New creates an endpoint over driver. The endpoint closes the driver on
// Close.
func New(driver transport.Driver, opts ...Option) (*Endpoint, error) {
	if driver == nil {
		return nil, ErrNilDriver
	}
	e := &Endpoint{
		name:     "canlink",
		driver:   driver,
		cfg:      session.DefaultConfig(),
		now:      time.Now,
		address:  frame.Broadcast,
		registry: schema.NewRegistry(),
		acks:     session.NewAckTracker(),
		rx:       make(chan struct{}, 1),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := e.cfg.Validate(); err != nil {
		return nil, err
	}
	e.cfg = e.cfg.WithDefaults()
	if !e.customLog {
		e.log = observability.Component("bus", e.name)
	}
	e.table = reassembly.NewTable(e.cfg.ReassemblyTimeout)
	observability.RegisterMetrics()
	return e, nil
}

func (e *Endpoint) Name() string           { return e.name }
func (e *Endpoint) Config() session.Config { return e.cfg }

// Registry exposes the handler registry. Register handlers before Run.
func (e *Endpoint) Registry() *schema.Registry { return e.registry }

// Register binds a raw handler to typeID.
func (e *Endpoint) Register(typeID uint8, h schema.Handler) error {
	return e.registry.Register(typeID, h)
}

// Handle registers fn for messages of type T on e.
func Handle[T schema.Message](e *Endpoint, fn func(T)) error {
	return schema.On(e.registry, fn)
}

// OnError sets the delivery-failure callback.
func (e *Endpoint) OnError(fn ErrorHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onError = fn
}

// Send marshals msg and sends it to address.
func (e *Endpoint) Send(ctx context.Context, priority, address uint8, msg schema.Message) error {
	payload, err := schema.Marshal(msg)
	if err != nil {
		return err
	}
	return e.SendRaw(ctx, priority, address, msg.TypeID(), payload)
}

// SendRaw fragments payload and transmits it. Multi-frame messages wait for
// an acknowledgment when the retry limit is positive, retransmitting the full
// sequence after each timeout. Exhausted retries notify the error handler
// and return ErrDeliveryFailed. Transport errors return immediately.
func (e *Endpoint) SendRaw(ctx context.Context, priority, address, typeID uint8, payload []byte) error {
	if e.closed.Load() {
		return ErrClosed
	}
	if priority > frame.MaxPrio {
		return fmt.Errorf("%w: %d", ErrInvalidPriority, priority)
	}
	if address > frame.MaxAddr {
		return fmt.Errorf("%w: %d", ErrInvalidAddress, address)
	}
	if err := schema.ValidateType(typeID); err != nil {
		return err
	}
	frames, err := frame.Fragment(priority, address, typeID, payload)
	if err != nil {
		return err
	}

	started := time.Now()
	if len(frames) == 1 || !e.cfg.AcksEnabled() {
		if err := e.transmit(ctx, frames); err != nil {
			observability.RecordSend(e.name, typeID, "transport_error", time.Since(started))
			return err
		}
		observability.RecordSend(e.name, typeID, "sent", time.Since(started))
		return nil
	}

	pending, err := e.acks.Begin(session.ExchangeKey{Address: address, Type: typeID}, started)
	if err != nil {
		return err
	}
	defer e.acks.End(pending)

	for attempt := 1; ; attempt++ {
		e.acks.MarkAttempt(pending, time.Now())
		observability.RecordTransmission(e.name, typeID)
		if err := e.transmit(ctx, frames); err != nil {
			observability.RecordSend(e.name, typeID, "transport_error", time.Since(started))
			return err
		}
		acked, err := e.awaitAck(ctx, pending)
		if err != nil {
			observability.RecordSend(e.name, typeID, "canceled", time.Since(started))
			return err
		}
		if acked {
			e.log.Debug().
				Uint8("type", typeID).
				Uint8("addr", address).
				Int("attempts", attempt).
				Msg("send_acked")
			observability.RecordSend(e.name, typeID, "acked", time.Since(started))
			return nil
		}
		if attempt > e.cfg.RetryLimit {
			break
		}
		e.log.Debug().
			Uint8("type", typeID).
			Uint8("addr", address).
			Int("attempt", attempt).
			Msg("ack_timeout_retransmit")
		if err := e.backoff(ctx, attempt); err != nil {
			observability.RecordSend(e.name, typeID, "canceled", time.Since(started))
			return err
		}
	}

	attempts := e.cfg.RetryLimit + 1
	e.log.Warn().
		Uint8("type", typeID).
		Uint8("addr", address).
		Int("attempts", attempts).
		Msg("delivery_failed")
	observability.RecordSend(e.name, typeID, "failed", time.Since(started))
	e.notifyError(typeID, address)
	return fmt.Errorf("%w: type=%d addr=%d attempts=%d", ErrDeliveryFailed, typeID, address, attempts)
}

func (e *Endpoint) transmit(ctx context.Context, frames []frame.Frame) error {
	for _, f := range frames {
		if err := e.driver.SendFrame(ctx, f); err != nil {
			return fmt.Errorf("bus: send %s: %w", f.ID, err)
		}
		observability.RecordFrame(e.name, "tx", f.ID.Sequence().String())
	}
	return nil
}

// awaitAck waits up to AckTimeout for p to be acknowledged. When the
// receive token is free it drives the receive path itself; otherwise the
// current holder resolves p and awaitAck only waits.
func (e *Endpoint) awaitAck(ctx context.Context, p *session.PendingAck) (bool, error) {
	deadline := time.Now().Add(e.cfg.AckTimeout)
	timer := time.NewTimer(e.cfg.AckTimeout)
	defer timer.Stop()

	for {
		select {
		case <-p.Done():
			return true, nil
		case <-ctx.Done():
			return false, ctx.Err()
		case <-timer.C:
			return e.acks.Acked(p), nil
		default:
		}

		wait := min(e.cfg.PollInterval, time.Until(deadline))
		if wait <= 0 {
			return e.acks.Acked(p), nil
		}

		if !e.tryAcquireRx() {
			select {
			case <-p.Done():
				return true, nil
			case <-ctx.Done():
				return false, ctx.Err()
			case <-timer.C:
				return e.acks.Acked(p), nil
			case <-time.After(wait):
			}
			continue
		}

		d, _, err := e.receive(ctx, wait)
		if err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			if errors.Is(err, transport.ErrClosed) {
				return false, err
			}
			e.log.Warn().Err(err).Msg("ack_wait_receive_failed")
			if err := sleepCtx(ctx, wait); err != nil {
				return false, err
			}
			continue
		}
		e.deliver(ctx, d)
	}
}

func (e *Endpoint) backoff(ctx context.Context, attempt int) error {
	e.mu.Lock()
	delay := session.NextBackoffDelay(e.cfg.Backoff, attempt, e.rng)
	e.mu.Unlock()
	if delay <= 0 {
		return nil
	}
	return sleepCtx(ctx, delay)
}

func (e *Endpoint) notifyError(typeID, address uint8) {
	e.mu.Lock()
	fn := e.onError
	e.mu.Unlock()
	if fn != nil {
		fn(typeID, address)
	}
}

// Poll receives at most one frame, waiting up to PollInterval, and processes
// it. It reports whether a frame arrived.
func (e *Endpoint) Poll(ctx context.Context) (bool, error) {
	if e.closed.Load() {
		return false, ErrClosed
	}
	return e.poll(ctx, e.cfg.PollInterval)
}

func (e *Endpoint) poll(ctx context.Context, timeout time.Duration) (bool, error) {
	select {
	case e.rx <- struct{}{}:
	case <-ctx.Done():
		return false, ctx.Err()
	}
	d, ok, err := e.receive(ctx, timeout)
	if err != nil {
		return false, err
	}
	e.deliver(ctx, d)
	return ok, nil
}

func (e *Endpoint) tryAcquireRx() bool {
	select {
	case e.rx <- struct{}{}:
		return true
	default:
		return false
	}
}

// receive reads at most one frame and ingests it. The caller must hold the
// receive token; receive releases it before returning.
func (e *Endpoint) receive(ctx context.Context, timeout time.Duration) (delivery, bool, error) {
	defer func() { <-e.rx }()
	f, ok, err := e.driver.ReceiveFrame(ctx, timeout)
	if err != nil || !ok {
		return delivery{}, false, err
	}
	return e.ingest(f), true, nil
}

// Run processes inbound frames until ctx is done or the driver closes.
func (e *Endpoint) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer e.running.Store(false)

	e.log.Info().
		Uint8("addr", e.address).
		Bool("filter", e.filter).
		Int("retry_limit", e.cfg.RetryLimit).
		Msg("bus_run_start")
	defer func() {
		e.log.Info().Msg("bus_run_stop")
	}()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if e.closed.Load() {
			return ErrClosed
		}
		if _, err := e.poll(ctx, e.cfg.PollInterval); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, transport.ErrClosed) {
				return err
			}
			e.log.Warn().Err(err).Msg("receive_failed")
			if err := sleepCtx(ctx, e.cfg.PollInterval); err != nil {
				return err
			}
		}
	}
}

// Close stops accepting work and closes the driver.
func (e *Endpoint) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	e.mu.Lock()
	e.table.Reset()
	e.mu.Unlock()
	return e.driver.Close()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
