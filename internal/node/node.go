// Package node assembles a runnable canlink node from configuration: the
// transport driver, the bus endpoint with the standard message handlers, the
// status beacon and the admin server.
package node

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/canlink/internal/bus"
	"github.com/danmuck/canlink/internal/config"
	"github.com/danmuck/canlink/internal/messages"
	"github.com/danmuck/canlink/internal/observability"
	"github.com/danmuck/canlink/internal/server"
	"github.com/danmuck/canlink/internal/transport"
	"github.com/rs/zerolog"
)

// Status states carried by the beacon.
const (
	StateStarting uint8 = 0
	StateRunning  uint8 = 1
	StateDegraded uint8 = 2
)

type Node struct {
	cfg      config.Config
	endpoint *bus.Endpoint
	admin    *server.Admin
	log      zerolog.Logger

	failures atomic.Uint32
	lastFail atomic.Uint32
	received sync.Map
}

// New opens the configured driver and builds the endpoint. Loopback nodes
// attach to lb, which may be shared between nodes in one process.
func New(cfg config.Config, lb *transport.Loopback) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	driver, err := transport.Open(cfg.Bus.Driver, cfg.Bus.Interface, lb, cfg.Node.Name)
	if err != nil {
		return nil, err
	}
	n := &Node{
		cfg: cfg,
		log: observability.Component("node", cfg.Node.Name),
	}
	e, err := bus.New(driver,
		bus.WithName(cfg.Node.Name),
		bus.WithConfig(cfg.Protocol),
		bus.WithAddress(cfg.Node.Address, cfg.Node.Promiscuous),
		bus.WithErrorHandler(n.deliveryFailed),
	)
	if err != nil {
		_ = driver.Close()
		return nil, err
	}
	n.endpoint = e
	if err := n.registerHandlers(); err != nil {
		_ = driver.Close()
		return nil, err
	}
	if cfg.Metrics.Listen != "" {
		n.admin = server.NewAdmin(cfg.Node.Name, cfg.Metrics.Listen, e)
	}
	return n, nil
}

func (n *Node) Endpoint() *bus.Endpoint { return n.endpoint }
func (n *Node) Admin() *server.Admin    { return n.admin }

// Failures reports how many sends exhausted their retries.
func (n *Node) Failures() uint32 { return n.failures.Load() }

// Received reports how many messages of typeID were dispatched.
func (n *Node) Received(typeID uint8) uint64 {
	v, ok := n.received.Load(typeID)
	if !ok {
		return 0
	}
	return v.(*atomic.Uint64).Load()
}

func (n *Node) count(typeID uint8) {
	v, _ := n.received.LoadOrStore(typeID, new(atomic.Uint64))
	v.(*atomic.Uint64).Add(1)
}

func (n *Node) registerHandlers() error {
	if err := bus.Handle(n.endpoint, func(m messages.StatusMsg) {
		n.count(messages.TypeStatus)
		n.log.Info().Uint8("state", m.State).Uint8("error_code", m.ErrorCode).Msg("status_received")
	}); err != nil {
		return err
	}
	if err := bus.Handle(n.endpoint, func(m messages.SensorData) {
		n.count(messages.TypeSensor)
		n.log.Info().
			Float32("temperature", m.Temperature).
			Float32("humidity", m.Humidity).
			Msg("sensor_received")
	}); err != nil {
		return err
	}
	return bus.Handle(n.endpoint, func(m messages.Telemetry) {
		n.count(messages.TypeTelemetry)
		n.log.Info().
			Uint8("from", m.Node).
			Uint32("uptime_s", m.UptimeSeconds).
			Float32("voltage", m.Voltage).
			Uint16("faults", m.Faults).
			Msg("telemetry_received")
	})
}

func (n *Node) deliveryFailed(typeID, address uint8) {
	n.failures.Add(1)
	n.lastFail.Store(uint32(typeID))
	n.log.Warn().Uint8("type", typeID).Uint8("addr", address).Msg("delivery_failed_notify")
}

// Run drives the endpoint, beacon and admin server until ctx is done or one
// of them fails. The endpoint is closed on return.
func (n *Node) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer n.endpoint.Close()

	var wg sync.WaitGroup
	errc := make(chan error, 3)
	launch := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				n.log.Error().Err(err).Str("task", name).Msg("node_task_failed")
				errc <- err
			}
		}()
	}

	launch("bus", n.endpoint.Run)
	if n.admin != nil {
		launch("admin", n.admin.Serve)
	}
	if n.cfg.Status.Enabled {
		launch("beacon", n.beacon)
	}
	n.log.Info().
		Str("driver", n.cfg.Bus.Driver).
		Uint8("addr", n.cfg.Node.Address).
		Str("metrics", n.cfg.Metrics.Listen).
		Msg("node_started")

	var err error
	select {
	case <-ctx.Done():
	case err = <-errc:
	}
	cancel()
	wg.Wait()
	n.log.Info().Msg("node_stopped")
	return err
}

func (n *Node) beacon(ctx context.Context) error {
	ticker := time.NewTicker(n.cfg.Status.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		msg := n.Status()
		if err := n.endpoint.Send(ctx, n.cfg.Status.Priority, n.cfg.Status.Target, msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			n.log.Warn().Err(err).Msg("beacon_send_failed")
		}
	}
}

// Status is the node's current StatusMsg.
func (n *Node) Status() messages.StatusMsg {
	if n.failures.Load() > 0 {
		return messages.StatusMsg{State: StateDegraded, ErrorCode: uint8(n.lastFail.Load())}
	}
	if !n.endpoint.Snapshot().Running {
		return messages.StatusMsg{State: StateStarting}
	}
	return messages.StatusMsg{State: StateRunning}
}
