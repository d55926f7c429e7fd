package bus

import (
	"context"

	"github.com/danmuck/canlink/internal/observability"
	"github.com/danmuck/canlink/internal/protocol/frame"
	"github.com/danmuck/canlink/internal/protocol/reassembly"
	"github.com/danmuck/canlink/internal/protocol/schema"
	"github.com/danmuck/canlink/internal/protocol/session"
)

// delivery is a reassembled message waiting for dispatch.
type delivery struct {
	ready   bool
	ack     bool
	typeID  uint8
	address uint8
	payload []byte
}

// ingest runs with the receive token held so fragments are accepted in
// arrival order. It resolves ACK frames and feeds data frames to the table;
// dispatch happens later in deliver, after the token is released.
func (e *Endpoint) ingest(f frame.Frame) delivery {
	fields := frame.Decode(f.ID)
	observability.RecordFrame(e.name, "rx", fields.Sequence.String())

	if fields.Type == frame.AckType {
		e.handleAck(f)
		return delivery{}
	}
	if !e.accepts(fields.Address) {
		return delivery{}
	}

	e.mu.Lock()
	res := e.table.Accept(f, e.now())
	e.mu.Unlock()

	observability.RecordReassembly(e.name, res.Outcome.String())
	if res.Outcome.Dropped() {
		e.log.Debug().
			Str("outcome", res.Outcome.String()).
			Uint8("type", fields.Type).
			Uint8("addr", fields.Address).
			Msg("fragment_dropped")
		return delivery{}
	}
	if !res.Ready() {
		return delivery{}
	}
	return delivery{
		ready:   true,
		ack:     res.Outcome == reassembly.OutcomeComplete,
		typeID:  res.Fields.Type,
		address: res.Fields.Address,
		payload: res.Payload,
	}
}

// deliver dispatches d and acknowledges multi-frame messages. Handlers may
// call Send from here.
func (e *Endpoint) deliver(ctx context.Context, d delivery) {
	if !d.ready {
		return
	}
	e.dispatch(d.typeID, d.payload)
	if d.ack {
		e.sendAck(ctx, d.address, d.typeID)
	}
}

func (e *Endpoint) accepts(address uint8) bool {
	return !e.filter || address == e.address || address == frame.Broadcast
}

func (e *Endpoint) handleAck(f frame.Frame) {
	key, err := session.ParseAck(f)
	if err != nil {
		e.log.Debug().Err(err).Msg("ack_malformed")
		return
	}
	if !e.acks.Resolve(key) {
		e.log.Debug().
			Uint8("type", key.Type).
			Uint8("addr", key.Address).
			Msg("ack_unmatched")
	}
}

func (e *Endpoint) dispatch(typeID uint8, payload []byte) {
	res, err := e.registry.Dispatch(typeID, payload)
	observability.RecordDispatch(e.name, typeID, res.String())
	switch res {
	case schema.Dispatched:
	case schema.HandlerFailed:
		e.log.Warn().Err(err).Uint8("type", typeID).Msg("handler_failed")
	default:
		e.log.Debug().
			Str("result", res.String()).
			Uint8("type", typeID).
			Int("len", len(payload)).
			Msg("message_dropped")
	}
}

// sendAck confirms a reassembled message. Failures are logged only; the
// sender retransmits on its own timeout.
func (e *Endpoint) sendAck(ctx context.Context, address, typeID uint8) {
	ack := session.NewAckFrame(address, typeID)
	if err := e.driver.SendFrame(ctx, ack); err != nil {
		e.log.Warn().Err(err).Uint8("type", typeID).Uint8("addr", address).Msg("ack_send_failed")
		return
	}
	observability.RecordFrame(e.name, "tx", frame.Single.String())
}

// Snapshot is a point-in-time view of endpoint state.
type Snapshot struct {
	Node        string                `json:"node"`
	Address     uint8                 `json:"address"`
	Filtering   bool                  `json:"filtering"`
	Running     bool                  `json:"running"`
	RetryLimit  int                   `json:"retry_limit"`
	InFlight    int                   `json:"in_flight"`
	PendingAcks []session.ExchangeKey `json:"pending_acks"`
	Handlers    []int                 `json:"handlers"`
}

func (e *Endpoint) Snapshot() Snapshot {
	e.mu.Lock()
	inFlight := e.table.Len()
	e.mu.Unlock()

	types := e.registry.Types()
	handlers := make([]int, 0, len(types))
	for _, id := range types {
		handlers = append(handlers, int(id))
	}
	return Snapshot{
		Node:        e.name,
		Address:     e.address,
		Filtering:   e.filter,
		Running:     e.running.Load(),
		RetryLimit:  e.cfg.RetryLimit,
		InFlight:    inFlight,
		PendingAcks: e.acks.List(),
		Handlers:    handlers,
	}
}
