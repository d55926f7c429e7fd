package session

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/danmuck/canlink/internal/protocol/frame"
)

// AckPriority is the bus priority used for acknowledgment frames.
const AckPriority uint8 = 3

var (
	ErrExchangeBusy = errors.New("session: exchange already awaiting acknowledgment")
	ErrNotAck       = errors.New("session: not an acknowledgment frame")
	ErrEmptyAck     = errors.New("session: acknowledgment carries no type id")
)

// ExchangeKey identifies one acknowledgment-tracked send: the destination
// address and the message type id.
type ExchangeKey struct {
	Address uint8
	Type    uint8
}

func (k ExchangeKey) String() string {
	return fmt.Sprintf("addr=%d type=%d", k.Address, k.Type)
}

// NewAckFrame builds the acknowledgment for a completed message: Single
// sequence, reserved type, one byte carrying the acknowledged type id.
func NewAckFrame(address, ackedType uint8) frame.Frame {
	f, _ := frame.New(frame.Encode(AckPriority, address, frame.Single, frame.AckType), []byte{ackedType})
	return f
}

// ParseAck extracts the exchange an acknowledgment frame confirms.
func ParseAck(f frame.Frame) (ExchangeKey, error) {
	fields := frame.Decode(f.ID)
	if fields.Type != frame.AckType {
		return ExchangeKey{}, ErrNotAck
	}
	if f.Len < 1 {
		return ExchangeKey{}, ErrEmptyAck
	}
	return ExchangeKey{Address: fields.Address, Type: f.Data[0]}, nil
}

// PendingAck tracks one exchange awaiting acknowledgment.
type PendingAck struct {
	Key       ExchangeKey
	Attempts  int
	StartedAt time.Time
	LastSent  time.Time

	done  chan struct{}
	acked bool
}

// Done is closed once the exchange is acknowledged.
func (p *PendingAck) Done() <-chan struct{} {
	return p.done
}

// AckTracker stores pending exchanges by (address, type id). Concurrent
// sends to different peers or types never satisfy each other's wait.
type AckTracker struct {
	mu    sync.Mutex
	items map[ExchangeKey]*PendingAck
}

func NewAckTracker() *AckTracker {
	return &AckTracker{items: make(map[ExchangeKey]*PendingAck)}
}

// Begin opens an exchange. It fails if one is already pending for key.
func (t *AckTracker) Begin(key ExchangeKey, at time.Time) (*PendingAck, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.items[key]; ok {
		return nil, fmt.Errorf("%w: %s", ErrExchangeBusy, key)
	}
	p := &PendingAck{Key: key, StartedAt: at, done: make(chan struct{})}
	t.items[key] = p
	return p, nil
}

// MarkAttempt records one transmission of the exchange's frames.
func (t *AckTracker) MarkAttempt(p *PendingAck, at time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	p.Attempts++
	p.LastSent = at
	return p.Attempts
}

// Resolve marks the exchange for key acknowledged. It reports false when no
// exchange is pending, e.g. a late or duplicate ACK.
func (t *AckTracker) Resolve(key ExchangeKey) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.items[key]
	if !ok || p.acked {
		return false
	}
	p.acked = true
	close(p.done)
	return true
}

// Acked reports whether p has been acknowledged.
func (t *AckTracker) Acked(p *PendingAck) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return p.acked
}

// End removes the exchange if p is still the one registered for its key.
func (t *AckTracker) End(p *PendingAck) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cur, ok := t.items[p.Key]; ok && cur == p {
		delete(t.items, p.Key)
	}
}

func (t *AckTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.items)
}

// List returns pending exchange keys ordered by address then type.
func (t *AckTracker) List() []ExchangeKey {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]ExchangeKey, 0, len(t.items))
	for k := range t.items {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Address != out[j].Address {
			return out[i].Address < out[j].Address
		}
		return out[i].Type < out[j].Type
	})
	return out
}
