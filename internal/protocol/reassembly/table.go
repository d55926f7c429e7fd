// Package reassembly accumulates fragments of multi-frame messages per
// routing key and validates them on completion.
//
// The table is not safe for concurrent use; the owning endpoint serializes
// access.
package reassembly

import (
	"time"

	"github.com/danmuck/canlink/internal/protocol/checksum"
	"github.com/danmuck/canlink/internal/protocol/frame"
)

// DefaultWindow is how long an entry stays valid after its Start frame.
const DefaultWindow = 500 * time.Millisecond

// Outcome classifies what Accept did with a frame.
type Outcome uint8

const (
	// OutcomeSingle: the frame was a complete message on its own.
	OutcomeSingle Outcome = iota
	// OutcomeAccumulating: the frame was appended to an open entry.
	OutcomeAccumulating
	// OutcomeComplete: an End frame closed the entry and the checksum matched.
	OutcomeComplete
	// OutcomeOrphan: Middle or End without an open entry.
	OutcomeOrphan
	// OutcomeExpired: Middle or End for an entry older than the window.
	OutcomeExpired
	// OutcomeChecksumMismatch: End frame closed the entry but validation failed.
	OutcomeChecksumMismatch
	// OutcomeDegenerate: End frame closed an entry holding no bytes.
	OutcomeDegenerate
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSingle:
		return "single"
	case OutcomeAccumulating:
		return "accumulating"
	case OutcomeComplete:
		return "complete"
	case OutcomeOrphan:
		return "orphan"
	case OutcomeExpired:
		return "expired"
	case OutcomeChecksumMismatch:
		return "checksum_mismatch"
	case OutcomeDegenerate:
		return "degenerate"
	default:
		return "unknown"
	}
}

// Dropped reports whether the outcome discarded data.
func (o Outcome) Dropped() bool {
	switch o {
	case OutcomeOrphan, OutcomeExpired, OutcomeChecksumMismatch, OutcomeDegenerate:
		return true
	default:
		return false
	}
}

// Result is the effect of one accepted frame. Payload is set only for
// OutcomeSingle and OutcomeComplete.
type Result struct {
	Outcome Outcome
	Key     frame.ID
	Fields  frame.Fields
	Payload []byte
}

// Ready reports whether Payload holds a message ready for dispatch.
func (r Result) Ready() bool {
	return r.Outcome == OutcomeSingle || r.Outcome == OutcomeComplete
}

type entry struct {
	data    []byte
	started time.Time
}

// Table holds at most one entry per routing key.
type Table struct {
	window  time.Duration
	entries map[frame.ID]*entry
}

// NewTable creates a table. A non-positive window selects DefaultWindow.
func NewTable(window time.Duration) *Table {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Table{
		window:  window,
		entries: make(map[frame.ID]*entry),
	}
}

// Accept feeds one data frame into the table at time now.
func (t *Table) Accept(f frame.Frame, now time.Time) Result {
	fields := frame.Decode(f.ID)
	key := frame.RoutingKey(f.ID)
	res := Result{Key: key, Fields: fields}

	switch fields.Sequence {
	case frame.Single:
		res.Outcome = OutcomeSingle
		res.Payload = f.Payload()
		return res

	case frame.Start:
		e := &entry{started: now}
		e.data = append(e.data, f.Payload()...)
		t.entries[key] = e
		res.Outcome = OutcomeAccumulating
		return res
	}

	e, ok := t.entries[key]
	if !ok {
		res.Outcome = OutcomeOrphan
		return res
	}
	if t.expired(e, now) {
		delete(t.entries, key)
		res.Outcome = OutcomeExpired
		return res
	}
	e.data = append(e.data, f.Payload()...)
	if fields.Sequence == frame.Middle {
		res.Outcome = OutcomeAccumulating
		return res
	}

	delete(t.entries, key)
	if len(e.data) < 1 {
		res.Outcome = OutcomeDegenerate
		return res
	}
	if !checksum.Verify(e.data) {
		res.Outcome = OutcomeChecksumMismatch
		return res
	}
	res.Outcome = OutcomeComplete
	res.Payload = e.data[:len(e.data)-1]
	return res
}

func (t *Table) expired(e *entry, now time.Time) bool {
	return now.Sub(e.started) > t.window
}

// Len returns the number of open entries, expired or not.
func (t *Table) Len() int {
	return len(t.entries)
}

// Window returns the configured expiry window.
func (t *Table) Window() time.Duration {
	return t.window
}

// Reset drops every open entry.
func (t *Table) Reset() {
	clear(t.entries)
}
