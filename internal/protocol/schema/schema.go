// Package schema maps type ids to application message handlers.
package schema

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"

	"github.com/danmuck/canlink/internal/protocol/frame"
)

var (
	ErrReservedType = errors.New("schema: type id reserved for acknowledgments")
	ErrInvalidType  = errors.New("schema: type id out of range")
	ErrNilHandler   = errors.New("schema: handler is nil")
	ErrNilMessage   = errors.New("schema: message is nil")
	ErrNotFixedSize = errors.New("schema: message has no fixed binary size")
)

// ByteOrder is the wire byte order of fixed-layout messages.
var ByteOrder = binary.LittleEndian

// Message is an application payload with a fixed, packed little-endian
// layout. TypeID must use a value receiver so the zero value reports it.
type Message interface {
	TypeID() uint8
}

// Handler consumes a validated payload for one type id.
type Handler interface {
	// Size is the minimum payload length; shorter payloads are dropped.
	Size() int
	Handle(payload []byte) error
}

// HandlerFunc adapts a raw byte callback with a minimum size.
type HandlerFunc struct {
	MinSize int
	Fn      func(payload []byte)
}

func (h HandlerFunc) Size() int { return h.MinSize }

func (h HandlerFunc) Handle(payload []byte) error {
	if h.Fn == nil {
		return ErrNilHandler
	}
	h.Fn(payload)
	return nil
}

type typedHandler[T Message] struct {
	size int
	fn   func(T)
}

func (h typedHandler[T]) Size() int { return h.size }

func (h typedHandler[T]) Handle(payload []byte) error {
	var msg T
	if err := binary.Read(bytes.NewReader(payload[:h.size]), ByteOrder, &msg); err != nil {
		return err
	}
	h.fn(msg)
	return nil
}

// ValidateType rejects ids applications may not use.
func ValidateType(typeID uint8) error {
	if typeID > frame.MaxType {
		return fmt.Errorf("%w: %d", ErrInvalidType, typeID)
	}
	if typeID == frame.AckType {
		return ErrReservedType
	}
	return nil
}

// Size returns the packed wire size of T.
func Size[T Message]() (int, error) {
	var zero T
	n := binary.Size(zero)
	if n < 0 {
		return 0, fmt.Errorf("%w: %T", ErrNotFixedSize, zero)
	}
	return n, nil
}

// Marshal encodes msg in its packed little-endian layout.
func Marshal(msg Message) ([]byte, error) {
	if msg == nil {
		return nil, ErrNilMessage
	}
	if binary.Size(msg) < 0 {
		return nil, fmt.Errorf("%w: %T", ErrNotFixedSize, msg)
	}
	var buf bytes.Buffer
	if err := binary.Write(&buf, ByteOrder, msg); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes payload into T, failing on short input.
func Unmarshal[T Message](payload []byte) (T, error) {
	var msg T
	err := binary.Read(bytes.NewReader(payload), ByteOrder, &msg)
	return msg, err
}

// DispatchResult reports what Dispatch did with a payload.
type DispatchResult uint8

const (
	Dispatched DispatchResult = iota
	UnknownType
	ShortPayload
	HandlerFailed
)

func (r DispatchResult) String() string {
	switch r {
	case Dispatched:
		return "dispatched"
	case UnknownType:
		return "unknown_type"
	case ShortPayload:
		return "short_payload"
	case HandlerFailed:
		return "handler_failed"
	default:
		return "unknown"
	}
}

// Registry stores one handler per type id. Register before traffic starts;
// it is not synchronized against concurrent Dispatch.
type Registry struct {
	handlers map[uint8]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[uint8]Handler)}
}

// Register binds h to typeID. Registering the same id again replaces the
// previous handler.
func (r *Registry) Register(typeID uint8, h Handler) error {
	if err := ValidateType(typeID); err != nil {
		return err
	}
	if h == nil {
		return ErrNilHandler
	}
	if fn, ok := h.(HandlerFunc); ok && fn.Fn == nil {
		return ErrNilHandler
	}
	r.handlers[typeID] = h
	return nil
}

// On registers fn for messages of type T. The type id comes from T's
// TypeID and the minimum size from T's packed layout.
func On[T Message](r *Registry, fn func(T)) error {
	if fn == nil {
		return ErrNilHandler
	}
	size, err := Size[T]()
	if err != nil {
		return err
	}
	var zero T
	return r.Register(zero.TypeID(), typedHandler[T]{size: size, fn: fn})
}

// Resolve returns the handler for typeID.
func (r *Registry) Resolve(typeID uint8) (Handler, bool) {
	h, ok := r.handlers[typeID]
	return h, ok
}

// Types returns registered type ids in ascending order.
func (r *Registry) Types() []uint8 {
	out := make([]uint8, 0, len(r.handlers))
	for id := range r.handlers {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Dispatch hands payload to the handler for typeID. Unknown ids and short
// payloads are dropped without invoking anything.
func (r *Registry) Dispatch(typeID uint8, payload []byte) (DispatchResult, error) {
	h, ok := r.handlers[typeID]
	if !ok {
		return UnknownType, nil
	}
	if len(payload) < h.Size() {
		return ShortPayload, nil
	}
	if err := h.Handle(payload); err != nil {
		return HandlerFailed, err
	}
	return Dispatched, nil
}
