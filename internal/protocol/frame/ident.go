package frame

import "fmt"

// ID is an 11-bit standard bus identifier.
//
// Layout:
//
//	[10..9] priority (0 low .. 3 high)
//	[8..5]  address  (0-14 node, 15 broadcast)
//	[4..3]  sequence (Start, Middle, End, Single)
//	[2..0]  type id  (7 reserved for acknowledgments)
type ID uint16

// Sequence marks a frame's position inside a logical message.
type Sequence uint8

const (
	Start Sequence = iota
	Middle
	End
	Single
)

const (
	MaxID     ID    = 0x7FF
	Broadcast uint8 = 0x0F
	AckType   uint8 = 0x07
	MaxType   uint8 = 0x07
	MaxAddr   uint8 = 0x0F
	MaxPrio   uint8 = 0x03

	prioShift = 9
	addrShift = 5
	seqShift  = 3

	prioMask = 0x03
	addrMask = 0x0F
	seqMask  = 0x03
	typeMask = 0x07
)

// Fields is the decoded form of an ID.
type Fields struct {
	Priority uint8
	Address  uint8
	Sequence Sequence
	Type     uint8
}

// Encode packs the routing fields into an ID. Each field is masked to its
// bit width; out-of-range values are truncated, not rejected.
func Encode(priority, address uint8, seq Sequence, typeID uint8) ID {
	return ID(uint16(priority&prioMask)<<prioShift |
		uint16(address&addrMask)<<addrShift |
		uint16(uint8(seq)&seqMask)<<seqShift |
		uint16(typeID&typeMask))
}

// Decode unpacks an ID. Every 11-bit value decodes.
func Decode(id ID) Fields {
	return Fields{
		Priority: uint8(id>>prioShift) & prioMask,
		Address:  uint8(id>>addrShift) & addrMask,
		Sequence: Sequence(uint8(id>>seqShift) & seqMask),
		Type:     uint8(id) & typeMask,
	}
}

// ID re-encodes the fields.
func (f Fields) ID() ID {
	return Encode(f.Priority, f.Address, f.Sequence, f.Type)
}

// RoutingKey clears the sequence bits so every fragment of one logical
// message maps to the same key.
func RoutingKey(id ID) ID {
	return id &^ (seqMask << seqShift)
}

func (id ID) Fields() Fields     { return Decode(id) }
func (id ID) Sequence() Sequence { return Decode(id).Sequence }
func (id ID) Type() uint8        { return Decode(id).Type }
func (id ID) Address() uint8     { return Decode(id).Address }

func (id ID) String() string {
	f := Decode(id)
	return fmt.Sprintf("%#03x(prio=%d addr=%d seq=%s type=%d)", uint16(id), f.Priority, f.Address, f.Sequence, f.Type)
}

func (s Sequence) String() string {
	switch s {
	case Start:
		return "start"
	case Middle:
		return "middle"
	case End:
		return "end"
	case Single:
		return "single"
	default:
		return fmt.Sprintf("sequence(%d)", uint8(s))
	}
}
