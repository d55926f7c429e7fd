package frame

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/danmuck/canlink/internal/protocol/checksum"
)

const (
	// MaxDataLen is the classical CAN payload limit.
	MaxDataLen = 8
	// WireLen is the size of a Linux SocketCAN struct can_frame.
	WireLen = 16

	canEffFlag uint32 = 0x80000000
	canRtrFlag uint32 = 0x40000000
	canErrFlag uint32 = 0x20000000
	canSFFMask uint32 = 0x000007FF
)

var (
	ErrInvalidID     = errors.New("frame: identifier exceeds 11 bits")
	ErrDataTooLong   = errors.New("frame: data longer than 8 bytes")
	ErrShortWire     = errors.New("frame: short can_frame")
	ErrUnsupportedID = errors.New("frame: extended, remote or error frame")
	ErrEmptyPayload  = errors.New("frame: empty payload")
)

// Frame is one bus transmission unit. Treat it as immutable once built.
type Frame struct {
	ID   ID
	Len  uint8
	Data [MaxDataLen]byte
}

// New builds a frame, copying data.
func New(id ID, data []byte) (Frame, error) {
	if id > MaxID {
		return Frame{}, ErrInvalidID
	}
	if len(data) > MaxDataLen {
		return Frame{}, ErrDataTooLong
	}
	f := Frame{ID: id, Len: uint8(len(data))}
	copy(f.Data[:], data)
	return f, nil
}

// Payload returns a copy of the valid data bytes.
func (f Frame) Payload() []byte {
	n := int(f.Len)
	if n > MaxDataLen {
		n = MaxDataLen
	}
	out := make([]byte, n)
	copy(out, f.Data[:n])
	return out
}

func (f Frame) Validate() error {
	if f.ID > MaxID {
		return ErrInvalidID
	}
	if f.Len > MaxDataLen {
		return ErrDataTooLong
	}
	return nil
}

func (f Frame) String() string {
	return fmt.Sprintf("%s [% x]", f.ID, f.Data[:min(int(f.Len), MaxDataLen)])
}

// MarshalBinary encodes the frame as a SocketCAN struct can_frame:
//
//	0..3  can_id (little-endian)
//	4     can_dlc
//	5..7  padding
//	8..15 data
func (f Frame) MarshalBinary() ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	buf := make([]byte, WireLen)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(f.ID))
	buf[4] = f.Len
	copy(buf[8:16], f.Data[:])
	return buf, nil
}

// UnmarshalBinary decodes a SocketCAN struct can_frame. Extended, remote and
// error frames are not part of this protocol and are rejected.
func (f *Frame) UnmarshalBinary(b []byte) error {
	if len(b) < WireLen {
		return fmt.Errorf("%w: need %d bytes, got %d", ErrShortWire, WireLen, len(b))
	}
	raw := binary.LittleEndian.Uint32(b[0:4])
	if raw&(canEffFlag|canRtrFlag|canErrFlag) != 0 {
		return ErrUnsupportedID
	}
	if b[4] > MaxDataLen {
		return ErrDataTooLong
	}
	f.ID = ID(raw & canSFFMask)
	f.Len = b[4]
	f.Data = [MaxDataLen]byte{}
	copy(f.Data[:], b[8:8+int(f.Len)])
	return nil
}

// Fragment splits payload into the frames that carry it on the bus.
//
// Payloads of at most 8 bytes become one Single frame without a checksum.
// Longer payloads get a trailing checksum byte appended first, then are cut
// into 8-byte chunks tagged Start, Middle..., End. The checksum may land in
// the final frame on its own.
func Fragment(priority, address, typeID uint8, payload []byte) ([]Frame, error) {
	if len(payload) == 0 {
		return nil, ErrEmptyPayload
	}
	if len(payload) <= MaxDataLen {
		f, err := New(Encode(priority, address, Single, typeID), payload)
		if err != nil {
			return nil, err
		}
		return []Frame{f}, nil
	}

	buf := make([]byte, len(payload), len(payload)+1)
	copy(buf, payload)
	buf = append(buf, checksum.Sum(payload))

	frames := make([]Frame, 0, (len(buf)+MaxDataLen-1)/MaxDataLen)
	for offset := 0; offset < len(buf); offset += MaxDataLen {
		end := min(offset+MaxDataLen, len(buf))
		seq := Middle
		switch {
		case offset == 0:
			seq = Start
		case end == len(buf):
			seq = End
		}
		f, err := New(Encode(priority, address, seq, typeID), buf[offset:end])
		if err != nil {
			return nil, err
		}
		frames = append(frames, f)
	}
	return frames, nil
}

// IsFragmented reports whether a payload of n bytes needs multiple frames.
func IsFragmented(n int) bool {
	return n > MaxDataLen
}
