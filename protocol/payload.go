package protocol

import (
	"encoding/binary"
	"fmt"
)

// Representation selects how a payload is materialised.
type Representation int

const (
	ReprBytes Representation = iota
	ReprText
	ReprInt32
	ReprInt64
	ReprUint32
	ReprUint64
)

func (r Representation) String() string {
	switch r {
	case ReprBytes:
		return "bytes"
	case ReprText:
		return "text"
	case ReprInt32:
		return "int32"
	case ReprInt64:
		return "int64"
	case ReprUint32:
		return "uint32"
	case ReprUint64:
		return "uint64"
	default:
		return fmt.Sprintf("repr(%d)", int(r))
	}
}

// MaxRepeatIDs is how many sequence ids fit into one REPEAT frame.
const MaxRepeatIDs = MaxPayload / 4

// Convert materialises data in the representation r. Numbers are read from
// the leading bytes, little-endian. Text is the bytes taken as UTF-8.
func Convert(data []byte, r Representation) (interface{}, error) {
	switch r {
	case ReprBytes:
		return AsBytes(data), nil
	case ReprText:
		return AsText(data), nil
	case ReprInt32:
		return AsInt32(data)
	case ReprInt64:
		return AsInt64(data)
	case ReprUint32:
		return AsUint32(data)
	case ReprUint64:
		return AsUint64(data)
	default:
		return nil, fmt.Errorf("convert to %s: %w", r, ErrUnsupportedPayloadKind)
	}
}

func AsBytes(data []byte) []byte {
	out := make([]byte, len(data))
	copy(out, data)
	return out
}

func AsText(data []byte) string {
	return string(data)
}

func AsInt32(data []byte) (int32, error) {
	v, err := AsUint32(data)
	return int32(v), err
}

func AsInt64(data []byte) (int64, error) {
	v, err := AsUint64(data)
	return int64(v), err
}

func AsUint32(data []byte) (uint32, error) {
	if len(data) < 4 {
		return 0, fmt.Errorf("read uint32 from %d bytes: %w", len(data), ErrTruncatedFrame)
	}

	return binary.LittleEndian.Uint32(data), nil
}

func AsUint64(data []byte) (uint64, error) {
	if len(data) < 8 {
		return 0, fmt.Errorf("read uint64 from %d bytes: %w", len(data), ErrTruncatedFrame)
	}

	return binary.LittleEndian.Uint64(data), nil
}

// As materialises the frame payload in representation r.
func (f Frame) As(r Representation) (interface{}, error) {
	return Convert(f.Data(), r)
}

func (f Frame) Bytes() []byte { return AsBytes(f.Data()) }
func (f Frame) Text() string { return AsText(f.Data()) }
func (f Frame) Int32() (int32, error) { return AsInt32(f.Data()) }
func (f Frame) Int64() (int64, error) { return AsInt64(f.Data()) }
func (f Frame) Uint32() (uint32, error) { return AsUint32(f.Data()) }
func (f Frame) Uint64() (uint64, error) { return AsUint64(f.Data()) }

// EncodeIDList packs sequence ids for a REPEAT frame. It fails if the list
// does not fit into one frame.
func EncodeIDList(ids []uint32) ([]byte, error) {
	if len(ids) > MaxRepeatIDs {
		return nil, fmt.Errorf("%d ids in one repeat frame: %w", len(ids), ErrPayloadTooLarge)
	}

	b := make([]byte, 4*len(ids))
	for i, id := range ids {
		binary.LittleEndian.PutUint32(b[4*i:], id)
	}

	return b, nil
}

// DecodeIDList unpacks the ids of a REPEAT payload.
func DecodeIDList(data []byte) ([]uint32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("repeat payload of %d bytes: %w", len(data), ErrInvalidFrame)
	}

	ids := make([]uint32, len(data)/4)
	for i := range ids {
		ids[i] = binary.LittleEndian.Uint32(data[4*i:])
	}

	return ids, nil
}

// NewRepeat builds a REPEAT frame asking for ids.
func NewRepeat(ids []uint32) (Frame, error) {
	b, err := EncodeIDList(ids)
	if err != nil {
		return Frame{}, err
	}

	return NewControl(KindRepeat).WithPayload(b), nil
}

// NewStart builds a SOT frame announcing how many data frames follow.
func NewStart(count uint32) Frame {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, count)
	return NewControl(KindSOT).WithPayload(b)
}

// FrameCount returns the count announced by a SOT frame. ok is false when
// the peer did not announce one.
func (f Frame) FrameCount() (count uint32, ok bool) {
	if f.Kind != KindSOT || f.PayloadLength < 4 {
		return 0, false
	}

	v, err := f.Uint32()
	if err != nil {
		return 0, false
	}

	return v, true
}
