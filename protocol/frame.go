package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// FrameSize is the exact number of bytes every frame occupies on the wire.
	FrameSize = 1024

	// HeaderSize covers kind, sequence id and payload length.
	HeaderSize = 12

	// MaxPayload is the payload capacity of a single frame.
	MaxPayload = FrameSize - HeaderSize
)

// Frame is the unit written to and read from the stream.
type Frame struct {
	Kind       Kind
	SequenceID uint32

	// PayloadLength is how many leading bytes of Payload carry data.
	PayloadLength uint32

	// Payload holds at least PayloadLength bytes. Frames produced by Decode
	// keep the full zero-padded capacity; readers must only look at the
	// first PayloadLength bytes.
	Payload []byte
}

// NewControl builds an empty frame of the given kind with sequence id 0.
func NewControl(kind Kind) Frame {
	return Frame{Kind: kind, Payload: []byte{}}
}

// NewData builds a DATA frame carrying payload. The payload is not copied.
func NewData(id uint32, payload []byte) Frame {
	return Frame{
		Kind:          KindData,
		SequenceID:    id,
		PayloadLength: uint32(len(payload)),
		Payload:       payload,
	}
}

// NewText builds a single DATA frame carrying s.
func NewText(s string) Frame {
	return NewData(0, []byte(s))
}

// WithPayload returns a copy of f carrying payload.
func (f Frame) WithPayload(payload []byte) Frame {
	f.Payload = payload
	f.PayloadLength = uint32(len(payload))
	return f
}

// Data returns the meaningful part of the payload without copying.
func (f Frame) Data() []byte {
	n := int(f.PayloadLength)
	if n > len(f.Payload) {
		n = len(f.Payload)
	}

	return f.Payload[:n]
}

// Encode serialises f into exactly FrameSize bytes.
func Encode(f Frame) ([]byte, error) {
	buf := make([]byte, FrameSize)
	if err := EncodeInto(buf, f); err != nil {
		return nil, err
	}

	return buf, nil
}

// EncodeInto serialises f into buf, which must be at least FrameSize long.
// Any bytes after the payload are zeroed.
func EncodeInto(buf []byte, f Frame) error {
	if len(buf) < FrameSize {
		return fmt.Errorf("encode into %d byte buffer: %w", len(buf), ErrTruncatedFrame)
	}

	if f.PayloadLength > MaxPayload || len(f.Payload) > MaxPayload {
		return fmt.Errorf("%s frame %d carries %d bytes: %w",
			f.Kind, f.SequenceID, f.PayloadLength, ErrPayloadTooLarge)
	}

	if int(f.PayloadLength) > len(f.Payload) {
		return fmt.Errorf("%s frame %d declares %d bytes but holds %d: %w",
			f.Kind, f.SequenceID, f.PayloadLength, len(f.Payload), ErrInvalidFrame)
	}

	binary.LittleEndian.PutUint32(buf[0:4], uint32(f.Kind))
	binary.LittleEndian.PutUint32(buf[4:8], f.SequenceID)
	binary.LittleEndian.PutUint32(buf[8:12], f.PayloadLength)

	n := copy(buf[HeaderSize:FrameSize], f.Payload)
	for i := HeaderSize + n; i < FrameSize; i++ {
		buf[i] = 0
	}

	return nil
}

// Decode parses one frame from the first FrameSize bytes of b. The payload
// is copied so b may be reused.
func Decode(b []byte) (Frame, error) {
	if len(b) < FrameSize {
		return Frame{}, fmt.Errorf("decode %d of %d bytes: %w", len(b), FrameSize, ErrTruncatedFrame)
	}

	f := Frame{
		Kind:          Kind(int32(binary.LittleEndian.Uint32(b[0:4]))),
		SequenceID:    binary.LittleEndian.Uint32(b[4:8]),
		PayloadLength: binary.LittleEndian.Uint32(b[8:12]),
		Payload:       make([]byte, MaxPayload),
	}
	copy(f.Payload, b[HeaderSize:FrameSize])

	return f, nil
}

// IsEncodedFrame reports whether b looks like the output of Encode: exactly
// FrameSize bytes, a payload length within capacity and zero padding. A
// frame sent as a whole message always passes. Arbitrary data of the same
// shape passes too, so applications that mix frames and raw messages on one
// connection must not send FrameSize byte messages that end in zeros.
func IsEncodedFrame(b []byte) bool {
	if len(b) != FrameSize {
		return false
	}

	length := binary.LittleEndian.Uint32(b[8:12])
	if length > MaxPayload {
		return false
	}

	for _, c := range b[HeaderSize+int(length):] {
		if c != 0 {
			return false
		}
	}

	return true
}

// ReadFrame reads exactly one frame from r.
func ReadFrame(r io.Reader) (Frame, error) {
	var buf [FrameSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Frame{}, fmt.Errorf("%w: %v", ErrTruncatedFrame, err)
		}

		return Frame{}, err
	}

	return Decode(buf[:])
}

// WriteFrame writes f to w as a single FrameSize write.
func WriteFrame(w io.Writer, f Frame) error {
	b, err := Encode(f)
	if err != nil {
		return err
	}

	_, err = w.Write(b)
	return err
}
