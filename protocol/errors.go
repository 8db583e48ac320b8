package protocol

import "errors"

var (
	// ErrTransportIO means the underlying stream failed, or returned fewer
	// bytes than required once the retry budget was spent.
	ErrTransportIO = errors.New("protoip: transport i/o failed")

	// ErrProtocolViolation means a frame of an unexpected kind arrived.
	ErrProtocolViolation = errors.New("protoip: protocol violation")

	// ErrInvalidFrame means reassembly found a missing, duplicate or
	// out of order sequence id.
	ErrInvalidFrame = errors.New("protoip: invalid frame")

	// ErrTruncatedFrame means fewer than FrameSize bytes were available.
	ErrTruncatedFrame = errors.New("protoip: truncated frame")

	// ErrUnsupportedPayloadKind means a payload was requested in a
	// representation the codec does not know.
	ErrUnsupportedPayloadKind = errors.New("protoip: unsupported payload kind")

	// ErrIncompleteTransfer means the repair loop ran out of retries with
	// frames still missing.
	ErrIncompleteTransfer = errors.New("protoip: incomplete transfer")

	ErrPayloadTooLarge = errors.New("protoip: payload exceeds frame capacity")
)
