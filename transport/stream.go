package transport

import (
	"fmt"
	"net"
	"os"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/luma/protoip/protocol"
)

// Stream runs the transfer protocol over one connected byte stream.
//
// A Stream is not safe for concurrent transfers: only one Transmit or
// Receive may run at a time. IsConnected and Close may be called from any
// goroutine.
type Stream struct {
	conn   net.Conn
	remote string
	opts   StreamOptions
	log    *zap.Logger

	// pending is the working set of an outgoing transfer
	pending []*protocol.Frame

	// frames is the working set of the last completed incoming transfer
	frames []*protocol.Frame

	rbuf []byte
	wbuf []byte

	disconnected atomic.Bool
}

func NewStream(conn net.Conn, options StreamOptions) *Stream {
	opts := options.withDefaults()
	if opts.Trace && opts.TraceOutput == nil {
		opts.TraceOutput = os.Stdout
	}

	remote := ""
	if addr := conn.RemoteAddr(); addr != nil {
		remote = addr.String()
	}

	return &Stream{
		conn:   conn,
		remote: remote,
		opts:   opts,
		log:    opts.Log.With(zap.String("remote", remote)),
		rbuf:   make([]byte, protocol.FrameSize),
		wbuf:   make([]byte, protocol.FrameSize),
	}
}

// IsConnected returns false once the stream was closed or the peer went away.
func (s *Stream) IsConnected() bool {
	return s.conn != nil && !s.disconnected.Load()
}

func (s *Stream) Close() error {
	s.disconnected.Store(true)
	return s.conn.Close()
}

func (s *Stream) markDisconnected(err error) {
	if !s.disconnected.Swap(true) {
		s.log.Debug("Peer disconnected", zap.Error(err))
	}
}

// Transmit delivers data to the peer, or fails.
//
// The data is partitioned into frames, announced with SOT, sent, closed with
// EOT and then any frames the peer reports missing are sent again until it
// acknowledges the transfer.
func (s *Stream) Transmit(data []byte) error {
	s.pending = Partition(data)
	defer func() { s.pending = nil }()

	if err := s.writeFrame(protocol.NewStart(uint32(len(s.pending)))); err != nil {
		return fmt.Errorf("send start of transmission: %w", err)
	}

	if _, err := s.expect(protocol.KindAck); err != nil {
		return fmt.Errorf("await start of transmission ack: %w", err)
	}

	for _, f := range s.pending {
		if err := s.writeFrame(*f); err != nil {
			return err
		}
	}

	if err := s.writeFrame(protocol.NewControl(protocol.KindEOT)); err != nil {
		return fmt.Errorf("send end of transmission: %w", err)
	}

	if err := s.awaitCompletion(); err != nil {
		return err
	}

	s.log.Debug("Transmitted",
		zap.Int("bytes", len(data)),
		zap.Int("frames", len(s.pending)))

	return nil
}

// TransmitString sends s as UTF-8 text.
func (s *Stream) TransmitString(text string) error {
	return s.Transmit([]byte(text))
}

// TransmitFrame sends a whole encoded frame as the message. This is how
// application level kinds such as PING travel.
func (s *Stream) TransmitFrame(f protocol.Frame) error {
	b, err := protocol.Encode(f)
	if err != nil {
		return err
	}

	return s.Transmit(b)
}

// awaitCompletion services REPEAT requests until the peer sends ACK.
func (s *Stream) awaitCompletion() error {
	for round := 0; ; round++ {
		resp, err := s.readFrame()
		if err != nil {
			return fmt.Errorf("await transfer ack: %w", err)
		}

		switch resp.Kind {
		case protocol.KindAck:
			return nil

		case protocol.KindRepeat:
			if round >= s.opts.MaxTries {
				return fmt.Errorf("peer still missing frames after %d repair rounds: %w",
					round, protocol.ErrIncompleteTransfer)
			}

			ids, err := protocol.DecodeIDList(resp.Data())
			if err != nil {
				return err
			}

			s.log.Debug("Peer requested frames again",
				zap.Int("round", round),
				zap.Uint32s("ids", ids))

			if err := s.resend(ids); err != nil {
				return err
			}

		default:
			return fmt.Errorf("expected ACK or REPEAT, got %s: %w",
				resp.Kind, protocol.ErrProtocolViolation)
		}
	}
}

func (s *Stream) resend(ids []uint32) error {
	for _, id := range ids {
		if int(id) >= len(s.pending) {
			return fmt.Errorf("peer requested frame %d of %d: %w",
				id, len(s.pending), protocol.ErrProtocolViolation)
		}

		if err := s.writeFrame(*s.pending[id]); err != nil {
			return err
		}
	}

	return nil
}

// Receive reads one complete transfer from the peer. The result is available
// through Data and DataAs until the next Receive.
func (s *Stream) Receive() error {
	start, err := s.expect(protocol.KindSOT)
	if err != nil {
		return fmt.Errorf("await start of transmission: %w", err)
	}

	return s.receiveFrom(start)
}

// awaitOpening waits, without the regular read timeout, for the frame that
// opens the next transfer.
func (s *Stream) awaitOpening() (protocol.Frame, error) {
	return s.readFrameWithin(s.opts.IdleTimeout)
}

func (s *Stream) receiveFrom(start protocol.Frame) error {
	s.frames = nil

	total := int64(-1)
	if count, ok := start.FrameCount(); ok {
		total = int64(count)
	}

	if err := s.writeFrame(protocol.NewControl(protocol.KindAck)); err != nil {
		return fmt.Errorf("ack start of transmission: %w", err)
	}

	set := newFrameSet(total)
	for {
		f, err := s.readFrame()
		if err != nil {
			return err
		}

		if f.Kind == protocol.KindEOT {
			break
		}

		if f.Kind.IsControl() {
			return fmt.Errorf("got %s inside a transmission: %w", f.Kind, protocol.ErrProtocolViolation)
		}

		s.hold(set, f)
	}

	frames, err := s.repair(set)
	if err != nil {
		return err
	}

	s.frames = frames

	s.log.Debug("Received", zap.Int("frames", len(frames)))

	return nil
}

func (s *Stream) hold(set *frameSet, f protocol.Frame) {
	if !set.add(f) {
		s.log.Debug("Dropped frame",
			zap.Uint32("id", f.SequenceID),
			zap.Int64("total", set.total))
	}
}

// repair asks for missing frames until none are missing, then acknowledges
// the transfer.
func (s *Stream) repair(set *frameSet) ([]*protocol.Frame, error) {
	for round := 0; ; round++ {
		frames := set.frames
		SortFrames(frames)

		missing := FindMissing(frames, set.total, protocol.MaxRepeatIDs)
		if len(missing) == 0 {
			if set.total >= 0 && int64(len(frames)) != set.total {
				return nil, fmt.Errorf("expected %d frames, holding %d: %w",
					set.total, len(frames), protocol.ErrInvalidFrame)
			}

			if err := s.writeFrame(protocol.NewControl(protocol.KindAck)); err != nil {
				return nil, fmt.Errorf("ack transmission: %w", err)
			}

			return frames, nil
		}

		repeat, err := protocol.NewRepeat(missing)
		if err != nil {
			return nil, err
		}

		s.log.Debug("Requesting missing frames",
			zap.Int("round", round),
			zap.Uint32s("ids", missing))

		if err := s.writeFrame(repeat); err != nil {
			return nil, fmt.Errorf("request missing frames: %w", err)
		}

		if round >= s.opts.MaxTries {
			return nil, fmt.Errorf("%d frames still missing after %d repair rounds: %w",
				len(missing), round, protocol.ErrIncompleteTransfer)
		}

		for range missing {
			f, err := s.readFrame()
			if err != nil {
				return nil, err
			}

			if f.Kind.IsControl() {
				return nil, fmt.Errorf("got %s while repairing: %w", f.Kind, protocol.ErrProtocolViolation)
			}

			s.hold(set, f)
		}
	}
}

// Data reassembles the last received transfer.
func (s *Stream) Data() ([]byte, error) {
	if s.frames == nil {
		return nil, fmt.Errorf("nothing received: %w", protocol.ErrInvalidFrame)
	}

	return Assemble(s.frames)
}

// DataAs reassembles the last received transfer in representation r.
func (s *Stream) DataAs(r protocol.Representation) (interface{}, error) {
	data, err := s.Data()
	if err != nil {
		return nil, err
	}

	return protocol.Convert(data, r)
}

// DataAsText is DataAs(protocol.ReprText) without the type assertion.
func (s *Stream) DataAsText() (string, error) {
	data, err := s.Data()
	if err != nil {
		return "", err
	}

	return protocol.AsText(data), nil
}

// ReceivedFrame decodes the last received transfer as a single frame, the
// counterpart of TransmitFrame.
func (s *Stream) ReceivedFrame() (protocol.Frame, error) {
	data, err := s.Data()
	if err != nil {
		return protocol.Frame{}, err
	}

	return protocol.Decode(data)
}

func initialCapacity(total int64) int {
	const maxPrealloc = 1024

	if total < 0 {
		return 1
	}

	if total > maxPrealloc {
		return maxPrealloc
	}

	return int(total)
}
