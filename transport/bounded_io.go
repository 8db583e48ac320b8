package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/luma/protoip/protocol"
)

// tryWrite writes all of buf unless the retry budget runs out. Only failed
// writes consume the budget, a slow but healthy peer is waited for. It
// returns how many bytes made it out.
func (s *Stream) tryWrite(buf []byte) int {
	written := 0
	tries := s.opts.MaxTries

	for written < len(buf) && tries > 0 {
		s.armDeadline(s.conn.SetWriteDeadline, s.opts.WriteTimeout)

		n, err := s.conn.Write(buf[written:])
		written += n

		if err == nil {
			continue
		}

		if isPermanent(err) {
			s.markDisconnected(err)
			break
		}

		tries--
		s.log.Debug("Write attempt failed",
			zap.Int("written", written),
			zap.Int("triesLeft", tries),
			zap.Error(err))
	}

	return written
}

// tryRead fills buf unless the retry budget runs out, accumulating partial
// reads. It returns how many bytes were read.
func (s *Stream) tryRead(buf []byte, timeout time.Duration) int {
	read := 0
	tries := s.opts.MaxTries

	for read < len(buf) && tries > 0 {
		s.armDeadline(s.conn.SetReadDeadline, timeout)

		n, err := s.conn.Read(buf[read:])
		read += n

		if err == nil {
			continue
		}

		if isPermanent(err) {
			s.markDisconnected(err)
			break
		}

		tries--
		s.log.Debug("Read attempt failed",
			zap.Int("read", read),
			zap.Int("triesLeft", tries),
			zap.Error(err))
	}

	return read
}

func (s *Stream) armDeadline(set func(time.Time) error, timeout time.Duration) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	if err := set(deadline); err != nil && !isPermanent(err) {
		s.log.Debug("Failed to set deadline", zap.Error(err))
	}
}

// writeFrame encodes f and writes it as one FrameSize block.
func (s *Stream) writeFrame(f protocol.Frame) error {
	if err := protocol.EncodeInto(s.wbuf, f); err != nil {
		return err
	}

	if s.opts.Trace {
		s.trace("SEND", f)
	}

	if n := s.tryWrite(s.wbuf); n < protocol.FrameSize {
		return fmt.Errorf("write %s frame %d: wrote %d of %d bytes: %w",
			f.Kind, f.SequenceID, n, protocol.FrameSize, protocol.ErrTransportIO)
	}

	return nil
}

// readFrame reads one frame, arming the regular read timeout.
func (s *Stream) readFrame() (protocol.Frame, error) {
	return s.readFrameWithin(s.opts.ReadTimeout)
}

func (s *Stream) readFrameWithin(timeout time.Duration) (protocol.Frame, error) {
	n := s.tryRead(s.rbuf, timeout)

	switch {
	case n == 0:
		return protocol.Frame{}, fmt.Errorf("read frame: %w", protocol.ErrTransportIO)

	case n < protocol.FrameSize:
		return protocol.Frame{}, fmt.Errorf("read frame: got %d of %d bytes: %w: %w",
			n, protocol.FrameSize, protocol.ErrTransportIO, protocol.ErrTruncatedFrame)
	}

	f, err := protocol.Decode(s.rbuf)
	if err != nil {
		return protocol.Frame{}, err
	}

	if s.opts.Trace {
		s.trace("RECV", f)
	}

	return f, nil
}

// expect reads one frame and fails unless it is of the wanted kind.
func (s *Stream) expect(kind protocol.Kind) (protocol.Frame, error) {
	f, err := s.readFrame()
	if err != nil {
		return protocol.Frame{}, err
	}

	if f.Kind != kind {
		return protocol.Frame{}, fmt.Errorf("expected %s, got %s: %w",
			kind, f.Kind, protocol.ErrProtocolViolation)
	}

	return f, nil
}

func (s *Stream) trace(direction string, f protocol.Frame) {
	if _, err := fmt.Fprintf(s.opts.TraceOutput, "%s %s\n", direction, s.remote); err != nil {
		return
	}

	if err := protocol.Dump(s.opts.TraceOutput, f); err != nil {
		s.log.Debug("Failed to trace frame", zap.Error(err))
	}
}

// isPermanent reports errors that retrying cannot fix.
func isPermanent(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE)
}
