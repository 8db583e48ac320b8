package transport

import (
	"fmt"
	"sort"

	"github.com/luma/protoip/protocol"
)

// Partition splits data into DATA frames of at most protocol.MaxPayload
// bytes, numbered from 0. Empty data still yields one (empty) frame. The
// frame payloads alias data.
func Partition(data []byte) []*protocol.Frame {
	count := (len(data) + protocol.MaxPayload - 1) / protocol.MaxPayload
	if count == 0 {
		count = 1
	}

	frames := make([]*protocol.Frame, 0, count)
	for i := 0; i < count; i++ {
		start := i * protocol.MaxPayload
		end := start + protocol.MaxPayload
		if end > len(data) {
			end = len(data)
		}

		f := protocol.NewData(uint32(i), data[start:end:end])
		frames = append(frames, &f)
	}

	return frames
}

// SortFrames orders frames by sequence id. Nil entries sort first so that
// Validate reports them.
func SortFrames(frames []*protocol.Frame) {
	sort.SliceStable(frames, func(i, j int) bool {
		a, b := frames[i], frames[j]
		switch {
		case a == nil:
			return b != nil
		case b == nil:
			return false
		default:
			return a.SequenceID < b.SequenceID
		}
	})
}

// Validate checks that sorted frames hold exactly the ids 0..len-1.
func Validate(frames []*protocol.Frame) error {
	for i, f := range frames {
		if f == nil {
			return fmt.Errorf("frame %d is nil: %w", i, protocol.ErrInvalidFrame)
		}

		if f.SequenceID != uint32(i) {
			return fmt.Errorf("frame %d has an invalid id (expected: %d, actual: %d): %w",
				i, i, f.SequenceID, protocol.ErrInvalidFrame)
		}
	}

	return nil
}

// Assemble sorts and validates frames, then concatenates their payloads.
func Assemble(frames []*protocol.Frame) ([]byte, error) {
	SortFrames(frames)

	if err := Validate(frames); err != nil {
		return nil, err
	}

	size := 0
	for _, f := range frames {
		size += len(f.Data())
	}

	data := make([]byte, 0, size)
	for _, f := range frames {
		data = append(data, f.Data()...)
	}

	return data, nil
}

// MissingIDs sorts frames and returns every id skipped between the smallest
// and the largest id present. Missing ids past the largest one cannot be
// seen this way, see FindMissing.
func MissingIDs(frames []*protocol.Frame) []uint32 {
	SortFrames(frames)
	return FindMissing(frames, -1, 0)
}

// FindMissing scans sorted frames for absent ids. When total is not
// negative the ids 0..total-1 are expected, which also catches a lost head
// or tail. A positive limit caps the number of ids returned.
func FindMissing(frames []*protocol.Frame, total int64, limit int) []uint32 {
	var (
		missing []uint32
		next    uint32
		started = total >= 0
	)

	add := func(from, to uint32) bool {
		for id := from; id < to; id++ {
			if limit > 0 && len(missing) >= limit {
				return false
			}
			missing = append(missing, id)
		}
		return true
	}

	for _, f := range frames {
		if f == nil || (total >= 0 && int64(f.SequenceID) >= total) {
			continue
		}

		if !started {
			next = f.SequenceID
			started = true
		}

		if f.SequenceID < next {
			// duplicate
			continue
		}

		if !add(next, f.SequenceID) {
			return missing
		}

		next = f.SequenceID + 1
	}

	if total > int64(next) {
		add(next, uint32(total))
	}

	return missing
}

// frameSet collects the frames of one incoming transfer. Only the first copy
// of every sequence id is kept, and ids past an announced total are refused,
// so a complete set holds exactly total frames.
type frameSet struct {
	total  int64
	held   map[uint32]struct{}
	frames []*protocol.Frame
}

func newFrameSet(total int64) *frameSet {
	return &frameSet{
		total:  total,
		held:   make(map[uint32]struct{}, initialCapacity(total)),
		frames: make([]*protocol.Frame, 0, initialCapacity(total)),
	}
}

// add reports whether f was kept.
func (fs *frameSet) add(f protocol.Frame) bool {
	if fs.total >= 0 && int64(f.SequenceID) >= fs.total {
		return false
	}

	if _, ok := fs.held[f.SequenceID]; ok {
		return false
	}

	fs.held[f.SequenceID] = struct{}{}
	fs.frames = append(fs.frames, &f)

	return true
}
