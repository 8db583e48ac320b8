package transport_test

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/protoip/protocol"
	"github.com/luma/protoip/transport"
)

func framesWithIDs(ids ...uint32) []*protocol.Frame {
	frames := make([]*protocol.Frame, 0, len(ids))
	for _, id := range ids {
		f := protocol.NewData(id, []byte{byte(id)})
		frames = append(frames, &f)
	}

	return frames
}

var _ = Describe("transport / frames", func() {
	Describe("Partition()", func() {
		It("splits 2000 bytes into a full and a partial frame", func() {
			frames := transport.Partition(pattern(2000))

			Expect(frames).To(HaveLen(2))
			Expect(frames[0].SequenceID).To(Equal(uint32(0)))
			Expect(frames[0].PayloadLength).To(Equal(uint32(1012)))
			Expect(frames[1].SequenceID).To(Equal(uint32(1)))
			Expect(frames[1].PayloadLength).To(Equal(uint32(988)))
		})

		It("yields one empty frame for empty data", func() {
			frames := transport.Partition(nil)

			Expect(frames).To(HaveLen(1))
			Expect(frames[0].Kind).To(Equal(protocol.KindData))
			Expect(frames[0].PayloadLength).To(BeZero())
		})

		It("fills exactly one frame with MaxPayload bytes", func() {
			Expect(transport.Partition(pattern(protocol.MaxPayload))).To(HaveLen(1))
			Expect(transport.Partition(pattern(protocol.MaxPayload + 1))).To(HaveLen(2))
		})

		It("is deterministic", func() {
			data := pattern(5000)
			a := transport.Partition(data)
			b := transport.Partition(data)

			Expect(a).To(HaveLen(len(b)))
			for i := range a {
				Expect(*a[i]).To(Equal(*b[i]))
			}
		})
	})

	Describe("Assemble()", func() {
		It("is the inverse of Partition", func() {
			data := pattern(4321)
			Expect(transport.Assemble(transport.Partition(data))).To(Equal(data))
		})

		It("puts frames back in order", func() {
			frames := transport.Partition(pattern(3000))
			frames[0], frames[2] = frames[2], frames[0]

			Expect(transport.Assemble(frames)).To(Equal(pattern(3000)))
		})

		It("rejects a gap", func() {
			_, err := transport.Assemble(framesWithIDs(0, 2))
			Expect(err).To(MatchError(protocol.ErrInvalidFrame))
		})

		It("rejects a duplicate", func() {
			_, err := transport.Assemble(framesWithIDs(0, 1, 1))
			Expect(err).To(MatchError(protocol.ErrInvalidFrame))
		})

		It("rejects a nil frame", func() {
			frames := framesWithIDs(0, 1)
			frames = append(frames, nil)

			_, err := transport.Assemble(frames)
			Expect(err).To(MatchError(protocol.ErrInvalidFrame))
		})

		It("assembles nothing from no frames", func() {
			Expect(transport.Assemble([]*protocol.Frame{})).To(BeEmpty())
		})
	})

	Describe("MissingIDs()", func() {
		It("finds interior gaps", func() {
			Expect(transport.MissingIDs(framesWithIDs(0, 2, 3))).To(Equal([]uint32{1}))
			Expect(transport.MissingIDs(framesWithIDs(5, 1, 3))).To(Equal([]uint32{2, 4}))
		})

		It("finds nothing in a contiguous set", func() {
			Expect(transport.MissingIDs(framesWithIDs(2, 0, 1))).To(BeEmpty())
		})

		It("ignores duplicates", func() {
			Expect(transport.MissingIDs(framesWithIDs(0, 0, 2))).To(Equal([]uint32{1}))
		})
	})

	Describe("FindMissing()", func() {
		It("finds a lost head and tail when the total is known", func() {
			frames := framesWithIDs(1, 2)
			Expect(transport.FindMissing(frames, 5, 0)).To(Equal([]uint32{0, 3, 4}))
		})

		It("caps the result", func() {
			Expect(transport.FindMissing(framesWithIDs(0), 10, 3)).To(Equal([]uint32{1, 2, 3}))
		})

		It("ignores ids past the total", func() {
			Expect(transport.FindMissing(framesWithIDs(0, 1, 7), 2, 0)).To(BeEmpty())
		})
	})
})
