package storage_test

import (
	"context"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/protoip/storage"
)

var _ = Describe("storage / InmemoryStore", func() {
	var (
		ctx   context.Context
		store *storage.InmemoryStore
	)

	BeforeEach(func() {
		ctx = context.Background()
		store = storage.NewInmemoryStore()
	})

	AfterEach(func() {
		Expect(store.Close()).To(Succeed())
	})

	Describe("Close()", func() {
		It("does not panic when closed twice", func() {
			Expect(func() { store.Close() }).NotTo(Panic())
			Expect(func() { store.Close() }).NotTo(Panic())
		})

		It("closes the update channels", func() {
			updateChan := store.ListenToUpdates()
			Expect(store.Close()).To(Succeed())

			Eventually(updateChan).Should(BeClosed())
		})

		It("hands out closed update channels once closed", func() {
			Expect(store.Close()).To(Succeed())
			Expect(store.ListenToUpdates()).To(BeClosed())
		})
	})

	It("an empty inmemory store equals {}", func() {
		value, err := store.Backup()
		Expect(err).To(Succeed())
		Expect(string(value)).To(Equal(`{}`))
	})

	Describe("Set() / Get()", func() {
		It("can read a key that is written", func() {
			err := store.Set(ctx, []byte("foo"), "bar")
			Expect(err).To(Succeed())

			Expect(store.Get(ctx, []byte("foo"))).To(Equal([]byte(`"bar"`)))

			value, err := store.Backup()
			Expect(err).To(Succeed())
			Expect(string(value)).To(Equal(`{"foo":"bar"}`))
		})

		It("nests dotted keys", func() {
			Expect(store.Set(ctx, []byte("conns.abc.remote"), "127.0.0.1:5000")).To(Succeed())

			Expect(store.Get(ctx, []byte("conns.abc"))).To(MatchJSON(`{"remote":"127.0.0.1:5000"}`))
		})

		It("returns nothing for missing keys", func() {
			Expect(store.Get(ctx, []byte("missing"))).To(BeEmpty())
		})

		It("sends on the update channel when values are set", func() {
			updateChan := store.ListenToUpdates()
			err := store.Set(ctx, []byte("foo"), "bar")
			Expect(err).To(Succeed())

			update, ok := <-updateChan
			Expect(ok).To(BeTrue())
			Expect(update).To(Equal(&storage.Update{
				Key:   []byte("foo"),
				Value: []byte(`"bar"`),
			}))
		})
	})

	Describe("Incr()", func() {
		It("starts missing counters at zero", func() {
			Expect(store.Incr(ctx, []byte("totals.bytes_in"), 12)).To(Equal(int64(12)))
			Expect(store.Incr(ctx, []byte("totals.bytes_in"), 30)).To(Equal(int64(42)))

			Expect(store.Get(ctx, []byte("totals.bytes_in"))).To(Equal([]byte(`42`)))
		})

		It("refuses to increment a value that is not a number", func() {
			Expect(store.Set(ctx, []byte("foo"), "bar")).To(Succeed())

			_, err := store.Incr(ctx, []byte("foo"), 1)
			Expect(err).To(HaveOccurred())
		})

		It("publishes the new value", func() {
			updateChan := store.ListenToUpdates()
			_, err := store.Incr(ctx, []byte("transfers"), 3)
			Expect(err).To(Succeed())

			Expect(<-updateChan).To(Equal(&storage.Update{
				Key:   []byte("transfers"),
				Value: []byte(`3`),
			}))
		})
	})

	Describe("Delete()", func() {
		It("removes a subtree and keeps its siblings", func() {
			Expect(store.Set(ctx, []byte("conns.abc.bytes_in"), 12)).To(Succeed())
			Expect(store.Set(ctx, []byte("conns.def.bytes_in"), 3)).To(Succeed())
			Expect(store.Set(ctx, []byte("totals.bytes_in"), 15)).To(Succeed())

			Expect(store.Delete(ctx, []byte("conns.abc"))).To(Succeed())

			Expect(store.Get(ctx, []byte("conns.abc"))).To(BeEmpty())
			Expect(store.Backup()).To(MatchJSON(`{"conns":{"def":{"bytes_in":3}},"totals":{"bytes_in":15}}`))
		})

		It("ignores missing keys", func() {
			Expect(store.Delete(ctx, []byte("missing"))).To(Succeed())
			Expect(store.Backup()).To(MatchJSON(`{}`))
		})

		It("publishes an empty value", func() {
			Expect(store.Set(ctx, []byte("foo"), "bar")).To(Succeed())

			updateChan := store.ListenToUpdates()
			Expect(store.Delete(ctx, []byte("foo"))).To(Succeed())

			Expect(<-updateChan).To(Equal(&storage.Update{
				Key:   []byte("foo"),
				Value: []byte{},
			}))
		})
	})

	Describe("Restore() / Backup()", func() {
		It("round trips the document", func() {
			Expect(store.Restore([]byte(`{"totals":{"transfers":2}}`))).To(Succeed())

			Expect(store.Get(ctx, []byte("totals.transfers"))).To(Equal([]byte(`2`)))
			Expect(store.Backup()).To(MatchJSON(`{"totals":{"transfers":2}}`))
		})

		It("rejects invalid JSON", func() {
			Expect(store.Restore([]byte(`{"totals":`))).To(MatchError(storage.ErrNotJSON))
		})
	})
})
