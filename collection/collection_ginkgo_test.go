package collection_test

import (
	"os"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/ginkgo/extensions/table"
	. "github.com/onsi/gomega"

	"github.com/diatomic/diy/block"
	"github.com/diatomic/diy/collection"
	"github.com/diatomic/diy/external"
)

type payload struct{ N int }

func testFuncs() block.Funcs {
	return block.Funcs{
		Create:  func() block.Block { return &payload{} },
		Destroy: func(block.Block) {},
		Save: func(b block.Block, buf block.Buffer) error {
			p := b.(*payload)
			_, err := buf.Write([]byte{byte(p.N)})
			return err
		},
		Load: func(b block.Block, buf block.Buffer) error {
			b.(*payload).N = int(buf.Bytes()[0])
			return nil
		},
	}
}

var _ = Describe("Collection", func() {
	var (
		dir   string
		store *external.Dir
		col   *collection.Collection
	)

	BeforeEach(func() {
		dir, _ = os.MkdirTemp("", "diy-collection-")
		store, _ = external.NewDir(dir)
		col = collection.New(testFuncs(), store)
	})

	AfterEach(func() {
		os.RemoveAll(dir)
	})

	Describe("Add", func() {
		It("makes the block resident and findable", func() {
			lid := col.Add(&payload{N: 7})
			Expect(col.Resident(lid)).To(BeTrue())
			Expect(col.InMemoryCount()).To(Equal(1))
			Expect(col.Find(lid).(*payload).N).To(Equal(7))
		})
	})

	Describe("Unload/Get round trip", func() {
		It("spills and restores the same content", func() {
			lid := col.Add(&payload{N: 42})
			Expect(col.Unload(lid)).To(Succeed())
			Expect(col.Resident(lid)).To(BeFalse())
			Expect(col.InMemoryCount()).To(Equal(0))

			got, err := col.Get(lid)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.(*payload).N).To(Equal(42))
			Expect(col.Resident(lid)).To(BeTrue())
		})
	})

	Describe("Release", func() {
		It("hands back ownership and marks the slot permanently empty", func() {
			lid := col.Add(&payload{N: 1})
			blk, err := col.Release(lid)
			Expect(err).NotTo(HaveOccurred())
			Expect(blk.(*payload).N).To(Equal(1))

			_, err = col.Get(lid)
			Expect(err).To(HaveOccurred())
			Expect(col.Find(lid)).To(BeNil())
		})
	})

	DescribeTable("EnforceLimit unloads down to the limit",
		func(nblocks, limit, wantResident int) {
			lids := make([]collection.Lid, nblocks)
			for i := range lids {
				lids[i] = col.Add(&payload{N: i})
			}
			Expect(col.EnforceLimit(limit, nil)).To(Succeed())
			Expect(col.InMemoryCount()).To(Equal(wantResident))
		},
		Entry("limit above count is a no-op", 3, 10, 3),
		Entry("limit below count unloads the excess", 5, 2, 2),
		Entry("zero limit means unlimited", 4, 0, 4),
	)
})
