package link_test

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/ginkgo/extensions/table"
	. "github.com/onsi/gomega"

	"github.com/diatomic/diy/link"
)

var _ = Describe("Link", func() {
	Describe("AddTarget", func() {
		It("ignores direction/bounds annotations on a base link", func() {
			l := link.New(link.KindBase)
			l.AddTarget(link.BlockID{Gid: 1}, link.DirLeft, link.Bounds{Min: []float64{0}, Max: []float64{1}})
			Expect(l.Direction(0)).To(Equal(link.DirNone))
			Expect(l.Bounds(0)).To(Equal(link.Bounds{}))
		})

		It("carries direction and bounds on a directional+bounded link", func() {
			l := link.New(link.KindDirectionBounded)
			bnd := link.Bounds{Min: []float64{0, 0}, Max: []float64{1, 1}}
			l.AddTarget(link.BlockID{Gid: 2, Proc: 1}, link.DirUp, bnd)
			Expect(l.Direction(0)).To(Equal(link.DirUp))
			Expect(l.Bounds(0)).To(Equal(bnd))
		})
	})

	Describe("SizeUnique", func() {
		It("counts repeated gids (periodic images) once", func() {
			l := link.New(link.KindDirectional)
			l.AddTarget(link.BlockID{Gid: 5}, link.DirLeft, link.Bounds{})
			l.AddTarget(link.BlockID{Gid: 5}, link.DirRight, link.Bounds{})
			l.AddTarget(link.BlockID{Gid: 6}, link.DirUp, link.Bounds{})
			Expect(l.Size()).To(Equal(3))
			Expect(l.SizeUnique()).To(Equal(2))
		})
	})

	Describe("FixProcs", func() {
		It("rewrites every target's owning rank", func() {
			l := link.New(link.KindBase)
			l.AddTarget(link.BlockID{Gid: 1, Proc: 0}, link.DirNone, link.Bounds{})
			l.AddTarget(link.BlockID{Gid: 2, Proc: 0}, link.DirNone, link.Bounds{})
			l.FixProcs(func(gid int64) int { return int(gid) + 10 })
			Expect(l.Target(0).Proc).To(Equal(11))
			Expect(l.Target(1).Proc).To(Equal(12))
		})
	})

	Describe("Save/Load round trip", func() {
		It("reproduces an equal link across every Kind", func() {
			for _, kind := range []link.Kind{
				link.KindBase, link.KindDirectional, link.KindBounded, link.KindDirectionBounded,
			} {
				l := link.New(kind)
				l.SetWrap(true)
				l.SetBounds(link.Bounds{Min: []float64{0, 0}, Max: []float64{2, 2}})
				l.AddTarget(link.BlockID{Gid: 1, Proc: 1}, link.DirLeft, link.Bounds{Min: []float64{0, 0}, Max: []float64{1, 1}})
				l.AddTarget(link.BlockID{Gid: 2, Proc: 2}, link.DirRight, link.Bounds{Min: []float64{1, 0}, Max: []float64{2, 1}})

				raw, err := l.Bytes()
				Expect(err).NotTo(HaveOccurred())
				got, err := link.FromBytes(raw)
				Expect(err).NotTo(HaveOccurred())
				Expect(got.Equal(l)).To(BeTrue(), "kind=%s", kind)
			}
		})
	})

	DescribeTable("Bounds.Intersects",
		func(a, b link.Bounds, want bool) {
			Expect(a.Intersects(b)).To(Equal(want))
		},
		Entry("overlapping boxes", link.Bounds{Min: []float64{0}, Max: []float64{2}}, link.Bounds{Min: []float64{1}, Max: []float64{3}}, true),
		Entry("touching at a point counts as intersecting", link.Bounds{Min: []float64{0}, Max: []float64{1}}, link.Bounds{Min: []float64{1}, Max: []float64{2}}, true),
		Entry("disjoint boxes", link.Bounds{Min: []float64{0}, Max: []float64{1}}, link.Bounds{Min: []float64{2}, Max: []float64{3}}, false),
	)
})
