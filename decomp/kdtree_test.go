package decomp_test

import (
	"testing"

	"github.com/diatomic/diy/assign"
	"github.com/diatomic/diy/decomp"
	"github.com/diatomic/diy/internal/dxtest"
	"github.com/diatomic/diy/link"
)

// TestBuildKDTreePartitionsEveryPoint covers spec S5: every point supplied
// to BuildKDTree ends up assigned to exactly one leaf, and the tree has the
// requested power-of-two number of leaves.
func TestBuildKDTreePartitionsEveryPoint(t *testing.T) {
	points := make([]decomp.Point, 0, 16)
	for i := 0; i < 16; i++ {
		points = append(points, decomp.Point{float64(i), float64(16 - i)})
	}
	domain := link.Bounds{Min: []float64{0, 0}, Max: []float64{16, 16}}
	tree := decomp.BuildKDTree(points, domain, 4, false)
	dxtest.Equal(t, tree.NBlocks(), int64(4), "requested 4 leaves")

	seen := make(map[int]bool)
	for gid := int64(0); gid < tree.NBlocks(); gid++ {
		for _, idx := range tree.PointsFor(gid) {
			dxtest.Fatalf(t, !seen[idx], "point %d assigned to more than one leaf", idx)
			seen[idx] = true
		}
	}
	dxtest.Equal(t, len(seen), len(points), "every point is assigned to exactly one leaf")
}

// TestKDTreeLinkIntersectsOnlyNeighbors covers spec P4: a leaf's link
// enumerates exactly those other leaves whose bounds intersect its own.
func TestKDTreeLinkIntersectsOnlyNeighbors(t *testing.T) {
	points := make([]decomp.Point, 0, 32)
	for i := 0; i < 32; i++ {
		points = append(points, decomp.Point{float64(i % 8), float64(i / 8)})
	}
	domain := link.Bounds{Min: []float64{0, 0}, Max: []float64{8, 8}}
	tree := decomp.BuildKDTree(points, domain, 4, false)
	assigner := assign.NewRoundRobin(tree.NBlocks(), 1)

	for gid := int64(0); gid < tree.NBlocks(); gid++ {
		lnk := tree.Link(gid, assigner)
		own := tree.Bounds(gid)
		for i := 0; i < lnk.Size(); i++ {
			nbr := lnk.Target(i)
			dxtest.Fatalf(t, nbr.Gid != gid, "a leaf must never link to itself")
			dxtest.Fatalf(t, own.Intersects(tree.Bounds(nbr.Gid)), "linked neighbor %d's bounds must intersect gid %d's", nbr.Gid, gid)
		}
		for other := int64(0); other < tree.NBlocks(); other++ {
			if other == gid {
				continue
			}
			if own.Intersects(tree.Bounds(other)) {
				found := false
				for i := 0; i < lnk.Size(); i++ {
					if lnk.Target(i).Gid == other {
						found = true
					}
				}
				dxtest.Fatalf(t, found, "gid %d's bounds intersect gid %d's but no link target named it", gid, other)
			}
		}
	}
}
