package decomp

import (
	"sort"

	"github.com/diatomic/diy/assign"
	"github.com/diatomic/diy/link"
)

// Point is one sample in the domain a k-d tree partitions over.
type Point []float64

type kdLeaf struct {
	bounds link.Bounds
	points []int // indices into the original point slice
}

// KDTree is a point-balanced recursive median-split partition into a
// power-of-two number of leaves (spec §4 "k-d tree partitioning"; S5).
type KDTree struct {
	leaves []kdLeaf
	wrap   bool
}

// BuildKDTree recursively splits `points` (each within `domain`) along
// its widest dimension at the median until `nblocks` leaves exist
// (nblocks must be a power of two). Each leaf holds a roughly equal
// share of points and the bounds that contain them.
func BuildKDTree(points []Point, domain link.Bounds, nblocks int, wrap bool) *KDTree {
	idx := make([]int, len(points))
	for i := range idx {
		idx[i] = i
	}
	leaves := splitKD(points, idx, domain, nblocks)
	return &KDTree{leaves: leaves, wrap: wrap}
}

func splitKD(points []Point, idx []int, bounds link.Bounds, n int) []kdLeaf {
	if n <= 1 || len(idx) <= 1 {
		return []kdLeaf{{bounds: bounds, points: idx}}
	}
	dim := widestDim(bounds)
	sort.Slice(idx, func(i, j int) bool { return points[idx[i]][dim] < points[idx[j]][dim] })
	mid := len(idx) / 2
	split := bounds.Min[dim]
	if mid < len(idx) {
		split = points[idx[mid]][dim]
	}

	leftBounds, rightBounds := bounds, bounds
	leftMax := append([]float64(nil), bounds.Max...)
	leftMax[dim] = split
	leftBounds.Max = leftMax
	rightMin := append([]float64(nil), bounds.Min...)
	rightMin[dim] = split
	rightBounds.Min = rightMin

	leftHalf, rightHalf := n/2, n-n/2
	left := splitKD(points, append([]int(nil), idx[:mid]...), leftBounds, leftHalf)
	right := splitKD(points, append([]int(nil), idx[mid:]...), rightBounds, rightHalf)
	return append(left, right...)
}

func widestDim(b link.Bounds) int {
	best, bestSpan := 0, -1.0
	for i := range b.Min {
		span := b.Max[i] - b.Min[i]
		if span > bestSpan {
			best, bestSpan = i, span
		}
	}
	return best
}

func (t *KDTree) NBlocks() int64 { return int64(len(t.leaves)) }

func (t *KDTree) Bounds(gid int64) link.Bounds { return t.leaves[gid].bounds }

// PointsFor returns the indices of the original point slice assigned to
// gid's leaf.
func (t *KDTree) PointsFor(gid int64) []int { return t.leaves[gid].points }

// Link builds gid's bounded neighborhood from bounds intersection (spec
// P4: "the link enumerates exactly those other blocks whose bounds
// intersect").
func (t *KDTree) Link(gid int64, assigner assign.Assigner) *link.Link {
	lnk := link.New(link.KindBounded)
	lnk.SetBounds(t.leaves[gid].bounds)
	lnk.SetWrap(t.wrap)
	for other := range t.leaves {
		if int64(other) == gid {
			continue
		}
		if t.leaves[gid].bounds.Intersects(t.leaves[other].bounds) {
			lnk.AddTarget(link.BlockID{Gid: int64(other), Proc: assigner.Rank(int64(other))}, link.DirNone, t.leaves[other].bounds)
		}
	}
	return lnk
}
