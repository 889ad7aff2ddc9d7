// Package decomp implements the domain-decomposition helpers the core
// consumes only through Link/Bounds (spec §1 "regular-grid and k-d tree
// domain decomposition helpers", external collaborators): a regular-grid
// decomposer producing one block per grid cell with directional+bounded
// links, and a k-d tree partitioner producing bounded links from a point
// set.
package decomp

import (
	"github.com/diatomic/diy/assign"
	"github.com/diatomic/diy/link"
)

// Regular decomposes an axis-aligned domain into a grid of `divisions`
// blocks per dimension (spec §4: example driver domain decomposition).
type Regular struct {
	divisions []int64
	strides   []int64
	domain    link.Bounds
	wrap      bool
}

func NewRegular(divisions []int64, domain link.Bounds, wrap bool) *Regular {
	r := &Regular{divisions: append([]int64(nil), divisions...), domain: domain, wrap: wrap}
	r.strides = make([]int64, len(divisions))
	stride := int64(1)
	for d, n := range divisions {
		r.strides[d] = stride
		stride *= n
	}
	return r
}

func (r *Regular) NBlocks() int64 {
	n := int64(1)
	for _, d := range r.divisions {
		n *= d
	}
	return n
}

func (r *Regular) Coords(gid int64) []int64 {
	out := make([]int64, len(r.divisions))
	for d, n := range r.divisions {
		out[d] = (gid / r.strides[d]) % n
	}
	return out
}

func (r *Regular) recompose(coords []int64) int64 {
	var gid int64
	for d, c := range coords {
		gid += c * r.strides[d]
	}
	return gid
}

// Bounds returns gid's axis-aligned cell within the global domain.
func (r *Regular) Bounds(gid int64) link.Bounds {
	coords := r.Coords(gid)
	min := make([]float64, len(coords))
	max := make([]float64, len(coords))
	for d, c := range coords {
		span := (r.domain.Max[d] - r.domain.Min[d]) / float64(r.divisions[d])
		min[d] = r.domain.Min[d] + float64(c)*span
		max[d] = r.domain.Min[d] + float64(c+1)*span
	}
	return link.Bounds{Min: min, Max: max}
}

var axisDirs = [][2]link.Direction{
	{link.DirLeft, link.DirRight},
	{link.DirUp, link.DirDown},
	{link.DirFront, link.DirBack},
}

// Link builds gid's directional+bounded neighborhood: one target per
// axis-aligned face, wrapping around the domain when enabled.
func (r *Regular) Link(gid int64, assigner assign.Assigner) *link.Link {
	lnk := link.New(link.KindDirectionBounded)
	lnk.SetBounds(r.Bounds(gid))
	lnk.SetWrap(r.wrap)
	coords := r.Coords(gid)

	for dim, n := range r.divisions {
		for side, delta := range [2]int64{-1, 1} {
			nc := append([]int64(nil), coords...)
			nc[dim] += delta
			wrapped := false
			switch {
			case nc[dim] < 0:
				if !r.wrap {
					continue
				}
				nc[dim] += n
				wrapped = true
			case nc[dim] >= n:
				if !r.wrap {
					continue
				}
				nc[dim] -= n
				wrapped = true
			}
			ngid := r.recompose(nc)
			dir := link.DirNone
			if wrapped {
				dir = link.DirWrap
			} else if dim < len(axisDirs) {
				dir = axisDirs[dim][side]
			}
			lnk.AddTarget(link.BlockID{Gid: ngid, Proc: assigner.Rank(ngid)}, dir, r.Bounds(ngid))
		}
	}
	return lnk
}
