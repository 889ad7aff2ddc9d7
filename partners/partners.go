// Package partners implements the k-ary partner schedules the reduction
// framework drives each round over (spec §4.5, C8). RegularPartners
// factors a dimension-wise decomposition of the block space into
// per-dimension rounds of size <= k, interleaved across dimensions; Merge,
// Swap, Broadcast and AllReduce derive their round/in-link/out-link
// behaviour from that shared factoring.
package partners

// Partners is the capability the reduce driver consumes (spec §9
// "dynamic dispatch on partner schedules... modelled as a polymorphic
// Partners capability").
type Partners interface {
	Rounds() int
	Size(round int) int
	Dim(round int) int
	Active(round int, gid int64) bool
	Incoming(round int, gid int64) []int64
	Outgoing(round int, gid int64) []int64
}

type roundSpec struct {
	dim  int
	size int
	step int64
}

// regular is the shared dimension-wise radix factoring (spec §4.5
// "RegularPartners(divisions, k, contiguous)"); Merge/Swap/Broadcast/
// AllReduce are thin reinterpretations of its round sequence.
type regular struct {
	divisions  []int64
	strides    []int64 // mixed-radix stride per dimension, dim 0 fastest-varying
	contiguous bool
	rounds     []roundSpec
}

// NewRegular builds the shared round factoring for a dimension-wise
// decomposition `divisions` of the block space, grouping up to `k`
// elements per round per dimension (spec §4.5).
func newRegular(divisions []int64, k int, contiguous bool) *regular {
	r := &regular{divisions: append([]int64(nil), divisions...), contiguous: contiguous}
	r.strides = make([]int64, len(divisions))
	stride := int64(1)
	for d, n := range divisions {
		r.strides[d] = stride
		stride *= n
	}

	for dim, total := range divisions {
		sizes := factorRounds(total, k)
		step := int64(1)
		if !contiguous {
			step = total
		}
		for _, size := range sizes {
			var used int64
			if contiguous {
				used = step
				step *= int64(size)
			} else {
				step /= int64(size)
				used = step
			}
			r.rounds = append(r.rounds, roundSpec{dim: dim, size: size, step: used})
		}
	}
	// Interleave per-dimension round sequences round-robin rather than
	// dimension-major, so a caller iterating global round indices sees
	// dimensions progress together (spec: "rounds are interleaved across
	// dimensions").
	r.rounds = interleave(r.rounds, len(divisions))
	return r
}

// factorRounds picks, for each step, the largest factor <= k dividing the
// remaining size, repeating; if none divides it, the remainder becomes a
// single final round (spec §4.5).
func factorRounds(total int64, k int) []int {
	var sizes []int
	remaining := total
	for remaining > 1 {
		f := largestFactorLE(remaining, k)
		if f == 0 {
			sizes = append(sizes, int(remaining))
			break
		}
		sizes = append(sizes, f)
		remaining /= int64(f)
	}
	return sizes
}

func largestFactorLE(n int64, k int) int {
	for f := k; f >= 2; f-- {
		if n%int64(f) == 0 {
			return f
		}
	}
	return 0
}

// interleave regroups per-dimension round lists (already in per-dimension
// order within `rounds`, dimension-major) into round-robin order across
// dimensions.
func interleave(rounds []roundSpec, ndims int) []roundSpec {
	byDim := make([][]roundSpec, ndims)
	for _, rs := range rounds {
		byDim[rs.dim] = append(byDim[rs.dim], rs)
	}
	var out []roundSpec
	for {
		any := false
		for d := 0; d < ndims; d++ {
			if len(byDim[d]) > 0 {
				out = append(out, byDim[d][0])
				byDim[d] = byDim[d][1:]
				any = true
			}
		}
		if !any {
			break
		}
	}
	return out
}

func (r *regular) Rounds() int       { return len(r.rounds) }
func (r *regular) Dim(round int) int  { return r.rounds[round].dim }
func (r *regular) Size(round int) int { return r.rounds[round].size }

// coords unravels gid into its per-dimension mixed-radix coordinates.
func (r *regular) coords(gid int64) []int64 {
	out := make([]int64, len(r.divisions))
	for d, n := range r.divisions {
		out[d] = (gid / r.strides[d]) % n
	}
	return out
}

func (r *regular) recompose(coords []int64) int64 {
	var gid int64
	for d, c := range coords {
		gid += c * r.strides[d]
	}
	return gid
}

// groupPosition is spec §4.5's `group_position(r, c, step) = (c/step) mod
// size`.
func groupPosition(c, step int64, size int) int64 {
	return (c / step) % int64(size)
}

// fill computes the full group gid's dimension-coordinate belongs to in
// round `round` (spec §4.5 "fill(round, gid, out)").
func (r *regular) fill(round int, gid int64) []int64 {
	rs := r.rounds[round]
	coords := r.coords(gid)
	c := coords[rs.dim]
	step := rs.step
	size := int64(rs.size)

	low := c % step
	high := c / (step * size)
	members := make([]int64, rs.size)
	for v := 0; v < rs.size; v++ {
		dimCoord := high*step*size + int64(v)*step + low
		members[v] = r.recomposeWith(coords, rs.dim, dimCoord)
	}
	return members
}

func (r *regular) recomposeWith(coords []int64, dim int, value int64) int64 {
	var gid int64
	for d, c := range coords {
		if d == dim {
			c = value
		}
		gid += c * r.strides[d]
	}
	return gid
}

// mergeActive is spec §4.5's merge activity predicate: gid stays active
// through round `round` only if, in every earlier round sharing the same
// dimension, gid's coordinate was the minimum (group position 0) of its
// group. At round == Rounds() (the driver's final round) every earlier
// round counts regardless of dimension, so only gid 0 is still active.
func (r *regular) mergeActive(round int, gid int64) bool {
	coords := r.coords(gid)
	final := round >= len(r.rounds)
	for r2 := 0; r2 < round && r2 < len(r.rounds); r2++ {
		rs := r.rounds[r2]
		if !final && rs.dim != r.rounds[round].dim {
			continue
		}
		if groupPosition(coords[rs.dim], rs.step, rs.size) != 0 {
			return false
		}
	}
	return true
}
