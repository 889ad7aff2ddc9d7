package partners

// Merge implements spec §4.5's merge schedule: a gid survives into round r
// only if it was the minimum of its group in every earlier same-dimension
// round; incoming is the prior round's full group, outgoing is just the
// minimum (destination) member of the current round's group.
type Merge struct{ r *regular }

// NewMerge builds a merge schedule over a dimension-wise factoring
// `divisions` of the block space, k-ary per round.
func NewMerge(divisions []int64, k int, contiguous bool) *Merge {
	return &Merge{r: newRegular(divisions, k, contiguous)}
}

func (m *Merge) Rounds() int        { return m.r.Rounds() }
func (m *Merge) Dim(round int) int  { return m.r.Dim(round) }
func (m *Merge) Size(round int) int { return m.r.Size(round) }

func (m *Merge) Active(round int, gid int64) bool { return m.r.mergeActive(round, gid) }

func (m *Merge) Incoming(round int, gid int64) []int64 {
	if round == 0 {
		return nil
	}
	return m.r.fill(round-1, gid)
}

func (m *Merge) Outgoing(round int, gid int64) []int64 {
	if round >= m.r.Rounds() {
		return nil
	}
	grp := m.r.fill(round, gid)
	if len(grp) == 0 {
		return nil
	}
	return grp[:1]
}

// Swap implements spec §4.5's swap schedule: every block is active every
// round; incoming/outgoing are the full prior/current group.
type Swap struct{ r *regular }

func NewSwap(divisions []int64, k int, contiguous bool) *Swap {
	return &Swap{r: newRegular(divisions, k, contiguous)}
}

func (s *Swap) Rounds() int                     { return s.r.Rounds() }
func (s *Swap) Dim(round int) int               { return s.r.Dim(round) }
func (s *Swap) Size(round int) int              { return s.r.Size(round) }
func (s *Swap) Active(int, int64) bool          { return true }

func (s *Swap) Incoming(round int, gid int64) []int64 {
	if round == 0 {
		return nil
	}
	return s.r.fill(round-1, gid)
}

func (s *Swap) Outgoing(round int, gid int64) []int64 {
	if round >= s.r.Rounds() {
		return nil
	}
	return s.r.fill(round, gid)
}

// Broadcast implements spec §4.5's broadcast schedule: "same activity as
// merge but rounds run in reverse; in/out swapped relative to merge."
type Broadcast struct{ m *Merge }

func NewBroadcast(divisions []int64, k int, contiguous bool) *Broadcast {
	return &Broadcast{m: NewMerge(divisions, k, contiguous)}
}

func (b *Broadcast) Rounds() int { return b.m.Rounds() }

func (b *Broadcast) mirror(round int) int { return b.Rounds() - 1 - round }

func (b *Broadcast) Dim(round int) int  { return b.m.Dim(b.mirror(round)) }
func (b *Broadcast) Size(round int) int { return b.m.Size(b.mirror(round)) }

func (b *Broadcast) Active(round int, gid int64) bool {
	return b.m.Active(b.mirror(round), gid)
}

func (b *Broadcast) Incoming(round int, gid int64) []int64 {
	return b.m.Outgoing(b.mirror(round), gid)
}

func (b *Broadcast) Outgoing(round int, gid int64) []int64 {
	return b.m.Incoming(b.mirror(round), gid)
}

// AllReduce implements spec §4.5's all-reduce schedule: "2x merge rounds;
// rounds in the second half mirror the first with in/out swapped."
type AllReduce struct {
	m *Merge
}

func NewAllReduce(divisions []int64, k int, contiguous bool) *AllReduce {
	return &AllReduce{m: NewMerge(divisions, k, contiguous)}
}

func (a *AllReduce) Rounds() int { return 2 * a.m.Rounds() }

func (a *AllReduce) half(round int) (mergeRound int, secondHalf bool) {
	n := a.m.Rounds()
	if round < n {
		return round, false
	}
	return n - 1 - (round - n), true
}

func (a *AllReduce) Dim(round int) int {
	mr, _ := a.half(round)
	return a.m.Dim(mr)
}

func (a *AllReduce) Size(round int) int {
	mr, _ := a.half(round)
	return a.m.Size(mr)
}

func (a *AllReduce) Active(round int, gid int64) bool {
	mr, _ := a.half(round)
	return a.m.Active(mr, gid)
}

func (a *AllReduce) Incoming(round int, gid int64) []int64 {
	mr, second := a.half(round)
	if second {
		return a.m.Outgoing(mr, gid)
	}
	return a.m.Incoming(mr, gid)
}

func (a *AllReduce) Outgoing(round int, gid int64) []int64 {
	mr, second := a.half(round)
	if second {
		return a.m.Incoming(mr, gid)
	}
	return a.m.Outgoing(mr, gid)
}
