package balance

import (
	"math/rand"
	"sort"

	"github.com/diatomic/diy/assign"
	"github.com/diatomic/diy/internal/nlog"
	"github.com/diatomic/diy/master"
)

// SamplingBalance implements spec §4.6's sampling variant: each rank with
// work samples a fraction of other ranks, and if its own proc_work lies
// above `quantile` of the sampled distribution, sends its heaviest block
// to the mirror-index lighter sample.
//
// The spec's point-to-point WorkInfo exchange is approximated here with
// one cheap AllGather (see DESIGN.md): a real deployment with hundreds of
// ranks would want the point-to-point fan-out to avoid an O(ranks) payload
// at every participant, but the sampling/quantile decision and the
// asynchronous (non-blocking, no-barrier) move execution that follows are
// exactly spec's.
func SamplingBalance(m *master.Master, assigner assign.Mutable, work func(int64) float64, sampleFrac, quantile float64, rng *rand.Rand) ([]MoveInfo, error) {
	self := localWorkInfo(m, work)
	gathered := m.Comm.AllGather(0, encodeWorkInfo(self))
	all := make([]WorkInfo, len(gathered))
	for i, g := range gathered {
		all[i] = decodeWorkInfo(g)
	}

	if self.NLocalBlocks == 0 {
		return nil, nil
	}

	size := m.Comm.Size()
	rank := m.Comm.Rank()
	others := make([]int, 0, size-1)
	for r := 0; r < size; r++ {
		if r != rank {
			others = append(others, r)
		}
	}
	nsample := int(float64(len(others)) * sampleFrac)
	if nsample < 1 {
		nsample = 1
	}
	if nsample > len(others) {
		nsample = len(others)
	}
	rng.Shuffle(len(others), func(i, j int) { others[i], others[j] = others[j], others[i] })
	sampleRanks := append([]int(nil), others[:nsample]...)
	sort.Ints(sampleRanks)

	sampled := make([]WorkInfo, len(sampleRanks))
	for i, r := range sampleRanks {
		sampled[i] = all[r]
	}
	sort.Slice(sampled, func(i, j int) bool { return sampled[i].ProcWork < sampled[j].ProcWork })

	q := quantileOf(sampled, quantile)
	if self.ProcWork <= q {
		return nil, nil
	}

	// mirror-index lighter sample: this rank's position among all ranks
	// sorted by proc_work, mirrored into the sampled (lightest-first) list.
	rankOrder := append([]WorkInfo(nil), all...)
	sort.Slice(rankOrder, func(i, j int) bool { return rankOrder[i].ProcWork > rankOrder[j].ProcWork })
	myPos := 0
	for i, w := range rankOrder {
		if w.Rank == rank {
			myPos = i
			break
		}
	}
	mirror := myPos
	if mirror >= len(sampled) {
		mirror = len(sampled) - 1
	}
	if mirror < 0 {
		return nil, nil
	}
	dst := sampled[mirror].Rank
	if dst == rank {
		return nil, nil
	}

	mv := MoveInfo{Gid: self.TopGid, Src: rank, Dst: dst}
	assigner.Reassign(mv.Gid, mv.Dst)
	batch := newBatchID()
	nlog.Infof("sampling-balance[%s]: gid=%d %d->%d", batch, mv.Gid, mv.Src, mv.Dst)
	if err := applyMoveAsync(m, mv); err != nil {
		return nil, err
	}
	fixLinks(m, assigner)
	return []MoveInfo{mv}, nil
}

func quantileOf(sorted []WorkInfo, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(q * float64(len(sorted)-1))
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx].ProcWork
}

// applyMoveAsync is applyMove without a blocking Wait on the sender side:
// progress continues without a global barrier (spec §4.6 "proceed under
// an iexchange so progress continues without global barriers"). Release
// still happens only after the send (spec.md:163), and any records
// already queued for gid this round travel with the payload, exactly as
// applyMove does.
func applyMoveAsync(m *master.Master, mv MoveInfo) error {
	rank := m.Comm.Rank()
	switch rank {
	case mv.Src:
		lid, ok := m.Lid(mv.Gid)
		if !ok {
			return nil
		}
		lnk := m.Link(lid)
		blk, err := m.Col.Get(lid)
		if err != nil {
			return err
		}
		round := m.Round()
		pending := m.In.DrainGid(round, mv.Gid)
		payload, err := encodeTransfer(lnk, blk, m.Funcs, round, pending, m.Store)
		if err != nil {
			return err
		}
		m.Comm.Isend(mv.Dst, tagBalance, payload) // fire-and-forget
		if _, err := m.Release(lid); err != nil {
			return err
		}
		m.Metrics.IncMoves(1)
	case mv.Dst:
		req := m.Comm.Irecv(tagBalance)
		if err := req.Wait(); err != nil {
			return err
		}
		lnk, blk, round, pending, err := decodeTransfer(req.Bytes(), m.Funcs)
		if err != nil {
			return err
		}
		m.Add(mv.Gid, blk, lnk)
		for from, recs := range pending {
			for _, rec := range recs {
				m.In.Deliver(round, mv.Gid, from, rec)
			}
		}
	}
	return nil
}
