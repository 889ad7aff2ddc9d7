package reduce_test

import (
	"encoding/binary"
	"sort"
	"testing"

	"github.com/diatomic/diy/assign"
	"github.com/diatomic/diy/block"
	"github.com/diatomic/diy/comm"
	"github.com/diatomic/diy/external"
	"github.com/diatomic/diy/internal/cmn"
	"github.com/diatomic/diy/internal/dxtest"
	"github.com/diatomic/diy/link"
	"github.com/diatomic/diy/master"
	"github.com/diatomic/diy/partners"
	"github.com/diatomic/diy/reduce"
)

type intsBlock struct{ vals []int64 }

func intsFuncs() block.Funcs {
	return block.Funcs{
		Create:  func() block.Block { return &intsBlock{} },
		Destroy: func(block.Block) {},
	}
}

func encodeInts(vs []int64) []byte {
	b := make([]byte, 8*len(vs))
	for i, v := range vs {
		binary.LittleEndian.PutUint64(b[i*8:(i+1)*8], uint64(v))
	}
	return b
}

func decodeInts(b []byte) []int64 {
	out := make([]int64, len(b)/8)
	for i := range out {
		out[i] = int64(binary.LittleEndian.Uint64(b[i*8 : (i+1)*8]))
	}
	return out
}

// TestAllToAllReduceGathersEveryFragment covers the relay-as-allgather
// property AllToAllReduce relies on (spec §4.4/§4.7 scenario S6): after
// enough rounds of a Swap schedule, every gid's final callback has seen one
// fragment originating from every other gid, each tagged with its origin.
func TestAllToAllReduceGathersEveryFragment(t *testing.T) {
	const nblocks = 4
	world := comm.NewWorld(1)
	dir := t.TempDir()
	store, err := external.NewDir(dir)
	dxtest.CheckError(t, err)
	m := master.New(world.Ranks()[0], store, intsFuncs(), cmn.DefaultConfig())

	assigner := assign.NewRoundRobin(nblocks, 1)
	for gid := int64(0); gid < nblocks; gid++ {
		m.Add(gid, &intsBlock{vals: []int64{gid * 10}}, link.New(link.KindBase))
	}
	part := partners.NewSwap([]int64{nblocks}, 2, false)

	seenBy := make(map[int64]map[int64]bool)
	produce := func(gid int64) []byte {
		lid, _ := m.Lid(gid)
		b := m.Col.Find(lid).(*intsBlock)
		return encodeInts(b.vals)
	}
	final := func(p *master.Proxy, received [][]byte) error {
		seen := make(map[int64]bool)
		seen[p.Gid()] = true
		for _, r := range received {
			for _, v := range decodeInts(r) {
				seen[v/10] = true
			}
		}
		seenBy[p.Gid()] = seen
		return nil
	}

	dxtest.CheckError(t, reduce.AllToAllReduce(m, assigner, part, produce, final, nil))

	for gid := int64(0); gid < nblocks; gid++ {
		dxtest.Equal(t, len(seenBy[gid]), nblocks, "gid %d should have seen a fragment from every gid", gid)
	}
}

// TestAllToAllReduceSortPartitionsAreOrdered covers S6's ordering property:
// after the two-phase histogram/exchange pattern, block i's minimum value
// is >= block i-1's maximum, block 0 holds the global minimum, and the
// last block holds the global maximum.
func TestAllToAllReduceSortPartitionsAreOrdered(t *testing.T) {
	const nblocks = 3
	const perBlock = 12
	world := comm.NewWorld(1)
	dir := t.TempDir()
	store, err := external.NewDir(dir)
	dxtest.CheckError(t, err)
	m := master.New(world.Ranks()[0], store, intsFuncs(), cmn.DefaultConfig())

	assigner := assign.NewRoundRobin(nblocks, 1)
	all := []int64{5, 40, 12, 33, 1, 29, 18, 2, 44, 27, 9, 36, 21, 3, 47, 15, 38, 6, 24, 11, 31, 8, 42, 19, 26, 4, 45, 13, 35, 22, 7, 39, 17, 28, 10, 2}
	for gid := int64(0); gid < nblocks; gid++ {
		chunk := append([]int64(nil), all[int(gid)*perBlock:int(gid+1)*perBlock]...)
		m.Add(gid, &intsBlock{vals: chunk}, link.New(link.KindBase))
	}
	part := partners.NewSwap([]int64{nblocks}, 2, false)

	splitters := make(map[int64][]int64)
	sample := func(gid int64) []byte {
		lid, _ := m.Lid(gid)
		b := m.Col.Find(lid).(*intsBlock)
		sorted := append([]int64(nil), b.vals...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
		samples := make([]int64, 4)
		for i := range samples {
			samples[i] = sorted[i*len(sorted)/4]
		}
		return encodeInts(samples)
	}
	histogramFinal := func(p *master.Proxy, received [][]byte) error {
		// received already carries this gid's own sample fragment (the
		// swap schedule's round-0 group always includes the gid itself),
		// so it is not separately appended here.
		var gathered []int64
		for _, r := range received {
			gathered = append(gathered, decodeInts(r)...)
		}
		sort.Slice(gathered, func(i, j int) bool { return gathered[i] < gathered[j] })
		sp := make([]int64, nblocks-1)
		for i := range sp {
			sp[i] = gathered[(i+1)*len(gathered)/nblocks]
		}
		splitters[p.Gid()] = sp
		return nil
	}
	dxtest.CheckError(t, reduce.AllToAllReduce(m, assigner, part, sample, histogramFinal, nil))

	produceFull := func(gid int64) []byte {
		lid, _ := m.Lid(gid)
		b := m.Col.Find(lid).(*intsBlock)
		return encodeInts(b.vals)
	}
	exchangeFinal := func(p *master.Proxy, received [][]byte) error {
		// received already carries this gid's own values (see histogramFinal),
		// so b.vals is not separately appended here.
		lid := p.Lid()
		b := m.Col.Find(lid).(*intsBlock)
		var merged []int64
		for _, r := range received {
			merged = append(merged, decodeInts(r)...)
		}
		sp := splitters[p.Gid()]
		gid := int(p.Gid())
		var mine []int64
		for _, v := range merged {
			lo, hi := int64(-1<<62), int64(1<<62)
			if gid > 0 {
				lo = sp[gid-1]
			}
			if gid < len(sp) {
				hi = sp[gid]
			}
			if v >= lo && (v < hi || (gid == len(sp) && v <= hi)) {
				mine = append(mine, v)
			}
		}
		sort.Slice(mine, func(i, j int) bool { return mine[i] < mine[j] })
		b.vals = mine
		return nil
	}
	dxtest.CheckError(t, reduce.AllToAllReduce(m, assigner, part, produceFull, exchangeFinal, nil))

	var mins, maxs []int64
	total := 0
	globalMin, globalMax := all[0], all[0]
	for _, v := range all {
		if v < globalMin {
			globalMin = v
		}
		if v > globalMax {
			globalMax = v
		}
	}
	for gid := int64(0); gid < nblocks; gid++ {
		lid, _ := m.Lid(gid)
		b := m.Col.Find(lid).(*intsBlock)
		dxtest.Fatalf(t, len(b.vals) > 0, "block %d ended up empty", gid)
		mins = append(mins, b.vals[0])
		maxs = append(maxs, b.vals[len(b.vals)-1])
		total += len(b.vals)
	}
	dxtest.Equal(t, total, len(all), "every value lands in exactly one partition, none lost or duplicated")
	dxtest.Equal(t, mins[0], globalMin, "block 0 holds the global minimum")
	dxtest.Equal(t, maxs[len(maxs)-1], globalMax, "the last block holds the global maximum")
	for i := 1; i < nblocks; i++ {
		dxtest.Fatalf(t, mins[i] >= maxs[i-1], "block %d's min (%d) must be >= block %d's max (%d)", i, mins[i], i-1, maxs[i-1])
	}
}
