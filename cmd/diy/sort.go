package main

import (
	"encoding/binary"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/diatomic/diy/assign"
	"github.com/diatomic/diy/internal/nlog"
	"github.com/diatomic/diy/link"
	"github.com/diatomic/diy/master"
	"github.com/diatomic/diy/partners"
	"github.com/diatomic/diy/reduce"
)

const (
	sortValuesPerBlock  = 100
	sortSamplesPerBlock = 8
	sortSwapK           = 2
)

var sortCmd = &cobra.Command{
	Use:   "sort",
	Short: "sample sort: histogram round picks splitters, exchange round redistributes values (S6)",
	RunE:  runSort,
}

func encodeFloats(vs []float64) []byte {
	b := make([]byte, 8*len(vs))
	for i, v := range vs {
		binary.LittleEndian.PutUint64(b[i*8:(i+1)*8], math.Float64bits(v))
	}
	return b
}

func decodeFloats(b []byte) []float64 {
	out := make([]float64, len(b)/8)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[i*8 : (i+1)*8]))
	}
	return out
}

func runSort(*cobra.Command, []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	fl, err := newFleet(nranks, demoFuncs(), cfg)
	if err != nil {
		return err
	}
	defer fl.cleanup()
	stopMetrics, err := fl.serveMetrics(metricsAddr)
	if err != nil {
		return err
	}
	defer stopMetrics()

	assigner := assign.NewRoundRobin(int64(nblocks), nranks)
	part := partners.NewSwap([]int64{int64(nblocks)}, sortSwapK, false)

	var eg errgroup.Group
	for r, m := range fl.masters {
		r, m := r, m
		eg.Go(func() error { return runSortRank(r, m, assigner, part) })
	}
	return eg.Wait()
}

// runSortRank implements sample sort (spec S6) as two sequential
// all-to-all rounds over the same Swap schedule (sort.cpp/sample-sort.cpp
// interleave histogram and exchange rounds within one custom Partners
// type; running them as two drivers in sequence reaches the same end
// state — see DESIGN.md).
func runSortRank(rank int, m *master.Master, assigner assign.Assigner, part partners.Partners) error {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(rank)))
	for gid := int64(0); gid < assigner.NBlocks(); gid++ {
		if assigner.Rank(gid) != rank {
			continue
		}
		vals := make([]float64, sortValuesPerBlock)
		for i := range vals {
			vals[i] = rng.Float64()
		}
		m.Add(gid, &demoBlock{Floats: vals}, link.New(link.KindBase))
	}

	splitters := make(map[int64][]float64)
	produceSamples := func(gid int64) []byte {
		lid, _ := m.Lid(gid)
		b := m.Col.Find(lid).(*demoBlock)
		sorted := append([]float64(nil), b.Floats...)
		sort.Float64s(sorted)
		samples := make([]float64, sortSamplesPerBlock)
		for i := range samples {
			samples[i] = sorted[i*len(sorted)/sortSamplesPerBlock]
		}
		return encodeFloats(samples)
	}
	histogramFinal := func(p *master.Proxy, received [][]byte) error {
		// received already carries every gid's fragment, including this
		// gid's own (the swap schedule's round-0 group always includes
		// the gid itself), so it is not re-added here.
		var all []float64
		for _, r := range received {
			all = append(all, decodeFloats(r)...)
		}
		sort.Float64s(all)
		nblocks := int(assigner.NBlocks())
		sp := make([]float64, nblocks-1)
		for i := range sp {
			sp[i] = all[(i+1)*len(all)/nblocks]
		}
		splitters[p.Gid()] = sp
		return nil
	}
	if err := reduce.AllToAllReduce(m, assigner, part, produceSamples, histogramFinal, nil); err != nil {
		return err
	}

	produceFull := func(gid int64) []byte {
		lid, _ := m.Lid(gid)
		b := m.Col.Find(lid).(*demoBlock)
		return encodeFloats(b.Floats)
	}
	exchangeFinal := func(p *master.Proxy, received [][]byte) error {
		// received already carries this gid's own values (see histogramFinal),
		// so b.Floats is not separately appended here.
		lid := p.Lid()
		b := m.Col.Find(lid).(*demoBlock)
		var all []float64
		for _, r := range received {
			all = append(all, decodeFloats(r)...)
		}
		sp := splitters[p.Gid()]
		lo, hi := math.Inf(-1), math.Inf(1)
		gid := int(p.Gid())
		if gid > 0 {
			lo = sp[gid-1]
		}
		if gid < len(sp) {
			hi = sp[gid]
		}
		var mine []float64
		for _, v := range all {
			if v >= lo && (v < hi || (gid == len(sp) && v <= hi)) {
				mine = append(mine, v)
			}
		}
		sort.Float64s(mine)
		b.Floats = mine
		if len(mine) > 0 {
			nlog.Infof("sort gid=%d n=%d min=%.4f max=%.4f", p.Gid(), len(mine), mine[0], mine[len(mine)-1])
		}
		return nil
	}
	return reduce.AllToAllReduce(m, assigner, part, produceFull, exchangeFinal, nil)
}
