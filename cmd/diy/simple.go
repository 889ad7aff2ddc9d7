package main

import (
	"golang.org/x/sync/errgroup"

	"github.com/diatomic/diy/assign"
	"github.com/diatomic/diy/internal/nlog"
	"github.com/diatomic/diy/link"
	"github.com/diatomic/diy/master"
	"github.com/spf13/cobra"
)

var simpleCmd = &cobra.Command{
	Use:   "simple",
	Short: "linear-chain average exercising foreach/enqueue/exchange/all_reduce",
	RunE:  runSimple,
}

func runSimple(*cobra.Command, []string) error {
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

	var eg errgroup.Group
	for r, m := range fl.masters {
		r, m := r, m
		eg.Go(func() error { return runSimpleRank(r, m, assigner) })
	}
	return eg.Wait()
}

// runSimpleRank builds gid's two-neighbor chain link on whichever rank
// owns it, then mirrors simple.cpp's local_average/average_neighbors pair.
func runSimpleRank(rank int, m *master.Master, assigner assign.Assigner) error {
	for gid := int64(0); gid < int64(nblocks); gid++ {
		if assigner.Rank(gid) != rank {
			continue
		}
		lnk := link.New(link.KindBase)
		if gid < int64(nblocks)-1 {
			lnk.AddTarget(link.BlockID{Gid: gid + 1, Proc: assigner.Rank(gid + 1)}, link.DirNone, link.Bounds{})
		}
		if gid > 0 {
			lnk.AddTarget(link.BlockID{Gid: gid - 1, Proc: assigner.Rank(gid - 1)}, link.DirNone, link.Bounds{})
		}
		values := make([]int, 3)
		for i := range values {
			values[i] = int(gid)*3 + i
		}
		m.Add(gid, &demoBlock{Values: values}, lnk)
	}

	m.Foreach(func(p *master.Proxy) error {
		b := p.Block().(*demoBlock)
		total := int64(0)
		for _, v := range b.Values {
			total += int64(v)
		}
		nlog.Infof("total     (%d): %d", p.Gid(), total)
		for i := 0; i < p.Link().Size(); i++ {
			if err := p.Enqueue(p.Link().Target(i), encodeI64(total)); err != nil {
				return err
			}
		}
		p.AllReduce("all_total", encodeI64(total), sumOp)
		return nil
	}, nil)
	m.Exchange(false)

	m.Foreach(func(p *master.Proxy) error {
		b := p.Block().(*demoBlock)
		if v, ok := p.Get("all_total"); ok {
			b.AllTotal = decodeI64(v)
		}
		nlog.Infof("all total (%d): %d", p.Gid(), b.AllTotal)

		var total, n int64
		for i := 0; i < p.Link().Size(); i++ {
			from := p.Link().Target(i).Gid
			data, err := p.Dequeue(from)
			if err != nil {
				return err
			}
			total += decodeI64(data)
			n++
		}
		if n > 0 {
			b.Average = float64(total) / float64(n)
		}
		nlog.Infof("average   (%d): %v", p.Gid(), b.Average)
		return nil
	}, nil)
	m.Execute()
	return nil
}
