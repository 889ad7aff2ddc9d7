package main

import (
	"math/rand"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/diatomic/diy/assign"
	"github.com/diatomic/diy/decomp"
	"github.com/diatomic/diy/internal/nlog"
	"github.com/diatomic/diy/link"
	"github.com/diatomic/diy/master"
)

var kdPoints int

var kdtreeCmd = &cobra.Command{
	Use:   "kdtree",
	Short: "k-d tree domain decomposition over a random point cloud",
	RunE:  runKDTree,
}

func init() {
	kdtreeCmd.Flags().IntVar(&kdPoints, "points", 10000, "number of points to scatter before building the tree")
}

// runKDTree mirrors the recursive median-split decomposition of the
// original's kdtree example: scatter points into a unit cube, split
// until there are nblocks leaves, then report each leaf's bounds and
// population the way the reference examples print per-block summaries.
func runKDTree(*cobra.Command, []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	rng := rand.New(rand.NewSource(1))
	points := make([]decomp.Point, kdPoints)
	for i := range points {
		points[i] = decomp.Point{rng.Float64(), rng.Float64(), rng.Float64()}
	}
	domain := link.Bounds{Min: []float64{0, 0, 0}, Max: []float64{1, 1, 1}}
	tree := decomp.BuildKDTree(points, domain, nblocks, false)

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

	assigner := assign.NewRoundRobin(tree.NBlocks(), nranks)

	var eg errgroup.Group
	for r, m := range fl.masters {
		r, m := r, m
		eg.Go(func() error { return runKDTreeRank(r, m, assigner, tree) })
	}
	return eg.Wait()
}

func runKDTreeRank(rank int, m *master.Master, assigner assign.Assigner, tree *decomp.KDTree) error {
	for gid := int64(0); gid < tree.NBlocks(); gid++ {
		if assigner.Rank(gid) != rank {
			continue
		}
		lnk := tree.Link(gid, assigner)
		count := len(tree.PointsFor(gid))
		vals := make([]int, count)
		for i := range vals {
			vals[i] = i
		}
		m.Add(gid, &demoBlock{Values: vals}, lnk)
	}

	m.Foreach(func(p *master.Proxy) error {
		b := p.Block().(*demoBlock)
		bounds := tree.Bounds(p.Gid())
		nlog.Infof("leaf %d: %d points, bounds min=%v max=%v, neighbors=%d",
			p.Gid(), len(b.Values), bounds.Min, bounds.Max, p.Link().Size())
		return nil
	}, nil)
	return nil
}
