package main

import (
	"encoding/binary"
	"math/rand"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/diatomic/diy/assign"
	"github.com/diatomic/diy/internal/cmn"
	"github.com/diatomic/diy/internal/nlog"
	"github.com/diatomic/diy/link"
	"github.com/diatomic/diy/master"
)

var (
	holdMinBytes int
	holdMaxMs    int
	treeVariant  bool
)

var iexchangeCmd = &cobra.Command{
	Use:   "iexchange-particles",
	Short: "particles bounce between neighbors under iexchange until every hop count is exhausted",
	RunE:  runIExchangeParticles,
}

func init() {
	iexchangeCmd.Flags().IntVar(&holdMinBytes, "hold-min-bytes", 0, "min_queue_size: hold short messages under this size")
	iexchangeCmd.Flags().IntVar(&holdMaxMs, "hold-max-ms", 0, "max_hold_time in milliseconds")
	iexchangeCmd.Flags().BoolVar(&treeVariant, "tree", false, "use the tree-based termination variant instead of ibarrier")
}

type particle struct {
	id, hops int32
}

func encodeParticle(p particle) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint32(b[0:4], uint32(p.id))
	binary.LittleEndian.PutUint32(b[4:8], uint32(p.hops))
	return b
}

func decodeParticle(b []byte) particle {
	return particle{id: int32(binary.LittleEndian.Uint32(b[0:4])), hops: int32(binary.LittleEndian.Uint32(b[4:8]))}
}

func runIExchangeParticles(*cobra.Command, []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	total := 2 * nranks
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

	assigner := assign.NewRoundRobin(int64(total), nranks)

	var eg errgroup.Group
	for r, m := range fl.masters {
		r, m := r, m
		eg.Go(func() error { return runParticlesRank(r, m, assigner, total) })
	}
	return eg.Wait()
}

func runParticlesRank(rank int, m *master.Master, assigner assign.Assigner, total int) error {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(rank)))
	for gid := int64(0); gid < int64(total); gid++ {
		if assigner.Rank(gid) != rank {
			continue
		}
		lnk := link.New(link.KindBase)
		if gid < int64(total)-1 {
			lnk.AddTarget(link.BlockID{Gid: gid + 1, Proc: assigner.Rank(gid + 1)}, link.DirNone, link.Bounds{})
		}
		if gid > 0 {
			lnk.AddTarget(link.BlockID{Gid: gid - 1, Proc: assigner.Rank(gid - 1)}, link.DirNone, link.Bounds{})
		}
		count := 1 + rng.Intn(10)
		m.Add(gid, &demoBlock{Values: make([]int, count)}, lnk)
	}

	nextID := make(map[int64]int32)
	var expectedParticles, finishedParticles, expectedHops, finishedHops int64

	bounce := func(p *master.Proxy) (bool, error) {
		b := p.Block().(*demoBlock)
		gid := p.Gid()
		lnk := p.Link()
		if lnk.Size() == 0 {
			b.Values = nil
			return true, nil
		}

		for len(b.Values) > 0 {
			nbr := lnk.Target(rng.Intn(lnk.Size()))
			id := int64(gid)*1000 + int64(nextID[gid])
			nextID[gid]++
			hops := int32(1 + rng.Intn(20))
			part := particle{id: int32(id), hops: hops}
			expectedParticles++
			expectedHops += int64(hops)
			if err := p.Enqueue(nbr, encodeParticle(part)); err != nil {
				return false, err
			}
			b.Values = b.Values[1:]
		}

		for i := 0; i < lnk.Size(); i++ {
			nbrGid := lnk.Target(i).Gid
			for p.Incoming(nbrGid) > 0 {
				data, err := p.Dequeue(nbrGid)
				if err != nil {
					return false, err
				}
				part := decodeParticle(data)
				part.hops--
				finishedHops++
				if part.hops > 0 {
					nbr := lnk.Target(rng.Intn(lnk.Size()))
					if err := p.Enqueue(nbr, encodeParticle(part)); err != nil {
						return false, err
					}
				} else {
					nlog.Infof("[%d] finished particle %d", gid, part.id)
					finishedParticles++
				}
			}
		}
		return true, nil
	}

	variant := master.VariantIBarrier
	if treeVariant {
		variant = master.VariantTree
	}
	if err := m.IExchange(bounce, variant, master.Options{
		MinQueueSize: holdMinBytes,
		MaxHoldTime:  time.Duration(holdMaxMs) * time.Millisecond,
	}); err != nil {
		return err
	}

	return verifyParticleCounts(m, expectedParticles, finishedParticles, expectedHops, finishedHops)
}

// particle-count reduce contexts (distinct comm.AllReduce rendezvous ids,
// scoped to this driver only).
const (
	ctxExpectedParticles int64 = 900 + iota
	ctxFinishedParticles
	ctxExpectedHops
	ctxFinishedHops
)

// verifyParticleCounts implements spec.md:243 (scenario S4): after the
// bounce iexchange, a merge-reduce over (expected_particles,
// finished_particles, expected_hops, finished_hops) must find the pairs
// equal — every particle created must finish, and the hops consumed on
// receipt (one per delivery, counted on whichever rank receives it) must
// add up to the hop budgets handed out, with nothing lost or
// double-counted in flight.
func verifyParticleCounts(m *master.Master, expectedParticles, finishedParticles, expectedHops, finishedHops int64) error {
	gExpectedParticles := decodeI64(m.Comm.AllReduce(ctxExpectedParticles, encodeI64(expectedParticles), sumOp))
	gFinishedParticles := decodeI64(m.Comm.AllReduce(ctxFinishedParticles, encodeI64(finishedParticles), sumOp))
	gExpectedHops := decodeI64(m.Comm.AllReduce(ctxExpectedHops, encodeI64(expectedHops), sumOp))
	gFinishedHops := decodeI64(m.Comm.AllReduce(ctxFinishedHops, encodeI64(finishedHops), sumOp))

	if m.Comm.Rank() == 0 {
		nlog.Infof("iexchange-particles: expected_particles=%d finished_particles=%d expected_hops=%d finished_hops=%d",
			gExpectedParticles, gFinishedParticles, gExpectedHops, gFinishedHops)
	}
	if gExpectedParticles != gFinishedParticles {
		return cmn.NewErrParticleMismatch("particles", gExpectedParticles, gFinishedParticles)
	}
	if gExpectedHops != gFinishedHops {
		return cmn.NewErrParticleMismatch("hops", gExpectedHops, gFinishedHops)
	}
	return nil
}
