package reduce_test

import (
	"testing"

	"github.com/diatomic/diy/assign"
	"github.com/diatomic/diy/comm"
	"github.com/diatomic/diy/external"
	"github.com/diatomic/diy/internal/cmn"
	"github.com/diatomic/diy/internal/dxtest"
	"github.com/diatomic/diy/link"
	"github.com/diatomic/diy/master"
	"github.com/diatomic/diy/partners"
	"github.com/diatomic/diy/reduce"
)

// TestReduceMergeSumsIntoSurvivor covers spec §4.4's plain Reduce driver
// over a merge schedule: each round the min-positioned gid of its group
// absorbs every other member's value via Dequeue/Enqueue against the
// round's synthesized link, so after the schedule completes gid 0 holds
// the sum of every block's original contribution.
func TestReduceMergeSumsIntoSurvivor(t *testing.T) {
	const nblocks = 4
	world := comm.NewWorld(1)
	dir := t.TempDir()
	store, err := external.NewDir(dir)
	dxtest.CheckError(t, err)
	m := master.New(world.Ranks()[0], store, intsFuncs(), cmn.DefaultConfig())

	assigner := assign.NewRoundRobin(nblocks, 1)
	for gid := int64(0); gid < nblocks; gid++ {
		m.Add(gid, &intsBlock{vals: []int64{gid + 1}}, link.New(link.KindBase))
	}
	part := partners.NewMerge([]int64{nblocks}, 2, false)

	op := func(p *master.Proxy, round int, pt partners.Partners) error {
		lid := p.Lid()
		b := m.Col.Find(lid).(*intsBlock)
		if round > 0 {
			for _, from := range pt.Incoming(round, p.Gid()) {
				if from == p.Gid() {
					continue
				}
				data, err := p.Dequeue(from)
				if err != nil {
					continue
				}
				b.vals[0] += decodeInts(data)[0]
			}
		}
		for i := 0; i < p.Link().Size(); i++ {
			if err := p.Enqueue(p.Link().Target(i), encodeInts(b.vals)); err != nil {
				return err
			}
		}
		return nil
	}
	dxtest.CheckError(t, reduce.Reduce(m, assigner, part, op, nil))

	lid, _ := m.Lid(0)
	sum := m.Col.Find(lid).(*intsBlock).vals[0]
	dxtest.Equal(t, sum, int64(1+2+3+4), "gid 0 (the surviving merge root) holds the sum of every block's contribution")
}
