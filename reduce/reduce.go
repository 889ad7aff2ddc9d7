// Package reduce implements the multi-round reduction driver (spec §4.4,
// C7): per round it synthesizes a reduce proxy bound to that round's
// in/out links (taken from a partners.Partners schedule, targets stamped
// with their owning process via an assign.Assigner), invokes the user op,
// then touches and flushes like an ordinary exchange.
package reduce

import (
	"github.com/diatomic/diy/assign"
	"github.com/diatomic/diy/link"
	"github.com/diatomic/diy/master"
	"github.com/diatomic/diy/partners"
)

// Op is the per-round user callback (spec §4.4 "op(block, proxy,
// partners)"). round is the current global round index; the callback
// reads part.Incoming/part.Outgoing itself if it needs to know its peers.
type Op func(p *master.Proxy, round int, part partners.Partners) error

func buildLink(gids []int64, assigner assign.Assigner) *link.Link {
	lnk := link.New(link.KindBase)
	for _, g := range gids {
		lnk.AddTarget(link.BlockID{Gid: g, Proc: assigner.Rank(g)}, link.DirNone, link.Bounds{})
	}
	return lnk
}

// Reduce drives op(proxy, round, part) over every round of part (spec
// §4.4): "For round r in 0…partners.rounds(): synthesize proxy, invoke
// op, touch outgoing queues, set expected and flush." The Master's prior
// expected count is restored on return.
func Reduce(m *master.Master, assigner assign.Assigner, part partners.Partners, op Op, skip func(gid int64) bool) error {
	if skip == nil {
		skip = func(int64) bool { return false }
	}
	prevExpected := m.Expected()
	defer m.SetExpected(prevExpected)

	rounds := part.Rounds()
	for r := 0; r <= rounds; r++ {
		var nextExpected int64
		for _, lid := range m.LocalLids() {
			gid := m.Gid(lid)
			if !part.Active(r, gid) || skip(gid) {
				continue
			}
			out := part.Outgoing(r, gid)
			outLink := buildLink(out, assigner)
			p := m.ProxyFor(lid, outLink)
			if err := op(p, r, part); err != nil {
				return err
			}
			m.TouchLink(lid, outLink)

			if r+1 <= rounds {
				nextExpected += int64(len(part.Incoming(r+1, gid)))
			}
		}
		m.SetExpected(nextExpected)
		m.Flush(false)
	}
	return nil
}
