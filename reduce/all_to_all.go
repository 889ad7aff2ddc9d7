package reduce

import (
	"encoding/binary"
	"sort"

	"github.com/diatomic/diy/assign"
	"github.com/diatomic/diy/internal/nlog"
	"github.com/diatomic/diy/link"
	"github.com/diatomic/diy/master"
	"github.com/diatomic/diy/partners"
)

// fragment is one range-tagged unit of an all-to-all payload (spec §4.4
// "queue reshuffling preserves range tags (first, last)"): First/Last
// name the inclusive gid range this fragment originated from, so the
// final round can reassemble in gid order regardless of arrival order.
type fragment struct {
	first, last int64
	payload     []byte
}

func encodeFragment(fr fragment) []byte {
	b := make([]byte, 8+8+8+len(fr.payload))
	binary.LittleEndian.PutUint64(b[0:8], uint64(fr.first))
	binary.LittleEndian.PutUint64(b[8:16], uint64(fr.last))
	binary.LittleEndian.PutUint64(b[16:24], uint64(len(fr.payload)))
	copy(b[24:], fr.payload)
	return b
}

func decodeFragment(b []byte) fragment {
	first := int64(binary.LittleEndian.Uint64(b[0:8]))
	last := int64(binary.LittleEndian.Uint64(b[8:16]))
	n := binary.LittleEndian.Uint64(b[16:24])
	return fragment{first: first, last: last, payload: append([]byte(nil), b[24:24+n]...)}
}

// AllToAllOp receives every fragment this gid is owed, already sorted by
// origin gid (spec §4.4 "delivers all received items to the user op with
// a fully-connected virtual in-link... in gid order").
type AllToAllOp func(p *master.Proxy, received [][]byte) error

// AllToAllReduce implements spec §4.4's all_to_all wrapper: round 0 turns
// `produce` into nblocks virtual sends along part's round-0 group; each
// intermediate round relays every fragment currently held along that
// round's outgoing group, preserving range tags; the final round hands
// every gid its complete, gid-ordered received set to `final`.
//
// part is expected to be a partners.Swap schedule (spec: "the same
// algorithm with an internal wrapper... during intermediate rounds it
// reshuffles those virtual queues according to the swap schedule").
func AllToAllReduce(m *master.Master, assigner assign.Assigner, part partners.Partners, produce func(gid int64) []byte, final AllToAllOp, skip func(int64) bool) error {
	rounds := part.Rounds()
	op := func(p *master.Proxy, round int, pt partners.Partners) error {
		gid := p.Gid()
		if round == 0 {
			fr := fragment{first: gid, last: gid, payload: produce(gid)}
			enc := encodeFragment(fr)
			for _, to := range pt.Outgoing(round, gid) {
				if err := p.Enqueue(link.BlockID{Gid: to, Proc: assigner.Rank(to)}, enc); err != nil {
					return err
				}
			}
			return nil
		}

		var frags []fragment
		for _, from := range pt.Incoming(round, gid) {
			for {
				data, err := p.Dequeue(from)
				if err != nil {
					break
				}
				frags = append(frags, decodeFragment(data))
			}
		}
		sort.Slice(frags, func(i, j int) bool { return frags[i].first < frags[j].first })

		if round == rounds {
			payloads := make([][]byte, len(frags))
			for i, fr := range frags {
				payloads[i] = fr.payload
			}
			return final(p, payloads)
		}

		for _, to := range pt.Outgoing(round, gid) {
			for _, fr := range frags {
				if err := p.Enqueue(link.BlockID{Gid: to, Proc: assigner.Rank(to)}, encodeFragment(fr)); err != nil {
					nlog.Errorln(err)
				}
			}
		}
		return nil
	}
	return Reduce(m, assigner, part, op, skip)
}
