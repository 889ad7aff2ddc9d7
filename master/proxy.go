package master

import (
	"github.com/diatomic/diy/block"
	"github.com/diatomic/diy/collection"
	"github.com/diatomic/diy/comm"
	"github.com/diatomic/diy/internal/cmn"
	"github.com/diatomic/diy/link"
	"github.com/diatomic/diy/queue"
)

// Proxy is a per-callback value view (spec §9 "ProxyWithLink... must not
// outlive the callback"): it exposes enqueue/dequeue/collectives for
// exactly one block during exactly one foreach invocation.
type Proxy struct {
	m   *Master
	lid collection.Lid
	gid int64
	lnk *link.Link
	blk block.Block
}

// ProxyFor builds a Proxy for lid bound to an explicit link rather than
// the Master's persistent one, for drivers that synthesize a per-round
// link of their own (spec §4.4 "reduce proxy", §4.6 migration scans).
func (m *Master) ProxyFor(lid collection.Lid, lnk *link.Link) *Proxy {
	return &Proxy{m: m, lid: lid, gid: m.Gid(lid), lnk: lnk, blk: m.Col.Find(lid)}
}

func (p *Proxy) Gid() int64         { return p.gid }
func (p *Proxy) Lid() collection.Lid { return p.lid }
func (p *Proxy) Link() *link.Link   { return p.lnk }
func (p *Proxy) Block() block.Block { return p.blk }

// Enqueue serializes data as one queue record bound for `to`, spilling it
// immediately if the Master's queue.Policy says so (spec §4.1/§4.2.2).
func (p *Proxy) Enqueue(to link.BlockID, data []byte) error {
	if s := p.m.iexSession(); s != nil && s.holdingEnabled() {
		s.hold(p.m, p.gid, to, append([]byte(nil), data...))
		p.m.iexNoteEnqueue()
		return nil
	}
	rec := queue.NewResident(append([]byte(nil), data...))
	if p.m.queuePolicy.ShouldSpill(p.gid, to.Gid, rec.Size) {
		if err := rec.Spill(p.m.Store); err != nil {
			return err
		}
	}
	p.m.Out.Touch(p.gid, to).Push(rec)
	p.m.iexNoteEnqueue()
	return nil
}

// Dequeue pops the front record this round's incoming[gid][from] FIFO,
// restoring its bytes from external storage if it was spilled.
func (p *Proxy) Dequeue(from int64) ([]byte, error) {
	f, ok := p.m.In.Get(p.m.round.Load(), p.gid, from)
	if !ok {
		return nil, cmn.NewErrQueueEmpty(from, p.gid)
	}
	rec, err := f.Pop()
	if err != nil {
		return nil, err
	}
	// a dequeued message is no longer outstanding work for an active
	// IExchange (the unit Enqueue or iexNoteDeliver counted for it).
	if s := p.m.iexSession(); s != nil {
		s.bump(-1)
	}
	return rec.Load(p.m.Store)
}

// Incoming reports how many records are queued from `from` this round,
// without consuming any.
func (p *Proxy) Incoming(from int64) int {
	f, ok := p.m.In.Get(p.m.round.Load(), p.gid, from)
	if !ok {
		return 0
	}
	return f.Len()
}

// Outgoing reports how many records are queued toward `to` so far.
func (p *Proxy) Outgoing(to link.BlockID) int {
	f, ok := p.m.Out.Get(p.gid, to)
	if !ok {
		return 0
	}
	return f.Len()
}

// --- collectives (spec §4.2.4) ---

// AllReduce posts a pending all-reduce for this round under tag, combining
// value with every other block (local and remote) that posts the same tag
// with op, via the Communicator's AllReduce during the next flush. The
// combined result is read back with Get in the *next* foreach.
func (p *Proxy) AllReduce(tag string, value []byte, op comm.ReduceOp) {
	p.m.coll.post(p.m.round.Load(), tag, pendingOp{kind: kindAllReduce, value: value, op: op})
}

func (p *Proxy) Reduce(tag string, value []byte, op comm.ReduceOp, root int) {
	p.m.coll.post(p.m.round.Load(), tag, pendingOp{kind: kindReduce, value: value, op: op, root: root})
}

func (p *Proxy) Broadcast(tag string, value []byte, root int) {
	p.m.coll.post(p.m.round.Load(), tag, pendingOp{kind: kindBroadcast, value: value, root: root})
}

func (p *Proxy) Scan(tag string, value []byte, op comm.ReduceOp) {
	p.m.coll.post(p.m.round.Load(), tag, pendingOp{kind: kindScan, value: value, op: op})
}

// Get reads back the result of a collective posted with the same tag in
// the previous round's foreach (spec: "Results are written back into slots
// that the next foreach reads").
func (p *Proxy) Get(tag string) ([]byte, bool) {
	return p.m.coll.result(tag)
}
