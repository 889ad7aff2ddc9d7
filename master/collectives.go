package master

import (
	"sort"
	"sync"

	"github.com/diatomic/diy/comm"
)

type kind int

const (
	kindAllReduce kind = iota
	kindReduce
	kindBroadcast
	kindScan
)

type pendingOp struct {
	kind  kind
	value []byte
	op    comm.ReduceOp
	root  int
}

// collectiveState records per-tag pending ops posted during a foreach and
// the results computed during the following flush (spec §4.2.4: "Ordering:
// collective results are presented in the same posting order" — scan
// ordering is by local post order, which callers control by gid already
// being processed in a stable lid order).
type collectiveState struct {
	mu      sync.Mutex
	pending map[string][]pendingOp // tag -> ops posted this round, in post order
	results map[string][]byte      // tag -> combined result, available to next foreach
}

func newCollectiveState() *collectiveState {
	return &collectiveState{pending: make(map[string][]pendingOp), results: make(map[string][]byte)}
}

func (cs *collectiveState) post(round int64, tag string, op pendingOp) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.pending[tag] = append(cs.pending[tag], op)
}

func (cs *collectiveState) result(tag string) ([]byte, bool) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	v, ok := cs.results[tag]
	return v, ok
}

// ProcessCollectives drains pending ops (spec §4.2.4): equivalent ops
// across local blocks sharing a tag are combined locally first, then
// combined across ranks via the substrate's matching global operation.
// Results become visible to the next foreach via Proxy.Get.
func (m *Master) ProcessCollectives() {
	m.coll.mu.Lock()
	tags := make([]string, 0, len(m.coll.pending))
	for t := range m.coll.pending {
		tags = append(tags, t)
	}
	sort.Strings(tags) // deterministic processing order across ranks
	pending := m.coll.pending
	m.coll.pending = make(map[string][]pendingOp)
	m.coll.mu.Unlock()

	ctx := m.round.Load()
	for _, tag := range tags {
		ops := pending[tag]
		if len(ops) == 0 {
			continue
		}
		local := ops[0].value
		for _, o := range ops[1:] {
			local = ops[0].op(local, o.value)
		}
		k := ops[0].kind
		var out []byte
		switch k {
		case kindAllReduce:
			out = m.Comm.AllReduce(ctx, local, ops[0].op)
		case kindReduce:
			out = m.Comm.Reduce(ctx, local, ops[0].op, ops[0].root)
		case kindBroadcast:
			out = m.Comm.Broadcast(ctx, local, ops[0].root)
		case kindScan:
			out = m.Comm.Scan(ctx, local, ops[0].op)
		}
		if out != nil {
			m.coll.mu.Lock()
			m.coll.results[tag] = out
			m.coll.mu.Unlock()
		}
	}
}
