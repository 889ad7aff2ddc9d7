// Package master implements the scheduler/communicator (spec §4.2, C5):
// it holds blocks, links and queues, runs callbacks, and drives both the
// synchronous exchange and the non-blocking termination-detecting
// iexchange. Grounded in the teacher's Master-as-xaction-driver pattern
// (xact.BckJog's Run/Wait/Quiesce loop generalized from one bucket-copy
// job to arbitrary per-block callbacks), its worker pool built on
// golang.org/x/sync/errgroup the way aistore's mpather group runs parallel
// per-object visitors.
package master

import (
	"sync"

	"go.uber.org/atomic"

	"github.com/diatomic/diy/block"
	"github.com/diatomic/diy/collection"
	"github.com/diatomic/diy/comm"
	"github.com/diatomic/diy/external"
	"github.com/diatomic/diy/internal/cmn"
	"github.com/diatomic/diy/link"
	"github.com/diatomic/diy/queue"
)

// Command is a deferred foreach invocation (spec §4.2 "foreach(f,
// skip=never)").
type Command struct {
	F    func(p *Proxy) error
	Skip func(lid collection.Lid) bool
}

// Never is the default skip predicate: never skip any lid.
func Never(collection.Lid) bool { return false }

// Master owns one process's share of the global block space.
type Master struct {
	mu sync.RWMutex

	Comm  comm.Communicator
	Col   *collection.Collection
	Store external.Store
	Funcs block.Funcs
	Cfg   *cmn.Config

	// Metrics is optional (spec's ambient "Metrics" row); nil unless the
	// caller wires one via SetMetrics.
	Metrics *Metrics

	links    []*link.Link
	gids     []int64
	gidToLid map[int64]collection.Lid

	Out *queue.Outgoing
	In  *queue.Incoming

	round    atomic.Int64
	expected atomic.Int64

	threads     int
	memLimit    int
	immediate   bool
	queuePolicy queue.Policy

	cmdMu    sync.Mutex
	commands []Command

	coll *collectiveState

	// in-flight send requests from the current/previous exchange, drained
	// by drainInflight() before a flush can return (spec §4.2.2).
	inflightMu sync.Mutex
	inflight   []*comm.Request

	// iex is non-nil only while an IExchange call is in flight; it lets
	// the shared send/recv pump functions keep the session's work
	// counter accurate without iexchange duplicating that plumbing.
	iexMu sync.RWMutex
	iex   *iexchangeSession
}

// New constructs a Master bound to a communicator and block callbacks.
func New(c comm.Communicator, store external.Store, funcs block.Funcs, cfg *cmn.Config) *Master {
	if cfg == nil {
		cfg = cmn.DefaultConfig()
	}
	m := &Master{
		Comm:        c,
		Store:       store,
		Funcs:       funcs,
		Cfg:         cfg,
		gidToLid:    make(map[int64]collection.Lid),
		Out:         queue.NewOutgoing(),
		In:          queue.NewIncoming(),
		threads:     cfg.Threads,
		memLimit:    cfg.MemLimit,
		immediate:   cfg.Immediate,
		queuePolicy: queue.ThresholdPolicy{Threshold: cfg.SpillThresholdBytes},
		coll:        newCollectiveState(),
	}
	m.Col = collection.New(funcs, store)
	return m
}

// SetMetrics wires an optional Prometheus gauge/counter set; pass nil to
// disable (the default).
func (m *Master) SetMetrics(mt *Metrics) { m.mu.Lock(); m.Metrics = mt; m.mu.Unlock() }

func (m *Master) SetImmediate(v bool) { m.mu.Lock(); m.immediate = v; m.mu.Unlock() }
func (m *Master) SetThreads(n int)    { m.mu.Lock(); m.threads = n; m.mu.Unlock() }
func (m *Master) SetExpected(n int64) { m.expected.Store(n) }
func (m *Master) Expected() int64     { return m.expected.Load() }
func (m *Master) Round() int64        { return m.round.Load() }
func (m *Master) NumLocal() int       { m.mu.RLock(); defer m.mu.RUnlock(); return len(m.gids) }

// Add registers a new local block, thread-safe (spec §4.2 "add").
func (m *Master) Add(gid int64, b block.Block, lnk *link.Link) collection.Lid {
	m.mu.Lock()
	defer m.mu.Unlock()
	lid := m.Col.Add(b)
	if int(lid) == len(m.links) {
		m.links = append(m.links, lnk)
		m.gids = append(m.gids, gid)
	} else {
		m.links[lid] = lnk
		m.gids[lid] = gid
	}
	m.gidToLid[gid] = lid
	m.expected.Add(int64(lnk.SizeUnique()))
	return lid
}

// Release transfers block ownership out; removes the link; decreases
// expected accordingly (spec §4.2 "release").
func (m *Master) Release(lid collection.Lid) (block.Block, error) {
	m.mu.Lock()
	lnk := m.links[lid]
	gid := m.gids[lid]
	m.mu.Unlock()

	b, err := m.Col.Release(lid)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.links[lid] = nil
	delete(m.gidToLid, gid)
	m.mu.Unlock()
	if lnk != nil {
		m.expected.Sub(int64(lnk.SizeUnique()))
	}
	return b, nil
}

func (m *Master) Gid(lid collection.Lid) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.gids[lid]
}

func (m *Master) Lid(gid int64) (collection.Lid, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	lid, ok := m.gidToLid[gid]
	return lid, ok
}

func (m *Master) Link(lid collection.Lid) *link.Link {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.links[lid]
}

// SetLink replaces lid's link (spec §3 "Ownership: the Master owns links;
// replacement is explicit").
func (m *Master) SetLink(lid collection.Lid, lnk *link.Link) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.links[lid] = lnk
}

// LocalLids returns every currently-registered (non-released) lid.
func (m *Master) LocalLids() []collection.Lid {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]collection.Lid, 0, len(m.links))
	for lid, l := range m.links {
		if l != nil {
			out = append(out, collection.Lid(lid))
		}
	}
	return out
}

// Foreach enqueues a command; if immediate, executes right away (spec
// §4.2 "foreach").
func (m *Master) Foreach(f func(p *Proxy) error, skip func(collection.Lid) bool) {
	if skip == nil {
		skip = Never
	}
	m.cmdMu.Lock()
	m.commands = append(m.commands, Command{F: f, Skip: skip})
	imm := m.immediate
	m.cmdMu.Unlock()
	if imm {
		m.Execute()
	}
}
