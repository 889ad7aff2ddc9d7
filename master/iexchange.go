package master

import (
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/diatomic/diy/internal/cmn"
	"github.com/diatomic/diy/internal/nlog"
	"github.com/diatomic/diy/link"
	"github.com/diatomic/diy/queue"
)

// Options configures one IExchange call (spec §4.3 "iexchange(f,
// min_queue_size=0, max_hold_time=0, fine=false)"). Per spec's open
// question, negative MinQueueSize/MaxHoldTime are the documented sentinel
// for "disable fine-grained control" — treated identically to the zero
// value here, since the spec does not distinguish their behavior from
// disabled holding.
type Options struct {
	MinQueueSize int
	MaxHoldTime  time.Duration
	Fine         bool
}

// Variant selects an iexchange termination-detection protocol (spec §4.3).
type Variant int

const (
	// VariantIBarrier is "collective ibarrier with dirty flag".
	VariantIBarrier Variant = iota
	// VariantTree is "tree-based down-up-down with abort".
	VariantTree
)

// iexchangeSession is the shared per-call bookkeeping both protocol
// variants drive: a single signed work counter (spec invariant I3 — "the
// sum of local work counters equals the number of outstanding messages
// plus unfinished local callbacks") and one done-flag per local gid.
type iexchangeSession struct {
	work  atomic.Int64
	dirty atomic.Bool

	mu   sync.Mutex
	done map[int64]bool

	opts Options

	holdMu sync.Mutex
	holds  map[holdKey]*heldRecord
}

// holdKey identifies one (source gid, destination) short-message hold slot.
type holdKey struct {
	from int64
	to   link.BlockID
}

type heldRecord struct {
	buf   []byte
	since time.Time
}

func newIexchangeSession(opts Options) *iexchangeSession {
	return &iexchangeSession{done: make(map[int64]bool), opts: opts, holds: make(map[holdKey]*heldRecord)}
}

// holdingEnabled reports whether short-message coalescing is active for
// this session (spec §4.3 "Short messages": both knobs must be positive).
func (s *iexchangeSession) holdingEnabled() bool {
	return s.opts.MinQueueSize > 0 && s.opts.MaxHoldTime > 0
}

// hold appends data to the (from, to) hold slot, immediately pushing it
// as a resident record if the held size has reached MinQueueSize.
func (s *iexchangeSession) hold(m *Master, from int64, to link.BlockID, data []byte) {
	key := holdKey{from: from, to: to}
	s.holdMu.Lock()
	hr, ok := s.holds[key]
	if !ok {
		hr = &heldRecord{since: time.Now()}
		s.holds[key] = hr
	}
	hr.buf = append(hr.buf, data...)
	ready := len(hr.buf) >= s.opts.MinQueueSize
	if ready {
		delete(s.holds, key)
	}
	s.holdMu.Unlock()
	if ready {
		m.Out.Touch(from, to).Push(queue.NewResident(hr.buf))
	}
}

// flushHolds pushes every hold slot whose age has reached MaxHoldTime.
// "Holding must not block termination: the driver inspects hold timers
// before each work-counter decision" (spec §4.3) — called at the top of
// icommunicate, immediately before each variant's termination check.
func (s *iexchangeSession) flushHolds(m *Master) {
	if !s.holdingEnabled() {
		return
	}
	now := time.Now()
	var ready []struct {
		key holdKey
		buf []byte
	}
	s.holdMu.Lock()
	for key, hr := range s.holds {
		if now.Sub(hr.since) >= s.opts.MaxHoldTime {
			ready = append(ready, struct {
				key holdKey
				buf []byte
			}{key, hr.buf})
			delete(s.holds, key)
		}
	}
	s.holdMu.Unlock()
	for _, r := range ready {
		m.Out.Touch(r.key.from, r.key.to).Push(queue.NewResident(r.buf))
	}
}

// bump adjusts the work counter; any positive adjustment marks the
// session dirty (spec §4.3 variant A: "set whenever any local work is
// added"). A counter driven negative is a protocol violation (spec §7).
func (s *iexchangeSession) bump(delta int64) {
	if delta == 0 {
		return
	}
	if delta > 0 {
		s.dirty.Store(true)
	}
	v := s.work.Add(delta)
	if v < 0 {
		nlog.Fatalf("iexchange: %v", cmn.NewErrNegativeWork(v))
	}
}

// setDone records gid's locally-done hint and adjusts the work counter
// for the transition (spec §4.3: "plus one unit per local block that has
// not yet signalled done").
func (s *iexchangeSession) setDone(gid int64, done bool) {
	s.mu.Lock()
	prev := s.done[gid]
	s.done[gid] = done
	s.mu.Unlock()
	switch {
	case done && !prev:
		s.bump(-1)
	case !done && prev:
		s.bump(1)
	}
}

// IExchange drives f(proxy)->locallyDone over every local block, issuing
// non-blocking communication between rounds, until the selected
// termination protocol declares global quiescence (spec §4.3).
func (m *Master) IExchange(f func(p *Proxy) (bool, error), variant Variant, opts Options) error {
	sess := newIexchangeSession(opts)
	sess.bump(int64(len(m.LocalLids())))

	m.iexMu.Lock()
	m.iex = sess
	m.iexMu.Unlock()
	defer func() {
		m.Metrics.Observe(m)
		m.iexMu.Lock()
		m.iex = nil
		m.iexMu.Unlock()
	}()

	round := m.round.Load()
	assemblies := make(map[int]*assembly)

	switch variant {
	case VariantTree:
		return m.iexchangeTree(f, round, sess, assemblies)
	default:
		return m.iexchangeIBarrier(f, round, sess, assemblies)
	}
}

// iexIterate runs f over every local block exactly once, immediately
// (not deferred, unlike Foreach/Execute): iexchange has no separate
// execute phase, spec §4.3 "loops foreach(f); icommunicate()".
func (m *Master) iexIterate(f func(p *Proxy) (bool, error), sess *iexchangeSession) {
	for _, lid := range m.LocalLids() {
		gid := m.Gid(lid)
		lnk := m.Link(lid)
		if err := m.Col.Load(lid); err != nil {
			nlog.Errorln(err)
			continue
		}
		p := &Proxy{m: m, lid: lid, gid: gid, lnk: lnk, blk: m.Col.Find(lid)}
		done, err := f(p)
		if err != nil {
			nlog.Errorln(err)
			continue
		}
		sess.setDone(gid, done)
	}
}

func (m *Master) iexSession() *iexchangeSession {
	m.iexMu.RLock()
	defer m.iexMu.RUnlock()
	return m.iex
}

// iexNoteEnqueue records that this rank just became responsible for one
// more message (spec §4.3 work-unit contract), if an IExchange is active.
func (m *Master) iexNoteEnqueue() {
	if s := m.iexSession(); s != nil {
		s.bump(1)
	}
}

// iexNoteSendComplete records that responsibility for a remotely-sent
// message has transferred away from this rank.
func (m *Master) iexNoteSendComplete() {
	if s := m.iexSession(); s != nil {
		s.bump(-1)
	}
}

// iexNoteDeliver records that this rank just became responsible for a
// message that arrived from a different rank. Same-rank bypass deliveries
// must not call this: Enqueue already counted that message, and bypass
// never detaches it from this rank in between.
func (m *Master) iexNoteDeliver() {
	if s := m.iexSession(); s != nil {
		s.bump(1)
	}
}

// icommunicate issues one non-blocking pass of send/drain/recv, the
// granularity at which iexchange interleaves communication with
// callback invocation (spec §4.3).
func (m *Master) icommunicate(round int64, assemblies map[int]*assembly, sess *iexchangeSession) {
	sess.flushHolds(m)
	m.pumpSends(round)
	m.drainInflight(false)
	m.pumpRecv(round, assemblies)
}
