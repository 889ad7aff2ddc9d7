package queue

import (
	"sync"

	"github.com/diatomic/diy/link"
)

// Outgoing is outgoing[from_gid][to_BlockID] -> FIFO (spec §3).
type Outgoing struct {
	mu sync.Mutex
	m  map[int64]map[link.BlockID]*FIFO
}

func NewOutgoing() *Outgoing { return &Outgoing{m: make(map[int64]map[link.BlockID]*FIFO)} }

// Touch ensures an (from, to) FIFO exists, even empty — needed so "no
// message" is still a delivered zero-byte record (spec §4.2.2 touch_queues,
// invariant I2).
func (o *Outgoing) Touch(from int64, to link.BlockID) *FIFO {
	o.mu.Lock()
	defer o.mu.Unlock()
	inner, ok := o.m[from]
	if !ok {
		inner = make(map[link.BlockID]*FIFO)
		o.m[from] = inner
	}
	f, ok := inner[to]
	if !ok {
		f = &FIFO{}
		inner[to] = f
	}
	return f
}

func (o *Outgoing) Get(from int64, to link.BlockID) (*FIFO, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	inner, ok := o.m[from]
	if !ok {
		return nil, false
	}
	f, ok := inner[to]
	return f, ok
}

// Targets returns every (to BlockID, fifo) pair queued from a given gid.
func (o *Outgoing) Targets(from int64) map[link.BlockID]*FIFO {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[link.BlockID]*FIFO, len(o.m[from]))
	for k, v := range o.m[from] {
		out[k] = v
	}
	return out
}

// Froms returns the set of source gids with any resident outgoing queue —
// used to order exchange so resident-queue sources are flushed first
// (spec §4.2.2).
func (o *Outgoing) Froms() []int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]int64, 0, len(o.m))
	for gid := range o.m {
		out = append(out, gid)
	}
	return out
}

func (o *Outgoing) Clear(from int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.m, from)
}

// Incoming is incoming[round][to_gid][from_gid] -> FIFO (spec §3).
type Incoming struct {
	mu  sync.Mutex
	m   map[int64]map[int64]map[int64]*FIFO
	rcv map[int64]int // received count per round
}

func NewIncoming() *Incoming {
	return &Incoming{m: make(map[int64]map[int64]map[int64]*FIFO), rcv: make(map[int64]int)}
}

func (in *Incoming) Touch(round, to, from int64) *FIFO {
	in.mu.Lock()
	defer in.mu.Unlock()
	byTo, ok := in.m[round]
	if !ok {
		byTo = make(map[int64]map[int64]*FIFO)
		in.m[round] = byTo
	}
	byFrom, ok := byTo[to]
	if !ok {
		byFrom = make(map[int64]*FIFO)
		byTo[to] = byFrom
	}
	f, ok := byFrom[from]
	if !ok {
		f = &FIFO{}
		byFrom[from] = f
	}
	return f
}

func (in *Incoming) Get(round, to, from int64) (*FIFO, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	byTo, ok := in.m[round]
	if !ok {
		return nil, false
	}
	byFrom, ok := byTo[to]
	if !ok {
		return nil, false
	}
	f, ok := byFrom[from]
	return f, ok
}

// Deliver places a record into incoming[round][to][from] as it is (it
// never spills it) and bumps the round's received counter.
func (in *Incoming) Deliver(round, to, from int64, rec *Record) {
	f := in.Touch(round, to, from)
	in.mu.Lock()
	f.Push(rec)
	in.rcv[round]++
	in.mu.Unlock()
}

func (in *Incoming) Received(round int64) int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.rcv[round]
}

// ClearGid drops every incoming FIFO for (round, to) — called after a
// block's callbacks have consumed them (spec §4.2.1 step 3).
func (in *Incoming) ClearGid(round, to int64) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if byTo, ok := in.m[round]; ok {
		delete(byTo, to)
	}
}

// ClearRound drops an entire round's incoming map and received counter
// (spec §4.2.1: "the incoming map for the current round is cleared").
func (in *Incoming) ClearRound(round int64) {
	in.mu.Lock()
	defer in.mu.Unlock()
	delete(in.m, round)
	delete(in.rcv, round)
}

// Destinations returns the destination gids present under incoming[round].
func (in *Incoming) Destinations(round int64) []int64 {
	in.mu.Lock()
	defer in.mu.Unlock()
	byTo := in.m[round]
	out := make([]int64, 0, len(byTo))
	for gid := range byTo {
		out = append(out, gid)
	}
	return out
}

// FromsFor returns the source gids with a resident FIFO under (round, to).
func (in *Incoming) FromsFor(round, to int64) []int64 {
	in.mu.Lock()
	defer in.mu.Unlock()
	byFrom, ok := in.m[round][to]
	if !ok {
		return nil
	}
	out := make([]int64, 0, len(byFrom))
	for from := range byFrom {
		out = append(out, from)
	}
	return out
}

// DrainGid removes and returns every resident record still queued under
// (round, to), grouped by source gid, clearing those FIFOs as it goes
// (used by balance's block-migration transfer to carry pending
// in-round records along with a moved block, spec §4.6).
func (in *Incoming) DrainGid(round, to int64) map[int64][]*Record {
	in.mu.Lock()
	byTo, ok := in.m[round]
	var froms map[int64]*FIFO
	if ok {
		froms, ok = byTo[to]
	}
	in.mu.Unlock()
	if !ok {
		return nil
	}
	out := make(map[int64][]*Record, len(froms))
	for from, f := range froms {
		in.mu.Lock()
		var recs []*Record
		for !f.Empty() {
			r, err := f.Pop()
			if err != nil {
				break
			}
			recs = append(recs, r)
		}
		in.mu.Unlock()
		if len(recs) > 0 {
			out[from] = recs
		}
	}
	in.mu.Lock()
	delete(byTo, to)
	in.mu.Unlock()
	return out
}
