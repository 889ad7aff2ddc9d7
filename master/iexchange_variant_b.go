package master

import (
	"encoding/binary"

	"github.com/diatomic/diy/internal/cmn"
	"github.com/diatomic/diy/internal/nlog"
)

// termMsg types carried as {type, payload} integer pairs over tagIExchange
// (spec §6 "IEXCHANGE ... work_update, done, abort").
const (
	termWorkUpdate int32 = iota
	termDone
	termAck
	termAbort
)

func encodeTermMsg(typ int32, payload int64) []byte {
	b := make([]byte, 12)
	binary.LittleEndian.PutUint32(b[0:4], uint32(typ))
	binary.LittleEndian.PutUint64(b[4:12], uint64(payload))
	return b
}

func decodeTermMsg(b []byte) (int32, int64) {
	return int32(binary.LittleEndian.Uint32(b[0:4])), int64(binary.LittleEndian.Uint64(b[4:12]))
}

// treeState is one rank's view of the implicit binary tree over rank bits
// (spec §4.3 variant B).
type treeState struct {
	rank, size int
	parent     int // -1 at the root
	children   []int

	subtreeNonzero bool // last value reported to parent (or initial false)

	trial        int64
	down1Seen    map[int64]bool       // trial -> this rank has forwarded the tentative down
	pendingAcks  map[int64]map[int]bool // trial -> set of children that have acked
	childNonzero map[int]bool           // child rank -> its last reported subtree state
}

func newTreeState(rank, size int) *treeState {
	ts := &treeState{rank: rank, size: size, parent: -1, childNonzero: make(map[int]bool),
		down1Seen: make(map[int64]bool), pendingAcks: make(map[int64]map[int]bool)}
	if rank != 0 {
		ts.parent = (rank - 1) / 2
	}
	for _, c := range []int{2*rank + 1, 2*rank + 2} {
		if c < size {
			ts.children = append(ts.children, c)
		}
	}
	return ts
}

func (ts *treeState) subtreeFromLocal(localNonzero bool) bool {
	if localNonzero {
		return true
	}
	for _, c := range ts.children {
		if ts.childNonzero[c] {
			return true
		}
	}
	return false
}

// iexchangeTree is spec §4.3 variant B: "tree-based down-up-down with
// abort". Each rank maintains local_work/subtree_work and notifies its
// parent of zero/non-zero transitions; the root drives down-up-down
// trials, invalidated by any in-flight abort, and declares quiescence
// locally once the final down reaches it.
func (m *Master) iexchangeTree(f func(p *Proxy) (bool, error), round int64, sess *iexchangeSession, assemblies map[int]*assembly) error {
	ts := newTreeState(m.Comm.Rank(), m.Comm.Size())

	for {
		m.iexIterate(f, sess)
		m.icommunicate(round, assemblies, sess)

		if quiescent, err := m.pumpTermMsgs(ts, round); err != nil {
			return err
		} else if quiescent {
			return nil
		}

		localNonzero := sess.work.Load() != 0
		subtree := ts.subtreeFromLocal(localNonzero)
		if subtree != ts.subtreeNonzero {
			ts.subtreeNonzero = subtree
			if ts.parent != -1 {
				payload := int64(0)
				if subtree {
					payload = 1
				}
				req := m.Comm.Isend(ts.parent, tagIExchange, encodeTermMsg(termWorkUpdate, payload))
				m.addInflight(req)
			}
			// work reappeared while this rank's current trial was still
			// in flight downstream of it: abort rather than let a stale
			// down complete past it (spec §4.3 "any rank that observes
			// new work during an in-flight trial sends abort(trial) up").
			if subtree && ts.down1Seen[ts.trial] {
				if ts.parent != -1 {
					req := m.Comm.Isend(ts.parent, tagIExchange, encodeTermMsg(termAbort, ts.trial))
					m.addInflight(req)
				} else {
					delete(ts.pendingAcks, ts.trial)
					ts.trial++
				}
			}
		}

		if ts.parent == -1 && !ts.subtreeNonzero {
			if _, inFlight := ts.pendingAcks[ts.trial]; !inFlight && !ts.down1Seen[ts.trial] {
				ts.down1Seen[ts.trial] = true
				ts.pendingAcks[ts.trial] = make(map[int]bool)
				m.sendDown(ts, ts.trial)
				if len(ts.children) == 0 {
					// single-rank tree: root is its own leaf, declare at once.
					return nil
				}
			}
		}
	}
}

func (m *Master) sendDown(ts *treeState, trial int64) {
	for _, c := range ts.children {
		req := m.Comm.Isend(c, tagIExchange, encodeTermMsg(termDone, trial))
		m.addInflight(req)
	}
}

// pumpTermMsgs drains every pending IEXCHANGE control message without
// blocking and advances ts's state machine. It returns quiescent=true once
// this rank has observed the final (second) down for a trial it never
// aborted; the root returns it once it has sent that final down.
func (m *Master) pumpTermMsgs(ts *treeState, round int64) (bool, error) {
	for {
		from, _, ok := m.Comm.Iprobe(tagIExchange)
		if !ok {
			return false, nil
		}
		req := m.Comm.Irecv(tagIExchange)
		if err := req.Wait(); err != nil {
			return false, err
		}
		data := req.Bytes()
		typ, payload := decodeTermMsg(data)

		switch typ {
		case termWorkUpdate:
			ts.childNonzero[from] = payload != 0

		case termDone:
			trial := payload
			if trial < ts.trial {
				nlog.Errorln(cmn.NewErrStaleTrial(trial, ts.trial))
				continue
			}
			if trial > ts.trial {
				// a new trial from a stricter root supersedes anything local.
				ts.trial = trial
				delete(ts.down1Seen, trial)
			}
			if !ts.down1Seen[trial] {
				// first ("tentative") down for this trial.
				if ts.subtreeNonzero {
					if ts.parent != -1 {
						req := m.Comm.Isend(ts.parent, tagIExchange, encodeTermMsg(termAbort, trial))
						m.addInflight(req)
					}
					continue
				}
				ts.down1Seen[trial] = true
				if len(ts.children) == 0 {
					if ts.parent != -1 {
						req := m.Comm.Isend(ts.parent, tagIExchange, encodeTermMsg(termAck, trial))
						m.addInflight(req)
					}
					continue
				}
				ts.pendingAcks[trial] = make(map[int]bool)
				m.sendDown(ts, trial)
				continue
			}
			// second down for a trial already forwarded once: final.
			for _, c := range ts.children {
				req := m.Comm.Isend(c, tagIExchange, encodeTermMsg(termDone, trial))
				m.addInflight(req)
			}
			return true, nil

		case termAck:
			trial := payload
			set, ok := ts.pendingAcks[trial]
			if !ok {
				nlog.Errorln(cmn.NewErrStaleTrial(trial, ts.trial))
				continue
			}
			set[from] = true
			if len(set) == len(ts.children) {
				if ts.parent == -1 {
					if len(ts.children) == 0 {
						return true, nil
					}
					m.sendDown(ts, trial)
					return true, nil
				} else {
					req := m.Comm.Isend(ts.parent, tagIExchange, encodeTermMsg(termAck, trial))
					m.addInflight(req)
				}
			}

		case termAbort:
			trial := payload
			if ts.parent != -1 {
				req := m.Comm.Isend(ts.parent, tagIExchange, encodeTermMsg(termAbort, trial))
				m.addInflight(req)
			} else {
				delete(ts.pendingAcks, trial)
				if trial >= ts.trial {
					ts.trial = trial + 1
				}
			}
		}
	}
}
