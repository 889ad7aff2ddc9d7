package master

import "github.com/diatomic/diy/comm"

// orOp is the logical-OR reduce over a single-byte payload used by variant
// A's dirty-flag all-reduce (spec §4.3).
func orOp(a, b []byte) []byte {
	if len(a) == 0 {
		a = []byte{0}
	}
	if len(b) == 0 {
		b = []byte{0}
	}
	out := make([]byte, 1)
	if a[0] != 0 || b[0] != 0 {
		out[0] = 1
	}
	return out
}

// ctxFor derives a rendezvous context distinct per (round, trial, phase) so
// repeated ibarrier/all-reduce cycles within one IExchange call never reuse
// a tag the local comm.World might still be draining.
func ctxFor(round, trial, phase int64) int64 {
	return round*1_000_000_007 + trial*10 + phase
}

const (
	phaseBarrier    = 1
	phaseAllReduce  = 2
)

// iexchangeIBarrier is spec §4.3 variant A: "each rank tracks a dirty bit
// ... (0) if local work is zero, start an ibarrier and clear dirty; (1)
// when the ibarrier completes, start a non-blocking all-reduce of dirty
// with logical OR; (2) if the reduced dirty is zero, declare done;
// otherwise go back to state 0."
func (m *Master) iexchangeIBarrier(f func(p *Proxy) (bool, error), round int64, sess *iexchangeSession, assemblies map[int]*assembly) error {
	const (
		stateRun = iota
		stateWaitBarrier
		stateWaitAllReduce
	)

	state := stateRun
	var trial int64
	var barrierReq, arReq *comm.Request

	for {
		m.iexIterate(f, sess)
		m.icommunicate(round, assemblies, sess)

		switch state {
		case stateRun:
			if sess.work.Load() == 0 {
				sess.dirty.Store(false)
				barrierReq = m.Comm.IBarrier(ctxFor(round, trial, phaseBarrier))
				state = stateWaitBarrier
			}
		case stateWaitBarrier:
			if done, _ := barrierReq.Test(); done {
				payload := []byte{0}
				if sess.dirty.Load() {
					payload[0] = 1
				}
				arReq = m.Comm.IAllReduce(ctxFor(round, trial, phaseAllReduce), payload, orOp)
				state = stateWaitAllReduce
			}
		case stateWaitAllReduce:
			if done, _ := arReq.Test(); done {
				result := arReq.Bytes()
				if len(result) == 0 || result[0] == 0 {
					return nil
				}
				trial++
				state = stateRun
			}
		}
	}
}
