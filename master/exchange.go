package master

import (
	"github.com/diatomic/diy/collection"
	"github.com/diatomic/diy/comm"
	"github.com/diatomic/diy/internal/nlog"
	"github.com/diatomic/diy/link"
	"github.com/diatomic/diy/queue"
)

// TouchLink ensures every outgoing endpoint named by lnk has at least an
// empty FIFO for gid, so "no message" is still a delivered zero-byte
// record (spec §4.2.2, invariant I2). Exposed so drivers with their own
// per-round link (reduce, balance) can reuse the same touch semantics
// the ordinary exchange uses for the Master's persistent link.
func (m *Master) TouchLink(lid collection.Lid, lnk *link.Link) {
	if lnk == nil {
		return
	}
	gid := m.Gid(lid)
	for _, nb := range lnk.Neighbors() {
		m.Out.Touch(gid, nb)
	}
}

func (m *Master) touchQueues() {
	for _, lid := range m.LocalLids() {
		m.TouchLink(lid, m.Link(lid))
	}
}

// Flush advances the round and drains it (spec §4.2.2/§4.2.3), without
// running deferred commands or touching queues first — the half of
// Exchange a driver with its own per-round link (reduce, balance) needs
// to reuse directly.
func (m *Master) Flush(remote bool) int64 {
	round := m.round.Load()
	m.round.Add(1)
	newRound := round + 1

	if remote {
		m.flushRemote(newRound)
	} else {
		m.flushLocal(newRound)
	}
	m.ProcessCollectives()
	m.Metrics.Observe(m)
	return newRound
}

// Exchange runs deferred commands then flushes until every expected
// per-round delivery has arrived and every in-flight send has completed
// (spec §4.2.2). remote=true uses the rendezvous (ibarrier) termination of
// §4.2.3 instead of the expected-count barrier-free flush.
func (m *Master) Exchange(remote bool) {
	m.Execute()
	m.touchQueues()
	m.Flush(remote)
}

type assembly struct {
	header   wireHeader
	total    int64
	buf      []byte
	remain   int32
}

// hasOutbound reports whether any local gid still has a non-empty
// outgoing FIFO toward any target.
func (m *Master) hasOutbound() bool {
	for _, gid := range m.Out.Froms() {
		for _, f := range m.Out.Targets(gid) {
			if !f.Empty() {
				return true
			}
		}
	}
	return false
}

// flushLocal is the expected-count barrier-free flush (spec §4.2.2).
func (m *Master) flushLocal(round int64) {
	assemblies := make(map[int]*assembly)
	for {
		sentAny := m.pumpSends(round)
		m.drainInflight(false)
		recvAny := m.pumpRecv(round, assemblies)

		anyOutbound := m.hasOutbound()

		received := int64(m.In.Received(round))
		expected := m.expected.Load()
		inflight := m.inflightCount()

		if !anyOutbound && received >= expected && inflight == 0 {
			return
		}
		if !sentAny && !recvAny && inflight > 0 {
			m.drainInflight(true) // block on at least one completion to avoid busy-spin
		}
	}
}

// flushRemote is the rendezvous (ibarrier) termination of spec §4.2.3:
// exchange targets are not restricted to the link; each rank drains sends
// and receives, then enters an ibarrier once it has nothing outstanding.
// Probing continues until the ibarrier fires so late arrivals are received.
func (m *Master) flushRemote(round int64) {
	assemblies := make(map[int]*assembly)
	var barrierReq *comm.Request
	for {
		m.pumpSends(round)
		m.drainInflight(false)
		m.pumpRecv(round, assemblies)

		if barrierReq == nil {
			if !m.hasOutbound() && m.inflightCount() == 0 {
				barrierReq = m.Comm.IBarrier(round)
			}
			continue
		}
		if done, _ := barrierReq.Test(); done {
			m.pumpRecv(round, assemblies)
			return
		}
	}
}

// pumpSends issues one isend/issend per resident outgoing record,
// respecting the configured in-flight send limit (spec §1 "in-flight
// limits").
func (m *Master) pumpSends(round int64) bool {
	sentAny := false
	limit := m.Cfg.MaxInFlightSends
	for _, fromGid := range m.Out.Froms() {
		for to, fifo := range m.Out.Targets(fromGid) {
			for !fifo.Empty() {
				if limit > 0 && m.inflightCount() >= limit {
					return sentAny
				}
				rec, err := fifo.Pop()
				if err != nil {
					break
				}
				m.sendRecord(fromGid, to, rec, round)
				sentAny = true
			}
		}
	}
	return sentAny
}

func (m *Master) sendRecord(from int64, to link.BlockID, rec *queue.Record, round int64) {
	if to.Proc == m.Comm.Rank() {
		m.In.Deliver(round, to.Gid, from, rec)
		return
	}
	payload, err := rec.Load(m.Store)
	if err != nil {
		nlog.Fatalf("exchange: load spilled record for send: %v", err)
		return
	}
	hdr := wireHeader{FromGid: from, ToGid: to.Gid, Round: round}
	maxSingle := m.Cfg.MaxSingleMessageBytes
	if maxSingle <= 0 || len(payload) <= maxSingle {
		wire, compressed, rawSize := m.maybeCompress(payload)
		hdr.Compressed = compressed
		hdr.RawSize = rawSize
		env := append(hdr.encode(), wire...)
		req := m.Comm.Isend(to.Proc, tagQueue, env)
		m.addInflight(req)
		return
	}
	pieceSize := m.Cfg.MaxPieceBytes
	if pieceSize <= 0 {
		pieceSize = 1 << 14
	}
	nparts := (len(payload) + pieceSize - 1) / pieceSize
	hdr.NParts = int32(nparts)
	head := append(hdr.encode(), encodeInt64(int64(len(payload)))...)
	req := m.Comm.Isend(to.Proc, tagQueue, head)
	m.addInflight(req)
	for i := 0; i < nparts; i++ {
		start := i * pieceSize
		end := start + pieceSize
		if end > len(payload) {
			end = len(payload)
		}
		req := m.Comm.Isend(to.Proc, tagQueue, payload[start:end])
		m.addInflight(req)
	}
}

func (m *Master) addInflight(r *comm.Request) {
	m.inflightMu.Lock()
	m.inflight = append(m.inflight, r)
	m.inflightMu.Unlock()
}

func (m *Master) inflightCount() int {
	m.inflightMu.Lock()
	defer m.inflightMu.Unlock()
	return len(m.inflight)
}

// drainInflight removes completed requests; if block is true it waits for
// at least one to complete instead of busy-polling.
func (m *Master) drainInflight(block bool) {
	m.inflightMu.Lock()
	reqs := m.inflight
	m.inflightMu.Unlock()
	if len(reqs) == 0 {
		return
	}
	if block {
		_ = reqs[0].Wait()
	}
	m.inflightMu.Lock()
	kept := m.inflight[:0]
	completed := 0
	for _, r := range m.inflight {
		if done, _ := r.Test(); !done {
			kept = append(kept, r)
		} else {
			completed++
		}
	}
	m.inflight = kept
	m.inflightMu.Unlock()
	for i := 0; i < completed; i++ {
		m.iexNoteSendComplete()
	}
}

// pumpRecv advances non-blocking probes and assembles incoming messages
// (spec §4.2.2 "Receive").
func (m *Master) pumpRecv(round int64, assemblies map[int]*assembly) bool {
	any := false
	for {
		from, _, ok := m.Comm.Iprobe(tagQueue)
		if !ok {
			return any
		}
		req := m.Comm.Irecv(tagQueue)
		if err := req.Wait(); err != nil {
			nlog.Errorln(err)
			return any
		}
		data := req.Bytes()
		src := req.From()
		_ = from
		any = true

		a, active := assemblies[src]
		if !active {
			hdr, rest := decodeHeader(data)
			if hdr.NParts == 0 {
				m.deliverPayload(hdr, rest)
				continue
			}
			total := decodeInt64(rest)
			assemblies[src] = &assembly{header: hdr, total: total, remain: hdr.NParts, buf: make([]byte, 0, total)}
			continue
		}
		a.buf = append(a.buf, data...)
		a.remain--
		if a.remain == 0 {
			m.deliverPayload(a.header, a.buf)
			delete(assemblies, src)
		}
	}
}

func (m *Master) deliverPayload(hdr wireHeader, payload []byte) {
	if hdr.Compressed {
		raw, err := decompress(payload, hdr.RawSize)
		if err != nil {
			nlog.Fatalf("exchange: lz4 decompress incoming record: %v", err)
			return
		}
		payload = raw
	}
	rec := queue.NewResident(append([]byte(nil), payload...))
	if m.queuePolicy.ShouldSpill(hdr.FromGid, hdr.ToGid, rec.Size) {
		if err := rec.Spill(m.Store); err != nil {
			nlog.Fatalf("exchange: spill incoming record: %v", err)
			return
		}
	}
	m.In.Deliver(hdr.Round, hdr.ToGid, hdr.FromGid, rec)
	m.iexNoteDeliver()
}
