// Package balance implements dynamic load balancing (spec §4.6, C10):
// collect per-rank WorkInfo, decide MoveInfo moves, and execute them by
// transferring a block's serialized form and link from source to
// destination, updating the dynamic assigner.
package balance

import (
	"encoding/binary"
	"math"
	"sort"

	"github.com/teris-io/shortid"

	"github.com/diatomic/diy/assign"
	"github.com/diatomic/diy/block"
	"github.com/diatomic/diy/external"
	"github.com/diatomic/diy/internal/nlog"
	"github.com/diatomic/diy/link"
	"github.com/diatomic/diy/master"
	"github.com/diatomic/diy/queue"
)

// newBatchID labels one balancing pass for debug logging (spec §4.6
// mentions no wire requirement for this; aistore's go.mod carries
// teris-io/shortid for exactly this kind of short, readable label).
func newBatchID() string {
	id, err := shortid.Generate()
	if err != nil {
		return "batch"
	}
	return id
}

const tagBalance = 3

// WorkInfo summarizes one rank's load (spec §4.6).
type WorkInfo struct {
	Rank         int
	TopGid       int64
	TopWork      float64
	ProcWork     float64
	NLocalBlocks int
}

func encodeWorkInfo(w WorkInfo) []byte {
	b := make([]byte, 4+8+8+8+4)
	binary.LittleEndian.PutUint32(b[0:4], uint32(w.Rank))
	binary.LittleEndian.PutUint64(b[4:12], uint64(w.TopGid))
	binary.LittleEndian.PutUint64(b[12:20], uint64(math.Float64bits(w.TopWork)))
	binary.LittleEndian.PutUint64(b[20:28], uint64(math.Float64bits(w.ProcWork)))
	binary.LittleEndian.PutUint32(b[28:32], uint32(w.NLocalBlocks))
	return b
}

func decodeWorkInfo(b []byte) WorkInfo {
	return WorkInfo{
		Rank:         int(binary.LittleEndian.Uint32(b[0:4])),
		TopGid:       int64(binary.LittleEndian.Uint64(b[4:12])),
		TopWork:      math.Float64frombits(binary.LittleEndian.Uint64(b[12:20])),
		ProcWork:     math.Float64frombits(binary.LittleEndian.Uint64(b[20:28])),
		NLocalBlocks: int(binary.LittleEndian.Uint32(b[28:32])),
	}
}

// MoveInfo is one decided block migration (spec §4.6).
type MoveInfo struct {
	Gid      int64
	Src, Dst int
}

// localWorkInfo computes this rank's WorkInfo from a caller-supplied
// per-gid work function.
func localWorkInfo(m *master.Master, work func(gid int64) float64) WorkInfo {
	w := WorkInfo{Rank: m.Comm.Rank(), NLocalBlocks: len(m.LocalLids())}
	for _, lid := range m.LocalLids() {
		gid := m.Gid(lid)
		v := work(gid)
		w.ProcWork += v
		if v > w.TopWork {
			w.TopWork, w.TopGid = v, gid
		}
	}
	return w
}

// CollectiveBalance implements spec §4.6's collective variant: "all
// ranks all-gather WorkInfo. A deterministic scheduler runs LPTF:
// repeatedly pair the currently heaviest sampled block with the
// currently lightest process (by proc_work), subject to (i) expected
// improvement > the moved block's work, (ii) not self-move, (iii) source
// keeps >= 1 block. Each rank applies the moves for which it is source
// or destination."
func CollectiveBalance(m *master.Master, assigner assign.Mutable, work func(gid int64) float64) ([]MoveInfo, error) {
	local := encodeWorkInfo(localWorkInfo(m, work))
	gathered := m.Comm.AllGather(0, local)

	infos := make([]WorkInfo, len(gathered))
	for i, g := range gathered {
		infos[i] = decodeWorkInfo(g)
	}

	moves := scheduleLPTF(infos)
	batch := newBatchID()
	if m.Comm.Rank() == 0 && len(moves) > 0 {
		nlog.Infof("balance[%s]: %d moves decided", batch, len(moves))
	}
	for _, mv := range moves {
		assigner.Reassign(mv.Gid, mv.Dst)
	}
	for _, mv := range moves {
		if err := applyMove(m, mv, work); err != nil {
			return moves, err
		}
	}
	fixLinks(m, assigner)
	return moves, nil
}

// scheduleLPTF runs a deterministic longest-processing-time-first pass:
// each iteration pairs the heaviest still-movable top block with the
// lightest process, subject to the spec's three constraints.
func scheduleLPTF(infos []WorkInfo) []MoveInfo {
	state := make([]WorkInfo, len(infos))
	copy(state, infos)
	moved := make(map[int64]bool)
	var moves []MoveInfo

	for {
		heaviestIdx := -1
		for i, w := range state {
			if w.NLocalBlocks <= 1 || moved[w.TopGid] {
				continue
			}
			if heaviestIdx == -1 || w.TopWork > state[heaviestIdx].TopWork {
				heaviestIdx = i
			}
		}
		if heaviestIdx == -1 {
			break
		}
		lightestIdx := -1
		for i, w := range state {
			if i == heaviestIdx {
				continue
			}
			if lightestIdx == -1 || w.ProcWork < state[lightestIdx].ProcWork {
				lightestIdx = i
			}
		}
		if lightestIdx == -1 {
			break
		}
		src, dst := &state[heaviestIdx], &state[lightestIdx]
		moveWork := src.TopWork
		improvement := src.ProcWork - dst.ProcWork
		if improvement <= moveWork || src.Rank == dst.Rank {
			break
		}
		moves = append(moves, MoveInfo{Gid: src.TopGid, Src: src.Rank, Dst: dst.Rank})
		moved[src.TopGid] = true
		src.ProcWork -= moveWork
		src.NLocalBlocks--
		dst.ProcWork += moveWork
		dst.NLocalBlocks++
		// the moved block no longer exists on src; the scheduler has no
		// further visibility into src's next-heaviest block, so src drops
		// out of future rounds for this invocation.
		src.TopWork = 0
	}
	sort.Slice(moves, func(i, j int) bool { return moves[i].Gid < moves[j].Gid })
	return moves
}

// applyMove transfers gid's serialized block+link, plus any records
// already queued for it this round, from Src to Dst (spec §4.6:
// "transferring one block's serialized form and its serialized link from
// source to destination, adding it at the destination and releasing it
// at the source"; spec.md:163: "the sender removes the block from its
// Collection only after enqueueing all payload" — Release happens only
// after the send is confirmed, and any pending incoming records for gid
// travel with the same payload instead of being silently dropped).
func applyMove(m *master.Master, mv MoveInfo, _ func(int64) float64) error {
	rank := m.Comm.Rank()
	switch rank {
	case mv.Src:
		lid, ok := m.Lid(mv.Gid)
		if !ok {
			return nil
		}
		lnk := m.Link(lid)
		blk, err := m.Col.Get(lid)
		if err != nil {
			return err
		}
		round := m.Round()
		pending := m.In.DrainGid(round, mv.Gid)
		payload, err := encodeTransfer(lnk, blk, m.Funcs, round, pending, m.Store)
		if err != nil {
			return err
		}
		req := m.Comm.Isend(mv.Dst, tagBalance, payload)
		if err := req.Wait(); err != nil {
			return err
		}
		if _, err := m.Release(lid); err != nil {
			return err
		}
		m.Metrics.IncMoves(1)
		return nil
	case mv.Dst:
		req := m.Comm.Irecv(tagBalance)
		if err := req.Wait(); err != nil {
			return err
		}
		lnk, blk, round, pending, err := decodeTransfer(req.Bytes(), m.Funcs)
		if err != nil {
			return err
		}
		m.Add(mv.Gid, blk, lnk)
		for from, recs := range pending {
			for _, rec := range recs {
				m.In.Deliver(round, mv.Gid, from, rec)
			}
		}
	}
	return nil
}

// encodeTransfer serializes link+block plus any records pending[from] in
// m.In for the migrating gid this round, resolving spilled records to raw
// bytes first since a record's Handle is only meaningful against the
// sending rank's own external.Store. Wire layout: linkLen(4) blockLen(4)
// round(8) numFroms(4), link bytes, block bytes, then per from gid:
// from(8) numRecords(4), then per record: len(4) bytes.
func encodeTransfer(lnk *link.Link, blk block.Block, funcs block.Funcs, round int64, pending map[int64][]*queue.Record, store external.Store) ([]byte, error) {
	var linkBuf []byte
	var err error
	if lnk != nil {
		linkBuf, err = lnk.Bytes()
		if err != nil {
			return nil, err
		}
	}
	blkBuf := block.NewBuffer()
	if funcs.Save != nil {
		if err := funcs.Save(blk, blkBuf); err != nil {
			return nil, err
		}
	}

	header := make([]byte, 20)
	binary.LittleEndian.PutUint32(header[0:4], uint32(len(linkBuf)))
	binary.LittleEndian.PutUint32(header[4:8], uint32(blkBuf.Len()))
	binary.LittleEndian.PutUint64(header[8:16], uint64(round))
	binary.LittleEndian.PutUint32(header[16:20], uint32(len(pending)))

	out := append(header, linkBuf...)
	out = append(out, blkBuf.Bytes()...)

	for from, recs := range pending {
		fromHdr := make([]byte, 12)
		binary.LittleEndian.PutUint64(fromHdr[0:8], uint64(from))
		binary.LittleEndian.PutUint32(fromHdr[8:12], uint32(len(recs)))
		out = append(out, fromHdr...)
		for _, rec := range recs {
			data, err := rec.Load(store)
			if err != nil {
				return nil, err
			}
			recHdr := make([]byte, 4)
			binary.LittleEndian.PutUint32(recHdr, uint32(len(data)))
			out = append(out, recHdr...)
			out = append(out, data...)
		}
	}
	return out, nil
}

func decodeTransfer(data []byte, funcs block.Funcs) (*link.Link, block.Block, int64, map[int64][]*queue.Record, error) {
	linkLen := binary.LittleEndian.Uint32(data[0:4])
	blockLen := binary.LittleEndian.Uint32(data[4:8])
	round := int64(binary.LittleEndian.Uint64(data[8:16]))
	numFroms := binary.LittleEndian.Uint32(data[16:20])
	off := 20
	lnk, err := link.FromBytes(data[off : off+int(linkLen)])
	if err != nil {
		return nil, nil, 0, nil, err
	}
	off += int(linkLen)
	var blk block.Block
	if funcs.Create != nil {
		blk = funcs.Create()
	}
	if funcs.Load != nil {
		if err := funcs.Load(blk, block.NewBufferFrom(data[off:off+int(blockLen)])); err != nil {
			return nil, nil, 0, nil, err
		}
	}
	off += int(blockLen)

	pending := make(map[int64][]*queue.Record, numFroms)
	for i := uint32(0); i < numFroms; i++ {
		from := int64(binary.LittleEndian.Uint64(data[off : off+8]))
		off += 8
		numRecs := binary.LittleEndian.Uint32(data[off : off+4])
		off += 4
		recs := make([]*queue.Record, 0, numRecs)
		for j := uint32(0); j < numRecs; j++ {
			n := binary.LittleEndian.Uint32(data[off : off+4])
			off += 4
			buf := append([]byte(nil), data[off:off+int(n)]...)
			off += int(n)
			recs = append(recs, queue.NewResident(buf))
		}
		pending[from] = recs
	}
	return lnk, blk, round, pending, nil
}

// fixLinks rewrites every local link's target Proc fields from the
// (now-updated) assigner (spec §9 "Fix links"). Link is a pointer the
// Master already holds, so mutating it in place is enough.
func fixLinks(m *master.Master, assigner assign.Assigner) {
	for _, lid := range m.LocalLids() {
		if lnk := m.Link(lid); lnk != nil {
			lnk.FixProcs(assigner.Rank)
		}
	}
}
