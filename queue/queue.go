// Package queue implements the queue-record and queue-map machinery (spec
// §3 "Queue record"/"Queue maps", C4). A Record is one serialized message
// between one source gid and one destination (gid, proc); it is either
// resident in memory or spilled to external storage under a handle.
package queue

import (
	"github.com/diatomic/diy/external"
	"github.com/diatomic/diy/internal/cmn"
)

// Record is a single FIFO entry. Invariant (spec §3): Handle != NoHandle
// iff Buffer is empty and Size is the spilled size.
type Record struct {
	Size   int64
	Handle external.Handle
	Buffer []byte
}

func NewResident(buf []byte) *Record {
	return &Record{Size: int64(len(buf)), Handle: external.NoHandle, Buffer: buf}
}

func (r *Record) Spilled() bool { return r.Handle != external.NoHandle }

// Spill moves a resident record's bytes into store, freeing Buffer.
func (r *Record) Spill(store external.Store) error {
	if r.Spilled() {
		return nil
	}
	h, err := store.Save(r.Buffer)
	if err != nil {
		return err
	}
	r.Handle = h
	r.Buffer = nil
	return nil
}

// Load restores a spilled record's bytes from store; it does not clear the
// handle, so the record can be re-spilled cheaply if evicted again.
func (r *Record) Load(store external.Store) ([]byte, error) {
	if !r.Spilled() {
		return r.Buffer, nil
	}
	return store.Load(r.Handle)
}

// Policy decides whether a record crossing (from, to) at size bytes should
// be spilled immediately (spec §4.1 "QueuePolicy"). The default spills
// above a configured threshold.
type Policy interface {
	ShouldSpill(from, to int64, size int64) bool
}

type ThresholdPolicy struct{ Threshold int64 }

func (p ThresholdPolicy) ShouldSpill(_, _ int64, size int64) bool { return size > p.Threshold }

// FIFO is a simple queue of records; producer and consumer must not overlap
// a single record (spec §5 locking discipline) — callers serialize access.
type FIFO struct {
	records []*Record
}

func (f *FIFO) Push(r *Record) { f.records = append(f.records, r) }

func (f *FIFO) Len() int { return len(f.records) }

func (f *FIFO) Empty() bool { return len(f.records) == 0 }

// Pop removes and returns the front record, per spec §3 "consumed on
// dequeue (front of FIFO)".
func (f *FIFO) Pop() (*Record, error) {
	if f.Empty() {
		return nil, cmn.NewErrQueueEmpty(0, 0)
	}
	r := f.records[0]
	f.records = f.records[1:]
	return r, nil
}

func (f *FIFO) Peek() *Record {
	if f.Empty() {
		return nil
	}
	return f.records[0]
}
