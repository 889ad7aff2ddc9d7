package queue_test

import (
	"os"
	"testing"

	"github.com/diatomic/diy/external"
	"github.com/diatomic/diy/internal/dxtest"
	"github.com/diatomic/diy/link"
	"github.com/diatomic/diy/queue"
)

func TestFIFOOrderIsPreserved(t *testing.T) {
	f := &queue.FIFO{}
	dxtest.Equal(t, f.Empty(), true, "new fifo")
	f.Push(queue.NewResident([]byte("a")))
	f.Push(queue.NewResident([]byte("b")))
	dxtest.Equal(t, f.Len(), 2, "len after two pushes")

	first, err := f.Pop()
	dxtest.CheckError(t, err)
	firstData, err := first.Load(nil)
	dxtest.CheckError(t, err)
	dxtest.Equal(t, string(firstData), "a", "pop returns records in push order")

	second, err := f.Pop()
	dxtest.CheckError(t, err)
	secondData, err := second.Load(nil)
	dxtest.CheckError(t, err)
	dxtest.Equal(t, string(secondData), "b", "second pop returns the second pushed record")
	dxtest.Equal(t, f.Empty(), true, "fifo drained in FIFO order")
}

func TestRecordSpillRestoreRoundTrip(t *testing.T) {
	dir, err := os.MkdirTemp("", "diy-queue-")
	dxtest.CheckError(t, err)
	defer os.RemoveAll(dir)
	store, err := external.NewDir(dir)
	dxtest.CheckError(t, err)

	rec := queue.NewResident([]byte("hello world"))
	dxtest.Equal(t, rec.Spilled(), false, "freshly created record")

	dxtest.CheckError(t, rec.Spill(store))
	dxtest.Equal(t, rec.Spilled(), true, "after Spill")

	data, err := rec.Load(store)
	dxtest.CheckError(t, err)
	dxtest.Equal(t, string(data), "hello world", "spill/restore round trip")
}

func TestThresholdPolicy(t *testing.T) {
	p := queue.ThresholdPolicy{Threshold: 10}
	dxtest.Equal(t, p.ShouldSpill(0, 0, 5), false, "below threshold")
	dxtest.Equal(t, p.ShouldSpill(0, 0, 11), true, "above threshold")
}

func TestOutgoingTouchIsIdempotent(t *testing.T) {
	out := queue.NewOutgoing()
	to := link.BlockID{Gid: 1, Proc: 0}
	f1 := out.Touch(0, to)
	f2 := out.Touch(0, to)
	dxtest.Equal(t, f1 == f2, true, "Touch returns the same FIFO for the same (from,to)")
}

func TestIncomingDeliverAndReceivedCount(t *testing.T) {
	in := queue.NewIncoming()
	in.Deliver(1, 5, 4, queue.NewResident([]byte("x")))
	in.Deliver(1, 5, 3, queue.NewResident([]byte("y")))
	dxtest.Equal(t, in.Received(1), 2, "two deliveries at round 1")

	f, ok := in.Get(1, 5, 4)
	dxtest.Equal(t, ok, true, "delivered fifo present")
	dxtest.Equal(t, f.Len(), 1, "one record from gid 4")

	in.ClearRound(1)
	dxtest.Equal(t, in.Received(1), 0, "cleared after ClearRound")
}
