// Package comm is the substrate contract consumed by the core (spec §1
// "explicitly out of scope... the message-passing substrate itself,
// consumed as the operations listed in §6"). Concrete signatures are this
// port's own (the spec leaves them to the implementation); semantics match
// §6 exactly: point-to-point isend/issend/irecv/iprobe with completion
// tests, the collectives all_reduce/reduce/broadcast/scan/all_gather/
// gather/ibarrier/iallreduce, an RMA window for one termination variant,
// and collective/independent file read_at/write_at.
//
// `ctx` on collective calls is this port's stand-in for an MPI
// sub-communicator/tag: all ranks must call the same collective with the
// same ctx to rendezvous. Master supplies the exchange round number;
// iexchange supplies its trial/session id.
package comm

import "io"

// ReduceOp combines two serialized operands into one, used by
// AllReduce/Reduce/Scan/IAllReduce. It must be associative and commutative
// enough for the op in question — the core never assumes ordering beyond
// that (spec §1 Non-goals).
type ReduceOp func(a, b []byte) []byte

// Request is a handle to a non-blocking operation. Completion is observed
// only via Test/Wait, never implicitly (spec §5 "Sends are non-blocking;
// completion is observed only by explicit progress calls").
type Request struct {
	done chan struct{}
	err  error
	from int
	data []byte
}

func newRequest() *Request { return &Request{done: make(chan struct{})} }

func (r *Request) complete(data []byte, from int, err error) {
	r.data, r.from, r.err = data, from, err
	close(r.done)
}

// Test is a non-blocking completion check.
func (r *Request) Test() (bool, error) {
	select {
	case <-r.done:
		return true, r.err
	default:
		return false, nil
	}
}

// Wait blocks until the operation completes.
func (r *Request) Wait() error {
	<-r.done
	return r.err
}

// Bytes returns the payload of a completed receive request.
func (r *Request) Bytes() []byte { return r.data }

// From returns the matched source rank of a completed any-source receive.
func (r *Request) From() int { return r.from }

// Window is the RMA contract used by one iexchange termination variant
// (spec §6) and available to the dynamic load balancer for low-overhead
// work-counter peeks.
type Window interface {
	FetchAdd(rank int, offset int, delta int64) int64
	Get(rank int, offset int) int64
	LockAll()
	UnlockAll()
	Flush()
}

// Communicator is the full substrate contract (spec §6).
type Communicator interface {
	Rank() int
	Size() int
	Barrier()
	Duplicate() Communicator

	Isend(dest, tag int, data []byte) *Request
	Issend(dest, tag int, data []byte) *Request
	// Irecv matches any source for tag; Request.From() gives the sender.
	Irecv(tag int) *Request
	// Iprobe reports whether a message is ready for tag, without consuming
	// it. Use Irecv to actually receive it once ready.
	Iprobe(tag int) (from, size int, ok bool)

	AllReduce(ctx int64, data []byte, op ReduceOp) []byte
	Reduce(ctx int64, data []byte, op ReduceOp, root int) []byte
	Broadcast(ctx int64, data []byte, root int) []byte
	Scan(ctx int64, data []byte, op ReduceOp) []byte
	AllGather(ctx int64, data []byte) [][]byte
	Gather(ctx int64, data []byte, root int) [][]byte

	IBarrier(ctx int64) *Request
	IAllReduce(ctx int64, data []byte, op ReduceOp) *Request

	Window(size int) Window

	io.ReaderAt
	io.WriterAt
}
