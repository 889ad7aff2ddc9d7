// Package cmn holds the small ambient pieces every other package in this
// module depends on: configuration, typed errors, and debug assertions.
// It mirrors the teacher's cmn package layout (cmn/debug, cmn errors)
// without importing aistore's application semantics.
package cmn

import "github.com/pkg/errors"

// ErrUnknownGID is returned/wrapped when a gid has no known lid mapping.
type ErrUnknownGID struct{ Gid int64 }

func (e *ErrUnknownGID) Error() string { return "unknown gid" }

func NewErrUnknownGID(gid int64) error {
	return errors.Wrapf(&ErrUnknownGID{Gid: gid}, "gid %d", gid)
}

// ErrQueueEmpty is returned on a dequeue against an empty FIFO.
type ErrQueueEmpty struct{ From, To int64 }

func (e *ErrQueueEmpty) Error() string { return "dequeue on empty queue" }

func NewErrQueueEmpty(from, to int64) error {
	return errors.Wrapf(&ErrQueueEmpty{From: from, To: to}, "queue %d->%d", from, to)
}

// ErrStaleTrial is returned when an iexchange termination message carries a
// trial id that no longer matches the locally in-flight trial.
type ErrStaleTrial struct{ Trial, Current int64 }

func (e *ErrStaleTrial) Error() string { return "stale iexchange trial" }

func NewErrStaleTrial(trial, current int64) error {
	return errors.Wrapf(&ErrStaleTrial{Trial: trial, Current: current}, "trial %d (current %d)", trial, current)
}

// ErrNegativeWork signals a protocol violation: the iexchange work counter
// went negative, meaning more completions were observed than insertions.
type ErrNegativeWork struct{ Value int64 }

func (e *ErrNegativeWork) Error() string { return "negative iexchange work counter" }

func NewErrNegativeWork(v int64) error {
	return errors.Wrapf(&ErrNegativeWork{Value: v}, "work counter %d", v)
}

// ErrInMemoryLimit signals that, after a forced unload pass, the Collection
// is still above its configured in-memory block limit.
type ErrInMemoryLimit struct{ InMemory, Limit int }

func (e *ErrInMemoryLimit) Error() string { return "in-memory limit violated" }

func NewErrInMemoryLimit(inMemory, limit int) error {
	return errors.Wrapf(&ErrInMemoryLimit{InMemory: inMemory, Limit: limit}, "%d blocks resident, limit %d", inMemory, limit)
}

// ErrAborted wraps an arbitrary cause with a component name, mirroring the
// teacher's cmn.NewErrAborted(name, reason, cause).
type ErrAborted struct {
	Name, Reason string
	Cause        error
}

func (e *ErrAborted) Error() string {
	if e.Cause == nil {
		return e.Name + ": aborted: " + e.Reason
	}
	return e.Name + ": aborted: " + e.Reason + ": " + e.Cause.Error()
}

func (e *ErrAborted) Unwrap() error { return e.Cause }

func NewErrAborted(name, reason string, cause error) error {
	return &ErrAborted{Name: name, Reason: reason, Cause: cause}
}

// ErrParticleMismatch signals a failed merge-reduce equality check over a
// driver's expected/finished counters (e.g. cmd/diy's particle-bounce
// iexchange scenario).
type ErrParticleMismatch struct {
	Counter            string
	Expected, Finished int64
}

func (e *ErrParticleMismatch) Error() string { return "expected/finished count mismatch" }

func NewErrParticleMismatch(counter string, expected, finished int64) error {
	return errors.Wrapf(&ErrParticleMismatch{Counter: counter, Expected: expected, Finished: finished},
		"%s: expected %d, finished %d", counter, expected, finished)
}
