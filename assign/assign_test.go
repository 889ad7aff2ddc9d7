package assign_test

import (
	"testing"

	"github.com/diatomic/diy/assign"
	"github.com/diatomic/diy/internal/dxtest"
)

func TestRoundRobinDistributesEvenly(t *testing.T) {
	a := assign.NewRoundRobin(6, 3)
	dxtest.Equal(t, a.Rank(0), 0, "gid 0")
	dxtest.Equal(t, a.Rank(1), 1, "gid 1")
	dxtest.Equal(t, a.Rank(2), 2, "gid 2")
	dxtest.Equal(t, a.Rank(3), 0, "gid 3 wraps back to rank 0")
	dxtest.Equal(t, a.NBlocks(), int64(6), "NBlocks reports the constructor's total")
}

func TestContiguousGroupsByRange(t *testing.T) {
	a := assign.NewContiguous(7, 3)
	dxtest.Equal(t, a.Rank(0), 0, "gid 0")
	dxtest.Equal(t, a.Rank(2), 0, "gid 2 still in the first contiguous run")
	dxtest.Equal(t, a.Rank(3), 1, "gid 3 starts the second run")
	dxtest.Equal(t, a.Rank(6), 2, "gid 6 in the last run")
}

// TestDynamicReassignUpdatesRank covers spec §4.6's dynamic assigner: after
// seeding from a static assigner, Reassign changes exactly the gid it was
// called for, leaving every other gid's mapping untouched.
func TestDynamicReassignUpdatesRank(t *testing.T) {
	seed := assign.NewRoundRobin(4, 2)
	d := assign.NewDynamic(seed)
	defer d.Close()

	for gid := int64(0); gid < 4; gid++ {
		dxtest.Equal(t, d.Rank(gid), seed.Rank(gid), "dynamic assigner starts identical to its seed for gid %d", gid)
	}

	d.Reassign(2, 1)
	dxtest.Equal(t, d.Rank(2), 1, "gid 2 reassigned to rank 1")
	dxtest.Equal(t, d.Rank(0), seed.Rank(0), "gid 0 unaffected by gid 2's reassignment")
	dxtest.Equal(t, d.Rank(1), seed.Rank(1), "gid 1 unaffected by gid 2's reassignment")
	dxtest.Equal(t, d.NBlocks(), int64(4), "NBlocks unchanged after a reassignment")
}
