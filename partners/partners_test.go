package partners_test

import (
	"testing"

	"github.com/diatomic/diy/internal/dxtest"
	"github.com/diatomic/diy/partners"
)

// TestSwapGroupsAreSymmetric covers spec §4.5's swap schedule: every round,
// if gid B is in gid A's swap group, A is in B's group too (the relation is
// symmetric, since both share the same underlying radix group).
func TestSwapGroupsAreSymmetric(t *testing.T) {
	const nblocks = 8
	s := partners.NewSwap([]int64{nblocks}, 2, false)
	for round := 0; round <= s.Rounds(); round++ {
		for gid := int64(0); gid < nblocks; gid++ {
			out := s.Outgoing(round, gid)
			for _, to := range out {
				back := s.Outgoing(round, to)
				found := false
				for _, v := range back {
					if v == gid {
						found = true
					}
				}
				dxtest.Fatalf(t, found, "round %d: gid %d lists %d outgoing but %d doesn't list %d back", round, gid, to, to, gid)
			}
		}
	}
}

// TestMergeSurvivorCountShrinksEachRound covers spec §4.5's merge
// schedule: the number of gids still Active strictly decreases (or stays
// flat at 1) across rounds, converging on a single surviving root.
func TestMergeSurvivorCountShrinksEachRound(t *testing.T) {
	const nblocks = 8
	m := partners.NewMerge([]int64{nblocks}, 2, false)

	prev := nblocks
	for round := 0; round <= m.Rounds(); round++ {
		count := 0
		for gid := int64(0); gid < nblocks; gid++ {
			if m.Active(round, gid) {
				count++
			}
		}
		dxtest.Fatalf(t, count <= prev, "round %d: survivor count %d should not grow past round %d's %d", round, count, round-1, prev)
		prev = count
	}
	dxtest.Equal(t, prev, 1, "the merge schedule converges on exactly one surviving root")
}
