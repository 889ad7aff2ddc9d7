// Package assign implements the `rank(gid) → process` maps the core
// consumes as an external collaborator (spec §1, §4.6): static
// round-robin and contiguous assigners, and a dynamic assigner whose
// mapping changes as blocks migrate under load balancing.
package assign

import (
	"strconv"

	"github.com/tidwall/buntdb"

	"github.com/diatomic/diy/internal/nlog"
)

// Assigner is the contract the core and the load balancer consume: a
// lookup from gid to owning process, and — for the dynamic variant — a
// way to record a migration.
type Assigner interface {
	Rank(gid int64) int
	NBlocks() int64
}

// Mutable is implemented by assigners whose mapping can change after
// construction (spec §4.6 "recording the new owner in the dynamic
// assigner").
type Mutable interface {
	Assigner
	Reassign(gid int64, rank int)
}

// RoundRobin assigns gid to process gid % nprocs.
type RoundRobin struct {
	nblocks int64
	nprocs  int
}

func NewRoundRobin(nblocks int64, nprocs int) *RoundRobin {
	return &RoundRobin{nblocks: nblocks, nprocs: nprocs}
}

func (a *RoundRobin) Rank(gid int64) int { return int(gid % int64(a.nprocs)) }
func (a *RoundRobin) NBlocks() int64     { return a.nblocks }

// Contiguous assigns the first ceil(nblocks/nprocs) gids to rank 0, the
// next run to rank 1, and so on.
type Contiguous struct {
	nblocks   int64
	nprocs    int
	perProc   int64
}

func NewContiguous(nblocks int64, nprocs int) *Contiguous {
	per := (nblocks + int64(nprocs) - 1) / int64(nprocs)
	if per < 1 {
		per = 1
	}
	return &Contiguous{nblocks: nblocks, nprocs: nprocs, perProc: per}
}

func (a *Contiguous) Rank(gid int64) int {
	r := int(gid / a.perProc)
	if r >= a.nprocs {
		r = a.nprocs - 1
	}
	return r
}
func (a *Contiguous) NBlocks() int64 { return a.nblocks }

// Dynamic backs the rank map with an in-memory buntdb database so
// migrations (spec §4.6) can rewrite single entries cheaply and the map
// can be inspected/range-scanned the way a real deployment would persist
// it (buntdb also supports an on-disk file, unused here since the map is
// rebuilt from a static assigner at startup).
type Dynamic struct {
	db      *buntdb.DB
	nblocks int64
}

// NewDynamic seeds a dynamic assigner from a static one's current
// mapping.
func NewDynamic(seed Assigner) *Dynamic {
	db, err := buntdb.Open(":memory:")
	if err != nil {
		nlog.Fatalf("assign: open dynamic store: %v", err)
	}
	d := &Dynamic{db: db, nblocks: seed.NBlocks()}
	_ = db.Update(func(tx *buntdb.Tx) error {
		for gid := int64(0); gid < seed.NBlocks(); gid++ {
			if _, _, err := tx.Set(gidKey(gid), strconv.Itoa(seed.Rank(gid)), nil); err != nil {
				return err
			}
		}
		return nil
	})
	return d
}

func gidKey(gid int64) string { return "gid:" + strconv.FormatInt(gid, 10) }

func (d *Dynamic) Rank(gid int64) int {
	var rank int
	_ = d.db.View(func(tx *buntdb.Tx) error {
		v, err := tx.Get(gidKey(gid))
		if err != nil {
			return err
		}
		rank, _ = strconv.Atoi(v)
		return nil
	})
	return rank
}

func (d *Dynamic) NBlocks() int64 { return d.nblocks }

func (d *Dynamic) Reassign(gid int64, rank int) {
	_ = d.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(gidKey(gid), strconv.Itoa(rank), nil)
		return err
	})
}

// Close releases the backing store.
func (d *Dynamic) Close() error { return d.db.Close() }
