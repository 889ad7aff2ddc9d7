// Package collection implements the block container (spec §4.1, C2): it
// owns block objects, tracks in-memory vs on-disk residency, and lazily
// loads on access. Grounded in the teacher's Collection-over-storage
// layering (memsys pool + fs spill), generalized from objects to opaque
// blocks.
package collection

import (
	"sync"

	"go.uber.org/atomic"

	"github.com/diatomic/diy/block"
	"github.com/diatomic/diy/external"
	"github.com/diatomic/diy/internal/cmn"
	"github.com/diatomic/diy/internal/nlog"
)

// Lid is a process-local index into the Collection.
type Lid int

type slot struct {
	mu      sync.Mutex
	blk     block.Block
	handle  external.Handle
	resi    bool // resident in memory
	released bool
}

// Collection owns block memory exclusively while resident; when spilled,
// the Store owns the on-disk copy and the Collection holds only a handle.
type Collection struct {
	mu        sync.Mutex
	slots     []*slot
	inMemory  atomic.Int64
	funcs     block.Funcs
	store     external.Store
}

func New(funcs block.Funcs, store external.Store) *Collection {
	return &Collection{funcs: funcs, store: store}
}

// Add registers a newly created, resident block and returns its lid.
func (c *Collection) Add(b block.Block) Lid {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := &slot{blk: b, handle: external.NoHandle, resi: true}
	c.slots = append(c.slots, s)
	c.inMemory.Add(1)
	return Lid(len(c.slots) - 1)
}

func (c *Collection) InMemoryCount() int { return int(c.inMemory.Load()) }

func (c *Collection) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, s := range c.slots {
		if !s.released {
			n++
		}
	}
	return n
}

func (c *Collection) slotAt(lid Lid) *slot {
	c.mu.Lock()
	defer c.mu.Unlock()
	if int(lid) < 0 || int(lid) >= len(c.slots) {
		return nil
	}
	return c.slots[lid]
}

// Find returns the block if resident, or nil without loading it.
func (c *Collection) Find(lid Lid) block.Block {
	s := c.slotAt(lid)
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released || !s.resi {
		return nil
	}
	return s.blk
}

// Get returns the block, loading it from external storage first if spilled.
func (c *Collection) Get(lid Lid) (block.Block, error) {
	s := c.slotAt(lid)
	if s == nil {
		return nil, cmn.NewErrUnknownGID(int64(lid))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return nil, cmn.NewErrUnknownGID(int64(lid))
	}
	if s.resi {
		return s.blk, nil
	}
	if err := c.loadLocked(s); err != nil {
		return nil, err
	}
	return s.blk, nil
}

func (c *Collection) loadLocked(s *slot) error {
	raw, err := c.store.Load(s.handle)
	if err != nil {
		nlog.Fatalf("collection: load from external storage: %v", err)
		return err
	}
	b := c.funcs.Create()
	buf := block.NewBufferFrom(raw)
	if err := c.funcs.Load(b, buf); err != nil {
		nlog.Fatalf("collection: block Load callback: %v", err)
		return err
	}
	s.blk = b
	s.resi = true
	c.inMemory.Add(1)
	return nil
}

// Load is the public, explicit form of the lazy load Get performs.
func (c *Collection) Load(lid Lid) error {
	_, err := c.Get(lid)
	return err
}

// Unload spills lid's block to external storage, freeing its memory.
func (c *Collection) Unload(lid Lid) error {
	s := c.slotAt(lid)
	if s == nil {
		return cmn.NewErrUnknownGID(int64(lid))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return c.unloadLocked(s)
}

func (c *Collection) unloadLocked(s *slot) error {
	if s.released || !s.resi {
		return nil
	}
	buf := block.NewBuffer()
	if err := c.funcs.Save(s.blk, buf); err != nil {
		nlog.Fatalf("collection: block Save callback: %v", err)
		return err
	}
	h, err := c.store.Save(buf.Bytes())
	if err != nil {
		nlog.Fatalf("collection: save to external storage: %v", err)
		return err
	}
	c.funcs.Destroy(s.blk)
	s.blk = nil
	s.handle = h
	s.resi = false
	c.inMemory.Add(-1)
	return nil
}

// UnloadBulk unloads a batch of lids, clearing the caller's list semantics
// by simply iterating it (spec §4.1 "unloads may be bulk").
func (c *Collection) UnloadBulk(lids []Lid) error {
	for _, lid := range lids {
		if err := c.Unload(lid); err != nil {
			return err
		}
	}
	return nil
}

// Release transfers block ownership out to the caller; the slot becomes
// permanently empty (spec §3 invariant: exactly one of
// {in-memory, on-disk, released}).
func (c *Collection) Release(lid Lid) (block.Block, error) {
	s := c.slotAt(lid)
	if s == nil {
		return nil, cmn.NewErrUnknownGID(int64(lid))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return nil, cmn.NewErrUnknownGID(int64(lid))
	}
	if !s.resi {
		if err := c.loadLocked(s); err != nil {
			return nil, err
		}
	}
	b := s.blk
	s.blk = nil
	s.released = true
	c.inMemory.Add(-1)
	return b, nil
}

// Destroy releases and destroys a block's memory without handing it back.
func (c *Collection) Destroy(lid Lid) error {
	s := c.slotAt(lid)
	if s == nil {
		return cmn.NewErrUnknownGID(int64(lid))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return nil
	}
	if s.resi {
		c.funcs.Destroy(s.blk)
		c.inMemory.Add(-1)
	} else if s.handle != external.NoHandle {
		_ = c.store.Remove(s.handle)
	}
	s.blk = nil
	s.released = true
	return nil
}

// Resident reports whether lid is currently loaded in memory.
func (c *Collection) Resident(lid Lid) bool {
	s := c.slotAt(lid)
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resi && !s.released
}

// EnforceLimit unloads resident blocks (skipping any lid in `protect`) until
// InMemoryCount() <= limit, or there is nothing left to unload. limit <= 0
// means unlimited. Returns an error if the limit is still violated
// afterwards (spec §4.7 "in-memory-limit violations... are fatal").
func (c *Collection) EnforceLimit(limit int, protect map[Lid]bool) error {
	if limit <= 0 {
		return nil
	}
	c.mu.Lock()
	slots := append([]*slot(nil), c.slots...)
	c.mu.Unlock()
	for lid, s := range slots {
		if c.InMemoryCount() <= limit {
			break
		}
		if protect[Lid(lid)] {
			continue
		}
		s.mu.Lock()
		if s.resi && !s.released {
			_ = c.unloadLocked(s)
		}
		s.mu.Unlock()
	}
	if c.InMemoryCount() > limit {
		return cmn.NewErrInMemoryLimit(c.InMemoryCount(), limit)
	}
	return nil
}
