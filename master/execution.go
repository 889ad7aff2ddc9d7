package master

import (
	"sort"

	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/diatomic/diy/collection"
	"github.com/diatomic/diy/internal/nlog"
)

// Execute materializes deferred commands over the local block set (spec
// §4.2.1). Blocks are ordered loaded-first so the working set stays warm;
// a shared atomic cursor hands blocks out to a bounded worker pool.
func (m *Master) Execute() {
	m.cmdMu.Lock()
	cmds := m.commands
	m.commands = nil
	m.cmdMu.Unlock()
	if len(cmds) == 0 {
		return
	}

	lids := m.LocalLids()
	sort.SliceStable(lids, func(i, j int) bool {
		ri, rj := m.Col.Resident(lids[i]), m.Col.Resident(lids[j])
		return ri && !rj
	})

	threads := m.threads
	if threads < 1 {
		threads = 1
	}
	budget := m.memLimit
	if m.memLimit > 0 {
		budget = m.memLimit / threads
		if budget < 1 {
			budget = 1
		}
	}

	if threads == 1 {
		for _, lid := range lids {
			m.runBlock(lid, cmds, budget)
		}
	} else {
		var cursor atomic.Int64
		var eg errgroup.Group
		workers := threads
		if workers > len(lids) {
			workers = len(lids)
		}
		if workers < 1 {
			workers = 1
		}
		for t := 0; t < workers; t++ {
			eg.Go(func() error {
				for {
					i := cursor.Add(1) - 1
					if int(i) >= len(lids) {
						return nil
					}
					m.runBlock(lids[i], cmds, budget)
				}
			})
		}
		_ = eg.Wait()
	}

	m.In.ClearRound(m.round.Load())
	if err := m.Col.EnforceLimit(m.memLimit, nil); err != nil {
		nlog.Fatalf("execute: in-memory limit violated after execute: %v", err)
	}
}

func (m *Master) runBlock(lid collection.Lid, cmds []Command, budget int) {
	anySkip := false
	for _, c := range cmds {
		if c.Skip(lid) {
			anySkip = true
			break
		}
	}
	if !anySkip {
		if budget > 0 {
			_ = m.Col.EnforceLimit(budget, map[collection.Lid]bool{lid: true})
		}
		if err := m.Col.Load(lid); err != nil {
			nlog.Errorln(err)
			return
		}
	}

	gid := m.Gid(lid)
	lnk := m.Link(lid)
	p := &Proxy{m: m, lid: lid, gid: gid, lnk: lnk, blk: m.Col.Find(lid)}

	for _, c := range cmds {
		if c.Skip(lid) {
			continue
		}
		if err := c.F(p); err != nil {
			nlog.Errorln(err)
		}
	}

	m.In.ClearGid(m.round.Load(), gid)
}

// Execute is also reachable explicitly (spec §4.2: "defers execution until
// the next exchange or explicit execute").
