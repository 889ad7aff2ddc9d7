package snapshot_test

import (
	"path/filepath"
	"testing"

	"github.com/diatomic/diy/assign"
	"github.com/diatomic/diy/block"
	"github.com/diatomic/diy/comm"
	"github.com/diatomic/diy/external"
	"github.com/diatomic/diy/internal/cmn"
	"github.com/diatomic/diy/internal/dxtest"
	"github.com/diatomic/diy/link"
	"github.com/diatomic/diy/master"
	"github.com/diatomic/diy/snapshot"
)

type demoBlock struct{ N int }

func demoFuncs() block.Funcs {
	return block.Funcs{
		Create:  func() block.Block { return &demoBlock{} },
		Destroy: func(block.Block) {},
		Save: func(b block.Block, buf block.Buffer) error {
			_, err := buf.Write([]byte{byte(b.(*demoBlock).N)})
			return err
		},
		Load: func(b block.Block, buf block.Buffer) error {
			b.(*demoBlock).N = int(buf.Bytes()[0])
			return nil
		},
	}
}

// TestWriteReadRoundTrip covers spec P6 (snapshot round trip): writing
// every local block then reading it back under the same assigner produces
// the same gids, the same link topology, and the same block content.
func TestWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := external.NewDir(dir)
	dxtest.CheckError(t, err)

	world := comm.NewWorld(1)
	m := master.New(world.Ranks()[0], store, demoFuncs(), cmn.DefaultConfig())

	assigner := assign.NewRoundRobin(3, 1)
	for gid := int64(0); gid < 3; gid++ {
		lnk := link.New(link.KindBase)
		if gid > 0 {
			lnk.AddTarget(link.BlockID{Gid: gid - 1, Proc: 0}, link.DirNone, link.Bounds{})
		}
		m.Add(gid, &demoBlock{N: int(gid) * 10}, lnk)
	}

	path := filepath.Join(dir, "snap.bin")
	dxtest.CheckError(t, snapshot.WriteBlocks(path, m))

	links, blocks, err := snapshot.ReadBlocks(path, assigner, 0, demoFuncs())
	dxtest.CheckError(t, err)
	dxtest.Equal(t, len(blocks), 3, "all three gids read back")

	for gid := int64(0); gid < 3; gid++ {
		blk, ok := blocks[gid]
		dxtest.Fatalf(t, ok, "gid %d missing from snapshot", gid)
		dxtest.Equal(t, blk.(*demoBlock).N, int(gid)*10, "block content for gid %d", gid)

		lnk, ok := links[gid]
		dxtest.Fatalf(t, ok, "gid %d missing a link", gid)
		if gid == 0 {
			dxtest.Equal(t, lnk.Size(), 0, "gid 0 has no neighbors")
		} else {
			dxtest.Equal(t, lnk.Size(), 1, "gid %d has one neighbor", gid)
			dxtest.Equal(t, lnk.Target(0).Gid, gid-1, "neighbor is the previous gid")
		}
	}
}

func TestReadBlocksFiltersByRank(t *testing.T) {
	dir := t.TempDir()
	store, err := external.NewDir(dir)
	dxtest.CheckError(t, err)

	world := comm.NewWorld(1)
	m := master.New(world.Ranks()[0], store, demoFuncs(), cmn.DefaultConfig())
	for gid := int64(0); gid < 4; gid++ {
		m.Add(gid, &demoBlock{N: int(gid)}, link.New(link.KindBase))
	}
	path := filepath.Join(dir, "snap.bin")
	dxtest.CheckError(t, snapshot.WriteBlocks(path, m))

	assigner := assign.NewRoundRobin(4, 2)
	_, rank0, err := snapshot.ReadBlocks(path, assigner, 0, demoFuncs())
	dxtest.CheckError(t, err)
	dxtest.Equal(t, len(rank0), 2, "round-robin over 2 ranks gives rank 0 half the gids")
}
