// Package snapshot implements the block snapshot file format (spec §6:
// "sequence of per-block records (serialized link followed by serialized
// block) with a sorted footer [{gid, offset, count}, ...] and a trailing
// count of records. Footer is written by rank 0 after gathering records
// from all ranks"). Byte-exact format must be preserved across versions,
// so — like link.Save/Load — this uses encoding/binary directly rather
// than a higher-level codec (see DESIGN.md).
package snapshot

import (
	"bytes"
	"encoding/binary"
	"os"
	"sort"

	"github.com/diatomic/diy/assign"
	"github.com/diatomic/diy/block"
	"github.com/diatomic/diy/link"
	"github.com/diatomic/diy/master"
)

const footerEntrySize = 8 + 8 + 8 // gid, offset, count

type footerEntry struct {
	Gid, Offset, Count int64
}

// encodeRecord lays out {gid, link_len, block_len, link bytes, block
// bytes} — self-describing so a concatenated blob of many records can be
// walked without an outer framing layer.
func encodeRecord(gid int64, lnk *link.Link, blk block.Block, funcs block.Funcs) ([]byte, error) {
	var linkBuf bytes.Buffer
	if err := lnk.Save(&linkBuf); err != nil {
		return nil, err
	}
	blkBuf := block.NewBuffer()
	if funcs.Save != nil {
		if err := funcs.Save(blk, blkBuf); err != nil {
			return nil, err
		}
	}
	header := make([]byte, 16)
	binary.LittleEndian.PutUint64(header[0:8], uint64(gid))
	binary.LittleEndian.PutUint32(header[8:12], uint32(linkBuf.Len()))
	binary.LittleEndian.PutUint32(header[12:16], uint32(blkBuf.Len()))
	out := append(header, linkBuf.Bytes()...)
	out = append(out, blkBuf.Bytes()...)
	return out, nil
}

// splitRecord returns the next record's gid, exact byte length and the
// slice itself.
func splitRecord(blob []byte) (gid int64, length int, raw []byte) {
	gid = int64(binary.LittleEndian.Uint64(blob[0:8]))
	linkLen := binary.LittleEndian.Uint32(blob[8:12])
	blockLen := binary.LittleEndian.Uint32(blob[12:16])
	length = 16 + int(linkLen) + int(blockLen)
	return gid, length, blob[:length]
}

func decodeRecord(raw []byte, funcs block.Funcs) (int64, *link.Link, block.Block, error) {
	gid := int64(binary.LittleEndian.Uint64(raw[0:8]))
	linkLen := binary.LittleEndian.Uint32(raw[8:12])
	blockLen := binary.LittleEndian.Uint32(raw[12:16])
	lnk, err := link.FromBytes(raw[16 : 16+linkLen])
	if err != nil {
		return 0, nil, nil, err
	}
	var blk block.Block
	if funcs.Create != nil {
		blk = funcs.Create()
	}
	if funcs.Load != nil {
		if err := funcs.Load(blk, block.NewBufferFrom(raw[16+linkLen:16+linkLen+blockLen])); err != nil {
			return 0, nil, nil, err
		}
	}
	return gid, lnk, blk, nil
}

// WriteBlocks writes every local block of m to path, gathering every
// rank's records to rank 0 (spec §6).
func WriteBlocks(path string, m *master.Master) error {
	var local []byte
	for _, lid := range m.LocalLids() {
		gid := m.Gid(lid)
		lnk := m.Link(lid)
		blk, err := m.Col.Get(lid)
		if err != nil {
			return err
		}
		rec, err := encodeRecord(gid, lnk, blk, m.Funcs)
		if err != nil {
			return err
		}
		local = append(local, rec...)
	}

	gathered := m.Comm.Gather(0, local, 0)
	if m.Comm.Rank() != 0 {
		return nil
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var footer []footerEntry
	var offset int64
	for _, blob := range gathered {
		for len(blob) > 0 {
			gid, length, raw := splitRecord(blob)
			if _, err := f.WriteAt(raw, offset); err != nil {
				return err
			}
			footer = append(footer, footerEntry{Gid: gid, Offset: offset, Count: int64(length)})
			offset += int64(length)
			blob = blob[length:]
		}
	}
	sort.Slice(footer, func(i, j int) bool { return footer[i].Gid < footer[j].Gid })

	for _, e := range footer {
		eb := make([]byte, footerEntrySize)
		binary.LittleEndian.PutUint64(eb[0:8], uint64(e.Gid))
		binary.LittleEndian.PutUint64(eb[8:16], uint64(e.Offset))
		binary.LittleEndian.PutUint64(eb[16:24], uint64(e.Count))
		if _, err := f.WriteAt(eb, offset); err != nil {
			return err
		}
		offset += footerEntrySize
	}
	trailer := make([]byte, 8)
	binary.LittleEndian.PutUint64(trailer, uint64(len(footer)))
	if _, err := f.WriteAt(trailer, offset); err != nil {
		return err
	}
	return f.Sync()
}

// ReadBlocks independently reads path (spec §6 "independent... read_at"):
// each rank reads the (small) footer, then fetches only the records the
// assigner maps to `rank`.
func ReadBlocks(path string, assigner assign.Assigner, rank int, funcs block.Funcs) (map[int64]*link.Link, map[int64]block.Block, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, nil, err
	}
	size := info.Size()

	trailer := make([]byte, 8)
	if _, err := f.ReadAt(trailer, size-8); err != nil {
		return nil, nil, err
	}
	count := int64(binary.LittleEndian.Uint64(trailer))

	footerSize := count * footerEntrySize
	footerStart := size - 8 - footerSize
	footerBuf := make([]byte, footerSize)
	if footerSize > 0 {
		if _, err := f.ReadAt(footerBuf, footerStart); err != nil {
			return nil, nil, err
		}
	}

	links := make(map[int64]*link.Link)
	blocks := make(map[int64]block.Block)
	for i := int64(0); i < count; i++ {
		eb := footerBuf[i*footerEntrySize : (i+1)*footerEntrySize]
		gid := int64(binary.LittleEndian.Uint64(eb[0:8]))
		offset := int64(binary.LittleEndian.Uint64(eb[8:16]))
		length := int64(binary.LittleEndian.Uint64(eb[16:24]))
		if assigner.Rank(gid) != rank {
			continue
		}
		raw := make([]byte, length)
		if _, err := f.ReadAt(raw, offset); err != nil {
			return nil, nil, err
		}
		g, lnk, blk, err := decodeRecord(raw, funcs)
		if err != nil {
			return nil, nil, err
		}
		links[g] = lnk
		blocks[g] = blk
	}
	return links, blocks, nil
}
