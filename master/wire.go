package master

import "encoding/binary"

// tagQueue/tagIExchange are the two logical tags spec §6 names ("QUEUE"
// for ordinary payloads/head messages, "IEXCHANGE" for termination-protocol
// control messages). All other traffic is multiplexed over them.
const (
	tagQueue     = 1
	tagIExchange = 2
)

// wireHeader prefixes every ordinary message and multi-piece head message
// (spec §6 "Wire formats"): {from_gid, to_gid, nparts, round}. NParts==0
// means the envelope already carries the full payload after the header;
// NParts>0 means a head message (carrying {header, total_size}) is
// followed by that many raw piece messages.
type wireHeader struct {
	FromGid    int64
	ToGid      int64
	NParts     int32
	Round      int64
	Compressed bool
	RawSize    int64 // original size before lz4, only meaningful when Compressed
}

const headerSize = 8 + 8 + 4 + 8 + 1 + 8

func (h wireHeader) encode() []byte {
	b := make([]byte, headerSize)
	binary.LittleEndian.PutUint64(b[0:8], uint64(h.FromGid))
	binary.LittleEndian.PutUint64(b[8:16], uint64(h.ToGid))
	binary.LittleEndian.PutUint32(b[16:20], uint32(h.NParts))
	binary.LittleEndian.PutUint64(b[20:28], uint64(h.Round))
	if h.Compressed {
		b[28] = 1
	}
	binary.LittleEndian.PutUint64(b[29:37], uint64(h.RawSize))
	return b
}

func decodeHeader(b []byte) (wireHeader, []byte) {
	var h wireHeader
	h.FromGid = int64(binary.LittleEndian.Uint64(b[0:8]))
	h.ToGid = int64(binary.LittleEndian.Uint64(b[8:16]))
	h.NParts = int32(binary.LittleEndian.Uint32(b[16:20]))
	h.Round = int64(binary.LittleEndian.Uint64(b[20:28]))
	h.Compressed = b[28] == 1
	h.RawSize = int64(binary.LittleEndian.Uint64(b[29:37]))
	return h, b[headerSize:]
}

func encodeInt64(v int64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, uint64(v))
	return b
}

func decodeInt64(b []byte) int64 { return int64(binary.LittleEndian.Uint64(b)) }
