package master

import (
	"github.com/pierrec/lz4/v3"
)

// maybeCompress applies optional lz4 block compression to a single-envelope
// queue payload above Cfg.CompressMinBytes (spec's `TCB.Compression`-style
// knob, ambient in aistore's go.mod — see DESIGN.md). Multi-piece messages
// are sent raw: pieces are already chunked for a fixed-size window, and
// compressing each piece independently would rarely pay for itself.
func (m *Master) maybeCompress(payload []byte) (out []byte, compressed bool, rawSize int64) {
	min := m.Cfg.CompressMinBytes
	if min <= 0 || len(payload) < min {
		return payload, false, 0
	}
	bound := lz4.CompressBlockBound(len(payload))
	dst := make([]byte, bound)
	var ht [1 << 16]int
	n, err := lz4.CompressBlock(payload, dst, ht[:])
	if err != nil || n == 0 || n >= len(payload) {
		return payload, false, 0
	}
	return dst[:n], true, int64(len(payload))
}

func decompress(payload []byte, rawSize int64) ([]byte, error) {
	dst := make([]byte, rawSize)
	n, err := lz4.UncompressBlock(payload, dst)
	if err != nil {
		return nil, err
	}
	return dst[:n], nil
}
