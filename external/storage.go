// Package external implements the out-of-core storage component (spec §3,
// §4.1, C1): opaque byte blobs spilled/restored under integer handles. The
// core never re-enters the store; it serializes access itself (spec §5).
//
// Grounded in the teacher's memsys/fs layering: a single mutex-guarded
// directory of numbered files, each trailer-checksummed with
// github.com/OneOfOne/xxhash the way aistore checksums on-disk objects, with
// an optional erasure-coded ("parity") mode backed by
// github.com/klauspost/reedsolomon for deployments that want spill
// durability across disk loss.
package external

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/OneOfOne/xxhash"
	"github.com/klauspost/reedsolomon"
	"github.com/pkg/errors"
)

// Handle is an opaque spill-file identifier. -1 is reserved to mean "not
// spilled" in queue.Record (spec §3 invariant).
type Handle int64

const NoHandle Handle = -1

// Store is the external-storage contract (spec §1 "serialization layer...
// consumed"). Save/Load/Remove must be safe for concurrent use; failures
// are fatal per spec §4.1/§4.7 ("storage errors are fatal").
type Store interface {
	Save(data []byte) (Handle, error)
	Load(h Handle) ([]byte, error)
	Remove(h Handle) error
}

// Dir is the default local-disk implementation: one file per handle under a
// base directory, named by handle, with a trailing 8-byte xxhash64 of the
// payload for corruption detection on restore.
type Dir struct {
	mu   sync.Mutex
	base string
	next int64

	// Parity/Data shards: when both > 0, Save erasure-codes the payload
	// across Data+Parity shard files instead of one flat file, and Load
	// reconstructs from any Data surviving shards.
	DataShards, ParityShards int
}

func NewDir(base string) (*Dir, error) {
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, errors.Wrap(err, "external: mkdir")
	}
	return &Dir{base: base}, nil
}

func (d *Dir) path(h Handle, shard int) string {
	if shard < 0 {
		return filepath.Join(d.base, fmt.Sprintf("%020d.blob", int64(h)))
	}
	return filepath.Join(d.base, fmt.Sprintf("%020d.shard%02d", int64(h), shard))
}

func (d *Dir) Save(data []byte) (Handle, error) {
	d.mu.Lock()
	h := Handle(d.next)
	d.next++
	d.mu.Unlock()

	if d.DataShards > 0 && d.ParityShards > 0 {
		if err := d.saveParity(h, data); err != nil {
			return NoHandle, err
		}
		return h, nil
	}

	sum := xxhash.Checksum64(data)
	buf := make([]byte, 0, len(data)+8)
	buf = append(buf, data...)
	buf = appendUint64(buf, sum)
	if err := os.WriteFile(d.path(h, -1), buf, 0o644); err != nil {
		return NoHandle, errors.Wrap(err, "external: save")
	}
	return h, nil
}

func (d *Dir) Load(h Handle) ([]byte, error) {
	if d.DataShards > 0 && d.ParityShards > 0 {
		if data, err := d.loadParity(h); err == nil {
			return data, nil
		}
	}
	raw, err := os.ReadFile(d.path(h, -1))
	if err != nil {
		return nil, errors.Wrap(err, "external: load")
	}
	if len(raw) < 8 {
		return nil, errors.New("external: corrupt blob (too short)")
	}
	data, sum := raw[:len(raw)-8], readUint64(raw[len(raw)-8:])
	if xxhash.Checksum64(data) != sum {
		return nil, errors.Errorf("external: checksum mismatch for handle %d", h)
	}
	return data, nil
}

func (d *Dir) Remove(h Handle) error {
	if d.DataShards > 0 && d.ParityShards > 0 {
		for i := 0; i < d.DataShards+d.ParityShards; i++ {
			_ = os.Remove(d.path(h, i))
		}
		return nil
	}
	if err := os.Remove(d.path(h, -1)); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "external: remove")
	}
	return nil
}

func (d *Dir) saveParity(h Handle, data []byte) error {
	enc, err := reedsolomon.New(d.DataShards, d.ParityShards)
	if err != nil {
		return errors.Wrap(err, "external: reedsolomon.New")
	}
	framed := appendUint64(append([]byte(nil), data...), uint64(len(data)))
	shards, err := enc.Split(pad(framed, d.DataShards))
	if err != nil {
		return errors.Wrap(err, "external: split")
	}
	if err := enc.Encode(shards); err != nil {
		return errors.Wrap(err, "external: encode")
	}
	for i, s := range shards {
		if err := os.WriteFile(d.path(h, i), s, 0o644); err != nil {
			return errors.Wrap(err, "external: write shard")
		}
	}
	return nil
}

func (d *Dir) loadParity(h Handle) ([]byte, error) {
	enc, err := reedsolomon.New(d.DataShards, d.ParityShards)
	if err != nil {
		return nil, err
	}
	total := d.DataShards + d.ParityShards
	shards := make([][]byte, total)
	present := 0
	for i := 0; i < total; i++ {
		b, err := os.ReadFile(d.path(h, i))
		if err != nil {
			continue
		}
		shards[i] = b
		present++
	}
	if present < d.DataShards {
		return nil, errors.Errorf("external: only %d/%d shards available for handle %d", present, d.DataShards, h)
	}
	if err := enc.Reconstruct(shards); err != nil {
		return nil, errors.Wrap(err, "external: reconstruct")
	}
	var flat []byte
	for i := 0; i < d.DataShards; i++ {
		flat = append(flat, shards[i]...)
	}
	if len(flat) < 8 {
		return nil, errors.New("external: corrupt parity frame")
	}
	n := readUint64(flat[len(flat)-8:])
	payload := flat[:len(flat)-8]
	if uint64(len(payload)) < n {
		return nil, errors.New("external: truncated parity frame")
	}
	return payload[:n], nil
}

func pad(data []byte, shards int) []byte {
	rem := len(data) % shards
	if rem == 0 {
		return data
	}
	return append(data, make([]byte, shards-rem)...)
}

func appendUint64(b []byte, v uint64) []byte {
	var tmp [8]byte
	for i := 0; i < 8; i++ {
		tmp[i] = byte(v >> (8 * i))
	}
	return append(b, tmp[:]...)
}

func readUint64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return v
}
