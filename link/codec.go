package link

import (
	"bytes"
	"encoding/binary"
	"io"
)

// Save/Load give links a byte-exact wire form so the block-snapshot format
// (spec §6) and wire messages (§4.6 "serialized link") can be byte-for-byte
// reproduced across versions. encoding/binary is used deliberately here
// (see DESIGN.md): a fixed-width hand-rolled layout is what "byte-exact"
// requires, and none of the pack's higher-level codecs (jsoniter, msgp)
// promise a stable fixed trailer the way binary.Write/Read does.

func (l *Link) Save(w io.Writer) error {
	kind := []byte(l.kind)
	if err := binary.Write(w, binary.LittleEndian, int32(len(kind))); err != nil {
		return err
	}
	if _, err := w.Write(kind); err != nil {
		return err
	}
	wrap := int32(0)
	if l.wrap {
		wrap = 1
	}
	if err := binary.Write(w, binary.LittleEndian, wrap); err != nil {
		return err
	}
	if err := writeBounds(w, l.bounds); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, int32(len(l.targets))); err != nil {
		return err
	}
	for _, t := range l.targets {
		if err := binary.Write(w, binary.LittleEndian, t.Gid); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, int32(t.Proc)); err != nil {
			return err
		}
		hasDir, hasBnd := int32(0), int32(0)
		if t.HasDir {
			hasDir = 1
		}
		if t.HasBnd {
			hasBnd = 1
		}
		if err := binary.Write(w, binary.LittleEndian, hasDir); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, int32(t.Dir)); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, hasBnd); err != nil {
			return err
		}
		if err := writeBounds(w, t.Bnds); err != nil {
			return err
		}
	}
	return nil
}

func Load(r io.Reader) (*Link, error) {
	var klen int32
	if err := binary.Read(r, binary.LittleEndian, &klen); err != nil {
		return nil, err
	}
	kb := make([]byte, klen)
	if _, err := io.ReadFull(r, kb); err != nil {
		return nil, err
	}
	l := New(Kind(kb))
	var wrap int32
	if err := binary.Read(r, binary.LittleEndian, &wrap); err != nil {
		return nil, err
	}
	l.wrap = wrap != 0
	bnds, err := readBounds(r)
	if err != nil {
		return nil, err
	}
	l.bounds = bnds
	var n int32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	l.targets = make([]Target, n)
	for i := range l.targets {
		t := &l.targets[i]
		if err := binary.Read(r, binary.LittleEndian, &t.Gid); err != nil {
			return nil, err
		}
		var proc, hasDir, dir, hasBnd int32
		if err := binary.Read(r, binary.LittleEndian, &proc); err != nil {
			return nil, err
		}
		t.Proc = int(proc)
		if err := binary.Read(r, binary.LittleEndian, &hasDir); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.LittleEndian, &dir); err != nil {
			return nil, err
		}
		t.HasDir = hasDir != 0
		t.Dir = Direction(dir)
		if err := binary.Read(r, binary.LittleEndian, &hasBnd); err != nil {
			return nil, err
		}
		t.HasBnd = hasBnd != 0
		b, err := readBounds(r)
		if err != nil {
			return nil, err
		}
		t.Bnds = b
	}
	return l, nil
}

func writeBounds(w io.Writer, b Bounds) error {
	if err := binary.Write(w, binary.LittleEndian, int32(len(b.Min))); err != nil {
		return err
	}
	for _, v := range b.Min {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	for _, v := range b.Max {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	return nil
}

func readBounds(r io.Reader) (Bounds, error) {
	var n int32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return Bounds{}, err
	}
	if n == 0 {
		return Bounds{}, nil
	}
	min := make([]float64, n)
	max := make([]float64, n)
	for i := range min {
		if err := binary.Read(r, binary.LittleEndian, &min[i]); err != nil {
			return Bounds{}, err
		}
	}
	for i := range max {
		if err := binary.Read(r, binary.LittleEndian, &max[i]); err != nil {
			return Bounds{}, err
		}
	}
	return Bounds{Min: min, Max: max}, nil
}

// Bytes serializes the link into an in-memory buffer, used for wire
// transfer during migration (spec §4.6).
func (l *Link) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := l.Save(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func FromBytes(data []byte) (*Link, error) { return Load(bytes.NewReader(data)) }
