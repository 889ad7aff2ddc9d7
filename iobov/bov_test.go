package iobov_test

import (
	"path/filepath"
	"testing"

	"github.com/diatomic/diy/internal/dxtest"
	"github.com/diatomic/diy/iobov"
)

// TestWriteReadFullGrid covers the grid-I/O round trip: writing every
// value of a 4x5 grid, then reading the whole thing back, reproduces the
// original row-major values exactly.
func TestWriteReadFullGrid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grid.bov")
	shape := iobov.Shape{4, 5}
	b := iobov.New(path, shape, 0)

	full := iobov.Bounds{Min: []int{0, 0}, Max: []int{3, 4}}
	buf := make([]float64, 4*5)
	for i := range buf {
		buf[i] = float64(i)
	}
	dxtest.CheckError(t, b.Write(full, buf, full))

	got, err := b.Read(full)
	dxtest.CheckError(t, err)
	dxtest.Equal(t, len(got), len(buf), "full-grid read returns every value")
	for i := range buf {
		dxtest.Equal(t, got[i], buf[i], "value at flat index %d", i)
	}
}

// TestReadSubRectangle covers spec's "read/write subsets of a block of
// values into specified block bounds": reading a sub-rectangle out of a
// larger written grid returns exactly the values inside that sub-range, in
// row-major order.
func TestReadSubRectangle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grid.bov")
	shape := iobov.Shape{3, 3}
	b := iobov.New(path, shape, 0)

	full := iobov.Bounds{Min: []int{0, 0}, Max: []int{2, 2}}
	// 3x3 grid: row r, col c -> r*10+c, so sub-rectangle contents are
	// easy to predict by hand.
	buf := make([]float64, 9)
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			buf[r*3+c] = float64(r*10 + c)
		}
	}
	dxtest.CheckError(t, b.Write(full, buf, full))

	sub := iobov.Bounds{Min: []int{1, 1}, Max: []int{2, 2}}
	got, err := b.Read(sub)
	dxtest.CheckError(t, err)
	want := []float64{11, 12, 21, 22}
	dxtest.Equal(t, len(got), len(want), "sub-rectangle has 4 values")
	for i := range want {
		dxtest.Equal(t, got[i], want[i], "sub-rectangle value at index %d", i)
	}
}

// TestWriteCoreWithinLargerBuffer covers the buffer/core split: writing
// only the core sub-rectangle of a larger in-memory buffer updates exactly
// that sub-range of an existing full-size grid file, leaving the rest of
// the grid as it was before.
func TestWriteCoreWithinLargerBuffer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grid.bov")
	shape := iobov.Shape{2, 4}
	b := iobov.New(path, shape, 0)

	full := iobov.Bounds{Min: []int{0, 0}, Max: []int{1, 3}}
	zeros := make([]float64, 2*4)
	dxtest.CheckError(t, b.Write(full, zeros, full))

	// buffer covers the full 2x4 grid but we only write its middle 2x2
	// core (columns 1-2), so columns 0 and 3 stay at the file's prior
	// (zero) value.
	buffer := make([]float64, 2*4)
	for i := range buffer {
		buffer[i] = float64(100 + i)
	}
	core := iobov.Bounds{Min: []int{0, 1}, Max: []int{1, 2}}
	dxtest.CheckError(t, b.Write(full, buffer, core))

	got, err := b.Read(full)
	dxtest.CheckError(t, err)
	// row 0: col0=0(untouched), col1=buffer[0*4+1]=101, col2=buffer[2]=102, col3=0
	dxtest.Equal(t, got[0], float64(0), "untouched column stays zero")
	dxtest.Equal(t, got[1], float64(101), "core column 1 of row 0")
	dxtest.Equal(t, got[2], float64(102), "core column 2 of row 0")
	dxtest.Equal(t, got[3], float64(0), "untouched trailing column stays zero")
}
