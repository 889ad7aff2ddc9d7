// Package iobov reads and writes rectangular subsets of a flat, row-major
// "brick of values" file (spec's supplemented I/O feature, grounded on
// original_source/include/diy/io/bov.hpp). The C++ original addresses
// subarrays through an MPI derived datatype (MPI_Type_create_subarray) and
// a collective/independent MPI_File_read/write; here each rank instead
// issues one os.File ReadAt/WriteAt per contiguous run along the fastest
// (last) dimension, which is the same row-major subarray this file format
// describes — no MPI derived-datatype equivalent is needed in Go, and
// there's no suitable third-party library for this narrow a concern, so
// this one stays on the standard library (see DESIGN.md).
package iobov

import (
	"encoding/binary"
	"math"
	"os"
)

// Shape is the full extent of the file's grid, one entry per dimension,
// slowest-varying first (C order), matching diy::io::BOV::Shape.
type Shape []int

// strides returns, for each dimension, the number of elements between
// consecutive indices along that axis (row-major / C order).
func (s Shape) strides() []int64 {
	st := make([]int64, len(s))
	if len(s) == 0 {
		return st
	}
	st[len(s)-1] = 1
	for i := len(s) - 2; i >= 0; i-- {
		st[i] = st[i+1] * int64(s[i+1])
	}
	return st
}

// Bounds is an inclusive, per-dimension index range [Min[i], Max[i]].
type Bounds struct {
	Min, Max []int
}

func (b Bounds) subsizes() []int {
	out := make([]int, len(b.Min))
	for i := range b.Min {
		out[i] = b.Max[i] - b.Min[i] + 1
	}
	return out
}

// BOV addresses float64 subarrays of a flat file at a byte offset, per
// spec's supplemented grid-I/O feature.
type BOV struct {
	path   string
	shape  Shape
	offset int64
}

const elemSize = 8 // float64

// New opens (without reading) the BOV file at path with the given full
// grid shape and a byte offset to the first data element (matching
// diy::io::BOV's constructor, which defers all I/O to read/write).
func New(path string, shape Shape, offset int64) *BOV {
	return &BOV{path: path, shape: shape, offset: offset}
}

func (b *BOV) Shape() Shape { return b.shape }

// Read fetches the subarray named by bounds into a row-major buffer sized
// to bounds.subsizes(), reading one contiguous run per row along the
// fastest dimension (spec: "read/write subsets of a block of values into
// specified block bounds").
func (b *BOV) Read(bounds Bounds) ([]float64, error) {
	f, err := os.Open(b.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	subsizes := bounds.subsizes()
	strides := b.shape.strides()
	total := 1
	for _, s := range subsizes {
		total *= s
	}
	out := make([]float64, total)

	runLen := subsizes[len(subsizes)-1]
	rowBuf := make([]byte, runLen*elemSize)

	idx := make([]int, len(bounds.Min))
	copy(idx, bounds.Min)
	written := 0
	for {
		fileIdx := int64(0)
		for d := range idx {
			fileIdx += int64(idx[d]) * strides[d]
		}
		off := b.offset + fileIdx*elemSize
		if _, err := f.ReadAt(rowBuf, off); err != nil {
			return nil, err
		}
		for i := 0; i < runLen; i++ {
			bits := binary.LittleEndian.Uint64(rowBuf[i*elemSize : (i+1)*elemSize])
			out[written] = math.Float64frombits(bits)
			written++
		}

		if !incrementOuter(idx, bounds) {
			break
		}
	}
	return out, nil
}

// Write stores core (a sub-rectangle of the buffer shaped by bounds) into
// the file, mirroring diy::io::BOV::write's buffer/core split: `bounds` is
// the shape of `buffer`, `core` is the portion of it actually written.
func (b *BOV) Write(bounds Bounds, buffer []float64, core Bounds) error {
	f, err := os.OpenFile(b.path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	fileStrides := b.shape.strides()
	bufShape := make(Shape, len(bounds.Min))
	for i := range bufShape {
		bufShape[i] = bounds.Max[i] - bounds.Min[i] + 1
	}
	bufStrides := bufShape.strides()

	subsizes := core.subsizes()
	runLen := subsizes[len(subsizes)-1]
	rowBuf := make([]byte, runLen*elemSize)

	idx := make([]int, len(core.Min))
	copy(idx, core.Min)
	for {
		fileIdx := int64(0)
		bufIdx := int64(0)
		for d := range idx {
			fileIdx += int64(idx[d]) * fileStrides[d]
			bufIdx += int64(idx[d]-bounds.Min[d]) * bufStrides[d]
		}
		for i := 0; i < runLen; i++ {
			bits := math.Float64bits(buffer[bufIdx+int64(i)])
			binary.LittleEndian.PutUint64(rowBuf[i*elemSize:(i+1)*elemSize], bits)
		}
		off := b.offset + fileIdx*elemSize
		if _, err := f.WriteAt(rowBuf, off); err != nil {
			return err
		}

		if !incrementOuter(idx, core) {
			break
		}
	}
	return nil
}

// incrementOuter advances idx (all but the last dimension, which is read
// as one contiguous run) odometer-style within bounds; returns false once
// every combination has been visited.
func incrementOuter(idx []int, bounds Bounds) bool {
	if len(idx) <= 1 {
		return false
	}
	for d := len(idx) - 2; d >= 0; d-- {
		idx[d]++
		if idx[d] <= bounds.Max[d] {
			return true
		}
		idx[d] = bounds.Min[d]
	}
	return false
}
