// Package volume defines the canonical five-axis image volume shared by every
// reader, view and buffer: arrays, selections, metadata, errors and the
// normalizer that brings arbitrary-rank data into canonical order.
package volume

import (
	"bytes"
	"fmt"
)

// Canonical axis positions.
const (
	T = iota
	Z
	C
	Y
	X
	Rank
)

// Axes is the canonical axis order.
const Axes = "TZCYX"

// Array is a dense row-major array of little-endian elements.
type Array struct {
	Shape []int
	DType DType
	Data  []byte
}

// NumElements returns the product of shape.
func NumElements(shape []int) int {
	n := 1
	for _, s := range shape {
		n *= s
	}
	return n
}

// New returns a zeroed array.
func New(dt DType, shape ...int) *Array {
	return &Array{
		Shape: append([]int(nil), shape...),
		DType: dt,
		Data:  make([]byte, NumElements(shape)*dt.Size()),
	}
}

// FromBytes wraps data without copying.
func FromBytes(dt DType, shape []int, data []byte) (*Array, error) {
	if want := NumElements(shape) * dt.Size(); len(data) != want || dt.Size() == 0 {
		return nil, Errorf(ErrShape, "array", "%d bytes of %s cannot fill %d bytes", len(data), dt, want).WithShape(shape)
	}
	return &Array{Shape: append([]int(nil), shape...), DType: dt, Data: data}, nil
}

// FromFloat64s builds an array of type dt from values.
func FromFloat64s(dt DType, shape []int, values []float64) (*Array, error) {
	if len(values) != NumElements(shape) {
		return nil, Errorf(ErrShape, "array", "%d values cannot fill shape", len(values)).WithShape(shape)
	}
	a := New(dt, shape...)
	size := dt.Size()
	for i, v := range values {
		dt.put(a.Data[i*size:], v)
	}
	return a, nil
}

// Len returns the number of elements.
func (a *Array) Len() int { return NumElements(a.Shape) }

// Strides returns element strides for each axis.
func (a *Array) Strides() []int { return strides(a.Shape) }

func strides(shape []int) []int {
	s := make([]int, len(shape))
	n := 1
	for d := len(shape) - 1; d >= 0; d-- {
		s[d] = n
		n *= shape[d]
	}
	return s
}

func (a *Array) offset(idx []int) int {
	if len(idx) != len(a.Shape) {
		panic(fmt.Sprintf("volume: index rank %d for array rank %d", len(idx), len(a.Shape)))
	}
	off, n := 0, 1
	for d := len(idx) - 1; d >= 0; d-- {
		if idx[d] < 0 || idx[d] >= a.Shape[d] {
			panic(fmt.Sprintf("volume: index %v out of range for shape %v", idx, a.Shape))
		}
		off += idx[d] * n
		n *= a.Shape[d]
	}
	return off
}

// At returns the element at idx as float64. It panics when idx is out of
// range, like slice indexing.
func (a *Array) At(idx ...int) float64 {
	size := a.DType.Size()
	return a.DType.get(a.Data[a.offset(idx)*size:])
}

// Set stores v at idx.
func (a *Array) Set(v float64, idx ...int) {
	size := a.DType.Size()
	a.DType.put(a.Data[a.offset(idx)*size:], v)
}

// Float64s converts every element to float64.
func (a *Array) Float64s() []float64 {
	size := a.DType.Size()
	out := make([]float64, a.Len())
	for i := range out {
		out[i] = a.DType.get(a.Data[i*size:])
	}
	return out
}

// Clone returns a deep copy.
func (a *Array) Clone() *Array {
	return &Array{
		Shape: append([]int(nil), a.Shape...),
		DType: a.DType,
		Data:  append([]byte(nil), a.Data...),
	}
}

// Reshape returns a view with a new shape of the same size.
func (a *Array) Reshape(shape ...int) (*Array, error) {
	if NumElements(shape) != a.Len() {
		return nil, Errorf(ErrShape, "reshape", "cannot reshape %v", a.Shape).WithShape(shape)
	}
	return &Array{Shape: append([]int(nil), shape...), DType: a.DType, Data: a.Data}, nil
}

// Convert returns a copy with elements converted to dt. Integer targets
// saturate.
func (a *Array) Convert(dt DType) *Array {
	if dt == a.DType {
		return a.Clone()
	}
	out := New(dt, a.Shape...)
	src, dst := a.DType.Size(), dt.Size()
	for i := 0; i < a.Len(); i++ {
		dt.put(out.Data[i*dst:], a.DType.get(a.Data[i*src:]))
	}
	return out
}

// Equal reports whether a and b have the same shape, type and elements.
func (a *Array) Equal(b *Array) bool {
	return a.DType == b.DType && sameShape(a.Shape, b.Shape) && bytes.Equal(a.Data, b.Data)
}

// Region copies count elements per axis starting at start.
func (a *Array) Region(start, count []int) (*Array, error) {
	if err := checkRegion("region", a.Shape, start, count); err != nil {
		return nil, err
	}
	out := New(a.DType, count...)
	copyRegion(out.Data, count, make([]int, len(count)), a.Data, a.Shape, start, count, a.DType.Size())
	return out, nil
}

// SetRegion copies src into a at start.
func (a *Array) SetRegion(start []int, src *Array) error {
	if src.DType != a.DType {
		return Errorf(ErrShape, "set region", "dtype %s does not match %s", src.DType, a.DType)
	}
	if err := checkRegion("set region", a.Shape, start, src.Shape); err != nil {
		return err
	}
	copyRegion(a.Data, a.Shape, start, src.Data, src.Shape, make([]int, len(src.Shape)), src.Shape, a.DType.Size())
	return nil
}

func checkRegion(op string, shape, start, count []int) error {
	if len(start) != len(shape) || len(count) != len(shape) {
		return Errorf(ErrShape, op, "region rank %d for array rank %d", len(count), len(shape)).WithShape(shape)
	}
	for d := range shape {
		if start[d] < 0 || count[d] < 0 || start[d]+count[d] > shape[d] {
			return Errorf(ErrIndex, op, "region [%v +%v] outside array", start, count).WithShape(shape).WithIndex(start)
		}
	}
	return nil
}

// copyRegion copies a count-sized box between two row-major buffers.
// The innermost axis is copied as one run.
func copyRegion(dst []byte, dstShape, dstAt []int, src []byte, srcShape, srcAt []int, count []int, elem int) {
	rank := len(count)
	if NumElements(count) == 0 {
		return
	}
	if rank == 0 {
		copy(dst[:elem], src[:elem])
		return
	}
	ds, ss := strides(dstShape), strides(srcShape)
	run := count[rank-1] * elem
	idx := make([]int, rank-1)
	for {
		doff, soff := dstAt[rank-1], srcAt[rank-1]
		for d, i := range idx {
			doff += (dstAt[d] + i) * ds[d]
			soff += (srcAt[d] + i) * ss[d]
		}
		copy(dst[doff*elem:doff*elem+run], src[soff*elem:soff*elem+run])

		d := rank - 2
		for ; d >= 0; d-- {
			idx[d]++
			if idx[d] < count[d] {
				break
			}
			idx[d] = 0
		}
		if d < 0 {
			return
		}
	}
}

// Transpose returns a copy with axes reordered so that output axis i is
// input axis perm[i].
func (a *Array) Transpose(perm ...int) (*Array, error) {
	if err := checkPermutation("transpose", perm, len(a.Shape)); err != nil {
		return nil, err
	}
	shape := make([]int, len(perm))
	for i, p := range perm {
		shape[i] = a.Shape[p]
	}
	out := New(a.DType, shape...)
	n := out.Len()
	if n == 0 {
		return out, nil
	}

	elem := a.DType.Size()
	in := a.Strides()
	step := make([]int, len(perm))
	for i, p := range perm {
		step[i] = in[p]
	}
	idx := make([]int, len(shape))
	src := 0
	for i := 0; i < n; i++ {
		copy(out.Data[i*elem:(i+1)*elem], a.Data[src*elem:(src+1)*elem])
		for d := len(shape) - 1; d >= 0; d-- {
			idx[d]++
			src += step[d]
			if idx[d] < shape[d] {
				break
			}
			src -= step[d] * shape[d]
			idx[d] = 0
		}
	}
	return out, nil
}

func checkPermutation(op string, perm []int, rank int) error {
	if len(perm) != rank {
		return Errorf(ErrShape, op, "permutation %v has %d axes, want %d", perm, len(perm), rank)
	}
	seen := make([]bool, rank)
	for _, p := range perm {
		if p < 0 || p >= rank || seen[p] {
			return Errorf(ErrShape, op, "permutation %v is not a bijection", perm)
		}
		seen[p] = true
	}
	return nil
}

// CheckPermutation validates that perm is a bijection over rank axes.
func CheckPermutation(perm []int, rank int) error {
	return checkPermutation("permute", perm, rank)
}

// InversePermutation returns q with q[perm[i]] = i.
func InversePermutation(perm []int) []int {
	inv := make([]int, len(perm))
	for i, p := range perm {
		inv[p] = i
	}
	return inv
}

// CopyRegion copies a count-sized box from src at srcAt into dst at dstAt.
// Both arrays must share a dtype and rank.
func CopyRegion(dst *Array, dstAt []int, src *Array, srcAt []int, count []int) error {
	if dst.DType != src.DType {
		return Errorf(ErrShape, "copy region", "dtype %s does not match %s", src.DType, dst.DType)
	}
	if err := checkRegion("copy region", dst.Shape, dstAt, count); err != nil {
		return err
	}
	if err := checkRegion("copy region", src.Shape, srcAt, count); err != nil {
		return err
	}
	copyRegion(dst.Data, dst.Shape, dstAt, src.Data, src.Shape, srcAt, count, dst.DType.Size())
	return nil
}
