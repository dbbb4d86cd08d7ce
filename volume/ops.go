package volume

import "math"

// MaxAlong collapses axis by taking the per-position maximum. The axis is
// kept with size one. A NaN anywhere along the axis makes the result NaN.
func MaxAlong(a *Array, axis int) (*Array, error) {
	if axis < 0 || axis >= len(a.Shape) {
		return nil, Errorf(ErrShape, "max projection", "axis %d out of range", axis).WithShape(a.Shape)
	}
	shape := append([]int(nil), a.Shape...)
	depth := shape[axis]
	shape[axis] = 1
	out := New(a.DType, shape...)
	if depth == 0 {
		return out, nil
	}

	// outer x depth x inner view of a
	outer, inner := 1, 1
	for d := 0; d < axis; d++ {
		outer *= a.Shape[d]
	}
	for d := axis + 1; d < len(a.Shape); d++ {
		inner *= a.Shape[d]
	}
	elem := a.DType.Size()
	for o := 0; o < outer; o++ {
		dst := out.Data[o*inner*elem : (o+1)*inner*elem]
		copy(dst, a.Data[o*depth*inner*elem:])
		for z := 1; z < depth; z++ {
			base := (o*depth + z) * inner * elem
			for i := 0; i < inner; i++ {
				v := a.DType.get(a.Data[base+i*elem:])
				if greater(v, a.DType.get(dst[i*elem:])) {
					copy(dst[i*elem:(i+1)*elem], a.Data[base+i*elem:base+(i+1)*elem])
				}
			}
		}
	}
	return out, nil
}

// MinMax returns the smallest and largest element. Both are zero for an
// empty array and NaN when any element is.
func (a *Array) MinMax() (lo, hi float64) {
	n := a.Len()
	if n == 0 {
		return 0, 0
	}
	elem := a.DType.Size()
	lo = a.DType.get(a.Data)
	hi = lo
	for i := 1; i < n; i++ {
		v := a.DType.get(a.Data[i*elem:])
		lo, hi = min(lo, v), max(hi, v)
	}
	return lo, hi
}

// Maximum stores the element-wise maximum of dst and src in dst. NaN in
// either operand wins.
func Maximum(dst, src *Array) error {
	if !sameShape(dst.Shape, src.Shape) || dst.DType != src.DType {
		return Errorf(ErrShape, "maximum", "%s%v and %s%v differ", dst.DType, dst.Shape, src.DType, src.Shape)
	}
	elem := dst.DType.Size()
	for i := 0; i < dst.Len(); i++ {
		off := i * elem
		if greater(dst.DType.get(src.Data[off:]), dst.DType.get(dst.Data[off:])) {
			copy(dst.Data[off:off+elem], src.Data[off:off+elem])
		}
	}
	return nil
}

// greater reports whether v should replace cur in a running maximum.
func greater(v, cur float64) bool {
	return v > cur || math.IsNaN(v)
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
