package layout

// product multiplies dims.
func product(dims []uint64) uint64 {
	n := uint64(1)
	for _, d := range dims {
		n *= d
	}
	return n
}

func zeros(n int) []uint64 { return make([]uint64, n) }

// elementStrides returns row-major strides in elements.
func elementStrides(dims []uint64) []uint64 {
	s := make([]uint64, len(dims))
	acc := uint64(1)
	for d := len(dims) - 1; d >= 0; d-- {
		s[d] = acc
		acc *= dims[d]
	}
	return s
}

// odometer calls fn for every index inside extent in row-major order. An
// empty extent yields a single call with an empty index.
func odometer(extent []uint64, fn func(idx []uint64) error) error {
	for _, e := range extent {
		if e == 0 {
			return nil
		}
	}
	idx := make([]uint64, len(extent))
	for {
		if err := fn(idx); err != nil {
			return err
		}
		d := len(idx) - 1
		for ; d >= 0; d-- {
			idx[d]++
			if idx[d] < extent[d] {
				break
			}
			idx[d] = 0
		}
		if d < 0 {
			return nil
		}
	}
}

// copyRegion copies a box of count elements from src, an array of shape
// srcShape, at srcAt into dst, of shape dstShape, at dstAt.
func copyRegion(dst []byte, dstShape, dstAt []uint64, src []byte, srcShape, srcAt []uint64, count []uint64, elem uint64) {
	n := len(count)
	if n == 0 {
		copy(dst[:elem], src[:elem])
		return
	}
	if product(count) == 0 {
		return
	}
	ds := elementStrides(dstShape)
	ss := elementStrides(srcShape)
	row := count[n-1] * elem
	_ = odometer(count[:n-1], func(idx []uint64) error {
		var do, so uint64
		for d := range idx {
			do += (dstAt[d] + idx[d]) * ds[d]
			so += (srcAt[d] + idx[d]) * ss[d]
		}
		do = (do + dstAt[n-1]) * elem
		so = (so + srcAt[n-1]) * elem
		copy(dst[do:do+row], src[so:so+row])
		return nil
	})
}

// ExtractChunk returns the chunk of data (an array of shape dims) whose
// origin is at. Cells beyond the edge of data are zero.
func ExtractChunk(data []byte, dims, at, chunk []uint64, elem uint64) []byte {
	out := make([]byte, product(chunk)*elem)
	count := make([]uint64, len(chunk))
	for d := range chunk {
		count[d] = min(chunk[d], dims[d]-at[d])
	}
	copyRegion(out, chunk, zeros(len(chunk)), data, dims, at, count, elem)
	return out
}

// ForEachChunk calls fn with the origin of every chunk covering dims in
// row-major order. The origin slice is reused between calls.
func ForEachChunk(dims, chunk []uint64, fn func(origin []uint64) error) error {
	grid := make([]uint64, len(dims))
	for d := range dims {
		grid[d] = (dims[d] + chunk[d] - 1) / chunk[d]
	}
	origin := make([]uint64, len(dims))
	return odometer(grid, func(idx []uint64) error {
		for d := range idx {
			origin[d] = idx[d] * chunk[d]
		}
		return fn(origin)
	})
}
