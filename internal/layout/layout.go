// Package layout reads hyperslabs from the compact, contiguous and chunked
// storage layouts of HDF5 datasets.
package layout

import (
	"errors"
	"fmt"

	"github.com/robert-malhotra/go-imaris/internal/binary"
	"github.com/robert-malhotra/go-imaris/internal/message"
)

// ErrUnsupported is returned for storage features that cannot be read.
var ErrUnsupported = errors.New("unsupported storage layout")

// Layout reads rectangular selections of a dataset.
type Layout interface {
	// ReadSlice returns count elements per dimension starting at start,
	// as raw element bytes in row-major order.
	ReadSlice(start, count []uint64) ([]byte, error)
	Class() message.LayoutClass
}

// Options tunes chunked reads.
type Options struct {
	// CacheChunks is the number of decoded chunks kept per dataset. Zero
	// disables caching.
	CacheChunks int
}

// Dataset bundles the messages a layout needs.
type Dataset struct {
	Layout   *message.DataLayout
	Space    *message.Dataspace
	Type     *message.Datatype
	Pipeline *message.FilterPipeline
}

// New builds the reader for ds.
func New(r *binary.Reader, ds Dataset, opts Options) (Layout, error) {
	if ds.Layout == nil || ds.Space == nil || ds.Type == nil {
		return nil, fmt.Errorf("layout: incomplete dataset header")
	}
	g := newGeometry(ds.Space.Dimensions, uint64(ds.Type.Size))

	switch ds.Layout.Class {
	case message.LayoutCompact:
		return &compact{geom: g, data: ds.Layout.CompactData}, nil
	case message.LayoutContiguous:
		return &contiguous{geom: g, r: r, addr: ds.Layout.Address}, nil
	case message.LayoutChunked:
		return newChunked(r, g, ds, opts)
	}
	return nil, fmt.Errorf("%w: class %d", ErrUnsupported, ds.Layout.Class)
}

// geometry holds the extent and element size shared by all layouts.
type geometry struct {
	dims []uint64
	elem uint64
}

func newGeometry(dims []uint64, elem uint64) geometry {
	if len(dims) == 0 {
		dims = []uint64{1}
	}
	return geometry{dims: dims, elem: elem}
}

func (g geometry) check(start, count []uint64) (uint64, error) {
	if len(start) != len(g.dims) || len(count) != len(g.dims) {
		return 0, fmt.Errorf("selection rank %d/%d, dataset rank %d", len(start), len(count), len(g.dims))
	}
	n := g.elem
	for d := range g.dims {
		if start[d] > g.dims[d] || count[d] > g.dims[d]-start[d] {
			return 0, fmt.Errorf("selection [%d:+%d] out of range for dimension %d of size %d",
				start[d], count[d], d, g.dims[d])
		}
		n *= count[d]
	}
	return n, nil
}

type compact struct {
	geom geometry
	data []byte
}

func (c *compact) Class() message.LayoutClass { return message.LayoutCompact }

func (c *compact) ReadSlice(start, count []uint64) ([]byte, error) {
	n, err := c.geom.check(start, count)
	if err != nil {
		return nil, err
	}
	if uint64(len(c.data)) < product(c.geom.dims)*c.geom.elem {
		return nil, fmt.Errorf("compact data holds %d bytes, dataset needs %d",
			len(c.data), product(c.geom.dims)*c.geom.elem)
	}
	out := make([]byte, n)
	copyRegion(out, count, zeros(len(count)), c.data, c.geom.dims, start, count, c.geom.elem)
	return out, nil
}

type contiguous struct {
	geom geometry
	r    *binary.Reader
	addr uint64
}

func (c *contiguous) Class() message.LayoutClass { return message.LayoutContiguous }

func (c *contiguous) ReadSlice(start, count []uint64) ([]byte, error) {
	n, err := c.geom.check(start, count)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	if n == 0 || c.r.IsUndefined(c.addr) {
		// never written: fill value
		return out, nil
	}

	dims := c.geom.dims
	// Merge trailing dimensions read in full into one run.
	inner := len(dims) - 1
	for inner > 0 && start[inner] == 0 && count[inner] == dims[inner] {
		inner--
	}
	run := count[inner] * c.geom.elem
	for d := inner + 1; d < len(dims); d++ {
		run *= dims[d]
	}

	strides := elementStrides(dims)
	outer := count[:inner]
	pos := 0
	err = odometer(outer, func(idx []uint64) error {
		var off uint64
		for d := range idx {
			off += (start[d] + idx[d]) * strides[d]
		}
		off += start[inner] * strides[inner]
		b, err := c.r.At(int64(c.addr + off*c.geom.elem)).ReadBytes(int(run))
		if err != nil {
			return fmt.Errorf("contiguous data at %#x: %w", c.addr+off*c.geom.elem, err)
		}
		pos += copy(out[pos:], b)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
