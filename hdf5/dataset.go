package hdf5

import (
	"errors"
	"fmt"
	"path"
	"sync"

	"github.com/robert-malhotra/go-imaris/internal/dtype"
	"github.com/robert-malhotra/go-imaris/internal/filter"
	"github.com/robert-malhotra/go-imaris/internal/layout"
	"github.com/robert-malhotra/go-imaris/internal/message"
	"github.com/robert-malhotra/go-imaris/internal/object"
)

// Kind is the element type of a dataset.
type Kind int

const (
	KindUnknown Kind = iota
	Int8
	Uint8
	Int16
	Uint16
	Int32
	Uint32
	Int64
	Uint64
	Float32
	Float64
)

var kindNames = [...]string{"unknown", "int8", "uint8", "int16", "uint16", "int32", "uint32", "int64", "uint64", "float32", "float64"}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return kindNames[0]
	}
	return kindNames[k]
}

// Size returns the element size in bytes.
func (k Kind) Size() int {
	switch k {
	case Int8, Uint8:
		return 1
	case Int16, Uint16:
		return 2
	case Int32, Uint32, Float32:
		return 4
	case Int64, Uint64, Float64:
		return 8
	}
	return 0
}

func kindOf(dt *message.Datatype) Kind {
	switch dt.Class {
	case message.ClassFloatPoint:
		switch dt.Size {
		case 4:
			return Float32
		case 8:
			return Float64
		}
	case message.ClassFixedPoint:
		k := map[uint32]Kind{1: Uint8, 2: Uint16, 4: Uint32, 8: Uint64}[dt.Size]
		if k != KindUnknown && dt.Signed {
			k--
		}
		return k
	}
	return KindUnknown
}

func (k Kind) datatype() *message.Datatype {
	switch k {
	case Float32, Float64:
		return message.NewFloat(uint32(k.Size()))
	case Int8, Int16, Int32, Int64:
		return message.NewInteger(uint32(k.Size()), true)
	}
	return message.NewInteger(uint32(k.Size()), false)
}

// Dataset is an n-dimensional array of numeric elements.
type Dataset struct {
	file     *File
	path     string
	header   *object.Header
	space    *message.Dataspace
	dtype    *message.Datatype
	lmsg     *message.DataLayout
	pipeline *message.FilterPipeline
	// node is set for datasets of a file being written.
	node *node

	once   sync.Once
	layout layout.Layout
	err    error
}

func newDataset(f *File, p string, header *object.Header) (*Dataset, error) {
	ds := &Dataset{file: f, path: p, header: header}
	var err error
	if ds.space, err = header.Dataspace(); err != nil {
		return nil, unsupported(err)
	}
	if ds.dtype, err = header.Datatype(); err != nil {
		return nil, unsupported(err)
	}
	if ds.lmsg, err = header.Layout(); err != nil {
		return nil, unsupported(err)
	}
	if ds.pipeline, err = header.Pipeline(); err != nil {
		return nil, unsupported(err)
	}
	if ds.space == nil || ds.dtype == nil || ds.lmsg == nil {
		return nil, fmt.Errorf("dataset %s: missing dataspace, datatype or layout", p)
	}
	return ds, nil
}

// unsupported tags decoding failures caused by features this package does
// not implement.
func unsupported(err error) error {
	var (
		msgErr    *message.UnsupportedError
		filterErr *filter.UnsupportedError
	)
	if errors.As(err, &msgErr) || errors.As(err, &filterErr) || errors.Is(err, layout.ErrUnsupported) {
		return fmt.Errorf("%w: %w", ErrUnsupported, err)
	}
	return err
}

// Name returns the last path component.
func (d *Dataset) Name() string { return path.Base(d.path) }

// Path returns the absolute path.
func (d *Dataset) Path() string { return d.path }

// Shape returns the extent of each dimension.
func (d *Dataset) Shape() []uint64 {
	return append([]uint64(nil), d.space.Dimensions...)
}

// Rank returns the number of dimensions.
func (d *Dataset) Rank() int { return len(d.space.Dimensions) }

// NumElements returns the element count.
func (d *Dataset) NumElements() uint64 { return d.space.NumElements() }

// Kind returns the element type.
func (d *Dataset) Kind() Kind { return kindOf(d.dtype) }

// DtypeString describes the stored element type, for example "uint16".
func (d *Dataset) DtypeString() string { return d.dtype.String() }

// Chunks returns the chunk shape, or nil for unchunked storage.
func (d *Dataset) Chunks() []uint64 {
	if d.lmsg.Class != message.LayoutChunked {
		return nil
	}
	out := make([]uint64, len(d.lmsg.ChunkDims))
	for i, c := range d.lmsg.ChunkDims {
		out[i] = uint64(c)
	}
	return out
}

// Storage names the layout class and chunk index.
func (d *Dataset) Storage() string {
	switch d.lmsg.Class {
	case message.LayoutCompact:
		return "compact"
	case message.LayoutContiguous:
		return "contiguous"
	case message.LayoutChunked:
		return "chunked (" + d.lmsg.Index.String() + ")"
	}
	return "virtual"
}

// Filters names the filter pipeline stages in order.
func (d *Dataset) Filters() []string {
	if d.pipeline == nil {
		return nil
	}
	out := make([]string, len(d.pipeline.Filters))
	for i, f := range d.pipeline.Filters {
		out[i] = message.FilterName(f.ID)
	}
	return out
}

func (d *Dataset) open() (layout.Layout, error) {
	if d.node != nil {
		return nil, fmt.Errorf("%w: reading a file being written", ErrUnsupported)
	}
	d.once.Do(func() {
		d.layout, d.err = layout.New(d.file.reader, layout.Dataset{
			Layout:   d.lmsg,
			Space:    d.space,
			Type:     d.dtype,
			Pipeline: d.pipeline,
		}, layout.Options{CacheChunks: d.file.opts.chunkCache})
		if d.err != nil {
			d.err = fmt.Errorf("dataset %s: %w", d.path, unsupported(d.err))
		}
	})
	return d.layout, d.err
}

// Validate checks that the storage layout and filters can be read.
func (d *Dataset) Validate() error {
	if !dtype.IsNumeric(d.dtype) || d.Kind() == KindUnknown {
		return fmt.Errorf("%w: dataset %s has element type %s", ErrUnsupported, d.path, d.dtype)
	}
	_, err := d.open()
	return err
}

// ReadSlice reads count elements per dimension from start. The result is
// little-endian element bytes in row-major order.
func (d *Dataset) ReadSlice(start, count []uint64) ([]byte, error) {
	if d.file.isClosed() {
		return nil, ErrClosed
	}
	l, err := d.open()
	if err != nil {
		return nil, err
	}
	data, err := l.ReadSlice(start, count)
	if err != nil {
		return nil, fmt.Errorf("dataset %s: %w", d.path, unsupported(err))
	}
	dtype.ToLittleEndian(d.dtype, data)
	return data, nil
}

// ReadRaw reads the whole dataset.
func (d *Dataset) ReadRaw() ([]byte, error) {
	dims := d.space.Dimensions
	return d.ReadSlice(make([]uint64, len(dims)), dims)
}

// ReadFloat64 reads the whole dataset converted to float64.
func (d *Dataset) ReadFloat64() ([]float64, error) {
	raw, err := d.ReadRaw()
	if err != nil {
		return nil, err
	}
	le := *d.dtype
	le.BigEndian = false
	return dtype.Float64s(&le, raw)
}

// Attrs lists attribute names.
func (d *Dataset) Attrs() []string {
	if d.node != nil {
		return attrNames(d.node.attrs)
	}
	return attrNames(d.header.Attributes())
}

// Attr returns the named attribute, or nil.
func (d *Dataset) Attr(name string) *Attribute {
	if d.node != nil {
		return findAttr(d.node.attrs, name)
	}
	return findAttr(d.header.Attributes(), name)
}
