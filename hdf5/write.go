package hdf5

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path"
	"strings"

	"github.com/robert-malhotra/go-imaris/internal/alloc"
	binpkg "github.com/robert-malhotra/go-imaris/internal/binary"
	"github.com/robert-malhotra/go-imaris/internal/btree"
	"github.com/robert-malhotra/go-imaris/internal/dtype"
	"github.com/robert-malhotra/go-imaris/internal/filter"
	"github.com/robert-malhotra/go-imaris/internal/layout"
	"github.com/robert-malhotra/go-imaris/internal/message"
	"github.com/robert-malhotra/go-imaris/internal/object"
	"github.com/robert-malhotra/go-imaris/internal/superblock"
)

// maxAttrSize keeps attribute messages inside a 16-bit message size.
const maxAttrSize = 60 << 10

// node is an object of a file being written. Dataset data goes to disk as
// it is created; headers are laid out when the file is closed, children
// before parents.
type node struct {
	path     string
	attrs    []*message.Attribute
	children []*node

	// datasets only
	space    *message.Dataspace
	dtype    *message.Datatype
	layout   *message.DataLayout
	pipeline *message.FilterPipeline
	chunk    []uint64
	entries  []btree.ChunkEntry
}

func (n *node) names() []string {
	out := make([]string, len(n.children))
	for i, c := range n.children {
		out[i] = path.Base(c.path)
	}
	return out
}

func (n *node) isDataset() bool { return n.space != nil }

// Create creates or truncates an HDF5 file for writing. Objects are added
// through the root group; the file is complete once Close returns.
func Create(filename string) (*File, error) {
	out, err := os.Create(filename)
	if err != nil {
		return nil, err
	}
	cfg := binpkg.DefaultConfig()
	f := &File{
		path:  filename,
		out:   out,
		opts:  defaultOptions(),
		alloc: alloc.New(uint64(superblock.EncodedSize(cfg.OffsetSize))),
		tree:  &node{path: "/"},
		sb: &superblock.Superblock{
			Version:    2,
			OffsetSize: uint8(cfg.OffsetSize),
			LengthSize: uint8(cfg.LengthSize),
		},
	}
	f.root = &Group{file: f, path: "/", node: f.tree}
	return f, nil
}

func (g *Group) writable() error {
	if g.node == nil {
		return fmt.Errorf("%w: file not opened for writing", ErrUnsupported)
	}
	if g.file.closed {
		return ErrClosed
	}
	return nil
}

func (g *Group) addChild(name string, n *node) error {
	if name == "" || name == "." || name == ".." || strings.Contains(name, "/") {
		return fmt.Errorf("%w: member name %q", ErrInvalidPath, name)
	}
	for _, c := range g.node.children {
		if path.Base(c.path) == name {
			return fmt.Errorf("%w: %s", ErrExists, c.path)
		}
	}
	g.node.children = append(g.node.children, n)
	return nil
}

// CreateGroup adds an empty subgroup.
func (g *Group) CreateGroup(name string) (*Group, error) {
	g.file.mu.Lock()
	defer g.file.mu.Unlock()
	if err := g.writable(); err != nil {
		return nil, err
	}
	n := &node{path: path.Join(g.path, name)}
	if err := g.addChild(name, n); err != nil {
		return nil, err
	}
	return &Group{file: g.file, path: n.path, node: n}, nil
}

// SetAttr attaches or replaces an attribute. Supported values are string
// (stored as a character array), []string, float64, []float64, int and
// []int.
func (g *Group) SetAttr(name string, value any) error {
	g.file.mu.Lock()
	defer g.file.mu.Unlock()
	if err := g.writable(); err != nil {
		return err
	}
	a, err := encodeAttr(name, value)
	if err != nil {
		return err
	}
	g.node.attrs = setAttr(g.node.attrs, a)
	return nil
}

func setAttr(attrs []*message.Attribute, a *message.Attribute) []*message.Attribute {
	for i, old := range attrs {
		if old.Name == a.Name {
			attrs[i] = a
			return attrs
		}
	}
	return append(attrs, a)
}

func encodeAttr(name string, value any) (*message.Attribute, error) {
	a := &message.Attribute{Name: name}
	switch v := value.(type) {
	case string:
		dt, dims, data := dtype.CharArray(v)
		a.Datatype, a.Dataspace, a.Data = dt, message.NewDataspace(dims), data
	case []string:
		size := 1
		for _, s := range v {
			size = max(size, len(s))
		}
		data := make([]byte, size*len(v))
		for i, s := range v {
			copy(data[i*size:], s)
		}
		a.Datatype = message.NewString(uint32(size))
		a.Dataspace = message.NewDataspace([]uint64{uint64(len(v))})
		a.Data = data
	case float64:
		return encodeAttr(name, []float64{v})
	case []float64:
		a.Datatype, a.Data = dtype.EncodeFloat64s(v)
		a.Dataspace = message.NewDataspace([]uint64{uint64(len(v))})
	case int:
		return encodeAttr(name, []int{v})
	case []int:
		data := make([]byte, 8*len(v))
		for i, x := range v {
			binary.LittleEndian.PutUint64(data[8*i:], uint64(int64(x)))
		}
		a.Datatype = message.NewInteger(8, true)
		a.Dataspace = message.NewDataspace([]uint64{uint64(len(v))})
		a.Data = data
	default:
		return nil, fmt.Errorf("attribute %s: unsupported value type %T", name, value)
	}
	if len(a.Data) > maxAttrSize {
		return nil, fmt.Errorf("attribute %s: %d bytes exceeds %d", name, len(a.Data), maxAttrSize)
	}
	return a, nil
}

// encodeSlice converts a typed slice to little-endian bytes.
func encodeSlice(data any) (Kind, []byte, error) {
	switch v := data.(type) {
	case []uint8:
		return Uint8, v, nil
	case []int8:
		out := make([]byte, len(v))
		for i, x := range v {
			out[i] = byte(x)
		}
		return Int8, out, nil
	case []uint16:
		out := make([]byte, 2*len(v))
		for i, x := range v {
			binary.LittleEndian.PutUint16(out[2*i:], x)
		}
		return Uint16, out, nil
	case []int16:
		out := make([]byte, 2*len(v))
		for i, x := range v {
			binary.LittleEndian.PutUint16(out[2*i:], uint16(x))
		}
		return Int16, out, nil
	case []uint32:
		out := make([]byte, 4*len(v))
		for i, x := range v {
			binary.LittleEndian.PutUint32(out[4*i:], x)
		}
		return Uint32, out, nil
	case []int32:
		out := make([]byte, 4*len(v))
		for i, x := range v {
			binary.LittleEndian.PutUint32(out[4*i:], uint32(x))
		}
		return Int32, out, nil
	case []float32:
		out := make([]byte, 4*len(v))
		for i, x := range v {
			binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(x))
		}
		return Float32, out, nil
	case []uint64:
		out := make([]byte, 8*len(v))
		for i, x := range v {
			binary.LittleEndian.PutUint64(out[8*i:], x)
		}
		return Uint64, out, nil
	case []int64:
		out := make([]byte, 8*len(v))
		for i, x := range v {
			binary.LittleEndian.PutUint64(out[8*i:], uint64(x))
		}
		return Int64, out, nil
	case []float64:
		out := make([]byte, 8*len(v))
		for i, x := range v {
			binary.LittleEndian.PutUint64(out[8*i:], math.Float64bits(x))
		}
		return Float64, out, nil
	}
	return KindUnknown, nil, fmt.Errorf("unsupported dataset value type %T", data)
}

// CreateDataset writes data, a numeric slice in row-major order, as a
// dataset of the given shape.
func (g *Group) CreateDataset(name string, data any, dims []uint64, opts ...DatasetOption) (*Dataset, error) {
	kind, raw, err := encodeSlice(data)
	if err != nil {
		return nil, err
	}
	return g.CreateDatasetRaw(name, kind, raw, dims, opts...)
}

// CreateDatasetRaw is CreateDataset for little-endian element bytes.
func (g *Group) CreateDatasetRaw(name string, kind Kind, raw []byte, dims []uint64, opts ...DatasetOption) (*Dataset, error) {
	o := &datasetOptions{}
	for _, opt := range opts {
		opt(o)
	}
	elem := uint64(kind.Size())
	if elem == 0 {
		return nil, fmt.Errorf("dataset %s: unknown element kind", name)
	}
	n := uint64(1)
	for _, d := range dims {
		n *= d
	}
	if n*elem != uint64(len(raw)) {
		return nil, fmt.Errorf("dataset %s: %d bytes do not fill shape %v of %s", name, len(raw), dims, kind)
	}

	g.file.mu.Lock()
	defer g.file.mu.Unlock()
	if err := g.writable(); err != nil {
		return nil, err
	}

	nd := &node{
		path:  path.Join(g.path, name),
		space: message.NewDataspace(dims),
		dtype: kind.datatype(),
	}
	for _, a := range o.attributes {
		attr, err := encodeAttr(a.name, a.value)
		if err != nil {
			return nil, err
		}
		nd.attrs = setAttr(nd.attrs, attr)
	}
	if err := g.addChild(name, nd); err != nil {
		return nil, err
	}

	if o.chunks == nil {
		addr := g.file.alloc.AllocAligned(uint64(len(raw)), 8, "data "+nd.path)
		if _, err := g.file.out.WriteAt(raw, int64(addr)); err != nil {
			return nil, err
		}
		nd.layout = message.NewContiguousLayout(addr, uint64(len(raw)))
	} else if err := g.file.writeChunks(nd, raw, dims, elem, o); err != nil {
		return nil, fmt.Errorf("dataset %s: %w", nd.path, err)
	}

	return &Dataset{file: g.file, path: nd.path, space: nd.space, dtype: nd.dtype,
		lmsg: nd.layout, pipeline: nd.pipeline, node: nd}, nil
}

func (f *File) writeChunks(nd *node, raw []byte, dims []uint64, elem uint64, o *datasetOptions) error {
	if len(o.chunks) != len(dims) {
		return fmt.Errorf("chunk rank %d, dataset rank %d", len(o.chunks), len(dims))
	}
	chunk := make([]uint64, len(dims))
	chunk32 := make([]uint32, len(dims))
	for d := range dims {
		chunk[d] = max(1, min(o.chunks[d], dims[d]))
		chunk32[d] = uint32(chunk[d])
	}

	var filters []message.FilterInfo
	if o.shuffle {
		filters = append(filters, message.FilterInfo{ID: message.FilterShuffle, ClientData: []uint32{uint32(elem)}})
	}
	switch {
	case o.compression != 0:
		// plugin compressors are optional, as h5py writes them
		filters = append(filters, message.FilterInfo{ID: o.compression, Flags: 1, Name: message.FilterName(o.compression)})
	case o.deflate > 0:
		filters = append(filters, message.FilterInfo{ID: message.FilterDeflate, ClientData: []uint32{uint32(o.deflate)}})
	}
	if o.fletcher32 {
		filters = append(filters, message.FilterInfo{ID: message.FilterFletcher32})
	}
	if len(filters) > 0 {
		nd.pipeline = &message.FilterPipeline{Version: 2, Filters: filters}
	}
	pipeline, err := filter.NewPipeline(nd.pipeline, int(elem))
	if err != nil {
		return err
	}

	err = layout.ForEachChunk(dims, chunk, func(origin []uint64) error {
		enc, err := pipeline.Encode(layout.ExtractChunk(raw, dims, origin, chunk, elem))
		if err != nil {
			return err
		}
		addr := f.alloc.Alloc(uint64(len(enc)), "chunk "+nd.path)
		if _, err := f.out.WriteAt(enc, int64(addr)); err != nil {
			return err
		}
		nd.entries = append(nd.entries, btree.ChunkEntry{
			Offset:  append([]uint64(nil), origin...),
			Size:    uint32(len(enc)),
			Address: addr,
		})
		return nil
	})
	if err != nil {
		return err
	}
	nd.chunk = chunk
	nd.layout = message.NewChunkedLayout(chunk32, uint32(elem), ^uint64(0))
	return nil
}

// finish lays out headers and chunk indexes, then the superblock.
func (f *File) finish() error {
	root, err := f.writeNode(f.tree)
	if err != nil {
		return err
	}
	f.sb.RootGroupAddress = root
	f.sb.EOFAddress = f.alloc.EOF()
	if _, err := f.out.WriteAt(f.sb.Encode(), 0); err != nil {
		return err
	}
	return f.out.Truncate(int64(f.sb.EOFAddress))
}

func (f *File) writeNode(n *node) (uint64, error) {
	cfg := f.sb.ReaderConfig()
	var msgs []message.Encoder

	if n.isDataset() {
		if len(n.entries) > 0 {
			base := f.alloc.AllocAligned(0, 8, "")
			nodes, root, err := btree.EncodeChunkTree(cfg, n.entries, n.chunk, base)
			if err != nil {
				return 0, fmt.Errorf("%s: %w", n.path, err)
			}
			f.alloc.Alloc(uint64(len(nodes)), "btree "+n.path)
			if _, err := f.out.WriteAt(nodes, int64(base)); err != nil {
				return 0, err
			}
			n.layout.IndexAddr = root
		}
		msgs = append(msgs, n.space, n.dtype, &message.FillValue{}, n.layout)
		if n.pipeline != nil {
			msgs = append(msgs, n.pipeline)
		}
	} else {
		msgs = append(msgs, &message.LinkInfo{}, &message.GroupInfo{})
		for _, c := range n.children {
			addr, err := f.writeNode(c)
			if err != nil {
				return 0, err
			}
			msgs = append(msgs, &message.Link{Name: path.Base(c.path), LinkType: message.LinkHard, Address: addr})
		}
	}
	for _, a := range n.attrs {
		msgs = append(msgs, a)
	}

	header := object.Encode(cfg, msgs)
	addr := f.alloc.AllocAligned(uint64(len(header)), 8, "header "+n.path)
	if _, err := f.out.WriteAt(header, int64(addr)); err != nil {
		return 0, err
	}
	return addr, nil
}
