package layout

import (
	"bytes"
	"errors"
	"testing"

	"github.com/robert-malhotra/go-imaris/internal/binary"
	"github.com/robert-malhotra/go-imaris/internal/btree"
	"github.com/robert-malhotra/go-imaris/internal/filter"
	"github.com/robert-malhotra/go-imaris/internal/message"
)

// ramp returns a uint16 array where each element holds its linear index.
func ramp(dims []uint64) []byte {
	n := product(dims)
	out := make([]byte, 2*n)
	for i := uint64(0); i < n; i++ {
		out[2*i] = byte(i)
		out[2*i+1] = byte(i >> 8)
	}
	return out
}

// expected slices ramp(dims) the slow way.
func expected(dims, start, count []uint64) []byte {
	src := ramp(dims)
	strides := elementStrides(dims)
	var out []byte
	_ = odometer(count, func(idx []uint64) error {
		var off uint64
		for d := range idx {
			off += (start[d] + idx[d]) * strides[d]
		}
		out = append(out, src[2*off], src[2*off+1])
		return nil
	})
	return out
}

var selections = []struct {
	name         string
	start, count []uint64
}{
	{"full", []uint64{0, 0, 0}, []uint64{5, 37, 41}},
	{"plane", []uint64{2, 0, 0}, []uint64{1, 37, 41}},
	{"interior", []uint64{1, 3, 7}, []uint64{3, 20, 30}},
	{"edge", []uint64{4, 36, 40}, []uint64{1, 1, 1}},
	{"empty", []uint64{0, 0, 0}, []uint64{0, 10, 10}},
}

var dims = []uint64{5, 37, 41}

func checkSelections(t *testing.T, l Layout) {
	t.Helper()
	for _, sel := range selections {
		t.Run(sel.name, func(t *testing.T) {
			got, err := l.ReadSlice(sel.start, sel.count)
			if err != nil {
				t.Fatalf("ReadSlice: %v", err)
			}
			if want := expected(dims, sel.start, sel.count); !bytes.Equal(got, want) {
				t.Fatalf("ReadSlice(%v, %v) returned %d bytes that differ from the expected %d",
					sel.start, sel.count, len(got), len(want))
			}
		})
	}
}

func TestContiguous(t *testing.T) {
	const addr = 100
	file := append(make([]byte, addr), ramp(dims)...)
	r := binary.NewReader(bytes.NewReader(file), binary.DefaultConfig())

	l, err := New(r, Dataset{
		Layout: message.NewContiguousLayout(addr, uint64(len(file)-addr)),
		Space:  message.NewDataspace(dims),
		Type:   message.NewInteger(2, false),
	}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	checkSelections(t, l)
}

func TestCompact(t *testing.T) {
	l, err := New(nil, Dataset{
		Layout: &message.DataLayout{Class: message.LayoutCompact, CompactData: ramp(dims)},
		Space:  message.NewDataspace(dims),
		Type:   message.NewInteger(2, false),
	}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	checkSelections(t, l)
}

// chunkedFile stores ramp(dims) as deflated chunks indexed by a v1
// B-tree, leaving the chunk at origin skip unwritten.
func chunkedFile(t *testing.T, chunk []uint64, skip []uint64) ([]byte, *message.DataLayout, *message.FilterPipeline) {
	t.Helper()
	cfg := binary.DefaultConfig()
	msg := &message.FilterPipeline{Filters: []message.FilterInfo{
		{ID: message.FilterShuffle, ClientData: []uint32{2}},
		{ID: message.FilterDeflate, ClientData: []uint32{6}},
	}}
	p, err := filter.NewPipeline(msg, 2)
	if err != nil {
		t.Fatal(err)
	}

	data := ramp(dims)
	file := make([]byte, 64)
	var entries []btree.ChunkEntry
	grid := make([]uint64, len(dims))
	for d := range grid {
		grid[d] = (dims[d] + chunk[d] - 1) / chunk[d]
	}
	_ = odometer(grid, func(idx []uint64) error {
		at := make([]uint64, len(idx))
		for d := range idx {
			at[d] = idx[d] * chunk[d]
		}
		if skip != nil && originKey(at) == originKey(skip) {
			return nil
		}
		enc, err := p.Encode(ExtractChunk(data, dims, at, chunk, 2))
		if err != nil {
			t.Fatal(err)
		}
		entries = append(entries, btree.ChunkEntry{Offset: at, Size: uint32(len(enc)), Address: uint64(len(file))})
		file = append(file, enc...)
		return nil
	})

	nodes, root, err := btree.EncodeChunkTree(cfg, entries, chunk, uint64(len(file)))
	if err != nil {
		t.Fatal(err)
	}
	file = append(file, nodes...)

	c32 := make([]uint32, len(chunk))
	for i, v := range chunk {
		c32[i] = uint32(v)
	}
	return file, message.NewChunkedLayout(c32, 2, root), msg
}

func TestChunkedBTree(t *testing.T) {
	for _, cache := range []int{0, 4} {
		file, lm, pm := chunkedFile(t, []uint64{2, 8, 16}, nil)
		r := binary.NewReader(bytes.NewReader(file), binary.DefaultConfig())
		l, err := New(r, Dataset{Layout: lm, Space: message.NewDataspace(dims), Type: message.NewInteger(2, false), Pipeline: pm},
			Options{CacheChunks: cache})
		if err != nil {
			t.Fatal(err)
		}
		checkSelections(t, l)
	}
}

func TestChunkedMissingChunkIsZero(t *testing.T) {
	chunk := []uint64{1, 37, 41}
	file, lm, pm := chunkedFile(t, chunk, []uint64{3, 0, 0})
	r := binary.NewReader(bytes.NewReader(file), binary.DefaultConfig())
	l, err := New(r, Dataset{Layout: lm, Space: message.NewDataspace(dims), Type: message.NewInteger(2, false), Pipeline: pm}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	got, err := l.ReadSlice([]uint64{3, 0, 0}, []uint64{1, 37, 41})
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, make([]byte, len(got))) {
		t.Error("unwritten chunk did not read as zeros")
	}
}

func TestChunkedImplicit(t *testing.T) {
	chunk := []uint64{5, 20, 20}
	data := ramp(dims)
	file := make([]byte, 8)
	_ = odometer([]uint64{1, 2, 3}, func(idx []uint64) error {
		at := []uint64{idx[0] * 5, idx[1] * 20, idx[2] * 20}
		file = append(file, ExtractChunk(data, dims, at, chunk, 2)...)
		return nil
	})
	lm := &message.DataLayout{Version: 4, Class: message.LayoutChunked,
		ChunkDims: []uint32{5, 20, 20}, ElementSize: 2, Index: message.ChunkIndexImplicit, IndexAddr: 8}
	r := binary.NewReader(bytes.NewReader(file), binary.DefaultConfig())
	l, err := New(r, Dataset{Layout: lm, Space: message.NewDataspace(dims), Type: message.NewInteger(2, false)}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	checkSelections(t, l)
}

func TestChunkedSingle(t *testing.T) {
	enc, err := filter.New(message.FilterInfo{ID: message.FilterZstd}, 2)
	if err != nil {
		t.Fatal(err)
	}
	packed, err := enc.Encode(ramp(dims))
	if err != nil {
		t.Fatal(err)
	}
	file := append(make([]byte, 16), packed...)
	lm := &message.DataLayout{Version: 4, Class: message.LayoutChunked,
		ChunkDims: []uint32{5, 37, 41}, ElementSize: 2, Index: message.ChunkIndexSingle,
		IndexAddr: 16, FilteredSize: uint64(len(packed))}
	r := binary.NewReader(bytes.NewReader(file), binary.DefaultConfig())
	l, err := New(r, Dataset{Layout: lm, Space: message.NewDataspace(dims), Type: message.NewInteger(2, false),
		Pipeline: &message.FilterPipeline{Filters: []message.FilterInfo{{ID: message.FilterZstd}}}}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	checkSelections(t, l)
}

func TestUnsupported(t *testing.T) {
	space := message.NewDataspace(dims)
	typ := message.NewInteger(2, false)

	lm := &message.DataLayout{Version: 4, Class: message.LayoutChunked,
		ChunkDims: []uint32{1, 1, 1}, Index: message.ChunkIndexFixedArray}
	if _, err := New(nil, Dataset{Layout: lm, Space: space, Type: typ}, Options{}); !errors.Is(err, ErrUnsupported) {
		t.Errorf("fixed array index: err = %v, want ErrUnsupported", err)
	}

	lm = message.NewChunkedLayout([]uint32{1, 1, 1}, 2, 0)
	pm := &message.FilterPipeline{Filters: []message.FilterInfo{{ID: message.FilterSZIP}}}
	_, err := New(nil, Dataset{Layout: lm, Space: space, Type: typ, Pipeline: pm}, Options{})
	var unsupported *filter.UnsupportedError
	if !errors.As(err, &unsupported) {
		t.Errorf("szip pipeline: err = %v, want UnsupportedError", err)
	}
}

func TestOutOfRange(t *testing.T) {
	l, err := New(nil, Dataset{
		Layout: &message.DataLayout{Class: message.LayoutCompact, CompactData: ramp(dims)},
		Space:  message.NewDataspace(dims),
		Type:   message.NewInteger(2, false),
	}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := l.ReadSlice([]uint64{0, 0, 40}, []uint64{1, 1, 2}); err == nil {
		t.Error("expected out of range error")
	}
	if _, err := l.ReadSlice([]uint64{0, 0}, []uint64{1, 1}); err == nil {
		t.Error("expected rank error")
	}
}
