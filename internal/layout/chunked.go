package layout

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/robert-malhotra/go-imaris/internal/binary"
	"github.com/robert-malhotra/go-imaris/internal/btree"
	"github.com/robert-malhotra/go-imaris/internal/filter"
	"github.com/robert-malhotra/go-imaris/internal/message"
)

type chunked struct {
	geom     geometry
	r        *binary.Reader
	msg      *message.DataLayout
	chunk    []uint64
	pipeline *filter.Pipeline
	cache    *lru.Cache[string, []byte]

	once  sync.Once
	index *btree.ChunkIndex
	err   error
}

func newChunked(r *binary.Reader, g geometry, ds Dataset, opts Options) (*chunked, error) {
	msg := ds.Layout
	switch msg.Index {
	case message.ChunkIndexBTreeV1, message.ChunkIndexSingle, message.ChunkIndexImplicit:
	default:
		return nil, fmt.Errorf("%w: %s chunk index", ErrUnsupported, msg.Index)
	}
	if len(msg.ChunkDims) != len(g.dims) {
		return nil, fmt.Errorf("chunk rank %d, dataset rank %d", len(msg.ChunkDims), len(g.dims))
	}

	chunk := make([]uint64, len(msg.ChunkDims))
	for i, c := range msg.ChunkDims {
		if c == 0 {
			return nil, fmt.Errorf("chunk dimension %d is zero", i)
		}
		chunk[i] = uint64(c)
	}

	pipeline, err := filter.NewPipeline(ds.Pipeline, int(g.elem))
	if err != nil {
		return nil, err
	}

	c := &chunked{geom: g, r: r, msg: msg, chunk: chunk, pipeline: pipeline}
	if opts.CacheChunks > 0 {
		c.cache, err = lru.New[string, []byte](opts.CacheChunks)
		if err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *chunked) Class() message.LayoutClass { return message.LayoutChunked }

func (c *chunked) chunkBytes() uint64 { return product(c.chunk) * c.geom.elem }

func (c *chunked) loadIndex() (*btree.ChunkIndex, error) {
	c.once.Do(func() {
		if c.msg.Index != message.ChunkIndexBTreeV1 {
			return
		}
		if c.r.IsUndefined(c.msg.IndexAddr) {
			c.index = btree.NewChunkIndex(len(c.chunk), nil)
			return
		}
		c.index, c.err = btree.ReadChunkIndex(c.r, c.msg.IndexAddr, len(c.chunk))
	})
	return c.index, c.err
}

// locate finds the stored chunk with the given origin.
func (c *chunked) locate(origin []uint64) (btree.ChunkEntry, bool, error) {
	switch c.msg.Index {
	case message.ChunkIndexSingle:
		e := btree.ChunkEntry{Offset: origin, Address: c.msg.IndexAddr, FilterMask: c.msg.FilterMask}
		e.Size = uint32(c.chunkBytes())
		if c.msg.FilteredSize > 0 {
			e.Size = uint32(c.msg.FilteredSize)
		}
		return e, !c.r.IsUndefined(e.Address), nil

	case message.ChunkIndexImplicit:
		if c.r.IsUndefined(c.msg.IndexAddr) {
			return btree.ChunkEntry{}, false, nil
		}
		grid := make([]uint64, len(c.chunk))
		for d := range grid {
			grid[d] = (c.geom.dims[d] + c.chunk[d] - 1) / c.chunk[d]
		}
		strides := elementStrides(grid)
		var linear uint64
		for d := range origin {
			linear += origin[d] / c.chunk[d] * strides[d]
		}
		size := c.chunkBytes()
		return btree.ChunkEntry{
			Offset:  origin,
			Address: c.msg.IndexAddr + linear*size,
			Size:    uint32(size),
		}, true, nil
	}

	idx, err := c.loadIndex()
	if err != nil {
		return btree.ChunkEntry{}, false, err
	}
	e, ok := idx.Lookup(origin)
	return e, ok, nil
}

func (c *chunked) readChunk(origin []uint64) ([]byte, error) {
	var key string
	if c.cache != nil {
		key = originKey(origin)
		if b, ok := c.cache.Get(key); ok {
			return b, nil
		}
	}

	e, ok, err := c.locate(origin)
	if err != nil || !ok {
		return nil, err
	}
	raw, err := c.r.At(int64(e.Address)).ReadBytes(int(e.Size))
	if err != nil {
		return nil, fmt.Errorf("chunk %v at %#x: %w", origin, e.Address, err)
	}
	data, err := c.pipeline.Decode(raw, e.FilterMask)
	if err != nil {
		return nil, fmt.Errorf("chunk %v: %w", origin, err)
	}
	if uint64(len(data)) < c.chunkBytes() {
		return nil, fmt.Errorf("chunk %v decoded to %d bytes, want %d", origin, len(data), c.chunkBytes())
	}

	if c.cache != nil {
		c.cache.Add(key, data)
	}
	return data, nil
}

func (c *chunked) ReadSlice(start, count []uint64) ([]byte, error) {
	n, err := c.geom.check(start, count)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	if n == 0 {
		return out, nil
	}

	rank := len(c.chunk)
	first := make([]uint64, rank)
	span := make([]uint64, rank)
	for d := 0; d < rank; d++ {
		first[d] = start[d] / c.chunk[d]
		last := (start[d] + count[d] - 1) / c.chunk[d]
		span[d] = last - first[d] + 1
	}

	origin := make([]uint64, rank)
	srcAt := make([]uint64, rank)
	dstAt := make([]uint64, rank)
	box := make([]uint64, rank)
	err = odometer(span, func(idx []uint64) error {
		for d := 0; d < rank; d++ {
			origin[d] = (first[d] + idx[d]) * c.chunk[d]
			lo := max(origin[d], start[d])
			hi := min(origin[d]+c.chunk[d], start[d]+count[d])
			srcAt[d] = lo - origin[d]
			dstAt[d] = lo - start[d]
			box[d] = hi - lo
		}
		data, err := c.readChunk(origin)
		if err != nil {
			return err
		}
		if data == nil {
			// unallocated chunk reads as the zero fill value
			return nil
		}
		copyRegion(out, count, dstAt, data, c.chunk, srcAt, box, c.geom.elem)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func originKey(origin []uint64) string {
	var b strings.Builder
	for i, v := range origin {
		if i > 0 {
			b.WriteByte('/')
		}
		b.WriteString(strconv.FormatUint(v, 10))
	}
	return b.String()
}
