package message

import (
	"encoding/binary"
	"fmt"

	binpkg "github.com/robert-malhotra/go-imaris/internal/binary"
)

// LayoutClass is the storage class of a dataset.
type LayoutClass uint8

const (
	LayoutCompact    LayoutClass = 0
	LayoutContiguous LayoutClass = 1
	LayoutChunked    LayoutClass = 2
	LayoutVirtual    LayoutClass = 3
)

// ChunkIndex identifies how chunk addresses are found.
type ChunkIndex uint8

// Version 4 layouts name their index; version 3 always uses a v1 B-tree.
const (
	ChunkIndexBTreeV1         ChunkIndex = 0
	ChunkIndexSingle          ChunkIndex = 1
	ChunkIndexImplicit        ChunkIndex = 2
	ChunkIndexFixedArray      ChunkIndex = 3
	ChunkIndexExtensibleArray ChunkIndex = 4
	ChunkIndexBTreeV2         ChunkIndex = 5
)

func (c ChunkIndex) String() string {
	switch c {
	case ChunkIndexBTreeV1:
		return "v1 b-tree"
	case ChunkIndexSingle:
		return "single chunk"
	case ChunkIndexImplicit:
		return "implicit"
	case ChunkIndexFixedArray:
		return "fixed array"
	case ChunkIndexExtensibleArray:
		return "extensible array"
	case ChunkIndexBTreeV2:
		return "v2 b-tree"
	}
	return fmt.Sprintf("chunk index %d", uint8(c))
}

// DataLayout describes where dataset bytes live (type 0x0008).
type DataLayout struct {
	Version uint8
	Class   LayoutClass

	CompactData []byte

	// Contiguous storage.
	Address uint64
	Size    uint64

	// Chunked storage. ChunkDims has one entry per dataspace dimension;
	// the trailing element-size dimension stored on disk is in ElementSize.
	ChunkDims   []uint32
	ElementSize uint32
	Index       ChunkIndex
	IndexAddr   uint64

	// Single-chunk index with filters.
	FilteredSize uint64
	FilterMask   uint32
}

func (m *DataLayout) Type() Type { return TypeDataLayout }

func parseDataLayout(data []byte, r *binpkg.Reader) (*DataLayout, error) {
	if len(data) < 2 {
		return nil, errTruncated
	}
	l := &DataLayout{Version: data[0], Class: LayoutClass(data[1])}
	if l.Version != 3 && l.Version != 4 {
		return nil, errVersion("data layout", l.Version)
	}

	pos := 2
	need := func(n int) error {
		if pos+n > len(data) {
			return errTruncated
		}
		return nil
	}
	o, ln := r.OffsetSize(), r.LengthSize()

	switch l.Class {
	case LayoutCompact:
		if err := need(2); err != nil {
			return nil, err
		}
		n := int(binary.LittleEndian.Uint16(data[pos:]))
		pos += 2
		if err := need(n); err != nil {
			return nil, err
		}
		l.CompactData = append([]byte(nil), data[pos:pos+n]...)

	case LayoutContiguous:
		if err := need(o + ln); err != nil {
			return nil, err
		}
		l.Address = uintAt(data, pos, o, r)
		l.Size = uintAt(data, pos+o, ln, r)

	case LayoutChunked:
		if l.Version == 3 {
			return parseChunkedV3(data, r, l)
		}
		return parseChunkedV4(data, r, l)

	default:
		return nil, &UnsupportedError{What: "layout class", Version: uint8(l.Class)}
	}
	return l, nil
}

/*
Version 3 chunked:

	2  dimensionality (rank + 1)
	3  v1 B-tree address
	.. dimensionality 4-byte chunk sizes, the last being the element size
*/
func parseChunkedV3(data []byte, r *binpkg.Reader, l *DataLayout) (*DataLayout, error) {
	o := r.OffsetSize()
	if len(data) < 3+o {
		return nil, errTruncated
	}
	ndims := int(data[2])
	l.Index = ChunkIndexBTreeV1
	l.IndexAddr = uintAt(data, 3, o, r)

	pos := 3 + o
	if pos+4*ndims > len(data) || ndims < 1 {
		return nil, errTruncated
	}
	dims := make([]uint32, ndims)
	for i := range dims {
		dims[i] = binary.LittleEndian.Uint32(data[pos:])
		pos += 4
	}
	l.ChunkDims = dims[:ndims-1]
	l.ElementSize = dims[ndims-1]
	return l, nil
}

/*
Version 4 chunked:

	2  flags (bit 1: single chunk is filtered)
	3  dimensionality (rank + 1)
	4  width of each dimension size
	.. dimension sizes
	.. index type and index-specific parameters
	.. index address
*/
func parseChunkedV4(data []byte, r *binpkg.Reader, l *DataLayout) (*DataLayout, error) {
	if len(data) < 5 {
		return nil, errTruncated
	}
	flags := data[2]
	ndims := int(data[3])
	width := int(data[4])
	pos := 5
	if ndims < 1 || pos+ndims*width+1 > len(data) {
		return nil, errTruncated
	}
	dims := make([]uint32, ndims)
	for i := range dims {
		dims[i] = uint32(uintAt(data, pos, width, r))
		pos += width
	}
	l.ChunkDims = dims[:ndims-1]
	l.ElementSize = dims[ndims-1]

	l.Index = ChunkIndex(data[pos])
	pos++
	switch l.Index {
	case ChunkIndexSingle:
		if flags&0x02 != 0 {
			ln := r.LengthSize()
			if pos+ln+4 > len(data) {
				return nil, errTruncated
			}
			l.FilteredSize = uintAt(data, pos, ln, r)
			l.FilterMask = binary.LittleEndian.Uint32(data[pos+ln:])
			pos += ln + 4
		}
	case ChunkIndexImplicit:
	case ChunkIndexFixedArray:
		pos++
	case ChunkIndexExtensibleArray:
		pos += 5
	case ChunkIndexBTreeV2:
		pos += 6
	default:
		return nil, &UnsupportedError{What: "chunk index", Version: uint8(l.Index)}
	}

	o := r.OffsetSize()
	if pos+o > len(data) {
		return nil, errTruncated
	}
	l.IndexAddr = uintAt(data, pos, o, r)
	return l, nil
}

// NewContiguousLayout describes size bytes stored at addr.
func NewContiguousLayout(addr, size uint64) *DataLayout {
	return &DataLayout{Version: 3, Class: LayoutContiguous, Address: addr, Size: size}
}

// NewChunkedLayout describes chunks indexed by the v1 B-tree at addr.
func NewChunkedLayout(chunk []uint32, elemSize uint32, addr uint64) *DataLayout {
	return &DataLayout{
		Version:     3,
		Class:       LayoutChunked,
		ChunkDims:   chunk,
		ElementSize: elemSize,
		Index:       ChunkIndexBTreeV1,
		IndexAddr:   addr,
	}
}

// Encode writes a version 3 contiguous or chunked layout.
func (m *DataLayout) Encode(w *binpkg.Writer) {
	w.Uint8(3)
	w.Uint8(uint8(m.Class))
	switch m.Class {
	case LayoutContiguous:
		w.Offset(m.Address)
		w.Length(m.Size)
	case LayoutChunked:
		w.Uint8(uint8(len(m.ChunkDims) + 1))
		w.Offset(m.IndexAddr)
		for _, d := range m.ChunkDims {
			w.Uint32(d)
		}
		w.Uint32(m.ElementSize)
	}
}
