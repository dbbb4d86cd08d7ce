package btree

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/robert-malhotra/go-imaris/internal/binary"
)

// ChunkEntry locates one stored chunk.
type ChunkEntry struct {
	// Offset is the element coordinate of the chunk origin, one value per
	// dataset dimension.
	Offset []uint64
	// FilterMask has bit i set when pipeline filter i was skipped.
	FilterMask uint32
	// Size is the stored (possibly compressed) byte count.
	Size    uint32
	Address uint64
}

// ChunkIndex maps chunk origins to their entries.
type ChunkIndex struct {
	rank    int
	entries map[string]ChunkEntry
}

// NewChunkIndex builds an index over entries for a dataset of the given rank.
func NewChunkIndex(rank int, entries []ChunkEntry) *ChunkIndex {
	idx := &ChunkIndex{rank: rank, entries: make(map[string]ChunkEntry, len(entries))}
	for _, e := range entries {
		idx.entries[key(e.Offset)] = e
	}
	return idx
}

// Len reports the number of stored chunks.
func (idx *ChunkIndex) Len() int { return len(idx.entries) }

// Lookup returns the chunk whose origin is offset. Unwritten chunks report
// false; callers fill them with the dataset's fill value.
func (idx *ChunkIndex) Lookup(offset []uint64) (ChunkEntry, bool) {
	e, ok := idx.entries[key(offset)]
	return e, ok
}

func key(offset []uint64) string {
	var b strings.Builder
	for i, v := range offset {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatUint(v, 10))
	}
	return b.String()
}

// ReadChunkIndex walks the chunk B-tree rooted at address. rank is the
// dataset rank; keys carry one extra offset for the element dimension.
func ReadChunkIndex(r *binary.Reader, address uint64, rank int) (*ChunkIndex, error) {
	var entries []ChunkEntry
	if err := walkChunkNode(r, address, rank, 0, &entries); err != nil {
		return nil, err
	}
	return NewChunkIndex(rank, entries), nil
}

func walkChunkNode(r *binary.Reader, address uint64, rank, depth int, out *[]ChunkEntry) error {
	if depth > maxDepth {
		return fmt.Errorf("%w: chunk tree deeper than %d", ErrInvalidNode, maxDepth)
	}
	nr := r.At(int64(address))
	h, err := readNodeHeader(nr, nodeChunk)
	if err != nil {
		return fmt.Errorf("chunk node at %#x: %w", address, err)
	}

	for i := 0; i < int(h.entries); i++ {
		e, err := readChunkKey(nr, rank)
		if err != nil {
			return err
		}
		child, err := nr.ReadOffset()
		if err != nil {
			return err
		}
		if h.level > 0 {
			if err := walkChunkNode(r, child, rank, depth+1, out); err != nil {
				return err
			}
			continue
		}
		e.Address = child
		*out = append(*out, e)
	}
	return nil
}

func readChunkKey(r *binary.Reader, rank int) (ChunkEntry, error) {
	var e ChunkEntry
	var err error
	if e.Size, err = r.ReadUint32(); err != nil {
		return e, err
	}
	if e.FilterMask, err = r.ReadUint32(); err != nil {
		return e, err
	}
	e.Offset = make([]uint64, rank)
	for d := 0; d < rank; d++ {
		if e.Offset[d], err = r.ReadUint64(); err != nil {
			return e, err
		}
	}
	// element dimension, always zero
	r.Skip(8)
	return e, nil
}
