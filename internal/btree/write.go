package btree

import (
	"fmt"
	"sort"

	"github.com/robert-malhotra/go-imaris/internal/binary"
)

// chunkK is the default chunk B-tree rank (entries per node = 2K).
const chunkK = 32

// chunkKey is a written node key with its upper bound.
type chunkKey struct {
	size   uint32
	mask   uint32
	offset []uint64
}

type treeItem struct {
	first chunkKey
	last  chunkKey
	child uint64
}

// NodeSize is the on-disk size of one chunk B-tree node for the given rank.
func NodeSize(cfg binary.Config, rank int) int {
	keySize := 8 + 8*(rank+1)
	return 8 + 2*cfg.OffsetSize + 2*chunkK*(keySize+cfg.OffsetSize) + keySize
}

// EncodeChunkTree lays out a chunk B-tree for entries starting at file
// address base. chunk holds the chunk dimensions and bounds the final key of
// each node. It returns the encoded nodes and the root address.
func EncodeChunkTree(cfg binary.Config, entries []ChunkEntry, chunk []uint64, base uint64) ([]byte, uint64, error) {
	if len(entries) == 0 {
		return nil, 0, fmt.Errorf("chunk tree: no entries")
	}
	rank := len(chunk)
	sorted := append([]ChunkEntry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return lessOffset(sorted[i].Offset, sorted[j].Offset) })

	items := make([]treeItem, len(sorted))
	for i, e := range sorted {
		if len(e.Offset) != rank {
			return nil, 0, fmt.Errorf("chunk tree: entry rank %d, want %d", len(e.Offset), rank)
		}
		end := make([]uint64, rank)
		for d := range end {
			end[d] = e.Offset[d] + chunk[d]
		}
		items[i] = treeItem{
			first: chunkKey{size: e.Size, mask: e.FilterMask, offset: e.Offset},
			last:  chunkKey{offset: end},
			child: e.Address,
		}
	}

	w := binary.NewWriter(cfg)
	nodeSize := uint64(NodeSize(cfg, rank))
	level := uint8(0)
	for {
		var parents []treeItem
		for start := 0; start < len(items); start += 2 * chunkK {
			end := min(start+2*chunkK, len(items))
			addr := base + uint64(w.Len())
			writeNode(w, level, items[start:end], int(nodeSize))
			parents = append(parents, treeItem{
				first: items[start].first,
				last:  items[end-1].last,
				child: addr,
			})
		}
		if len(parents) == 1 {
			return w.Bytes(), parents[0].child, nil
		}
		if level == 255 {
			return nil, 0, fmt.Errorf("chunk tree: too many levels")
		}
		items = parents
		level++
	}
}

func writeNode(w *binary.Writer, level uint8, items []treeItem, size int) {
	start := w.Len()
	w.Write(treeSignature)
	w.Uint8(nodeChunk)
	w.Uint8(level)
	w.Uint16(uint16(len(items)))
	w.Undefined()
	w.Undefined()
	for _, it := range items {
		writeKey(w, it.first)
		w.Offset(it.child)
	}
	writeKey(w, items[len(items)-1].last)
	w.Zero(size - (w.Len() - start))
}

func writeKey(w *binary.Writer, k chunkKey) {
	w.Uint32(k.size)
	w.Uint32(k.mask)
	for _, v := range k.offset {
		w.Uint64(v)
	}
	w.Uint64(0)
}

func lessOffset(a, b []uint64) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
