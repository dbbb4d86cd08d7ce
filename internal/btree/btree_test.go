package btree

import (
	"bytes"
	"testing"

	"github.com/robert-malhotra/go-imaris/internal/binary"
	"github.com/robert-malhotra/go-imaris/internal/heap"
)

func gridEntries(ny, nx int, chunk []uint64) []ChunkEntry {
	var out []ChunkEntry
	addr := uint64(1 << 20)
	// reverse order to exercise sorting
	for y := ny - 1; y >= 0; y-- {
		for x := nx - 1; x >= 0; x-- {
			out = append(out, ChunkEntry{
				Offset:  []uint64{uint64(y) * chunk[0], uint64(x) * chunk[1]},
				Size:    uint32(100 + y*nx + x),
				Address: addr,
			})
			addr += 4096
		}
	}
	return out
}

func TestChunkTreeRoundTrip(t *testing.T) {
	cfg := binary.DefaultConfig()
	chunk := []uint64{16, 32}

	tests := []struct {
		name   string
		ny, nx int
	}{
		{"single", 1, 1},
		{"one leaf", 4, 5},
		{"full leaf", 8, 8},
		{"two levels", 10, 15},
		{"three levels", 70, 60},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries := gridEntries(tt.ny, tt.nx, chunk)
			const base = 512
			nodes, root, err := EncodeChunkTree(cfg, entries, chunk, base)
			if err != nil {
				t.Fatalf("EncodeChunkTree: %v", err)
			}
			if len(nodes)%NodeSize(cfg, 2) != 0 {
				t.Fatalf("encoded %d bytes, not a multiple of node size %d", len(nodes), NodeSize(cfg, 2))
			}
			file := append(make([]byte, base), nodes...)

			r := binary.NewReader(bytes.NewReader(file), cfg)
			idx, err := ReadChunkIndex(r, root, 2)
			if err != nil {
				t.Fatalf("ReadChunkIndex: %v", err)
			}
			if idx.Len() != len(entries) {
				t.Fatalf("Len = %d, want %d", idx.Len(), len(entries))
			}
			for _, want := range entries {
				got, ok := idx.Lookup(want.Offset)
				if !ok {
					t.Fatalf("chunk %v missing", want.Offset)
				}
				if got.Address != want.Address || got.Size != want.Size {
					t.Errorf("chunk %v = {addr %d size %d}, want {addr %d size %d}",
						want.Offset, got.Address, got.Size, want.Address, want.Size)
				}
			}
			if _, ok := idx.Lookup([]uint64{uint64(tt.ny) * chunk[0], 0}); ok {
				t.Error("lookup past the last chunk succeeded")
			}
		})
	}
}

func TestEncodeChunkTreeRejectsRankMismatch(t *testing.T) {
	_, _, err := EncodeChunkTree(binary.DefaultConfig(),
		[]ChunkEntry{{Offset: []uint64{0}}}, []uint64{4, 4}, 0)
	if err == nil {
		t.Fatal("expected error")
	}
}

// buildGroup writes a local heap, one symbol node and a leaf group node.
func buildGroup(t *testing.T) ([]byte, uint64, uint64) {
	t.Helper()
	cfg := binary.DefaultConfig()
	w := binary.NewWriter(cfg)

	names := []byte("\x00DataSet\x00Scene\x00/DataSet\x00")
	const heapAddr, dataAddr = 0, 32
	w.Write([]byte("HEAP"))
	w.Uint8(0)
	w.Zero(3)
	w.Length(uint64(len(names)))
	w.Length(^uint64(0))
	w.Offset(dataAddr)
	w.Write(names)
	w.Pad(8)

	snodAddr := uint64(w.Len())
	w.Write(snodSignature)
	w.Uint8(1)
	w.Zero(1)
	w.Uint16(2)
	// hard link "DataSet"
	w.Offset(1)
	w.Offset(0x800)
	w.Uint32(cacheObject)
	w.Zero(4 + 16)
	// soft link "Scene" -> "/DataSet"
	w.Offset(9)
	w.Undefined()
	w.Uint32(cacheSoftLink)
	w.Zero(4)
	w.Uint32(15)
	w.Zero(12)

	treeAddr := uint64(w.Len())
	w.Write(treeSignature)
	w.Uint8(nodeGroup)
	w.Uint8(0)
	w.Uint16(1)
	w.Undefined()
	w.Undefined()
	w.Length(0)
	w.Offset(snodAddr)
	w.Length(9)
	return w.Bytes(), heapAddr, treeAddr
}

func TestReadGroup(t *testing.T) {
	file, heapAddr, treeAddr := buildGroup(t)
	r := binary.NewReader(bytes.NewReader(file), binary.DefaultConfig())

	names, err := heap.ReadLocal(r, heapAddr)
	if err != nil {
		t.Fatalf("ReadLocal: %v", err)
	}
	entries, err := ReadGroup(r, treeAddr, names)
	if err != nil {
		t.Fatalf("ReadGroup: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].Name != "DataSet" || entries[0].Address != 0x800 || entries[0].IsSoftLink() {
		t.Errorf("entry 0 = %+v", entries[0])
	}
	if entries[1].Name != "Scene" || entries[1].Target != "/DataSet" {
		t.Errorf("entry 1 = %+v", entries[1])
	}
}

func TestReadGroupWrongNodeType(t *testing.T) {
	file, _, treeAddr := buildGroup(t)
	r := binary.NewReader(bytes.NewReader(file), binary.DefaultConfig())
	if _, err := ReadChunkIndex(r, treeAddr, 2); err == nil {
		t.Fatal("reading a group node as a chunk node succeeded")
	}
}
