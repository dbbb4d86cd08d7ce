// Package btree reads and writes version 1 HDF5 B-trees: the group trees
// that index symbol table nodes and the chunk trees that index the chunks of
// a dataset.
package btree

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/robert-malhotra/go-imaris/internal/binary"
)

var (
	treeSignature = []byte("TREE")
	snodSignature = []byte("SNOD")
)

// Node types stored in the v1 node header.
const (
	nodeGroup uint8 = 0
	nodeChunk uint8 = 1
)

// maxDepth bounds recursion through corrupt or cyclic trees.
const maxDepth = 32

// ErrInvalidNode is returned for malformed nodes.
var ErrInvalidNode = errors.New("invalid b-tree node")

type nodeHeader struct {
	typ     uint8
	level   uint8
	entries uint16
}

func readNodeHeader(r *binary.Reader, want uint8) (nodeHeader, error) {
	var h nodeHeader
	sig, err := r.ReadBytes(4)
	if err != nil {
		return h, err
	}
	if !bytes.Equal(sig, treeSignature) {
		return h, fmt.Errorf("%w: signature %q at %#x", ErrInvalidNode, sig, r.Pos()-4)
	}
	if h.typ, err = r.ReadUint8(); err != nil {
		return h, err
	}
	if h.typ != want {
		return h, fmt.Errorf("%w: node type %d, want %d", ErrInvalidNode, h.typ, want)
	}
	if h.level, err = r.ReadUint8(); err != nil {
		return h, err
	}
	if h.entries, err = r.ReadUint16(); err != nil {
		return h, err
	}
	// siblings
	r.Skip(int64(2 * r.OffsetSize()))
	return h, nil
}
