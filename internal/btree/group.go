package btree

import (
	"bytes"
	"fmt"

	"github.com/robert-malhotra/go-imaris/internal/binary"
	"github.com/robert-malhotra/go-imaris/internal/heap"
)

// Symbol table entry cache types.
const (
	cacheNone     uint32 = 0
	cacheObject   uint32 = 1
	cacheSoftLink uint32 = 2
)

// GroupEntry is one member of a symbol-table group.
type GroupEntry struct {
	Name    string
	Address uint64
	// Target is set for soft links, whose Address is meaningless.
	Target string
}

// IsSoftLink reports whether the entry is a soft link.
func (e GroupEntry) IsSoftLink() bool { return e.Target != "" }

// ReadGroup returns the members of the group whose B-tree is rooted at
// address, resolving names through the group's local heap.
func ReadGroup(r *binary.Reader, address uint64, names *heap.Local) ([]GroupEntry, error) {
	var out []GroupEntry
	if err := walkGroupNode(r, address, names, 0, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func walkGroupNode(r *binary.Reader, address uint64, names *heap.Local, depth int, out *[]GroupEntry) error {
	if depth > maxDepth {
		return fmt.Errorf("%w: group tree deeper than %d", ErrInvalidNode, maxDepth)
	}
	nr := r.At(int64(address))
	h, err := readNodeHeader(nr, nodeGroup)
	if err != nil {
		return fmt.Errorf("group node at %#x: %w", address, err)
	}

	for i := 0; i < int(h.entries); i++ {
		// group keys are heap offsets of the separating names
		nr.Skip(int64(nr.LengthSize()))
		child, err := nr.ReadOffset()
		if err != nil {
			return err
		}
		if h.level == 0 {
			err = readSymbolNode(r, child, names, out)
		} else {
			err = walkGroupNode(r, child, names, depth+1, out)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func readSymbolNode(r *binary.Reader, address uint64, names *heap.Local, out *[]GroupEntry) error {
	nr := r.At(int64(address))
	sig, err := nr.ReadBytes(4)
	if err != nil {
		return err
	}
	if !bytes.Equal(sig, snodSignature) {
		return fmt.Errorf("%w: symbol node signature %q at %#x", ErrInvalidNode, sig, address)
	}
	version, err := nr.ReadUint8()
	if err != nil {
		return err
	}
	if version != 1 {
		return fmt.Errorf("%w: symbol node version %d", ErrInvalidNode, version)
	}
	nr.Skip(1)
	count, err := nr.ReadUint16()
	if err != nil {
		return err
	}

	for i := 0; i < int(count); i++ {
		e, err := readSymbolEntry(nr, names)
		if err != nil {
			return fmt.Errorf("symbol %d at %#x: %w", i, address, err)
		}
		if e.Name != "" {
			*out = append(*out, e)
		}
	}
	return nil
}

func readSymbolEntry(r *binary.Reader, names *heap.Local) (GroupEntry, error) {
	var e GroupEntry
	nameOff, err := r.ReadOffset()
	if err != nil {
		return e, err
	}
	if e.Address, err = r.ReadOffset(); err != nil {
		return e, err
	}
	cache, err := r.ReadUint32()
	if err != nil {
		return e, err
	}
	r.Skip(4)
	scratch, err := r.ReadBytes(16)
	if err != nil {
		return e, err
	}
	if e.Name, err = names.String(nameOff); err != nil {
		return e, err
	}

	switch cache {
	case cacheNone, cacheObject:
	case cacheSoftLink:
		off := binary.DecodeUint(scratch[:4], r.ByteOrder())
		if e.Target, err = names.String(off); err != nil {
			return e, err
		}
		e.Address = 0
	default:
		return e, fmt.Errorf("%w: cache type %d", ErrInvalidNode, cache)
	}
	return e, nil
}
