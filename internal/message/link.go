package message

import (
	binpkg "github.com/robert-malhotra/go-imaris/internal/binary"
)

// LinkType distinguishes hard, soft and external links.
type LinkType uint8

const (
	LinkHard     LinkType = 0
	LinkSoft     LinkType = 1
	LinkExternal LinkType = 64
)

// Link is a named group member stored in a compact group (type 0x0006).
type Link struct {
	Name     string
	LinkType LinkType
	Address  uint64
	Target   string
}

func (m *Link) Type() Type { return TypeLink }

/*
Layout:

	0  version (1)
	1  flags: bits 0-1 name length width, bit 2 creation order,
	   bit 3 link type present, bit 4 charset present
	.. optional link type, creation order (8), charset
	.. name length, name
	.. hard: object address; soft: 2-byte length and path
*/
func parseLink(data []byte, r *binpkg.Reader) (*Link, error) {
	if len(data) < 2 {
		return nil, errTruncated
	}
	if data[0] != 1 {
		return nil, errVersion("link", data[0])
	}
	flags := data[1]
	pos := 2
	link := &Link{}

	need := func(n int) bool { return pos+n <= len(data) }

	if flags&0x08 != 0 {
		if !need(1) {
			return nil, errTruncated
		}
		link.LinkType = LinkType(data[pos])
		pos++
	}
	if flags&0x04 != 0 {
		pos += 8
	}
	if flags&0x10 != 0 {
		pos++
	}

	width := 1 << (flags & 0x03)
	if !need(width) {
		return nil, errTruncated
	}
	nameLen := int(uintAt(data, pos, width, r))
	pos += width
	if !need(nameLen) {
		return nil, errTruncated
	}
	link.Name = string(data[pos : pos+nameLen])
	pos += nameLen

	switch link.LinkType {
	case LinkHard:
		if !need(r.OffsetSize()) {
			return nil, errTruncated
		}
		link.Address = uintAt(data, pos, r.OffsetSize(), r)
	case LinkSoft:
		if !need(2) {
			return nil, errTruncated
		}
		n := int(uintAt(data, pos, 2, r))
		pos += 2
		if !need(n) {
			return nil, errTruncated
		}
		link.Target = string(data[pos : pos+n])
	}
	return link, nil
}

// Encode writes a hard link with a one-byte name length.
func (m *Link) Encode(w *binpkg.Writer) {
	w.Uint8(1)
	if len(m.Name) > 255 {
		w.Uint8(0x01)
		w.Uint16(uint16(len(m.Name)))
	} else {
		w.Uint8(0x00)
		w.Uint8(uint8(len(m.Name)))
	}
	w.Write([]byte(m.Name))
	w.Offset(m.Address)
}

// SymbolTable points at the v1 B-tree and local heap of an old-style
// group (type 0x0011).
type SymbolTable struct {
	BTreeAddress     uint64
	LocalHeapAddress uint64
}

func (m *SymbolTable) Type() Type { return TypeSymbolTable }

func parseSymbolTable(data []byte, r *binpkg.Reader) (*SymbolTable, error) {
	o := r.OffsetSize()
	if len(data) < 2*o {
		return nil, errTruncated
	}
	return &SymbolTable{
		BTreeAddress:     uintAt(data, 0, o, r),
		LocalHeapAddress: uintAt(data, o, o, r),
	}, nil
}

// LinkInfo marks a new-style group. Groups written here keep their links
// in the header, so HeapAddress is undefined; a defined address means the
// links live in a fractal heap.
type LinkInfo struct {
	HeapAddress uint64
	dense       bool
}

func (m *LinkInfo) Type() Type { return TypeLinkInfo }

// Dense reports whether links are stored outside the object header.
func (m *LinkInfo) Dense() bool { return m.dense }

func parseLinkInfo(data []byte, r *binpkg.Reader) (*LinkInfo, error) {
	if len(data) < 2 {
		return nil, errTruncated
	}
	if data[0] != 0 {
		return nil, errVersion("link info", data[0])
	}
	pos := 2
	if data[1]&0x01 != 0 {
		pos += 8
	}
	o := r.OffsetSize()
	if len(data) < pos+o {
		return nil, errTruncated
	}
	m := &LinkInfo{HeapAddress: uintAt(data, pos, o, r)}
	m.dense = !r.IsUndefined(m.HeapAddress)
	return m, nil
}

func (m *LinkInfo) Encode(w *binpkg.Writer) {
	w.Uint8(0)
	w.Uint8(0)
	w.Undefined() // fractal heap
	w.Undefined() // name index b-tree
}

type GroupInfo struct{}

func (m *GroupInfo) Type() Type { return TypeGroupInfo }

func (m *GroupInfo) Encode(w *binpkg.Writer) {
	w.Uint8(0)
	w.Uint8(0)
}

// FillValue is written for datasets with allocation time "incremental"
// and fill time "if set", and no fill value defined.
type FillValue struct{}

func (m *FillValue) Type() Type { return TypeFillValue }

func (m *FillValue) Encode(w *binpkg.Writer) {
	w.Uint8(3)
	w.Uint8(0x03 | 0x02<<2)
}
