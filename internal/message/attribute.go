package message

import (
	"encoding/binary"

	binpkg "github.com/robert-malhotra/go-imaris/internal/binary"
)

// Attribute is a small named value attached to an object (type 0x000C).
type Attribute struct {
	Name      string
	Datatype  *Datatype
	Dataspace *Dataspace
	Data      []byte
}

func (m *Attribute) Type() Type { return TypeAttribute }

/*
Layout (all versions):

	0  version
	1  reserved (v1) or flags (v2, v3)
	2  name size, datatype size, dataspace size (2 bytes each)
	8  v3 only: name character set

Version 1 pads the name, datatype and dataspace to 8 bytes each; later
versions pack them. The raw value follows.
*/
func parseAttribute(data []byte, r *binpkg.Reader) (*Attribute, error) {
	if len(data) < 8 {
		return nil, errTruncated
	}
	version := data[0]
	if version < 1 || version > 3 {
		return nil, errVersion("attribute", version)
	}
	if version >= 2 && data[1] != 0 {
		// shared datatype or dataspace
		return nil, &UnsupportedError{What: "shared attribute component", Version: data[1]}
	}
	nameSize := int(binary.LittleEndian.Uint16(data[2:4]))
	dtSize := int(binary.LittleEndian.Uint16(data[4:6]))
	dsSize := int(binary.LittleEndian.Uint16(data[6:8]))

	pos := 8
	if version == 3 {
		pos = 9
	}
	field := func(n int) ([]byte, error) {
		if pos+n > len(data) {
			return nil, errTruncated
		}
		b := data[pos : pos+n]
		pos += n
		if version == 1 {
			pos = pad8(pos)
		}
		return b, nil
	}

	name, err := field(nameSize)
	if err != nil {
		return nil, err
	}
	dtRaw, err := field(dtSize)
	if err != nil {
		return nil, err
	}
	dsRaw, err := field(dsSize)
	if err != nil {
		return nil, err
	}

	attr := &Attribute{Name: cstring(name)}
	if attr.Datatype, err = parseDatatype(dtRaw); err != nil {
		return nil, err
	}
	if attr.Dataspace, err = parseDataspace(dsRaw, r); err != nil {
		return nil, err
	}
	if pos < len(data) {
		attr.Data = append([]byte(nil), data[pos:]...)
	}
	return attr, nil
}

// Encode writes a version 3 attribute message.
func (m *Attribute) Encode(w *binpkg.Writer) {
	dt := binpkg.NewWriter(w.Config())
	m.Datatype.Encode(dt)
	ds := binpkg.NewWriter(w.Config())
	m.Dataspace.Encode(ds)

	w.Uint8(3)
	w.Uint8(0)
	w.Uint16(uint16(len(m.Name) + 1))
	w.Uint16(uint16(dt.Len()))
	w.Uint16(uint16(ds.Len()))
	w.Uint8(0)
	w.Write([]byte(m.Name))
	w.Uint8(0)
	w.Write(dt.Bytes())
	w.Write(ds.Bytes())
	w.Write(m.Data)
}
