package message

import (
	"encoding/binary"
	"fmt"

	binpkg "github.com/robert-malhotra/go-imaris/internal/binary"
)

// DatatypeClass is the HDF5 datatype class.
type DatatypeClass uint8

const (
	ClassFixedPoint DatatypeClass = 0
	ClassFloatPoint DatatypeClass = 1
	ClassTime       DatatypeClass = 2
	ClassString     DatatypeClass = 3
	ClassBitfield   DatatypeClass = 4
	ClassOpaque     DatatypeClass = 5
	ClassCompound   DatatypeClass = 6
	ClassReference  DatatypeClass = 7
	ClassEnum       DatatypeClass = 8
	ClassVarLen     DatatypeClass = 9
	ClassArray      DatatypeClass = 10
)

var classNames = [...]string{
	"integer", "float", "time", "string", "bitfield", "opaque",
	"compound", "reference", "enum", "variable-length", "array",
}

func (c DatatypeClass) String() string {
	if int(c) < len(classNames) {
		return classNames[c]
	}
	return fmt.Sprintf("class %d", uint8(c))
}

// Datatype describes element encoding (type 0x0003). Only the atomic
// numeric and fixed-length string classes are decoded in detail; other
// classes keep their class and size so callers can report them.
type Datatype struct {
	Class     DatatypeClass
	Version   uint8
	ClassBits uint32
	Size      uint32

	BigEndian bool
	Signed    bool
}

func (m *Datatype) Type() Type { return TypeDatatype }

// NewInteger returns a little-endian integer type of size bytes.
func NewInteger(size uint32, signed bool) *Datatype {
	dt := &Datatype{Class: ClassFixedPoint, Version: 1, Size: size, Signed: signed}
	if signed {
		dt.ClassBits = 0x08
	}
	return dt
}

// NewFloat returns a little-endian IEEE float type of 4 or 8 bytes.
func NewFloat(size uint32) *Datatype {
	// mantissa normalization "implied" and the sign bit position
	bits := uint32(0x20) | (size*8-1)<<8
	return &Datatype{Class: ClassFloatPoint, Version: 1, Size: size, ClassBits: bits, Signed: true}
}

// NewString returns a null-terminated ASCII fixed-length string type.
func NewString(size uint32) *Datatype {
	return &Datatype{Class: ClassString, Version: 1, Size: size}
}

func (m *Datatype) String() string {
	switch m.Class {
	case ClassFixedPoint:
		if m.Signed {
			return fmt.Sprintf("int%d", m.Size*8)
		}
		return fmt.Sprintf("uint%d", m.Size*8)
	case ClassFloatPoint:
		return fmt.Sprintf("float%d", m.Size*8)
	case ClassString:
		return fmt.Sprintf("string[%d]", m.Size)
	}
	return fmt.Sprintf("%s[%d]", m.Class, m.Size)
}

func parseDatatype(data []byte) (*Datatype, error) {
	if len(data) < 8 {
		return nil, errTruncated
	}
	dt := &Datatype{
		Class:     DatatypeClass(data[0] & 0x0F),
		Version:   data[0] >> 4,
		ClassBits: uint32(data[1]) | uint32(data[2])<<8 | uint32(data[3])<<16,
		Size:      binary.LittleEndian.Uint32(data[4:8]),
	}
	switch dt.Class {
	case ClassFixedPoint, ClassBitfield, ClassEnum:
		dt.BigEndian = dt.ClassBits&0x01 != 0
		dt.Signed = dt.ClassBits&0x08 != 0
	case ClassFloatPoint:
		dt.BigEndian = dt.ClassBits&0x01 != 0
		dt.Signed = true
		if dt.ClassBits&0x40 != 0 {
			return nil, fmt.Errorf("VAX float byte order is not supported")
		}
	}
	return dt, nil
}

// Encode writes the datatype with its class properties.
func (m *Datatype) Encode(w *binpkg.Writer) {
	w.Uint8(uint8(m.Class) | m.Version<<4)
	w.Uint8(uint8(m.ClassBits))
	w.Uint8(uint8(m.ClassBits >> 8))
	w.Uint8(uint8(m.ClassBits >> 16))
	w.Uint32(m.Size)

	switch m.Class {
	case ClassFixedPoint:
		w.Uint16(0)
		w.Uint16(uint16(m.Size * 8))
	case ClassFloatPoint:
		w.Uint16(0)
		w.Uint16(uint16(m.Size * 8))
		if m.Size == 4 {
			w.Write([]byte{23, 8, 0, 23})
			w.Uint32(127)
		} else {
			w.Write([]byte{52, 11, 0, 52})
			w.Uint32(1023)
		}
	}
}
