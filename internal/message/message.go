// Package message decodes and encodes the HDF5 object header messages that
// describe groups and datasets: dataspace, datatype, layout, filters,
// attributes, links and symbol tables.
package message

import (
	"fmt"

	binpkg "github.com/robert-malhotra/go-imaris/internal/binary"
)

// Type is an object header message type.
type Type uint16

// Message types understood by this package. Other types are kept as Unknown.
const (
	TypeNIL            Type = 0x0000
	TypeDataspace      Type = 0x0001
	TypeLinkInfo       Type = 0x0002
	TypeDatatype       Type = 0x0003
	TypeFillValue      Type = 0x0005
	TypeLink           Type = 0x0006
	TypeDataLayout     Type = 0x0008
	TypeGroupInfo      Type = 0x000A
	TypeFilterPipeline Type = 0x000B
	TypeAttribute      Type = 0x000C
	TypeContinuation   Type = 0x0010
	TypeSymbolTable    Type = 0x0011
)

func (t Type) String() string {
	switch t {
	case TypeDataspace:
		return "dataspace"
	case TypeLinkInfo:
		return "link info"
	case TypeDatatype:
		return "datatype"
	case TypeFillValue:
		return "fill value"
	case TypeLink:
		return "link"
	case TypeDataLayout:
		return "layout"
	case TypeGroupInfo:
		return "group info"
	case TypeFilterPipeline:
		return "filter pipeline"
	case TypeAttribute:
		return "attribute"
	case TypeContinuation:
		return "continuation"
	case TypeSymbolTable:
		return "symbol table"
	}
	return fmt.Sprintf("message 0x%04x", uint16(t))
}

// Message is implemented by every decoded header message.
type Message interface {
	Type() Type
}

// Encoder is implemented by messages that can be written.
type Encoder interface {
	Message
	Encode(w *binpkg.Writer)
}

// Parse decodes the payload of one header message. The reader supplies the
// file's offset and length widths.
func Parse(typ Type, data []byte, r *binpkg.Reader) (Message, error) {
	var (
		msg Message
		err error
	)
	switch typ {
	case TypeDataspace:
		msg, err = parseDataspace(data, r)
	case TypeDatatype:
		msg, err = parseDatatype(data)
	case TypeDataLayout:
		msg, err = parseDataLayout(data, r)
	case TypeFilterPipeline:
		msg, err = parseFilterPipeline(data)
	case TypeAttribute:
		msg, err = parseAttribute(data, r)
	case TypeLink:
		msg, err = parseLink(data, r)
	case TypeSymbolTable:
		msg, err = parseSymbolTable(data, r)
	case TypeLinkInfo:
		msg, err = parseLinkInfo(data, r)
	case TypeContinuation:
		msg, err = ParseContinuation(data, r)
	default:
		return &Unknown{typ: typ, data: data}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s message: %w", typ, err)
	}
	return msg, nil
}

// Unknown holds a message this package does not interpret.
type Unknown struct {
	typ  Type
	data []byte
}

func (m *Unknown) Type() Type   { return m.typ }
func (m *Unknown) Data() []byte { return m.data }

// Continuation points at a further block of header messages.
type Continuation struct {
	Offset uint64
	Length uint64
}

func (m *Continuation) Type() Type { return TypeContinuation }

// ParseContinuation decodes a continuation message.
func ParseContinuation(data []byte, r *binpkg.Reader) (*Continuation, error) {
	o, l := r.OffsetSize(), r.LengthSize()
	if len(data) < o+l {
		return nil, errTruncated
	}
	return &Continuation{
		Offset: uintAt(data, 0, o, r),
		Length: uintAt(data, o, l, r),
	}, nil
}

var errTruncated = fmt.Errorf("message truncated")

func uintAt(data []byte, pos, n int, r *binpkg.Reader) uint64 {
	return binpkg.DecodeUint(data[pos:pos+n], r.ByteOrder())
}

func cstring(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

func pad8(n int) int {
	return (n + 7) &^ 7
}

// UnsupportedError reports a structure version or feature this package
// does not decode.
type UnsupportedError struct {
	What    string
	Version uint8
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("unsupported %s version %d", e.What, e.Version)
}

func errVersion(what string, v uint8) error {
	return &UnsupportedError{What: what, Version: v}
}

// Invalid stands in for a message that failed to decode, so that the
// failure surfaces only when the message is actually needed.
type Invalid struct {
	typ Type
	Err error
}

func (m *Invalid) Type() Type { return m.typ }

// ParseOrInvalid is Parse with decode failures wrapped in Invalid.
func ParseOrInvalid(typ Type, data []byte, r *binpkg.Reader) Message {
	msg, err := Parse(typ, data, r)
	if err != nil {
		return &Invalid{typ: typ, Err: err}
	}
	return msg
}
