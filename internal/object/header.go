// Package object reads and writes HDF5 object headers, the message lists
// that describe every group and dataset.
package object

import (
	"errors"
	"fmt"

	"github.com/robert-malhotra/go-imaris/internal/binary"
	"github.com/robert-malhotra/go-imaris/internal/message"
)

var (
	ErrInvalidHeader      = errors.New("invalid object header")
	ErrUnsupportedVersion = errors.New("unsupported object header version")
)

// maxContinuations bounds continuation chains in damaged files.
const maxContinuations = 1024

// Header is a decoded object header.
type Header struct {
	Version  uint8
	Address  uint64
	Messages []message.Message
}

// Read decodes the object header at address, following continuations.
func Read(r *binary.Reader, address uint64) (*Header, error) {
	hr := r.At(int64(address))
	peek, err := hr.Peek(4)
	if err != nil {
		return nil, fmt.Errorf("reading object header at %d: %w", address, err)
	}

	h := &Header{Address: address}
	switch {
	case string(peek) == "OHDR":
		h.Version = 2
		err = readV2(hr, h)
	case peek[0] == 1:
		h.Version = 1
		err = readV1(hr, h)
	default:
		return nil, fmt.Errorf("%w at address %d", ErrInvalidHeader, address)
	}
	if err != nil {
		return nil, fmt.Errorf("object header at %d: %w", address, err)
	}
	return h, nil
}

// Find returns the first message of type t. A message that failed to
// decode is reported as an error.
func (h *Header) Find(t message.Type) (message.Message, error) {
	for _, m := range h.Messages {
		if m.Type() != t {
			continue
		}
		if inv, ok := m.(*message.Invalid); ok {
			return nil, inv.Err
		}
		return m, nil
	}
	return nil, nil
}

// Has reports whether a message of type t is present.
func (h *Header) Has(t message.Type) bool {
	for _, m := range h.Messages {
		if m.Type() == t {
			return true
		}
	}
	return false
}

// Dataspace returns the dataspace message, or nil.
func (h *Header) Dataspace() (*message.Dataspace, error) {
	m, err := h.Find(message.TypeDataspace)
	if m == nil {
		return nil, err
	}
	return m.(*message.Dataspace), nil
}

// Datatype returns the datatype message, or nil.
func (h *Header) Datatype() (*message.Datatype, error) {
	m, err := h.Find(message.TypeDatatype)
	if m == nil {
		return nil, err
	}
	return m.(*message.Datatype), nil
}

// Layout returns the data layout message, or nil.
func (h *Header) Layout() (*message.DataLayout, error) {
	m, err := h.Find(message.TypeDataLayout)
	if m == nil {
		return nil, err
	}
	return m.(*message.DataLayout), nil
}

// Pipeline returns the filter pipeline message, or nil.
func (h *Header) Pipeline() (*message.FilterPipeline, error) {
	m, err := h.Find(message.TypeFilterPipeline)
	if m == nil {
		return nil, err
	}
	return m.(*message.FilterPipeline), nil
}

// SymbolTable returns the symbol table message of an old-style group.
func (h *Header) SymbolTable() (*message.SymbolTable, error) {
	m, err := h.Find(message.TypeSymbolTable)
	if m == nil {
		return nil, err
	}
	return m.(*message.SymbolTable), nil
}

// LinkInfo returns the link info message of a new-style group, or nil.
func (h *Header) LinkInfo() (*message.LinkInfo, error) {
	m, err := h.Find(message.TypeLinkInfo)
	if m == nil {
		return nil, err
	}
	return m.(*message.LinkInfo), nil
}

// Links returns the link messages of a compact group.
func (h *Header) Links() []*message.Link {
	var out []*message.Link
	for _, m := range h.Messages {
		if l, ok := m.(*message.Link); ok {
			out = append(out, l)
		}
	}
	return out
}

// Attributes returns the attributes that decoded successfully.
func (h *Header) Attributes() []*message.Attribute {
	var out []*message.Attribute
	for _, m := range h.Messages {
		if a, ok := m.(*message.Attribute); ok {
			out = append(out, a)
		}
	}
	return out
}

// IsDataset reports whether the header describes a dataset.
func (h *Header) IsDataset() bool {
	return h.Has(message.TypeDataLayout) && h.Has(message.TypeDataspace)
}
