package hdf5

import (
	"fmt"

	"github.com/robert-malhotra/go-imaris/internal/dtype"
	"github.com/robert-malhotra/go-imaris/internal/message"
)

// Attribute is a small named value attached to a group or dataset.
type Attribute struct {
	msg *message.Attribute
}

func attrNames(attrs []*message.Attribute) []string {
	out := make([]string, len(attrs))
	for i, a := range attrs {
		out[i] = a.Name
	}
	return out
}

func findAttr(attrs []*message.Attribute, name string) *Attribute {
	for _, a := range attrs {
		if a.Name == name {
			return &Attribute{msg: a}
		}
	}
	return nil
}

// Name returns the attribute name.
func (a *Attribute) Name() string { return a.msg.Name }

// Shape returns the attribute extent; scalars have none.
func (a *Attribute) Shape() []uint64 {
	if a.msg.Dataspace == nil {
		return nil
	}
	return a.msg.Dataspace.Dimensions
}

// IsText reports whether the value decodes as a string.
func (a *Attribute) IsText() bool {
	return a.msg.Datatype.Class == message.ClassString
}

// Text decodes a string value. Character arrays are joined.
func (a *Attribute) Text() (string, error) {
	s, err := dtype.Text(a.msg.Datatype, a.msg.Data)
	if err != nil {
		return "", fmt.Errorf("attribute %s: %w", a.msg.Name, err)
	}
	return s, nil
}

// Strings decodes every element of a fixed string array.
func (a *Attribute) Strings() ([]string, error) {
	s, err := dtype.Strings(a.msg.Datatype, a.msg.Data)
	if err != nil {
		return nil, fmt.Errorf("attribute %s: %w", a.msg.Name, err)
	}
	return s, nil
}

// Float64s decodes a numeric value.
func (a *Attribute) Float64s() ([]float64, error) {
	v, err := dtype.Float64s(a.msg.Datatype, a.msg.Data)
	if err != nil {
		return nil, fmt.Errorf("attribute %s: %w", a.msg.Name, err)
	}
	return v, nil
}

// Value returns the attribute as a string for text and as float64s for
// numbers.
func (a *Attribute) Value() (any, error) {
	if a.IsText() {
		return a.Text()
	}
	return a.Float64s()
}
