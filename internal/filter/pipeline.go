package filter

import (
	"fmt"

	"github.com/robert-malhotra/go-imaris/internal/message"
)

// Pipeline is an ordered list of filters built from a pipeline message.
type Pipeline struct {
	filters []Filter
	// positions maps filters back to their index in the message, which
	// is what chunk filter masks refer to.
	positions []int
}

// NewPipeline builds the pipeline described by msg. A nil message yields an
// empty pipeline.
func NewPipeline(msg *message.FilterPipeline, elemSize int) (*Pipeline, error) {
	p := &Pipeline{}
	if msg == nil {
		return p, nil
	}
	for i, info := range msg.Filters {
		f, err := New(info, elemSize)
		if err != nil {
			return nil, err
		}
		p.filters = append(p.filters, f)
		p.positions = append(p.positions, i)
	}
	return p, nil
}

// Empty reports whether the pipeline does nothing.
func (p *Pipeline) Empty() bool { return len(p.filters) == 0 }

// Len returns the number of active filters.
func (p *Pipeline) Len() int { return len(p.filters) }

// Decode reverses the pipeline, skipping filters set in mask.
func (p *Pipeline) Decode(in []byte, mask uint32) ([]byte, error) {
	data := in
	for i := len(p.filters) - 1; i >= 0; i-- {
		if mask&(1<<uint(p.positions[i])) != 0 {
			continue
		}
		f := p.filters[i]
		if u, ok := f.(unavailable); ok {
			return nil, u.err
		}
		var err error
		if data, err = f.Decode(data); err != nil {
			return nil, fmt.Errorf("%s: %w", message.FilterName(f.ID()), err)
		}
	}
	return data, nil
}

// Encode runs every filter in order.
func (p *Pipeline) Encode(in []byte) ([]byte, error) {
	data := in
	for _, f := range p.filters {
		var err error
		if data, err = f.Encode(data); err != nil {
			return nil, fmt.Errorf("%s: %w", message.FilterName(f.ID()), err)
		}
	}
	return data, nil
}
