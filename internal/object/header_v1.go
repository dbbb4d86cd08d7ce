package object

import (
	"fmt"

	"github.com/robert-malhotra/go-imaris/internal/binary"
	"github.com/robert-malhotra/go-imaris/internal/message"
)

/*
Version 1 prefix:

	0   version (1), reserved
	2   number of messages
	4   reference count
	8   header data size
	12  padding to 8

Each message: type (2), size (2), flags (1), reserved (3), data padded to 8.
*/
func readV1(r *binary.Reader, h *Header) error {
	prefix, err := r.ReadBytes(16)
	if err != nil {
		return err
	}
	size := int64(r.ByteOrder().Uint32(prefix[8:12]))

	blocks := []block{{start: r.Pos(), end: r.Pos() + size}}
	for i := 0; i < len(blocks); i++ {
		if i > maxContinuations {
			return fmt.Errorf("%w: too many continuation blocks", ErrInvalidHeader)
		}
		cur := r.At(blocks[i].start)
		for cur.Pos()+8 <= blocks[i].end {
			typ, err := cur.ReadUint16()
			if err != nil {
				return err
			}
			n, err := cur.ReadUint16()
			if err != nil {
				return err
			}
			cur.Skip(4)
			data, err := cur.ReadBytes(int(n))
			if err != nil {
				return err
			}
			cur.Align(8)

			next, err := h.add(message.Type(typ), data, r)
			if err != nil {
				return err
			}
			if next != nil {
				blocks = append(blocks, *next)
			}
		}
	}
	return nil
}

type block struct {
	start, end int64
}

// add records one raw message and returns a continuation block if the
// message points at one.
func (h *Header) add(typ message.Type, data []byte, r *binary.Reader) (*block, error) {
	if typ == message.TypeNIL {
		return nil, nil
	}
	if typ == message.TypeContinuation {
		c, err := message.ParseContinuation(data, r)
		if err != nil {
			return nil, err
		}
		return &block{start: int64(c.Offset), end: int64(c.Offset + c.Length)}, nil
	}
	h.Messages = append(h.Messages, message.ParseOrInvalid(typ, data, r))
	return nil, nil
}
