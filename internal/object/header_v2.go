package object

import (
	"fmt"

	"github.com/robert-malhotra/go-imaris/internal/binary"
	"github.com/robert-malhotra/go-imaris/internal/message"
)

/*
Version 2 prefix:

	0  "OHDR", version (2), flags
	   flags bits 0-1: width of the chunk #0 size
	   bit 2: messages carry a creation order
	   bit 4: attribute phase change values present (4 bytes)
	   bit 5: four timestamps present (16 bytes)
	.. chunk #0 size, messages, checksum (4)

Continuation blocks start with "OCHK" and end with a checksum. Each
message: type (1), size (2), flags (1), optional creation order (2), data.
*/
func readV2(r *binary.Reader, h *Header) error {
	prefix, err := r.ReadBytes(6)
	if err != nil {
		return err
	}
	if prefix[4] != 2 {
		return fmt.Errorf("%w: %d", ErrUnsupportedVersion, prefix[4])
	}
	flags := prefix[5]
	if flags&0x20 != 0 {
		r.Skip(16)
	}
	if flags&0x10 != 0 {
		r.Skip(4)
	}
	size, err := r.ReadUintN(1 << (flags & 0x03))
	if err != nil {
		return err
	}
	ordered := flags&0x04 != 0

	blocks := []block{{start: r.Pos(), end: r.Pos() + int64(size)}}
	for i := 0; i < len(blocks); i++ {
		if i > maxContinuations {
			return fmt.Errorf("%w: too many continuation blocks", ErrInvalidHeader)
		}
		b := blocks[i]
		cur := r.At(b.start)
		if i > 0 {
			sig, err := cur.ReadBytes(4)
			if err != nil {
				return err
			}
			if string(sig) != "OCHK" {
				return fmt.Errorf("%w: bad continuation signature %q", ErrInvalidHeader, sig)
			}
			// continuation lengths include the trailing checksum
			b.end -= 4
		}

		header := 4
		if ordered {
			header = 6
		}
		for cur.Pos()+int64(header) <= b.end {
			raw, err := cur.ReadBytes(header)
			if err != nil {
				return err
			}
			typ := message.Type(raw[0])
			n := int(r.ByteOrder().Uint16(raw[1:3]))
			data, err := cur.ReadBytes(n)
			if err != nil {
				return err
			}
			next, err := h.add(typ, data, r)
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
