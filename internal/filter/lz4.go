package filter

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/pierrec/lz4"

	"github.com/robert-malhotra/go-imaris/internal/message"
)

const defaultLZ4Block = 1 << 30

var errLZ4Frame = errors.New("lz4: malformed frame")

// lz4Filter implements the HDF5 LZ4 plugin framing: an 8-byte original size
// and 4-byte block size, then blocks prefixed with their compressed size.
// Blocks that do not shrink are stored raw.
type lz4Filter struct {
	block int
}

func newLZ4(cd []uint32) lz4Filter {
	if len(cd) > 0 && cd[0] > 0 {
		return lz4Filter{block: int(cd[0])}
	}
	return lz4Filter{block: defaultLZ4Block}
}

func (lz4Filter) ID() uint16 { return message.FilterLZ4 }

func (lz4Filter) Decode(in []byte) ([]byte, error) {
	if len(in) < 12 {
		return nil, errLZ4Frame
	}
	total := binary.BigEndian.Uint64(in[0:8])
	block := uint64(binary.BigEndian.Uint32(in[8:12]))
	if block == 0 || total > 1<<34 {
		return nil, errLZ4Frame
	}
	out := make([]byte, total)
	src := in[12:]
	for pos := uint64(0); pos < total; {
		want := min(block, total-pos)
		if len(src) < 4 {
			return nil, errLZ4Frame
		}
		size := uint64(binary.BigEndian.Uint32(src[:4]))
		src = src[4:]
		if size > uint64(len(src)) {
			return nil, errLZ4Frame
		}
		if size == want {
			copy(out[pos:pos+want], src[:size])
		} else {
			n, err := lz4.UncompressBlock(src[:size], out[pos:pos+want])
			if err != nil {
				return nil, fmt.Errorf("lz4: %w", err)
			}
			if uint64(n) != want {
				return nil, errLZ4Frame
			}
		}
		src = src[size:]
		pos += want
	}
	return out, nil
}

func (f lz4Filter) Encode(in []byte) ([]byte, error) {
	out := make([]byte, 12, 12+len(in)/2)
	binary.BigEndian.PutUint64(out[0:8], uint64(len(in)))
	binary.BigEndian.PutUint32(out[8:12], uint32(f.block))

	table := make([]int, 1<<16)
	dst := make([]byte, lz4.CompressBlockBound(min(f.block, max(len(in), 1))))
	var size [4]byte
	for pos := 0; pos < len(in); pos += f.block {
		chunk := in[pos:min(pos+f.block, len(in))]
		for i := range table {
			table[i] = 0
		}
		n, err := lz4.CompressBlock(chunk, dst, table)
		if err != nil {
			return nil, fmt.Errorf("lz4: %w", err)
		}
		if n == 0 || n >= len(chunk) {
			binary.BigEndian.PutUint32(size[:], uint32(len(chunk)))
			out = append(out, size[:]...)
			out = append(out, chunk...)
			continue
		}
		binary.BigEndian.PutUint32(size[:], uint32(n))
		out = append(out, size[:]...)
		out = append(out, dst[:n]...)
	}
	return out, nil
}
