package filter

import (
	"encoding/binary"
	"errors"

	"github.com/robert-malhotra/go-imaris/internal/message"
)

// ErrChecksum is returned when a chunk fails its Fletcher-32 check.
var ErrChecksum = errors.New("fletcher32 checksum mismatch")

type fletcher32 struct{}

func (fletcher32) ID() uint16 { return message.FilterFletcher32 }

func (fletcher32) Decode(in []byte) ([]byte, error) {
	if len(in) < 4 {
		return nil, ErrChecksum
	}
	data := in[:len(in)-4]
	stored := binary.LittleEndian.Uint32(in[len(in)-4:])
	sum := Fletcher32(data)
	// files written by old libraries store the sum with swapped byte pairs
	swapped := (sum&0x00ff00ff)<<8 | (sum&0xff00ff00)>>8
	if stored != sum && stored != swapped {
		return nil, ErrChecksum
	}
	return data, nil
}

func (fletcher32) Encode(in []byte) ([]byte, error) {
	out := make([]byte, len(in)+4)
	copy(out, in)
	binary.LittleEndian.PutUint32(out[len(in):], Fletcher32(in))
	return out, nil
}

// Fletcher32 computes the checksum HDF5 uses over big-endian 16-bit words.
// An odd trailing byte is treated as the high byte of a final word.
func Fletcher32(data []byte) uint32 {
	var sum1, sum2 uint32
	for len(data) > 1 {
		// 360 words keep the sums below overflow before reduction
		n := min(len(data)/2, 360)
		for i := 0; i < n; i++ {
			sum1 += uint32(data[2*i])<<8 | uint32(data[2*i+1])
			sum2 += sum1
		}
		data = data[2*n:]
		sum1 = (sum1 & 0xffff) + (sum1 >> 16)
		sum2 = (sum2 & 0xffff) + (sum2 >> 16)
	}
	if len(data) == 1 {
		sum1 += uint32(data[0]) << 8
		sum2 += sum1
		sum1 = (sum1 & 0xffff) + (sum1 >> 16)
		sum2 = (sum2 & 0xffff) + (sum2 >> 16)
	}
	sum1 = (sum1 & 0xffff) + (sum1 >> 16)
	sum2 = (sum2 & 0xffff) + (sum2 >> 16)
	return sum2<<16 | sum1
}
