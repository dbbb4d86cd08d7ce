package filter

import "github.com/robert-malhotra/go-imaris/internal/message"

// shuffle groups byte k of every element together.
type shuffle struct {
	size int
}

func newShuffle(elemSize int, cd []uint32) shuffle {
	if len(cd) > 0 && cd[0] > 0 {
		return shuffle{size: int(cd[0])}
	}
	return shuffle{size: elemSize}
}

func (shuffle) ID() uint16 { return message.FilterShuffle }

func (f shuffle) Decode(in []byte) ([]byte, error) {
	if f.size <= 1 || len(in) < f.size {
		return in, nil
	}
	n := len(in) / f.size
	out := make([]byte, len(in))
	for b := 0; b < f.size; b++ {
		src := in[b*n : (b+1)*n]
		for i, v := range src {
			out[i*f.size+b] = v
		}
	}
	// trailing bytes that do not form a whole element are stored as is
	copy(out[n*f.size:], in[n*f.size:])
	return out, nil
}

func (f shuffle) Encode(in []byte) ([]byte, error) {
	if f.size <= 1 || len(in) < f.size {
		return in, nil
	}
	n := len(in) / f.size
	out := make([]byte, len(in))
	for i := 0; i < n; i++ {
		for b := 0; b < f.size; b++ {
			out[b*n+i] = in[i*f.size+b]
		}
	}
	copy(out[n*f.size:], in[n*f.size:])
	return out, nil
}
