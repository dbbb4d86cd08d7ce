package buffer

import (
	"fmt"
	"sync"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4"
)

// Codec compresses chunk files.
type Codec interface {
	Name() string
	Encode(src []byte) ([]byte, error)
	// Decode expands src into exactly size bytes.
	Decode(src []byte, size int) ([]byte, error)
}

// Codec names recorded in manifests.
const (
	CodecNone   = "none"
	CodecZstd   = "zstd"
	CodecSnappy = "snappy"
	CodecLZ4    = "lz4"
)

// CodecByName returns a registered codec.
func CodecByName(name string) (Codec, error) {
	switch name {
	case CodecNone, "":
		return rawCodec{}, nil
	case CodecZstd:
		return zstdCodec{}, nil
	case CodecSnappy:
		return snappyCodec{}, nil
	case CodecLZ4:
		return lz4Codec{}, nil
	}
	return nil, fmt.Errorf("unknown chunk codec %q", name)
}

func checkSize(name string, got []byte, size int) ([]byte, error) {
	if len(got) != size {
		return nil, fmt.Errorf("%s chunk decoded to %d bytes, want %d", name, len(got), size)
	}
	return got, nil
}

type rawCodec struct{}

func (rawCodec) Name() string                      { return CodecNone }
func (rawCodec) Encode(src []byte) ([]byte, error) { return src, nil }
func (rawCodec) Decode(src []byte, size int) ([]byte, error) {
	return checkSize(CodecNone, src, size)
}

var (
	zstdOnce sync.Once
	zstdEnc  *zstd.Encoder
	zstdDec  *zstd.Decoder
	zstdErr  error
)

func zstdCoders() (*zstd.Encoder, *zstd.Decoder, error) {
	zstdOnce.Do(func() {
		if zstdEnc, zstdErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest)); zstdErr != nil {
			return
		}
		zstdDec, zstdErr = zstd.NewReader(nil)
	})
	return zstdEnc, zstdDec, zstdErr
}

type zstdCodec struct{}

func (zstdCodec) Name() string { return CodecZstd }

func (zstdCodec) Encode(src []byte) ([]byte, error) {
	enc, _, err := zstdCoders()
	if err != nil {
		return nil, err
	}
	return enc.EncodeAll(src, nil), nil
}

func (zstdCodec) Decode(src []byte, size int) ([]byte, error) {
	_, dec, err := zstdCoders()
	if err != nil {
		return nil, err
	}
	out, err := dec.DecodeAll(src, make([]byte, 0, size))
	if err != nil {
		return nil, err
	}
	return checkSize(CodecZstd, out, size)
}

type snappyCodec struct{}

func (snappyCodec) Name() string { return CodecSnappy }

func (snappyCodec) Encode(src []byte) ([]byte, error) {
	return snappy.Encode(nil, src), nil
}

func (snappyCodec) Decode(src []byte, size int) ([]byte, error) {
	out, err := snappy.Decode(make([]byte, size), src)
	if err != nil {
		return nil, err
	}
	return checkSize(CodecSnappy, out, size)
}

type lz4Codec struct{}

func (lz4Codec) Name() string { return CodecLZ4 }

func (lz4Codec) Encode(src []byte) ([]byte, error) {
	dst := make([]byte, lz4.CompressBlockBound(len(src)))
	var table [1 << 16]int
	n, err := lz4.CompressBlock(src, dst, table[:])
	if err != nil {
		return nil, err
	}
	if n == 0 {
		// incompressible: store raw with a zero-length marker
		return append([]byte{0}, src...), nil
	}
	return append([]byte{1}, dst[:n]...), nil
}

func (lz4Codec) Decode(src []byte, size int) ([]byte, error) {
	if len(src) == 0 {
		return nil, fmt.Errorf("empty lz4 chunk")
	}
	if src[0] == 0 {
		return checkSize(CodecLZ4, src[1:], size)
	}
	out := make([]byte, size)
	n, err := lz4.UncompressBlock(src[1:], out)
	if err != nil {
		return nil, err
	}
	return checkSize(CodecLZ4, out[:n], size)
}
