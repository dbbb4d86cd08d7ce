package filter

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/robert-malhotra/go-imaris/internal/message"
)

// Decoders and encoders are safe for concurrent DecodeAll/EncodeAll calls
// and expensive to build, so one of each is shared.
var (
	zstdOnce sync.Once
	zstdDec  *zstd.Decoder
	zstdEnc  *zstd.Encoder
	zstdErr  error
)

func zstdCodecs() (*zstd.Decoder, *zstd.Encoder, error) {
	zstdOnce.Do(func() {
		zstdDec, zstdErr = zstd.NewReader(nil)
		if zstdErr != nil {
			return
		}
		zstdEnc, zstdErr = zstd.NewWriter(nil)
	})
	return zstdDec, zstdEnc, zstdErr
}

type zstdFilter struct {
	level zstd.EncoderLevel
}

func newZstd(cd []uint32) zstdFilter {
	level := zstd.SpeedDefault
	if len(cd) > 0 && cd[0] > 0 {
		level = zstd.EncoderLevelFromZstd(int(cd[0]))
	}
	return zstdFilter{level: level}
}

func (zstdFilter) ID() uint16 { return message.FilterZstd }

func (zstdFilter) Decode(in []byte) ([]byte, error) {
	dec, _, err := zstdCodecs()
	if err != nil {
		return nil, err
	}
	out, err := dec.DecodeAll(in, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd: %w", err)
	}
	return out, nil
}

func (f zstdFilter) Encode(in []byte) ([]byte, error) {
	_, enc, err := zstdCodecs()
	if err != nil {
		return nil, err
	}
	if f.level == zstd.SpeedDefault {
		return enc.EncodeAll(in, nil), nil
	}
	leveled, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(f.level))
	if err != nil {
		return nil, fmt.Errorf("zstd: %w", err)
	}
	defer leveled.Close()
	return leveled.EncodeAll(in, nil), nil
}
