// Package binary provides the low-level byte readers and writers used to
// decode and encode HDF5 structures with variable-width offsets and lengths.
package binary

import (
	"encoding/binary"
	"errors"
	"io"
)

// ErrInvalidSize is returned when an offset or length width is not 2, 4 or 8.
var ErrInvalidSize = errors.New("invalid offset/length size: must be 2, 4, or 8")

// Config holds the field widths and byte order, typically taken from the
// superblock.
type Config struct {
	ByteOrder  binary.ByteOrder
	OffsetSize int
	LengthSize int
}

// DefaultConfig is used for the initial superblock probe.
func DefaultConfig() Config {
	return Config{
		ByteOrder:  binary.LittleEndian,
		OffsetSize: 8,
		LengthSize: 8,
	}
}

// Validate checks the offset and length widths.
func (c Config) Validate() error {
	for _, n := range []int{c.OffsetSize, c.LengthSize} {
		if n != 2 && n != 4 && n != 8 {
			return ErrInvalidSize
		}
	}
	return nil
}

// Reader is a positioned cursor over an io.ReaderAt. Cursors are cheap and
// independent; At derives a new one sharing the same source.
type Reader struct {
	r   io.ReaderAt
	cfg Config
	pos int64
}

// NewReader creates a cursor at offset 0.
func NewReader(r io.ReaderAt, cfg Config) *Reader {
	return &Reader{r: r, cfg: cfg}
}

// At returns a new cursor positioned at offset.
func (r *Reader) At(offset int64) *Reader {
	return &Reader{r: r.r, cfg: r.cfg, pos: offset}
}

// WithConfig returns a cursor at the same position using cfg.
func (r *Reader) WithConfig(cfg Config) *Reader {
	return &Reader{r: r.r, cfg: cfg, pos: r.pos}
}

// Config returns the cursor configuration.
func (r *Reader) Config() Config { return r.cfg }

// Pos returns the current position.
func (r *Reader) Pos() int64 { return r.pos }

// OffsetSize returns the width of file addresses.
func (r *Reader) OffsetSize() int { return r.cfg.OffsetSize }

// LengthSize returns the width of length fields.
func (r *Reader) LengthSize() int { return r.cfg.LengthSize }

// ByteOrder returns the configured byte order.
func (r *Reader) ByteOrder() binary.ByteOrder { return r.cfg.ByteOrder }

// ReadBytes reads exactly n bytes and advances.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	buf, err := r.Peek(n)
	if err != nil {
		return nil, err
	}
	r.pos += int64(n)
	return buf, nil
}

// Peek reads n bytes without advancing.
func (r *Reader) Peek(n int) ([]byte, error) {
	if n <= 0 {
		return nil, nil
	}
	buf := make([]byte, n)
	if _, err := r.r.ReadAt(buf, r.pos); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return buf, nil
}

func (r *Reader) ReadUint8() (uint8, error) {
	buf, err := r.ReadBytes(1)
	if err != nil {
		return 0, err
	}
	return buf[0], nil
}

func (r *Reader) ReadUint16() (uint16, error) {
	v, err := r.ReadUintN(2)
	return uint16(v), err
}

func (r *Reader) ReadUint32() (uint32, error) {
	v, err := r.ReadUintN(4)
	return uint32(v), err
}

func (r *Reader) ReadUint64() (uint64, error) {
	return r.ReadUintN(8)
}

// ReadUintN reads an unsigned integer n bytes wide.
func (r *Reader) ReadUintN(n int) (uint64, error) {
	buf, err := r.ReadBytes(n)
	if err != nil {
		return 0, err
	}
	return DecodeUint(buf, r.cfg.ByteOrder), nil
}

// ReadOffset reads a file address.
func (r *Reader) ReadOffset() (uint64, error) {
	return r.ReadUintN(r.cfg.OffsetSize)
}

// ReadLength reads a length field.
func (r *Reader) ReadLength() (uint64, error) {
	return r.ReadUintN(r.cfg.LengthSize)
}

// Skip advances by n bytes.
func (r *Reader) Skip(n int64) { r.pos += n }

// Align advances to the next multiple of alignment.
func (r *Reader) Align(alignment int64) {
	if alignment <= 1 {
		return
	}
	if rem := r.pos % alignment; rem != 0 {
		r.pos += alignment - rem
	}
}

// IsUndefined reports whether addr is the all-ones "undefined address".
func (r *Reader) IsUndefined(addr uint64) bool {
	return IsUndefinedAddr(addr, r.cfg.OffsetSize)
}

// IsUndefinedAddr reports whether addr has every bit of an n-byte field set.
func IsUndefinedAddr(addr uint64, n int) bool {
	if n >= 8 {
		return addr == ^uint64(0)
	}
	return addr == (uint64(1)<<(8*n))-1
}

// DecodeUint decodes an unsigned integer of len(buf) bytes.
func DecodeUint(buf []byte, order binary.ByteOrder) uint64 {
	switch len(buf) {
	case 1:
		return uint64(buf[0])
	case 2:
		return uint64(order.Uint16(buf))
	case 4:
		return uint64(order.Uint32(buf))
	case 8:
		return order.Uint64(buf)
	}
	var v uint64
	if order == binary.BigEndian {
		for _, b := range buf {
			v = v<<8 | uint64(b)
		}
		return v
	}
	for i := len(buf) - 1; i >= 0; i-- {
		v = v<<8 | uint64(buf[i])
	}
	return v
}
