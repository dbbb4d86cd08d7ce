// Package superblock locates and decodes the HDF5 superblock, the entry
// point that carries field widths and the root group address.
package superblock

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	binpkg "github.com/robert-malhotra/go-imaris/internal/binary"
)

// Signature is the 8-byte HDF5 format signature.
var Signature = []byte{0x89, 'H', 'D', 'F', '\r', '\n', 0x1a, '\n'}

// Offsets searched for the signature, in order.
var searchOffsets = []int64{0, 512, 1024, 2048}

var (
	ErrNotHDF5            = errors.New("not an HDF5 file: signature not found")
	ErrUnsupportedVersion = errors.New("unsupported superblock version")
	ErrChecksumMismatch   = errors.New("superblock checksum mismatch")
)

// Superblock holds the fields this package needs from any version.
type Superblock struct {
	Version    uint8
	OffsetSize uint8
	LengthSize uint8

	BaseAddress      uint64
	EOFAddress       uint64
	RootGroupAddress uint64

	// FileOffset is where the signature was found.
	FileOffset int64
}

// Read finds the signature and parses the superblock that follows.
func Read(r io.ReaderAt) (*Superblock, error) {
	sig := make([]byte, 9)
	for _, off := range searchOffsets {
		if _, err := r.ReadAt(sig, off); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}
		if !bytes.Equal(sig[:8], Signature) {
			continue
		}

		var (
			sb  *Superblock
			err error
		)
		switch v := sig[8]; v {
		case 0, 1:
			sb, err = readV0V1(r, off, v)
		case 2, 3:
			sb, err = readV2V3(r, off, v)
		default:
			return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, v)
		}
		if err != nil {
			return nil, err
		}
		sb.FileOffset = off
		return sb, nil
	}
	return nil, ErrNotHDF5
}

// ReaderConfig returns the cursor configuration for this file.
func (sb *Superblock) ReaderConfig() binpkg.Config {
	return binpkg.Config{
		ByteOrder:  binary.LittleEndian,
		OffsetSize: int(sb.OffsetSize),
		LengthSize: int(sb.LengthSize),
	}
}

/*
Version 0/1 layout after the 8-byte signature:

	8   version, free-space version, root entry version, reserved
	12  shared header version, size of offsets, size of lengths, reserved
	16  group leaf K (2), group internal K (2)
	20  consistency flags (4)
	24  v1 only: indexed storage K (2), reserved (2)
	..  base, free-space, EOF and driver addresses
	..  root symbol table entry: link name offset, object header address
*/
func readV0V1(r io.ReaderAt, off int64, version uint8) (*Superblock, error) {
	fixed := make([]byte, 16)
	if _, err := r.ReadAt(fixed, off+8); err != nil {
		return nil, fmt.Errorf("reading superblock: %w", err)
	}
	sb := &Superblock{
		Version:    version,
		OffsetSize: fixed[5],
		LengthSize: fixed[6],
	}
	if err := sb.ReaderConfig().Validate(); err != nil {
		return nil, err
	}

	start := off + 24
	if version == 1 {
		start += 4
	}
	cur := binpkg.NewReader(r, sb.ReaderConfig()).At(start)

	// base, free-space, EOF, driver info, root link name offset, root header
	var addrs [6]uint64
	for i := range addrs {
		v, err := cur.ReadOffset()
		if err != nil {
			return nil, fmt.Errorf("reading superblock addresses: %w", err)
		}
		addrs[i] = v
	}
	sb.BaseAddress = addrs[0]
	sb.EOFAddress = addrs[2]
	sb.RootGroupAddress = addrs[5]
	return sb, nil
}

/*
Version 2/3 layout after the 8-byte signature:

	8   version, size of offsets, size of lengths, consistency flags
	12  base, extension, EOF and root group addresses
	..  lookup3 checksum of everything before it
*/
func readV2V3(r io.ReaderAt, off int64, version uint8) (*Superblock, error) {
	fixed := make([]byte, 4)
	if _, err := r.ReadAt(fixed, off+8); err != nil {
		return nil, fmt.Errorf("reading superblock: %w", err)
	}
	sb := &Superblock{
		Version:    version,
		OffsetSize: fixed[1],
		LengthSize: fixed[2],
	}
	if err := sb.ReaderConfig().Validate(); err != nil {
		return nil, err
	}

	size := 12 + 4*int(sb.OffsetSize)
	raw := make([]byte, size+4)
	if _, err := r.ReadAt(raw, off); err != nil {
		return nil, fmt.Errorf("reading superblock: %w", err)
	}
	if !binpkg.VerifyChecksum(raw[:size], binary.LittleEndian.Uint32(raw[size:])) {
		return nil, ErrChecksumMismatch
	}

	o := int(sb.OffsetSize)
	field := func(i int) uint64 {
		p := 12 + i*o
		return binpkg.DecodeUint(raw[p:p+o], binary.LittleEndian)
	}
	sb.BaseAddress = field(0)
	sb.EOFAddress = field(2)
	sb.RootGroupAddress = field(3)
	return sb, nil
}

// Encode serializes a version 2 superblock with no extension.
func (sb *Superblock) Encode() []byte {
	w := binpkg.NewWriter(sb.ReaderConfig())
	w.Write(Signature)
	w.Uint8(2)
	w.Uint8(sb.OffsetSize)
	w.Uint8(sb.LengthSize)
	w.Uint8(0)
	w.Offset(sb.BaseAddress)
	w.Undefined()
	w.Offset(sb.EOFAddress)
	w.Offset(sb.RootGroupAddress)
	w.AppendChecksum(0)
	return w.Bytes()
}

// EncodedSize is the length of Encode's output.
func EncodedSize(offsetSize int) int {
	return 12 + 4*offsetSize + 4
}
