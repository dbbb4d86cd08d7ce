// Package heap reads HDF5 local heaps, which hold link names for
// symbol-table groups.
package heap

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/robert-malhotra/go-imaris/internal/binary"
)

var signature = []byte("HEAP")

// ErrInvalidHeap is returned when the bytes at a heap address do not form a
// local heap.
var ErrInvalidHeap = errors.New("invalid local heap")

// maxDataSize bounds the data segment read into memory.
const maxDataSize = 64 << 20

// Local is a version 0 local heap.
type Local struct {
	Address     uint64
	DataAddress uint64
	FreeOffset  uint64
	data        []byte
}

// ReadLocal loads the local heap stored at address.
func ReadLocal(r *binary.Reader, address uint64) (*Local, error) {
	hr := r.At(int64(address))

	sig, err := hr.ReadBytes(4)
	if err != nil {
		return nil, fmt.Errorf("local heap at %#x: %w", address, err)
	}
	if !bytes.Equal(sig, signature) {
		return nil, fmt.Errorf("%w: signature %q at %#x", ErrInvalidHeap, sig, address)
	}
	version, err := hr.ReadUint8()
	if err != nil {
		return nil, err
	}
	if version != 0 {
		return nil, fmt.Errorf("%w: version %d", ErrInvalidHeap, version)
	}
	hr.Skip(3)

	size, err := hr.ReadLength()
	if err != nil {
		return nil, err
	}
	free, err := hr.ReadLength()
	if err != nil {
		return nil, err
	}
	dataAddr, err := hr.ReadOffset()
	if err != nil {
		return nil, err
	}
	if size > maxDataSize {
		return nil, fmt.Errorf("%w: data segment of %d bytes", ErrInvalidHeap, size)
	}

	data, err := r.At(int64(dataAddr)).ReadBytes(int(size))
	if err != nil {
		return nil, fmt.Errorf("local heap data at %#x: %w", dataAddr, err)
	}
	return &Local{
		Address:     address,
		DataAddress: dataAddr,
		FreeOffset:  free,
		data:        data,
	}, nil
}

// String returns the NUL-terminated string at offset in the data segment.
func (h *Local) String(offset uint64) (string, error) {
	if offset >= uint64(len(h.data)) {
		return "", fmt.Errorf("%w: offset %d beyond data segment of %d bytes", ErrInvalidHeap, offset, len(h.data))
	}
	rest := h.data[offset:]
	if i := bytes.IndexByte(rest, 0); i >= 0 {
		rest = rest[:i]
	}
	return string(rest), nil
}

// Size reports the length of the data segment.
func (h *Local) Size() int { return len(h.data) }
