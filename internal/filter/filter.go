// Package filter decodes and encodes chunk data through HDF5 filter
// pipelines.
//
// Filters run in reverse pipeline order when reading and in pipeline order
// when writing. A chunk's filter mask can disable individual filters.
package filter

import (
	"fmt"
	"sync"

	"github.com/robert-malhotra/go-imaris/internal/message"
)

// Filter transforms chunk bytes in both directions.
type Filter interface {
	ID() uint16
	Decode(in []byte) ([]byte, error)
	Encode(in []byte) ([]byte, error)
}

// UnsupportedError names a filter the pipeline cannot run.
type UnsupportedError struct {
	ID   uint16
	Name string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("unsupported compression %s (filter %d)", e.Name, e.ID)
}

// Constructor builds a filter for elements of elemSize bytes from the
// filter's client data.
type Constructor func(elemSize int, cd []uint32) Filter

var (
	registryMu sync.RWMutex
	registry   = map[uint16]Constructor{
		message.FilterDeflate:    func(_ int, cd []uint32) Filter { return newDeflate(cd) },
		message.FilterShuffle:    func(size int, cd []uint32) Filter { return newShuffle(size, cd) },
		message.FilterFletcher32: func(int, []uint32) Filter { return fletcher32{} },
		message.FilterLZ4:        func(_ int, cd []uint32) Filter { return newLZ4(cd) },
		message.FilterZstd:       func(_ int, cd []uint32) Filter { return newZstd(cd) },
	}
)

// Register installs ctor for id, replacing any existing implementation.
// The returned function restores the previous state.
func Register(id uint16, ctor Constructor) (restore func()) {
	registryMu.Lock()
	defer registryMu.Unlock()
	prev, had := registry[id]
	registry[id] = ctor
	return func() {
		registryMu.Lock()
		defer registryMu.Unlock()
		if had {
			registry[id] = prev
		} else {
			delete(registry, id)
		}
	}
}

func lookup(id uint16) (Constructor, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	ctor, ok := registry[id]
	return ctor, ok
}

// Supported reports whether id has an implementation.
func Supported(id uint16) bool {
	_, ok := lookup(id)
	return ok
}

// New builds the filter described by info. A required filter without an
// implementation fails with UnsupportedError. An optional one yields a
// placeholder that fails the same way for every chunk that did not skip it.
func New(info message.FilterInfo, elemSize int) (Filter, error) {
	ctor, ok := lookup(info.ID)
	if !ok {
		name := info.Name
		if name == "" {
			name = message.FilterName(info.ID)
		}
		err := &UnsupportedError{ID: info.ID, Name: name}
		if info.Optional() {
			return unavailable{err}, nil
		}
		return nil, err
	}
	return ctor(elemSize, info.ClientData), nil
}

// unavailable stands in for an optional filter without an implementation.
type unavailable struct{ err *UnsupportedError }

func (u unavailable) ID() uint16                     { return u.err.ID }
func (u unavailable) Decode([]byte) ([]byte, error) { return nil, u.err }
func (u unavailable) Encode([]byte) ([]byte, error) { return nil, u.err }
