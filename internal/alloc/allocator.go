// Package alloc hands out file addresses for HDF5 writing.
//
// Allocation is append-only: space is never reclaimed, so the file end is
// always the high-water mark.
package alloc

import "sync"

// Allocation records one block handed out.
type Allocation struct {
	Addr uint64
	Size uint64
	Tag  string
}

// Allocator is a bump allocator safe for concurrent use.
type Allocator struct {
	mu          sync.Mutex
	eof         uint64
	allocations []Allocation
}

// New starts allocating at base, the first address after the superblock.
func New(base uint64) *Allocator {
	return &Allocator{eof: base}
}

// Alloc reserves size bytes at the end of the file.
func (a *Allocator) Alloc(size uint64, tag string) uint64 {
	return a.AllocAligned(size, 1, tag)
}

// AllocAligned reserves size bytes starting at a multiple of alignment.
func (a *Allocator) AllocAligned(size, alignment uint64, tag string) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	if alignment > 1 {
		if rem := a.eof % alignment; rem != 0 {
			a.eof += alignment - rem
		}
	}
	addr := a.eof
	if size == 0 {
		return addr
	}
	a.eof += size
	a.allocations = append(a.allocations, Allocation{Addr: addr, Size: size, Tag: tag})
	return addr
}

// EOF returns the address one past the last allocated byte.
func (a *Allocator) EOF() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.eof
}

// Allocations returns a copy of every allocation in address order.
func (a *Allocator) Allocations() []Allocation {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Allocation(nil), a.allocations...)
}

// Allocated sums the bytes handed out, excluding alignment padding.
func (a *Allocator) Allocated() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	var n uint64
	for _, al := range a.allocations {
		n += al.Size
	}
	return n
}
