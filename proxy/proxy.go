// Package proxy provides lazy five-axis views over Imaris containers,
// in-memory arrays and other views. Every view reads through the same
// contract: Read materializes the selected region as a concrete array whose
// full-selection shape equals Shape.
package proxy

import (
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/robert-malhotra/go-imaris/ims"
	"github.com/robert-malhotra/go-imaris/volume"
)

// Proxy is a read-only handle over a canonical TZCYX volume. Reads never
// modify the proxy or its backing store.
type Proxy interface {
	Shape() [volume.Rank]int
	DType() volume.DType
	Read(sel volume.Selection) (*volume.Array, error)
}

// Container reads one resolution level of an Imaris file. The reader must
// outlive the proxy.
type Container struct {
	r       *ims.Reader
	level   int
	shape   [volume.Rank]int
	workers int
}

// NewContainer returns a view of level lvl of r.
func NewContainer(r *ims.Reader, lvl int) (*Container, error) {
	shape, err := r.LevelShape(lvl)
	if err != nil {
		return nil, err
	}
	return &Container{r: r, level: lvl, shape: shape, workers: runtime.GOMAXPROCS(0)}, nil
}

// NewContainerFor returns a view of the coarsest level of r that still
// covers want, given as Z, Y and X extents.
func NewContainerFor(r *ims.Reader, want [3]int) (*Container, error) {
	return NewContainer(r, r.SelectLevel(want))
}

// Level returns the resolution level read by p.
func (p *Container) Level() int { return p.level }

func (p *Container) Shape() [volume.Rank]int { return p.shape }

func (p *Container) DType() volume.DType { return p.r.DType() }

// Read fetches one ZYX block per selected time point and channel.
func (p *Container) Read(sel volume.Selection) (*volume.Array, error) {
	start, count, err := sel.Resolve("read", p.shape[:])
	if err != nil {
		return nil, err
	}
	out := volume.New(p.r.DType(), count...)
	if out.Len() == 0 {
		return out, nil
	}
	z := volume.Span(start[volume.Z], start[volume.Z]+count[volume.Z])
	y := volume.Span(start[volume.Y], start[volume.Y]+count[volume.Y])
	x := volume.Span(start[volume.X], start[volume.X]+count[volume.X])

	var eg errgroup.Group
	eg.SetLimit(p.workers)
	for ti := 0; ti < count[volume.T]; ti++ {
		for ci := 0; ci < count[volume.C]; ci++ {
			eg.Go(func() error {
				blk, err := p.r.ReadBlock(p.level, start[volume.T]+ti, start[volume.C]+ci, z, y, x)
				if err != nil {
					return err
				}
				blk, err = blk.Reshape(1, count[volume.Z], 1, count[volume.Y], count[volume.X])
				if err != nil {
					return err
				}
				return out.SetRegion([]int{ti, 0, ci, 0, 0}, blk)
			})
		}
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Memory is a view of an in-memory TZCYX array.
type Memory struct {
	a     *volume.Array
	shape [volume.Rank]int
}

// NewMemory wraps a rank-5 array without copying it. The caller must not
// modify a afterwards.
func NewMemory(a *volume.Array) (*Memory, error) {
	if len(a.Shape) != volume.Rank {
		return nil, volume.Errorf(volume.ErrShape, "memory proxy", "array has rank %d, want %d", len(a.Shape), volume.Rank).
			WithShape(a.Shape)
	}
	m := &Memory{a: a}
	copy(m.shape[:], a.Shape)
	return m, nil
}

// FromArray normalizes a into canonical order, dims naming its axes, and
// wraps the result.
func FromArray(a *volume.Array, dims string) (*Memory, error) {
	n, err := volume.Normalize(a, dims)
	if err != nil {
		return nil, err
	}
	return NewMemory(n)
}

func (m *Memory) Shape() [volume.Rank]int { return m.shape }

func (m *Memory) DType() volume.DType { return m.a.DType }

// Read copies the selected region.
func (m *Memory) Read(sel volume.Selection) (*volume.Array, error) {
	start, count, err := sel.Resolve("read", m.shape[:])
	if err != nil {
		return nil, err
	}
	return m.a.Region(start, count)
}

// Permuted reorders the axes of another proxy: its axis i is source axis
// perm[i].
type Permuted struct {
	src   Proxy
	perm  []int
	shape [volume.Rank]int
}

// Permute returns a view of src with axes reordered by perm, which must be
// a bijection over the five axes.
func Permute(src Proxy, perm ...int) (*Permuted, error) {
	if err := volume.CheckPermutation(perm, volume.Rank); err != nil {
		return nil, err
	}
	p := &Permuted{src: src, perm: append([]int(nil), perm...)}
	s := src.Shape()
	for i, q := range perm {
		p.shape[i] = s[q]
	}
	return p, nil
}

// Perm returns the axis mapping.
func (p *Permuted) Perm() []int { return append([]int(nil), p.perm...) }

func (p *Permuted) Shape() [volume.Rank]int { return p.shape }

func (p *Permuted) DType() volume.DType { return p.src.DType() }

// Read translates sel to source order, reads, and transposes the result
// back into view order.
func (p *Permuted) Read(sel volume.Selection) (*volume.Array, error) {
	if _, _, err := sel.Resolve("read", p.shape[:]); err != nil {
		return nil, err
	}
	a, err := p.src.Read(sel.Permute(p.perm))
	if err != nil {
		return nil, err
	}
	return a.Transpose(p.perm...)
}

// projectionBatch is the number of source planes read at once.
const projectionBatch = 16

// Projection is the maximum-intensity projection of another proxy along Z.
// Its Z extent is one; any read of it takes the maximum over every source
// plane.
type Projection struct {
	src   Proxy
	shape [volume.Rank]int
}

// Project returns the maximum-intensity projection of src.
func Project(src Proxy) *Projection {
	p := &Projection{src: src, shape: src.Shape()}
	p.shape[volume.Z] = 1
	return p
}

func (p *Projection) Shape() [volume.Rank]int { return p.shape }

func (p *Projection) DType() volume.DType { return p.src.DType() }

// Read reads the source in batches of Z planes and folds their maxima.
func (p *Projection) Read(sel volume.Selection) (*volume.Array, error) {
	start, count, err := sel.Resolve("read", p.shape[:])
	if err != nil {
		return nil, err
	}
	depth := p.src.Shape()[volume.Z]
	if depth == 0 || volume.NumElements(count) == 0 {
		return volume.New(p.DType(), count...), nil
	}
	src := volume.Box(start, count)
	var acc *volume.Array
	for z := 0; z < depth; z += projectionBatch {
		src[volume.Z] = volume.Span(z, min(z+projectionBatch, depth))
		a, err := p.src.Read(src)
		if err != nil {
			return nil, err
		}
		m, err := volume.MaxAlong(a, volume.Z)
		if err != nil {
			return nil, err
		}
		if acc == nil {
			acc = m
			continue
		}
		if err := volume.Maximum(acc, m); err != nil {
			return nil, err
		}
	}
	return acc, nil
}
