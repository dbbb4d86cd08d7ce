// Package stream applies per-plane functions to a volume one (T, Z) block
// at a time, writing results into an out-of-core buffer.
package stream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/robert-malhotra/go-imaris/proxy"
	"github.com/robert-malhotra/go-imaris/volume"
)

// Func maps one channel plane, a (Y, X) array, to its output plane.
type Func func(plane *volume.Array) (*volume.Array, error)

// Destination receives processed blocks. *buffer.Buffer implements it.
type Destination interface {
	Shape() [volume.Rank]int
	Write(sel volume.Selection, data *volume.Array) error
}

// Status is the outcome of a run that did not fail.
type Status int

const (
	Completed Status = iota
	Cancelled
)

func (s Status) String() string {
	switch s {
	case Completed:
		return "completed"
	case Cancelled:
		return "cancelled"
	}
	return fmt.Sprintf("status %d", int(s))
}

// Result reports how far a run got.
type Result struct {
	Status Status
	// Blocks is the number of (T, Z) blocks written.
	Blocks int
	Total  int
}

// Run reads src one (T, Z) block at a time, applies fn to every channel
// plane and writes the block to the same position of dst. dst must match
// src along T, Z and C; its Y and X extents fix the expected output plane
// shape.
//
// Cancellation of ctx is checked between blocks. A cancelled run returns
// Status Cancelled and a nil error, with every block counted in Blocks
// fully written. A failing fn aborts the run with a volume.ErrProcessing
// error; blocks written before the failure are kept.
func Run(ctx context.Context, src proxy.Proxy, fn Func, dst Destination, opts ...Option) (Result, error) {
	const op = "stream"
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	ss, ds := src.Shape(), dst.Shape()
	if ss[volume.T] != ds[volume.T] || ss[volume.Z] != ds[volume.Z] || ss[volume.C] != ds[volume.C] {
		return Result{}, volume.Errorf(volume.ErrShape, op, "destination %v does not match source %v", ds, ss).
			WithShape(ds[:])
	}

	res := Result{Total: ss[volume.T] * ss[volume.Z]}
	var mu sync.Mutex
	done := func() {
		mu.Lock()
		defer mu.Unlock()
		res.Blocks++
		if o.progress != nil {
			o.progress(float64(res.Blocks) / float64(res.Total))
		}
	}

	begin := time.Now()
	eg, gctx := errgroup.WithContext(ctx)
	// A slot is taken before the cancellation check, so with one worker
	// the check always follows the previous block.
	slots := make(chan struct{}, o.workers)
	cancelled := false
dispatch:
	for t := 0; t < ss[volume.T]; t++ {
		for z := 0; z < ss[volume.Z]; z++ {
			slots <- struct{}{}
			if ctx.Err() != nil {
				cancelled = true
				break dispatch
			}
			if gctx.Err() != nil {
				break dispatch
			}
			eg.Go(func() error {
				defer func() { <-slots }()
				if err := runBlock(src, fn, dst, t, z, ds); err != nil {
					return err
				}
				done()
				return nil
			})
		}
	}
	if err := eg.Wait(); err != nil {
		o.log.Warn("stream aborted",
			zap.Int("blocks", res.Blocks),
			zap.Int("total", res.Total),
			zap.Error(err))
		return res, err
	}
	if cancelled {
		res.Status = Cancelled
	} else if res.Total == 0 && o.progress != nil {
		o.progress(1)
	}
	o.log.Info("stream finished",
		zap.Stringer("status", res.Status),
		zap.Int("blocks", res.Blocks),
		zap.Int("total", res.Total),
		zap.Duration("elapsed", time.Since(begin)))
	return res, nil
}

func runBlock(src proxy.Proxy, fn Func, dst Destination, t, z int, ds [volume.Rank]int) error {
	const op = "stream"
	sel := volume.Sel(volume.At(t), volume.At(z))
	in, err := src.Read(sel)
	if err != nil {
		return err
	}
	ny, nx := in.Shape[volume.Y], in.Shape[volume.X]
	var out *volume.Array
	for c := 0; c < in.Shape[volume.C]; c++ {
		plane, err := in.Region([]int{0, 0, c, 0, 0}, []int{1, 1, 1, ny, nx})
		if err != nil {
			return err
		}
		if plane, err = plane.Reshape(ny, nx); err != nil {
			return err
		}
		idx := []int{t, z, c}
		r, err := call(fn, plane)
		if err != nil {
			return volume.Wrap(volume.ErrProcessing, op, err).WithIndex(idx)
		}
		if len(r.Shape) != 2 || r.Shape[0] != ds[volume.Y] || r.Shape[1] != ds[volume.X] {
			return volume.Errorf(volume.ErrProcessing, op, "plane of shape %v, destination needs %v",
				r.Shape, []int{ds[volume.Y], ds[volume.X]}).WithIndex(idx)
		}
		if out == nil {
			out = volume.New(r.DType, 1, 1, in.Shape[volume.C], ds[volume.Y], ds[volume.X])
		} else if r.DType != out.DType {
			r = r.Convert(out.DType)
		}
		if r, err = r.Reshape(1, 1, 1, ds[volume.Y], ds[volume.X]); err != nil {
			return err
		}
		if err := out.SetRegion([]int{0, 0, c, 0, 0}, r); err != nil {
			return err
		}
	}
	if out == nil {
		return nil
	}
	return dst.Write(sel, out)
}

// call runs fn, reporting a panic as an error.
func call(fn Func, plane *volume.Array) (out *volume.Array, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	out, err = fn(plane)
	if err == nil && out == nil {
		err = fmt.Errorf("function returned no plane")
	}
	return out, err
}

// Option configures Run.
type Option func(*options)

type options struct {
	progress func(float64)
	workers  int
	log      *zap.Logger
}

func defaultOptions() options {
	return options{workers: 1, log: zap.NewNop()}
}

// WithProgress registers a callback invoked after every block with the
// completed fraction. Calls are serialized and increasing, and a completed
// run always ends with exactly 1.
func WithProgress(fn func(float64)) Option {
	return func(o *options) { o.progress = fn }
}

// WithWorkers processes up to n blocks at once. With n > 1 blocks may
// complete out of order.
func WithWorkers(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.workers = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// Identity returns plane unchanged. Running it copies the source.
func Identity(plane *volume.Array) (*volume.Array, error) { return plane, nil }
