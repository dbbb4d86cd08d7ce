package stream

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/robert-malhotra/go-imaris/buffer"
	"github.com/robert-malhotra/go-imaris/ims"
	"github.com/robert-malhotra/go-imaris/proxy"
	"github.com/robert-malhotra/go-imaris/volume"
)

func source(t *testing.T, shape ...int) (*volume.Array, *proxy.Memory) {
	t.Helper()
	vals := make([]float64, volume.NumElements(shape))
	for i := range vals {
		vals[i] = float64((i*17)%997 + 1)
	}
	a, err := volume.FromFloat64s(volume.Uint16, shape, vals)
	require.NoError(t, err)
	m, err := proxy.NewMemory(a)
	require.NoError(t, err)
	return a, m
}

func destination(t *testing.T, shape [volume.Rank]int) *buffer.Buffer {
	t.Helper()
	x, err := buffer.NewContext(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { x.Close() })
	b, err := x.Create(shape, volume.Uint16, buffer.CreateOptions{})
	require.NoError(t, err)
	return b
}

func TestIdentity(t *testing.T) {
	for _, order := range []Interpolation{Nearest, Linear, Cubic} {
		t.Run(order.String(), func(t *testing.T) {
			data, src := source(t, 2, 3, 2, 17, 23)
			dst := destination(t, src.Shape())

			var fractions []float64
			res, err := Run(context.Background(), src, RotateTranslate(0, 0, 0, order), dst,
				WithProgress(func(f float64) { fractions = append(fractions, f) }))
			require.NoError(t, err)
			assert.Equal(t, Result{Status: Completed, Blocks: 6, Total: 6}, res)

			got, err := dst.Read(volume.Full(volume.Rank))
			require.NoError(t, err)
			assert.True(t, data.Equal(got))

			require.Len(t, fractions, 6)
			assert.IsIncreasing(t, fractions)
			assert.Equal(t, 1.0, fractions[len(fractions)-1])
		})
	}
}

func TestParallelWorkers(t *testing.T) {
	data, src := source(t, 3, 8, 2, 10, 12)
	dst := destination(t, src.Shape())
	var mu sync.Mutex
	last := 0.0
	res, err := Run(context.Background(), src, RotateTranslate(0, 0, 0, Linear), dst,
		WithWorkers(4),
		WithProgress(func(f float64) {
			mu.Lock()
			defer mu.Unlock()
			assert.Greater(t, f, last)
			last = f
		}))
	require.NoError(t, err)
	assert.Equal(t, 24, res.Blocks)
	assert.Equal(t, 1.0, last)
	got, err := dst.Read(volume.Full(volume.Rank))
	require.NoError(t, err)
	assert.True(t, data.Equal(got))
}

func TestCancel(t *testing.T) {
	data, src := source(t, 2, 4, 1, 6, 6)
	dst := destination(t, src.Shape())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	const stopAfter = 3
	res, err := Run(ctx, src, RotateTranslate(0, 0, 0, Nearest), dst,
		WithProgress(func(f float64) {
			if f >= float64(stopAfter)/8 {
				cancel()
			}
		}))
	require.NoError(t, err)
	assert.Equal(t, Cancelled, res.Status)
	assert.Equal(t, stopAfter, res.Blocks)
	assert.Equal(t, 8, res.Total)

	got, err := dst.Read(volume.Full(volume.Rank))
	require.NoError(t, err)
	for b := 0; b < 8; b++ {
		tp, z := b/4, b%4
		plane, err := got.Region([]int{tp, z, 0, 0, 0}, []int{1, 1, 1, 6, 6})
		require.NoError(t, err)
		if b < stopAfter {
			want, err := data.Region([]int{tp, z, 0, 0, 0}, []int{1, 1, 1, 6, 6})
			require.NoError(t, err)
			assert.True(t, want.Equal(plane), "block %d", b)
			continue
		}
		lo, hi := plane.MinMax()
		assert.Zero(t, lo, "block %d", b)
		assert.Zero(t, hi, "block %d", b)
	}
}

func TestProcessingError(t *testing.T) {
	data, src := source(t, 1, 5, 2, 4, 4)
	dst := destination(t, src.Shape())
	boom := errors.New("boom")
	calls := 0
	fn := func(p *volume.Array) (*volume.Array, error) {
		calls++
		if calls == 5 {
			return nil, boom
		}
		return p, nil
	}
	res, err := Run(context.Background(), src, fn, dst)
	require.Error(t, err)
	assert.ErrorIs(t, err, volume.ErrProcessing)
	assert.ErrorIs(t, err, boom)
	var verr *volume.Error
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []int{0, 2, 0}, verr.Index)
	assert.Equal(t, 2, res.Blocks)

	// blocks before the failure are kept, the failing block and later ones
	// are never written
	got, err := dst.Read(volume.Full(volume.Rank))
	require.NoError(t, err)
	for z := 0; z < 5; z++ {
		block, err := got.Region([]int{0, z, 0, 0, 0}, []int{1, 1, 2, 4, 4})
		require.NoError(t, err)
		if z < 2 {
			want, err := data.Region([]int{0, z, 0, 0, 0}, []int{1, 1, 2, 4, 4})
			require.NoError(t, err)
			assert.True(t, want.Equal(block), "block (0, %d)", z)
			continue
		}
		lo, hi := block.MinMax()
		assert.Zero(t, lo, "block (0, %d)", z)
		assert.Zero(t, hi, "block (0, %d)", z)
	}

	panicky := func(*volume.Array) (*volume.Array, error) { panic("divide by zero") }
	_, err = Run(context.Background(), src, panicky, dst)
	assert.ErrorIs(t, err, volume.ErrProcessing)

	wrong := func(*volume.Array) (*volume.Array, error) { return volume.New(volume.Uint16, 3, 3), nil }
	_, err = Run(context.Background(), src, wrong, dst)
	assert.ErrorIs(t, err, volume.ErrProcessing)

	_, err = Run(context.Background(), src, RotateTranslate(0, 0, 0, Interpolation(2)), dst)
	assert.ErrorIs(t, err, volume.ErrProcessing)
}

func TestConcurrentSourceReads(t *testing.T) {
	data, _ := source(t, 2, 6, 2, 20, 24)
	p := filepath.Join(t.TempDir(), "shared.ims")
	require.NoError(t, ims.Write(p, data, ims.WriteOptions{Chunk: [3]int{2, 8, 8}}))
	r, err := ims.Open(p)
	require.NoError(t, err)
	defer r.Close()
	src, err := proxy.NewContainer(r, 0)
	require.NoError(t, err)
	dst := destination(t, src.Shape())

	stop := make(chan struct{})
	var eg errgroup.Group
	for i := 0; i < 3; i++ {
		eg.Go(func() error {
			for n := 0; ; n++ {
				select {
				case <-stop:
					return nil
				default:
				}
				tp, z := n%2, (n+i)%6
				sel := volume.Sel(volume.At(tp), volume.At(z))
				got, err := src.Read(sel)
				if err != nil {
					return err
				}
				want, err := data.Region([]int{tp, z, 0, 0, 0}, []int{1, 1, 2, 20, 24})
				if err != nil {
					return err
				}
				if !want.Equal(got) {
					return fmt.Errorf("block (%d, %d) differs", tp, z)
				}
			}
		})
	}

	res, err := Run(context.Background(), src, RotateTranslate(0, 0, 0, Linear), dst, WithWorkers(4))
	close(stop)
	require.NoError(t, err)
	require.NoError(t, eg.Wait())
	assert.Equal(t, Result{Status: Completed, Blocks: 12, Total: 12}, res)

	got, err := dst.Read(volume.Full(volume.Rank))
	require.NoError(t, err)
	assert.True(t, data.Equal(got))
}

func TestShapeMismatch(t *testing.T) {
	_, src := source(t, 1, 2, 2, 4, 4)
	dst := destination(t, [5]int{1, 3, 2, 4, 4})
	_, err := Run(context.Background(), src, RotateTranslate(0, 0, 0, Nearest), dst)
	assert.ErrorIs(t, err, volume.ErrShape)
}

func TestEmptyProgress(t *testing.T) {
	_, src := source(t, 0, 1, 1, 2, 2)
	var got []float64
	res, err := Run(context.Background(), src, RotateTranslate(0, 0, 0, Nearest), emptyDest{},
		WithProgress(func(f float64) { got = append(got, f) }))
	require.NoError(t, err)
	assert.Equal(t, Completed, res.Status)
	assert.Equal(t, []float64{1}, got)
}

type emptyDest struct{}

func (emptyDest) Shape() [volume.Rank]int { return [5]int{0, 1, 1, 2, 2} }

func (emptyDest) Write(volume.Selection, *volume.Array) error { return nil }

func plane(t *testing.T, ny, nx int) *volume.Array {
	t.Helper()
	vals := make([]float64, ny*nx)
	for i := range vals {
		vals[i] = float64(i + 1)
	}
	a, err := volume.FromFloat64s(volume.Float32, []int{ny, nx}, vals)
	require.NoError(t, err)
	return a
}

func TestTranslate(t *testing.T) {
	in := plane(t, 5, 6)
	for _, order := range []Interpolation{Nearest, Linear, Cubic} {
		out, err := RotateTranslate(0, 2, 1, order)(in)
		require.NoError(t, err)
		for y := 0; y < 5; y++ {
			for x := 0; x < 6; x++ {
				want := 0.0
				if y >= 1 && x >= 2 {
					want = in.At(y-1, x-2)
				}
				assert.InDelta(t, want, out.At(y, x), 1e-4, "%s (%d, %d)", order, y, x)
			}
		}
	}
}

func TestRotate180(t *testing.T) {
	in := plane(t, 4, 4)
	out, err := RotateTranslate(180, 0, 0, Nearest)(in)
	require.NoError(t, err)
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			want := 0.0
			if y >= 1 && x >= 1 {
				want = in.At(4-y, 4-x)
			}
			assert.Equal(t, want, out.At(y, x), "(%d, %d)", y, x)
		}
	}
}

func TestHalfPixelShift(t *testing.T) {
	in, err := volume.FromFloat64s(volume.Float64, []int{1, 4}, []float64{0, 10, 20, 30})
	require.NoError(t, err)
	out, err := RotateTranslate(0, 0.5, 0, Linear)(in)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 5, 15, 25}, out.Float64s())
}

func TestRigidErrors(t *testing.T) {
	_, err := Rigid{}.Apply(volume.New(volume.Uint8, 1, 2, 2))
	assert.ErrorIs(t, err, volume.ErrShape)
	_, err = RotateTranslate(0, 0, 0, 7)(plane(t, 2, 2))
	assert.Error(t, err)

	for _, s := range []string{"0", "linear", "3"} {
		_, err := ParseInterpolation(s)
		assert.NoError(t, err)
	}
	_, err = ParseInterpolation("bilinear")
	assert.Error(t, err)
}
