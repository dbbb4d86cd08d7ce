package buffer

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/robert-malhotra/go-imaris/internal/tiff"
	"github.com/robert-malhotra/go-imaris/volume"
)

func newContext(t *testing.T, opts ...Option) *Context {
	t.Helper()
	x, err := NewContext(t.TempDir(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { x.Close() })
	return x
}

func ramp(t *testing.T, dt volume.DType, shape ...int) *volume.Array {
	t.Helper()
	vals := make([]float64, volume.NumElements(shape))
	for i := range vals {
		vals[i] = float64((i*7)%1000 + 1)
	}
	a, err := volume.FromFloat64s(dt, shape, vals)
	require.NoError(t, err)
	return a
}

func TestDefaultChunks(t *testing.T) {
	assert.Equal(t, [5]int{1, 16, 3, 512, 512}, DefaultChunks([5]int{4, 100, 3, 2048, 1024}))
	assert.Equal(t, [5]int{1, 5, 2, 64, 188}, DefaultChunks([5]int{1, 5, 2, 64, 188}))

	x := newContext(t)
	b, err := x.Create([5]int{2, 40, 2, 600, 30}, volume.Uint16, CreateOptions{})
	require.NoError(t, err)
	assert.Equal(t, [5]int{1, 16, 2, 512, 30}, b.Chunks())
	assert.Equal(t, CodecZstd, b.Codec())
}

func TestWriteRead(t *testing.T) {
	shape := [5]int{2, 20, 2, 30, 40}
	tests := []struct {
		name  string
		codec string
		cache int
	}{
		{"none", CodecNone, 8},
		{"zstd", CodecZstd, 8},
		{"snappy", CodecSnappy, 8},
		{"lz4", CodecLZ4, 8},
		{"uncached", CodecZstd, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			x := newContext(t, WithChunkCache(tc.cache), WithWorkers(3))
			b, err := x.Create(shape, volume.Uint16, CreateOptions{
				Chunks: [5]int{1, 8, 2, 16, 16},
				Codec:  tc.codec,
			})
			require.NoError(t, err)

			empty, err := b.Read(volume.Full(volume.Rank))
			require.NoError(t, err)
			lo, hi := empty.MinMax()
			assert.Zero(t, lo)
			assert.Zero(t, hi)

			want := ramp(t, volume.Uint16, shape[:]...)
			for _, part := range []struct{ z0, z1 int }{{0, 11}, {11, 20}} {
				sub, err := want.Region([]int{0, part.z0, 0, 0, 0}, []int{2, part.z1 - part.z0, 2, 30, 40})
				require.NoError(t, err)
				require.NoError(t, b.Write(volume.Sel(volume.All(), volume.Span(part.z0, part.z1)), sub))
			}

			got, err := b.Read(volume.Full(volume.Rank))
			require.NoError(t, err)
			assert.True(t, want.Equal(got))

			sel := volume.Sel(volume.At(1), volume.Span(3, 17), volume.At(0), volume.Span(5, 29), volume.Span(10, 33))
			part, err := b.Read(sel)
			require.NoError(t, err)
			wantPart, err := want.Region([]int{1, 3, 0, 5, 10}, []int{1, 14, 1, 24, 23})
			require.NoError(t, err)
			assert.True(t, wantPart.Equal(part))
		})
	}
}

func TestWriteConverts(t *testing.T) {
	x := newContext(t)
	b, err := x.Create([5]int{1, 1, 1, 2, 2}, volume.Uint8, CreateOptions{})
	require.NoError(t, err)
	src, err := volume.FromFloat64s(volume.Float64, []int{1, 1, 1, 2, 2}, []float64{-4, 1.4, 300, 7})
	require.NoError(t, err)
	require.NoError(t, b.Write(volume.Full(volume.Rank), src))

	got, err := b.Read(volume.Full(volume.Rank))
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1, 255, 7}, got.Float64s())
}

func TestWriteErrors(t *testing.T) {
	x := newContext(t)
	b, err := x.Create([5]int{1, 4, 1, 8, 8}, volume.Uint16, CreateOptions{})
	require.NoError(t, err)

	err = b.Write(volume.Sel(volume.All(), volume.Span(0, 2)), volume.New(volume.Uint16, 1, 3, 1, 8, 8))
	require.ErrorIs(t, err, volume.ErrShape)
	err = b.Write(volume.Full(volume.Rank), volume.New(volume.Uint16, 4, 8, 8))
	require.ErrorIs(t, err, volume.ErrShape)
	err = b.Write(volume.Sel(volume.All(), volume.Span(3, 5)), volume.New(volume.Uint16, 1, 2, 1, 8, 8))
	require.ErrorIs(t, err, volume.ErrIndex)
	_, err = b.Read(volume.Sel(volume.At(1)))
	require.ErrorIs(t, err, volume.ErrIndex)

	_, err = x.Create([5]int{1, 0, 1, 8, 8}, volume.Uint16, CreateOptions{})
	require.ErrorIs(t, err, volume.ErrShape)
	_, err = x.Create([5]int{1, 1, 1, 8, 8}, volume.Uint16, CreateOptions{Codec: "brotli"})
	require.Error(t, err)
}

func TestClose(t *testing.T) {
	x := newContext(t)
	b, err := x.Create([5]int{1, 2, 1, 4, 4}, volume.Float32, CreateOptions{})
	require.NoError(t, err)
	require.Len(t, x.Live(), 1)
	dir := b.Dir()
	require.DirExists(t, dir)

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
	assert.NoDirExists(t, dir)
	assert.Empty(t, x.Live())

	_, err = b.Read(volume.Full(volume.Rank))
	assert.ErrorIs(t, err, volume.ErrClosed)
	err = b.Write(volume.Full(volume.Rank), volume.New(volume.Float32, 1, 2, 1, 4, 4))
	assert.ErrorIs(t, err, volume.ErrClosed)
	assert.ErrorIs(t, b.Export(filepath.Join(t.TempDir(), "x.tif"), ExportOptions{}), volume.ErrClosed)
	assert.ErrorIs(t, b.Keep(), volume.ErrClosed)
}

func TestContextClose(t *testing.T) {
	x, err := NewContext(t.TempDir())
	require.NoError(t, err)
	a, err := x.Create([5]int{1, 1, 1, 2, 2}, volume.Uint8, CreateOptions{})
	require.NoError(t, err)
	b, err := x.Create([5]int{1, 1, 1, 2, 2}, volume.Uint8, CreateOptions{})
	require.NoError(t, err)
	require.Len(t, x.Live(), 2)

	require.NoError(t, x.Close())
	assert.Empty(t, x.Live())
	assert.NoDirExists(t, a.Dir())
	assert.NoDirExists(t, b.Dir())
}

func TestConcurrentDisjointWrites(t *testing.T) {
	shape := [5]int{3, 12, 2, 20, 24}
	x := newContext(t, WithChunkCache(4))
	b, err := x.Create(shape, volume.Int32, CreateOptions{Chunks: [5]int{1, 5, 2, 8, 8}})
	require.NoError(t, err)

	want := ramp(t, volume.Int32, shape[:]...)
	var eg errgroup.Group
	for tp := 0; tp < shape[volume.T]; tp++ {
		for z := 0; z < shape[volume.Z]; z++ {
			eg.Go(func() error {
				plane, err := want.Region([]int{tp, z, 0, 0, 0}, []int{1, 1, 2, 20, 24})
				if err != nil {
					return err
				}
				return b.Write(volume.Sel(volume.At(tp), volume.At(z)), plane)
			})
		}
	}
	require.NoError(t, eg.Wait())

	got, err := b.Read(volume.Full(volume.Rank))
	require.NoError(t, err)
	assert.True(t, want.Equal(got))
}

func TestExport(t *testing.T) {
	x := newContext(t)
	shape := [5]int{2, 3, 2, 9, 11}
	md := volume.Metadata{
		Filename: "cells.ims",
		Scale:    volume.VoxelSize{2, 0.325, 0.325},
		Channels: []volume.Channel{{Name: "DAPI"}, {Name: "GFP"}},
	}
	b, err := x.Create(shape, volume.Uint16, CreateOptions{Metadata: &md})
	require.NoError(t, err)
	want := ramp(t, volume.Uint16, shape[:]...)
	require.NoError(t, b.Write(volume.Full(volume.Rank), want))

	for _, deflate := range []bool{false, true} {
		path := filepath.Join(t.TempDir(), "out.tif")
		require.NoError(t, b.Export(path, ExportOptions{Deflate: deflate}))

		f, err := tiff.Open(path)
		require.NoError(t, err)
		assert.Equal(t, shape, f.Shape())
		assert.Equal(t, []string{"DAPI", "GFP"}, f.Labels)
		for d := range md.Scale {
			assert.InEpsilon(t, md.Scale[d], f.Scale[d], 1e-5)
		}
		got, err := f.ReadAll()
		require.NoError(t, err)
		assert.True(t, want.Equal(got))
		require.NoError(t, f.Close())
	}

	err = b.Export(filepath.Join(t.TempDir(), "out.zarr"), ExportOptions{})
	assert.ErrorIs(t, err, volume.ErrFormat)
}

func TestExportConvertsAndDefaults(t *testing.T) {
	x := newContext(t)
	b, err := x.Create([5]int{1, 1, 3, 2, 2}, volume.Int16, CreateOptions{})
	require.NoError(t, err)
	src, err := volume.FromFloat64s(volume.Int16, []int{1, 1, 3, 2, 2},
		[]float64{-5, 0, 5, 10, 1, 2, 3, 4, -1, -2, -3, -4})
	require.NoError(t, err)
	require.NoError(t, b.Write(volume.Full(volume.Rank), src))

	path := filepath.Join(t.TempDir(), "out.tiff")
	require.NoError(t, b.Export(path, ExportOptions{}))
	f, err := tiff.Open(path)
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, volume.Float32, f.DType)
	assert.False(t, f.Scale.Known())
	assert.Equal(t, []string{"Channel 0", "Channel 1", "Channel 2"}, f.Labels)
	got, err := f.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, src.Float64s(), got.Float64s())
}

func TestKeepAndOpen(t *testing.T) {
	root := t.TempDir()
	x, err := NewContext(root)
	require.NoError(t, err)
	shape := [5]int{1, 2, 1, 5, 5}
	b, err := x.Create(shape, volume.Uint8, CreateOptions{Codec: CodecSnappy})
	require.NoError(t, err)
	want := ramp(t, volume.Uint8, shape[:]...)
	require.NoError(t, b.Write(volume.Full(volume.Rank), want))
	require.NoError(t, b.SetMetadata(volume.Metadata{Scale: volume.VoxelSize{1, 2, 3}}))
	require.NoError(t, b.Keep())
	require.NoError(t, b.Close())
	require.DirExists(t, b.Dir())

	y, err := NewContext(root)
	require.NoError(t, err)
	defer y.Close()
	r, err := y.Open(b.ID())
	require.NoError(t, err)
	assert.Equal(t, CodecSnappy, r.Codec())
	assert.Equal(t, volume.VoxelSize{1, 2, 3}, r.Metadata().Scale)
	got, err := r.Read(volume.Full(volume.Rank))
	require.NoError(t, err)
	assert.True(t, want.Equal(got))

	_, err = y.Open(b.ID())
	assert.Error(t, err, "already open")
	require.NoError(t, r.Keep())
	require.NoError(t, r.Discard())
	assert.NoDirExists(t, r.Dir())
	assert.Empty(t, y.Live())
	_, err = y.Open("not-a-uuid")
	assert.Error(t, err)
	_, err = y.Open(uuid.NewString())
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func plantManifest(t *testing.T, x *Context, pid int, keep bool) string {
	t.Helper()
	id := uuid.NewString()
	dir := filepath.Join(x.Root(), id)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, writeManifest(dir, &Manifest{
		Version: manifestVersion,
		ID:      id,
		Shape:   [5]int{1, 1, 1, 1, 1},
		DType:   volume.Uint8,
		Chunks:  [5]int{1, 1, 1, 1, 1},
		Codec:   CodecNone,
		PID:     pid,
		Host:    x.host,
		Created: time.Now(),
		Keep:    keep,
	}))
	return dir
}

func TestSweep(t *testing.T) {
	x := newContext(t)
	live, err := x.Create([5]int{1, 1, 1, 4, 4}, volume.Uint8, CreateOptions{})
	require.NoError(t, err)

	dead := plantManifest(t, x, math.MaxInt32, false)
	kept := plantManifest(t, x, math.MaxInt32, true)
	owned := plantManifest(t, x, os.Getppid(), false)
	fresh := filepath.Join(x.Root(), uuid.NewString())
	require.NoError(t, os.MkdirAll(fresh, 0o755))
	stale := filepath.Join(x.Root(), uuid.NewString())
	require.NoError(t, os.MkdirAll(stale, 0o755))
	old := time.Now().Add(-2 * orphanGrace)
	require.NoError(t, os.Chtimes(stale, old, old))
	require.NoError(t, os.WriteFile(filepath.Join(x.Root(), "notes.txt"), nil, 0o644))

	ctx := context.Background()
	infos, err := x.List()
	require.NoError(t, err)
	assert.Len(t, infos, 6)

	removed, err := x.Sweep(ctx, SweepOptions{DryRun: true})
	require.NoError(t, err)
	assert.Len(t, removed, 2)
	assert.DirExists(t, dead)

	removed, err = x.Sweep(ctx, SweepOptions{})
	require.NoError(t, err)
	assert.Len(t, removed, 2)
	assert.NoDirExists(t, dead)
	assert.NoDirExists(t, stale)
	assert.DirExists(t, kept)
	assert.DirExists(t, owned)
	assert.DirExists(t, fresh)
	assert.DirExists(t, live.Dir())

	removed, err = x.Sweep(ctx, SweepOptions{Force: true})
	require.NoError(t, err)
	assert.Len(t, removed, 1)
	assert.NoDirExists(t, kept)
	assert.DirExists(t, live.Dir())
}

func TestCodecs(t *testing.T) {
	data := make([]byte, 4096)
	for i := range data {
		data[i] = byte(i / 64)
	}
	noise := make([]byte, 300)
	for i := range noise {
		noise[i] = byte(i * 131 % 251)
	}
	for _, name := range []string{CodecNone, CodecZstd, CodecSnappy, CodecLZ4} {
		c, err := CodecByName(name)
		require.NoError(t, err)
		for _, in := range [][]byte{data, noise} {
			enc, err := c.Encode(in)
			require.NoError(t, err, name)
			out, err := c.Decode(enc, len(in))
			require.NoError(t, err, name)
			assert.Equal(t, in, out, name)
			_, err = c.Decode(enc, len(in)+1)
			assert.Error(t, err, name)
		}
	}
}
