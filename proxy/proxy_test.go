package proxy

import (
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robert-malhotra/go-imaris/ims"
	"github.com/robert-malhotra/go-imaris/internal/tiff"
	"github.com/robert-malhotra/go-imaris/volume"
)

func synthetic(t *testing.T, shape ...int) *volume.Array {
	t.Helper()
	vals := make([]float64, volume.NumElements(shape))
	for i := range vals {
		vals[i] = float64((i*13)%3001 + 1)
	}
	a, err := volume.FromFloat64s(volume.Uint16, shape, vals)
	require.NoError(t, err)
	return a
}

func writeIMS(t *testing.T, a *volume.Array) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "fixture.ims")
	require.NoError(t, ims.Write(p, a, ims.WriteOptions{
		Scale:    volume.VoxelSize{1.5, 0.2, 0.2},
		Channels: []volume.Channel{{Name: "actin"}, {Name: "tubulin"}},
		Levels:   3,
		Chunk:    [3]int{4, 16, 16},
	}))
	return p
}

func shapeOf(a *volume.Array) [volume.Rank]int {
	var s [volume.Rank]int
	copy(s[:], a.Shape)
	return s
}

func TestFullReadShape(t *testing.T) {
	data := synthetic(t, 2, 5, 2, 24, 30)
	mem, err := NewMemory(data)
	require.NoError(t, err)

	img, err := Open(writeIMS(t, data))
	require.NoError(t, err)
	defer img.Close()

	perm, err := Permute(mem, 4, 3, 2, 1, 0)
	require.NoError(t, err)

	tests := []struct {
		name string
		p    Proxy
	}{
		{"memory", mem},
		{"container", img},
		{"permuted", perm},
		{"projection", Project(mem)},
		{"projected permutation", Project(perm)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			a, err := tc.p.Read(volume.Full(volume.Rank))
			require.NoError(t, err)
			assert.Equal(t, tc.p.Shape(), shapeOf(a))
			assert.Equal(t, tc.p.DType(), a.DType)
		})
	}
}

func TestContainer(t *testing.T) {
	data := synthetic(t, 2, 5, 2, 24, 30)
	img, err := Open(writeIMS(t, data))
	require.NoError(t, err)
	defer img.Close()

	assert.Equal(t, [5]int{2, 5, 2, 24, 30}, img.Shape())
	assert.Equal(t, []string{"actin", "tubulin"}, img.Metadata.ChannelNames())
	assert.Equal(t, volume.VoxelSize{1.5, 0.2, 0.2}, img.Metadata.Scale)

	got, err := img.Read(volume.Full(volume.Rank))
	require.NoError(t, err)
	assert.True(t, data.Equal(got))

	sel := volume.Sel(volume.At(1), volume.Span(1, 4), volume.At(1), volume.Span(3, 20), volume.Span(7, 29))
	part, err := img.Read(sel)
	require.NoError(t, err)
	want, err := data.Region([]int{1, 1, 1, 3, 7}, []int{1, 3, 1, 17, 22})
	require.NoError(t, err)
	assert.True(t, want.Equal(part))

	_, err = img.Read(volume.Sel(volume.At(2)))
	assert.ErrorIs(t, err, volume.ErrIndex)

	low, err := img.Downsampled([3]int{3, 10, 10})
	require.NoError(t, err)
	assert.Equal(t, 1, low.(*Container).Level())
	assert.Equal(t, [5]int{2, 3, 2, 12, 15}, low.Shape())
	a, err := low.Read(volume.Full(volume.Rank))
	require.NoError(t, err)
	assert.Equal(t, low.Shape(), shapeOf(a))

	require.NoError(t, img.Close())
	require.NoError(t, img.Close())
	_, err = img.Read(volume.Full(volume.Rank))
	assert.ErrorIs(t, err, volume.ErrClosed)
}

func TestMemory(t *testing.T) {
	_, err := NewMemory(volume.New(volume.Uint8, 3, 4))
	assert.ErrorIs(t, err, volume.ErrShape)

	yx := synthetic(t, 6, 7)
	m, err := FromArray(yx, "YX")
	require.NoError(t, err)
	assert.Equal(t, [5]int{1, 1, 1, 6, 7}, m.Shape())
	px, err := m.Read(volume.Sel(volume.At(0), volume.At(0), volume.At(0), volume.At(4), volume.At(5)))
	require.NoError(t, err)
	assert.Equal(t, yx.At(4, 5), px.At(0, 0, 0, 0, 0))

	_, err = FromArray(yx, "ZYX")
	assert.ErrorIs(t, err, volume.ErrShape)
}

func TestPermuted(t *testing.T) {
	data := synthetic(t, 2, 3, 2, 4, 5)
	mem, err := NewMemory(data)
	require.NoError(t, err)

	// view order X, C, T, Y, Z
	perm := []int{volume.X, volume.C, volume.T, volume.Y, volume.Z}
	p, err := Permute(mem, perm...)
	require.NoError(t, err)
	assert.Equal(t, [5]int{5, 2, 2, 4, 3}, p.Shape())

	full, err := p.Read(volume.Full(volume.Rank))
	require.NoError(t, err)
	for x := 0; x < 5; x++ {
		for c := 0; c < 2; c++ {
			assert.Equal(t, data.At(1, 2, c, 3, x), full.At(x, c, 1, 3, 2))
		}
	}

	part, err := p.Read(volume.Sel(volume.Span(1, 4), volume.At(1), volume.All(), volume.Span(0, 2), volume.At(0)))
	require.NoError(t, err)
	assert.Equal(t, []int{3, 1, 2, 2, 1}, part.Shape)
	assert.Equal(t, data.At(1, 0, 1, 1, 3), part.At(2, 0, 1, 1, 0))

	back, err := Permute(p, volume.InversePermutation(perm)...)
	require.NoError(t, err)
	assert.Equal(t, mem.Shape(), back.Shape())
	round, err := back.Read(volume.Full(volume.Rank))
	require.NoError(t, err)
	assert.True(t, data.Equal(round))

	_, err = p.Read(volume.Sel(volume.At(5)))
	assert.ErrorIs(t, err, volume.ErrIndex)
	_, err = p.Read(volume.Selection{volume.All()})
	assert.ErrorIs(t, err, volume.ErrShape)

	for _, bad := range [][]int{{0, 1, 2, 3}, {0, 0, 1, 2, 3}, {0, 1, 2, 3, 5}} {
		_, err := Permute(mem, bad...)
		assert.ErrorIs(t, err, volume.ErrShape, "%v", bad)
	}
}

func TestProjection(t *testing.T) {
	stack := volume.New(volume.Uint8, 1, 3, 1, 4, 4)
	for z, v := range []float64{1, 5, 3} {
		for y := 0; y < 4; y++ {
			for x := 0; x < 4; x++ {
				stack.Set(v, 0, z, 0, y, x)
			}
		}
	}
	mem, err := NewMemory(stack)
	require.NoError(t, err)
	mip, err := Project(mem).Read(volume.Full(volume.Rank))
	require.NoError(t, err)
	assert.Equal(t, []int{1, 1, 1, 4, 4}, mip.Shape)
	lo, hi := mip.MinMax()
	assert.Equal(t, 5.0, lo)
	assert.Equal(t, 5.0, hi)
}

func TestProjectionEmptySelection(t *testing.T) {
	mem, err := NewMemory(volume.New(volume.Uint8, 1, 3, 1, 2, 2))
	require.NoError(t, err)
	mip := Project(mem)

	sel := volume.Sel(volume.All(), volume.Span(0, 0))
	want, err := mem.Read(sel)
	require.NoError(t, err)
	got, err := mip.Read(sel)
	require.NoError(t, err)
	assert.Equal(t, want.Shape, got.Shape)
	assert.Equal(t, []int{1, 0, 1, 2, 2}, got.Shape)

	got, err = mip.Read(volume.Sel(volume.All(), volume.All(), volume.All(), volume.Span(1, 1)))
	require.NoError(t, err)
	assert.Equal(t, []int{1, 1, 1, 0, 2}, got.Shape)
}

func TestProjectionBatches(t *testing.T) {
	depth := 2*projectionBatch + 3
	data := synthetic(t, 2, depth, 2, 5, 6)
	mem, err := NewMemory(data)
	require.NoError(t, err)
	p := Project(mem)
	assert.Equal(t, [5]int{2, 1, 2, 5, 6}, p.Shape())

	want, err := volume.MaxAlong(data, volume.Z)
	require.NoError(t, err)
	got, err := p.Read(volume.Full(volume.Rank))
	require.NoError(t, err)
	assert.True(t, want.Equal(got))

	part, err := p.Read(volume.Sel(volume.At(1), volume.At(0), volume.At(1), volume.Span(2, 4)))
	require.NoError(t, err)
	assert.Equal(t, []int{1, 1, 1, 2, 6}, part.Shape)
	assert.Equal(t, want.At(1, 0, 1, 3, 4), part.At(0, 0, 0, 1, 4))

	_, err = p.Read(volume.Sel(volume.All(), volume.At(1)))
	assert.ErrorIs(t, err, volume.ErrIndex)
}

func TestOpenTIFF(t *testing.T) {
	data := synthetic(t, 1, 3, 2, 8, 9)
	p := filepath.Join(t.TempDir(), "stack.tif")
	w, err := tiff.Create(p, tiff.Header{
		Width: 9, Height: 8, Frames: 1, Slices: 3, Channels: 2,
		DType:  volume.Uint16,
		Scale:  volume.VoxelSize{0.5, 0.1, 0.1},
		Labels: []string{"red", ""},
	}, true)
	require.NoError(t, err)
	plane := 8 * 9 * 2
	for i := 0; i < 6; i++ {
		require.NoError(t, w.WritePlane(data.Data[i*plane:(i+1)*plane]))
	}
	require.NoError(t, w.Close())

	img, err := Open(p)
	require.NoError(t, err)
	defer img.Close()
	assert.Nil(t, img.Reader())
	assert.Equal(t, "stack.tif", img.Metadata.Filename)
	assert.Equal(t, []string{"red", "Channel 1"}, img.Metadata.ChannelNames())
	assert.InEpsilon(t, 0.1, img.Metadata.Scale[2], 1e-5)
	got, err := img.Read(volume.Full(volume.Rank))
	require.NoError(t, err)
	assert.True(t, data.Equal(got))

	same, err := img.Downsampled([3]int{1, 1, 1})
	require.NoError(t, err)
	assert.Equal(t, img.Shape(), same.Shape())

	_, err = Open(filepath.Join(t.TempDir(), "x.bmp"))
	assert.ErrorIs(t, err, volume.ErrFormat)
}

func writePicture(t *testing.T, name string, img image.Image) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	f, err := os.Create(p)
	require.NoError(t, err)
	if filepath.Ext(name) == ".png" {
		require.NoError(t, png.Encode(f, img))
	} else {
		require.NoError(t, jpeg.Encode(f, img, &jpeg.Options{Quality: 100}))
	}
	require.NoError(t, f.Close())
	return p
}

func TestOpenPicture(t *testing.T) {
	rgb := image.NewNRGBA(image.Rect(0, 0, 7, 5))
	for y := 0; y < 5; y++ {
		for x := 0; x < 7; x++ {
			rgb.SetNRGBA(x, y, color.NRGBA{R: uint8(10 * x), G: uint8(20 * y), B: 200, A: 255})
		}
	}
	img, err := Open(writePicture(t, "rgb.png", rgb))
	require.NoError(t, err)
	defer img.Close()
	assert.Equal(t, [5]int{1, 1, 3, 5, 7}, img.Shape())
	assert.Equal(t, volume.Uint8, img.DType())
	assert.True(t, img.Metadata.RGB)
	assert.False(t, img.Metadata.Scale.Known())
	assert.Equal(t, []string{"Red", "Green", "Blue"}, img.Metadata.ChannelNames())
	got, err := img.Read(volume.Full(volume.Rank))
	require.NoError(t, err)
	assert.Equal(t, 60.0, got.At(0, 0, 0, 2, 6))
	assert.Equal(t, 40.0, got.At(0, 0, 1, 2, 6))
	assert.Equal(t, 200.0, got.At(0, 0, 2, 2, 6))

	translucent := image.NewNRGBA(image.Rect(0, 0, 6, 6))
	translucent.SetNRGBA(1, 2, color.NRGBA{R: 9, A: 128})
	img, err = Open(writePicture(t, "alpha.png", translucent))
	require.NoError(t, err)
	assert.Equal(t, [5]int{1, 1, 4, 6, 6}, img.Shape())
	got, err = img.Read(volume.Full(volume.Rank))
	require.NoError(t, err)
	assert.Equal(t, 9.0, got.At(0, 0, 0, 2, 1))
	assert.Equal(t, 128.0, got.At(0, 0, 3, 2, 1))

	gray := image.NewGray16(image.Rect(0, 0, 4, 3))
	gray.SetGray16(3, 1, color.Gray16{Y: 40000})
	img, err = Open(writePicture(t, "deep.png", gray))
	require.NoError(t, err)
	assert.Equal(t, [5]int{1, 1, 1, 3, 4}, img.Shape())
	assert.Equal(t, volume.Uint16, img.DType())
	assert.False(t, img.Metadata.RGB)
	got, err = img.Read(volume.Full(volume.Rank))
	require.NoError(t, err)
	assert.Equal(t, 40000.0, got.At(0, 0, 0, 1, 3))

	flat := image.NewGray(image.Rect(0, 0, 8, 8))
	for i := range flat.Pix {
		flat.Pix[i] = 77
	}
	img, err = Open(writePicture(t, "flat.jpg", flat))
	require.NoError(t, err)
	assert.Equal(t, [5]int{1, 1, 1, 8, 8}, img.Shape())
	got, err = img.Read(volume.Full(volume.Rank))
	require.NoError(t, err)
	lo, hi := got.MinMax()
	assert.InDelta(t, 77, lo, 2)
	assert.InDelta(t, 77, hi, 2)

	bad := filepath.Join(t.TempDir(), "broken.png")
	require.NoError(t, os.WriteFile(bad, []byte("not a png"), 0o644))
	_, err = Open(bad)
	assert.ErrorIs(t, err, volume.ErrFormat)
}
