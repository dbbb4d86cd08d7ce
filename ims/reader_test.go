package ims

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robert-malhotra/go-imaris/hdf5"
	"github.com/robert-malhotra/go-imaris/internal/filter"
	"github.com/robert-malhotra/go-imaris/internal/message"
	"github.com/robert-malhotra/go-imaris/volume"
)

func pattern(t, z, c, y, x int) float64 {
	return float64((t*7+z*5+c*3+y*11+x)%4000 + 1)
}

func synthetic(shape ...int) *volume.Array {
	a := volume.New(volume.Uint16, shape...)
	for t := 0; t < shape[0]; t++ {
		for z := 0; z < shape[1]; z++ {
			for c := 0; c < shape[2]; c++ {
				for y := 0; y < shape[3]; y++ {
					for x := 0; x < shape[4]; x++ {
						a.Set(pattern(t, z, c, y, x), t, z, c, y, x)
					}
				}
			}
		}
	}
	return a
}

var stamps = []time.Time{
	time.Date(2024, 3, 1, 10, 0, 0, 250e6, time.UTC),
	time.Date(2024, 3, 1, 10, 0, 30, 0, time.UTC),
}

func writeSynthetic(t *testing.T, opts WriteOptions) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "synthetic.ims")
	require.NoError(t, Write(p, synthetic(2, 6, 2, 40, 70), opts))
	return p
}

func defaultWrite() WriteOptions {
	return WriteOptions{
		Scale: volume.VoxelSize{2, 0.5, 0.25},
		Channels: []volume.Channel{
			{Name: "DAPI", Emission: volume.Nanometres(461), Excitation: volume.Nanometres(405), Color: []float64{0, 0, 1}},
			{Name: "GFP", Emission: volume.Nanometres(510)},
		},
		Timestamps: stamps,
		Levels:     3,
		Chunk:      [3]int{4, 16, 32},
	}
}

func TestMetadata(t *testing.T) {
	r, err := Open(writeSynthetic(t, defaultWrite()))
	require.NoError(t, err)
	defer r.Close()

	m := r.Metadata()
	assert.Equal(t, "synthetic.ims", m.Filename)
	assert.Equal(t, [volume.Rank]int{2, 6, 2, 40, 70}, m.Shape)
	assert.Equal(t, volume.Uint16, r.DType())
	assert.InDelta(t, 2, m.Scale[0], 1e-9)
	assert.InDelta(t, 0.5, m.Scale[1], 1e-9)
	assert.InDelta(t, 0.25, m.Scale[2], 1e-9)

	require.Len(t, m.Channels, 2)
	assert.Equal(t, []string{"DAPI", "GFP"}, m.ChannelNames())
	nm, ok := m.Channels[0].Emission.Value()
	assert.True(t, ok)
	assert.Equal(t, 461.0, nm)
	assert.Equal(t, []float64{0, 0, 1}, m.Channels[0].Color)
	_, ok = m.Channels[1].Excitation.Value()
	assert.False(t, ok, "excitation of channel 1 is unknown")

	require.Len(t, m.Timestamps, 2)
	for i := range stamps {
		assert.True(t, stamps[i].Equal(m.Timestamps[i]), "timestamp %d = %v", i, m.Timestamps[i])
	}

	assert.Equal(t, [][volume.Rank]int{
		{2, 6, 2, 40, 70},
		{2, 3, 2, 20, 35},
		{2, 2, 2, 10, 18},
	}, m.Levels)
}

func TestReadBlock(t *testing.T) {
	for _, tc := range []struct {
		name   string
		filter uint16
	}{
		{"gzip", 0},
		{"lz4", FilterLZ4},
		{"zstd", FilterZstd},
	} {
		t.Run(tc.name, func(t *testing.T) {
			opts := defaultWrite()
			opts.Filter = tc.filter
			r, err := Open(writeSynthetic(t, opts))
			require.NoError(t, err)
			defer r.Close()

			a, err := r.ReadBlock(0, 1, 1, volume.At(2), volume.Span(5, 9), volume.Span(60, 70))
			require.NoError(t, err)
			require.Equal(t, []int{1, 4, 10}, a.Shape)
			for y := 0; y < 4; y++ {
				for x := 0; x < 10; x++ {
					require.Equal(t, pattern(1, 2, 1, 5+y, 60+x), a.At(0, y, x))
				}
			}

			// whole stack, cropped from the padded store
			stack, err := r.ReadStack(0, 0, 1)
			require.NoError(t, err)
			require.Equal(t, []int{6, 40, 70}, stack.Shape)
			assert.Equal(t, pattern(0, 5, 1, 39, 69), stack.At(5, 39, 69))

			coarse, err := r.ReadStack(1, 1, 0)
			require.NoError(t, err)
			require.Equal(t, []int{3, 20, 35}, coarse.Shape)
			assert.Equal(t, pattern(1, 4, 0, 38, 68), coarse.At(2, 19, 34))
		})
	}
}

// xorFilter scrambles bytes without changing their count.
type xorFilter struct{}

func (xorFilter) ID() uint16 { return message.FilterBlosc }

func (xorFilter) Decode(in []byte) ([]byte, error) { return xorFilter{}.Encode(in) }

func (xorFilter) Encode(in []byte) ([]byte, error) {
	out := make([]byte, len(in))
	for i, b := range in {
		out[i] = b ^ 0x5a
	}
	return out, nil
}

func TestUnavailableCompression(t *testing.T) {
	opts := defaultWrite()
	opts.Filter = message.FilterBlosc
	restore := filter.Register(message.FilterBlosc, func(int, []uint32) filter.Filter { return xorFilter{} })
	p := writeSynthetic(t, opts)
	restore()

	r, err := Open(p)
	require.NoError(t, err)
	defer r.Close()

	_, err = r.ReadBlock(0, 0, 0, volume.At(0), volume.Span(0, 4), volume.Span(0, 4))
	require.ErrorIs(t, err, volume.ErrFormat)
	assert.Contains(t, err.Error(), "blosc")
	assert.Contains(t, err.Error(), p)
}

func TestReadBlockOutOfRange(t *testing.T) {
	r, err := Open(writeSynthetic(t, defaultWrite()))
	require.NoError(t, err)
	defer r.Close()

	all := volume.All()
	tests := []struct {
		name    string
		l, t, c int
		z, y, x volume.Range
	}{
		{"level", 3, 0, 0, all, all, all},
		{"time", 0, 2, 0, all, all, all},
		{"channel", 0, 0, -1, all, all, all},
		{"depth", 0, 0, 0, volume.At(6), all, all},
		{"column", 0, 0, 0, all, all, volume.Span(0, 71)},
		{"coarse row", 2, 0, 0, all, volume.At(10), all},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.ReadBlock(tt.l, tt.t, tt.c, tt.z, tt.y, tt.x)
			require.ErrorIs(t, err, volume.ErrIndex)
			assert.Contains(t, err.Error(), "synthetic.ims")
		})
	}
}

func TestSelectLevel(t *testing.T) {
	r, err := Open(writeSynthetic(t, defaultWrite()))
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, 0, r.SelectLevel([3]int{6, 40, 70}))
	assert.Equal(t, 1, r.SelectLevel([3]int{3, 15, 30}))
	assert.Equal(t, 1, r.SelectLevel([3]int{3, 20, 35}))
	assert.Equal(t, 2, r.SelectLevel([3]int{1, 10, 10}))
	assert.Equal(t, 0, r.SelectLevel([3]int{6, 10, 10}))
	assert.Equal(t, 0, r.SelectLevel([3]int{7, 80, 80}))
}

func TestClose(t *testing.T) {
	r, err := Open(writeSynthetic(t, defaultWrite()))
	require.NoError(t, err)
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())

	_, err = r.ReadStack(0, 0, 0)
	require.ErrorIs(t, err, volume.ErrClosed)
}

func TestOpenFormatErrors(t *testing.T) {
	dir := t.TempDir()

	plain := filepath.Join(dir, "plain.ims")
	require.NoError(t, os.WriteFile(plain, []byte("definitely not a container"), 0o644))

	noDataSet := filepath.Join(dir, "empty.ims")
	f, err := hdf5.Create(noDataSet)
	require.NoError(t, err)
	_, err = f.Root().CreateGroup("DataSetInfo")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	noLevels := filepath.Join(dir, "nolevels.ims")
	f, err = hdf5.Create(noLevels)
	require.NoError(t, err)
	_, err = f.Root().CreateGroup("DataSet")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	noChannels := filepath.Join(dir, "nochannels.ims")
	f, err = hdf5.Create(noChannels)
	require.NoError(t, err)
	g, err := f.Root().CreateGroup("DataSet")
	require.NoError(t, err)
	g, err = g.CreateGroup("ResolutionLevel 0")
	require.NoError(t, err)
	_, err = g.CreateGroup("TimePoint 0")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	for _, p := range []string{plain, noDataSet, noLevels, noChannels} {
		t.Run(filepath.Base(p), func(t *testing.T) {
			_, err := Open(p)
			require.ErrorIs(t, err, volume.ErrFormat)
			assert.Contains(t, err.Error(), p)
		})
	}

	_, err = Open(filepath.Join(dir, "missing.ims"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestMissingMetadata(t *testing.T) {
	p := filepath.Join(t.TempDir(), "bare.ims")
	f, err := hdf5.Create(p)
	require.NoError(t, err)
	g, err := f.Root().CreateGroup("DataSet")
	require.NoError(t, err)
	for _, name := range []string{"ResolutionLevel 0", "TimePoint 0", "Channel 0"} {
		g, err = g.CreateGroup(name)
		require.NoError(t, err)
	}
	_, err = g.CreateDataset("Data", []uint8{1, 2, 3, 4, 5, 6}, []uint64{1, 2, 3})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	r, err := Open(p)
	require.NoError(t, err)
	defer r.Close()

	m := r.Metadata()
	assert.Equal(t, [volume.Rank]int{1, 1, 1, 2, 3}, m.Shape)
	assert.False(t, m.Scale.Known())
	assert.Nil(t, m.Timestamps)
	assert.Equal(t, []string{"Channel 0"}, m.ChannelNames())
	_, ok := m.Channels[0].Emission.Value()
	assert.False(t, ok)

	a, err := r.ReadStack(0, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3, 4, 5, 6}, a.Float64s())
}
