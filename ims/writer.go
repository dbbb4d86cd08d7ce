package ims

import (
	"fmt"
	"path"
	"strconv"
	"time"

	"github.com/robert-malhotra/go-imaris/hdf5"
	"github.com/robert-malhotra/go-imaris/internal/message"
	"github.com/robert-malhotra/go-imaris/volume"
)

// histogramBins is the bin count of per-channel histograms.
const histogramBins = 256

// WriteOptions describes the file written by Write.
type WriteOptions struct {
	Scale      volume.VoxelSize
	Channels   []volume.Channel
	Timestamps []time.Time
	// Levels is the number of resolution levels. Zero halves the plane
	// until it fits 256x256.
	Levels int
	// Chunk is the ZYX chunk shape; zero entries default to 16, 128, 128.
	Chunk [3]int
	// Filter selects a plugin compression filter; zero uses gzip.
	Filter uint16
}

func (o *WriteOptions) levels(shape [volume.Rank]int) int {
	if o.Levels > 0 {
		return o.Levels
	}
	n := 1
	for y, x := shape[volume.Y], shape[volume.X]; max(y, x) > 256; n++ {
		y, x = half(y), half(x)
	}
	return n
}

func half(n int) int { return max(1, (n+1)/2) }

// Write stores a canonical TZCYX array as an Imaris file with a resolution
// pyramid. Levels are decimated by two along each spatial axis longer than
// one, and stored chunked and padded to whole chunks as Imaris does.
func Write(filename string, data *volume.Array, opts WriteOptions) error {
	if len(data.Shape) != volume.Rank {
		return volume.Errorf(volume.ErrShape, "write ims", "want a TZCYX array").WithShape(data.Shape)
	}
	var shape [volume.Rank]int
	copy(shape[:], data.Shape)
	for _, n := range shape {
		if n < 1 {
			return volume.Errorf(volume.ErrShape, "write ims", "empty axis").WithShape(data.Shape)
		}
	}
	kind, err := hdf5Kind(data.DType)
	if err != nil {
		return err
	}

	f, err := hdf5.Create(filename)
	if err != nil {
		return err
	}
	if err := writeFile(f, data, shape, kind, &opts); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", filename, err)
	}
	return f.Close()
}

func writeFile(f *hdf5.File, data *volume.Array, shape [volume.Rank]int, kind hdf5.Kind, opts *WriteOptions) error {
	root := f.Root()
	for _, a := range []struct{ name, value string }{
		{"DataSetDirectoryName", "DataSet"},
		{"DataSetInfoDirectoryName", "DataSetInfo"},
		{"ImarisDataSet", "ImarisDataSet"},
		{"ImarisVersion", "5.5.0"},
	} {
		if err := root.SetAttr(a.name, a.value); err != nil {
			return err
		}
	}
	if err := root.SetAttr("NumberOfDataSets", 1); err != nil {
		return err
	}

	ds, err := root.CreateGroup("DataSet")
	if err != nil {
		return err
	}
	level := data
	for l := 0; l < opts.levels(shape); l++ {
		if l > 0 {
			level = decimate(level)
		}
		if err := writeLevel(ds, l, level, kind, opts); err != nil {
			return err
		}
	}
	return writeInfo(root, shape, opts)
}

func writeLevel(ds *hdf5.Group, l int, data *volume.Array, kind hdf5.Kind, opts *WriteOptions) error {
	g, err := ds.CreateGroup(fmt.Sprintf("ResolutionLevel %d", l))
	if err != nil {
		return err
	}
	nz, ny, nx := data.Shape[volume.Z], data.Shape[volume.Y], data.Shape[volume.X]
	chunk := [3]int{16, 128, 128}
	for i, c := range opts.Chunk {
		if c > 0 {
			chunk[i] = c
		}
	}
	chunk = [3]int{min(chunk[0], nz), min(chunk[1], ny), min(chunk[2], nx)}
	padded := []int{roundUp(nz, chunk[0]), roundUp(ny, chunk[1]), roundUp(nx, chunk[2])}

	dsOpts := []hdf5.DatasetOption{hdf5.WithChunks(uint64(chunk[0]), uint64(chunk[1]), uint64(chunk[2]))}
	if opts.Filter != 0 {
		dsOpts = append(dsOpts, hdf5.WithFilter(opts.Filter))
	} else {
		dsOpts = append(dsOpts, hdf5.WithShuffle(), hdf5.WithCompression(2))
	}

	for t := 0; t < data.Shape[volume.T]; t++ {
		tg, err := g.CreateGroup(fmt.Sprintf("TimePoint %d", t))
		if err != nil {
			return err
		}
		for c := 0; c < data.Shape[volume.C]; c++ {
			stack, err := data.Region([]int{t, 0, c, 0, 0}, []int{1, nz, 1, ny, nx})
			if err != nil {
				return err
			}
			stack, _ = stack.Reshape(nz, ny, nx)

			cg, err := tg.CreateGroup(fmt.Sprintf("Channel %d", c))
			if err != nil {
				return err
			}
			lo, hi := stack.MinMax()
			for _, a := range []struct {
				name  string
				value string
			}{
				{"ImageSizeZ", strconv.Itoa(nz)},
				{"ImageSizeY", strconv.Itoa(ny)},
				{"ImageSizeX", strconv.Itoa(nx)},
				{"HistogramMin", formatFloat(lo)},
				{"HistogramMax", formatFloat(hi)},
			} {
				if err := cg.SetAttr(a.name, a.value); err != nil {
					return err
				}
			}

			store := volume.New(data.DType, padded...)
			if err := store.SetRegion([]int{0, 0, 0}, stack); err != nil {
				return err
			}
			if _, err := cg.CreateDatasetRaw("Data", kind, store.Data, toU64(padded), dsOpts...); err != nil {
				return err
			}
			if _, err := cg.CreateDataset("Histogram", histogram(stack, lo, hi), []uint64{histogramBins}); err != nil {
				return err
			}
		}
	}
	return nil
}

func writeInfo(root *hdf5.Group, shape [volume.Rank]int, opts *WriteOptions) error {
	info, err := root.CreateGroup("DataSetInfo")
	if err != nil {
		return err
	}

	img, err := info.CreateGroup("Image")
	if err != nil {
		return err
	}
	attrs := [][2]string{
		{"X", strconv.Itoa(shape[volume.X])},
		{"Y", strconv.Itoa(shape[volume.Y])},
		{"Z", strconv.Itoa(shape[volume.Z])},
		{"Unit", "um"},
	}
	if opts.Scale.Known() {
		sizes := [3]int{shape[volume.X], shape[volume.Y], shape[volume.Z]}
		for i := 0; i < 3; i++ {
			ext := float64(sizes[i]) * opts.Scale[2-i]
			attrs = append(attrs,
				[2]string{fmt.Sprintf("ExtMin%d", i), "0"},
				[2]string{fmt.Sprintf("ExtMax%d", i), formatFloat(ext)})
		}
	}
	if err := setAttrs(img, attrs); err != nil {
		return err
	}

	for c := 0; c < shape[volume.C]; c++ {
		g, err := info.CreateGroup(fmt.Sprintf("Channel %d", c))
		if err != nil {
			return err
		}
		name := fmt.Sprintf("Channel %d", c)
		var ch volume.Channel
		if c < len(opts.Channels) {
			ch = opts.Channels[c]
			if ch.Name != "" {
				name = ch.Name
			}
		}
		attrs := [][2]string{{"Name", name}, {"ColorMode", "BaseColor"}}
		if nm, ok := ch.Emission.Value(); ok {
			attrs = append(attrs, [2]string{"LSMEmissionWavelength", formatFloat(nm)})
		}
		if nm, ok := ch.Excitation.Value(); ok {
			attrs = append(attrs, [2]string{"LSMExcitationWavelength", formatFloat(nm)})
		}
		if len(ch.Color) == 3 {
			attrs = append(attrs, [2]string{"Color",
				fmt.Sprintf("%s %s %s", formatFloat(ch.Color[0]), formatFloat(ch.Color[1]), formatFloat(ch.Color[2]))})
		}
		if err := setAttrs(g, attrs); err != nil {
			return err
		}
	}

	if len(opts.Timestamps) > 0 {
		ti, err := info.CreateGroup("TimeInfo")
		if err != nil {
			return err
		}
		attrs := [][2]string{
			{"DatasetTimePoints", strconv.Itoa(shape[volume.T])},
			{"FileTimePoints", strconv.Itoa(shape[volume.T])},
		}
		for i, ts := range opts.Timestamps {
			if i >= shape[volume.T] || ts.IsZero() {
				continue
			}
			attrs = append(attrs, [2]string{fmt.Sprintf("TimePoint%d", i+1), ts.Format(timeLayout + ".000")})
		}
		if err := setAttrs(ti, attrs); err != nil {
			return err
		}
	}
	return nil
}

func setAttrs(g *hdf5.Group, attrs [][2]string) error {
	for _, a := range attrs {
		if err := g.SetAttr(a[0], a[1]); err != nil {
			return fmt.Errorf("%s: %w", path.Join(g.Path(), a[0]), err)
		}
	}
	return nil
}

// decimate keeps every second element along Z, Y and X.
func decimate(a *volume.Array) *volume.Array {
	shape := append([]int(nil), a.Shape...)
	for _, d := range []int{volume.Z, volume.Y, volume.X} {
		shape[d] = half(shape[d])
	}
	out := volume.New(a.DType, shape...)
	elem := a.DType.Size()
	in := a.Strides()
	idx := make([]int, volume.Rank)
	for i := 0; i < out.Len(); i++ {
		rem := i
		for d := volume.Rank - 1; d >= 0; d-- {
			idx[d] = rem % shape[d]
			rem /= shape[d]
		}
		src := 0
		for d, v := range idx {
			if d == volume.Z || d == volume.Y || d == volume.X {
				if a.Shape[d] > 1 {
					v *= 2
				}
			}
			src += v * in[d]
		}
		copy(out.Data[i*elem:(i+1)*elem], a.Data[src*elem:(src+1)*elem])
	}
	return out
}

func histogram(a *volume.Array, lo, hi float64) []uint64 {
	bins := make([]uint64, histogramBins)
	width := (hi - lo) / histogramBins
	for _, v := range a.Float64s() {
		b := 0
		if width > 0 {
			b = min(histogramBins-1, int((v-lo)/width))
		}
		if b < 0 {
			b = 0
		}
		bins[b]++
	}
	return bins
}

func hdf5Kind(dt volume.DType) (hdf5.Kind, error) {
	for k := hdf5.Int8; k <= hdf5.Float64; k++ {
		if k.String() == dt.String() {
			return k, nil
		}
	}
	return hdf5.KindUnknown, volume.Errorf(volume.ErrFormat, "write ims", "no HDF5 type for %s", dt)
}

func roundUp(n, m int) int { return (n + m - 1) / m * m }

func formatFloat(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }

// Filters usable with WriteOptions.Filter.
const (
	FilterLZ4  = message.FilterLZ4
	FilterZstd = message.FilterZstd
)
