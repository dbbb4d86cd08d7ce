package main

import (
	"fmt"
	"math"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/robert-malhotra/go-imaris/ims"
	"github.com/robert-malhotra/go-imaris/internal/tiff"
	"github.com/robert-malhotra/go-imaris/volume"
)

var synthCmd = &cobra.Command{
	Use:   "synth <output.ims|output.tif>",
	Short: "Write a synthetic test volume",
	Long: `Write a synthetic volume of Gaussian spots on a gradient, one spot pattern
per channel. Imaris output carries a resolution pyramid, timestamps and
channel metadata.`,
	Args: cobra.ExactArgs(1),
	RunE: runSynth,
}

func init() {
	f := synthCmd.Flags()
	f.String("shape", "2,16,2,256,256", "T,Z,C,Y,X extents")
	f.String("dtype", "uint16", "element type")
	f.String("scale", "1,0.25,0.25", "Z,Y,X voxel size in micrometres")
	f.String("filter", "gzip", "Imaris chunk compression: gzip, lz4 or zstd")
	f.Int("levels", 0, "resolution levels, 0 to halve down to 256 pixels")
}

func parseInts(s string, n int) ([]int, error) {
	parts := strings.Split(s, ",")
	if len(parts) != n {
		return nil, fmt.Errorf("want %d comma-separated values, got %q", n, s)
	}
	out := make([]int, n)
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || v < 1 {
			return nil, fmt.Errorf("value %q is not a positive integer", p)
		}
		out[i] = v
	}
	return out, nil
}

func parseScale(s string) (volume.VoxelSize, error) {
	var out volume.VoxelSize
	parts := strings.Split(s, ",")
	if len(parts) != len(out) {
		return out, fmt.Errorf("want Z,Y,X voxel size, got %q", s)
	}
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil || v <= 0 {
			return out, fmt.Errorf("voxel size %q is not a positive number", p)
		}
		out[i] = v
	}
	return out, nil
}

func runSynth(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	shapeFlag, _ := flags.GetString("shape")
	shape, err := parseInts(shapeFlag, volume.Rank)
	if err != nil {
		return err
	}
	dtFlag, _ := flags.GetString("dtype")
	dt, err := volume.ParseDType(dtFlag)
	if err != nil {
		return err
	}
	scaleFlag, _ := flags.GetString("scale")
	scale, err := parseScale(scaleFlag)
	if err != nil {
		return err
	}

	data := synthesize(dt, shape)
	channels := make([]volume.Channel, shape[volume.C])
	for c := range channels {
		nm := 450 + 60*float64(c)
		channels[c] = volume.Channel{
			Name:       fmt.Sprintf("synthetic %d", c),
			Emission:   volume.Nanometres(nm),
			Excitation: volume.Nanometres(nm - 40),
			Color:      hue(c, len(channels)),
		}
	}

	out := args[0]
	switch strings.ToLower(filepath.Ext(out)) {
	case ".ims":
		filterFlag, _ := flags.GetString("filter")
		var filter uint16
		switch filterFlag {
		case "gzip":
		case "lz4":
			filter = ims.FilterLZ4
		case "zstd":
			filter = ims.FilterZstd
		default:
			return fmt.Errorf("unknown filter %q", filterFlag)
		}
		levels, _ := flags.GetInt("levels")
		stamps := make([]time.Time, shape[volume.T])
		start := time.Now().UTC().Truncate(time.Second)
		for t := range stamps {
			stamps[t] = start.Add(time.Duration(t) * 30 * time.Second)
		}
		err = ims.Write(out, data, ims.WriteOptions{
			Scale:      scale,
			Channels:   channels,
			Timestamps: stamps,
			Levels:     levels,
			Filter:     filter,
		})
	case ".tif", ".tiff":
		err = writeTIFF(out, data, scale, channels)
	default:
		return fmt.Errorf("output %s: want .ims, .tif or .tiff", out)
	}
	if err != nil {
		return err
	}
	zlog.Info("synthetic volume written", zap.String("path", out), zap.Ints("shape", shape))
	return nil
}

func writeTIFF(path string, data *volume.Array, scale volume.VoxelSize, channels []volume.Channel) error {
	labels := make([]string, len(channels))
	for i, ch := range channels {
		labels[i] = ch.Name
	}
	s := data.Shape
	h := tiff.Header{
		Width: s[volume.X], Height: s[volume.Y],
		Frames: s[volume.T], Slices: s[volume.Z], Channels: s[volume.C],
		DType:  data.DType,
		Scale:  scale,
		Labels: labels,
	}
	w, err := tiff.Create(path, h, true)
	if err != nil {
		return err
	}
	size := h.PlaneSize()
	for p := 0; p < h.Planes(); p++ {
		if err := w.WritePlane(data.Data[p*size : (p+1)*size]); err != nil {
			w.Close()
			return err
		}
	}
	return w.Close()
}

// synthesize draws drifting Gaussian spots over a gradient.
func synthesize(dt volume.DType, shape []int) *volume.Array {
	nt, nz, nc, ny, nx := shape[0], shape[1], shape[2], shape[3], shape[4]
	lo, hi := 0.0, 1000.0
	if !dt.IsFloat() {
		_, top := dt.Range()
		hi = min(hi, top*0.8)
	}
	vals := make([]float64, volume.NumElements(shape))
	i := 0
	for t := 0; t < nt; t++ {
		for z := 0; z < nz; z++ {
			for c := 0; c < nc; c++ {
				cy := float64(ny) * (0.3 + 0.4*float64(c)/float64(max(nc, 2)))
				cx := float64(nx) * (0.3 + 0.05*float64(t))
				cz := float64(nz) / 2
				sigma := float64(min(ny, nx)) / 8
				for y := 0; y < ny; y++ {
					for x := 0; x < nx; x++ {
						d2 := sq(float64(y)-cy) + sq(float64(x)-cx) + sq((float64(z)-cz)*4)
						spot := math.Exp(-d2 / (2 * sq(sigma)))
						ramp := float64(x) / float64(max(nx-1, 1)) * 0.1
						vals[i] = lo + (hi-lo)*(0.9*spot+ramp)
						i++
					}
				}
			}
		}
	}
	a, _ := volume.FromFloat64s(dt, shape, vals)
	return a
}

func sq(v float64) float64 { return v * v }

// hue spreads n display colours around the colour wheel.
func hue(i, n int) []float64 {
	h := float64(i) / float64(max(n, 1)) * 6
	x := 1 - math.Abs(math.Mod(h, 2)-1)
	switch int(h) {
	case 0:
		return []float64{1, x, 0}
	case 1:
		return []float64{x, 1, 0}
	case 2:
		return []float64{0, 1, x}
	case 3:
		return []float64{0, x, 1}
	case 4:
		return []float64{x, 0, 1}
	}
	return []float64{1, 0, x}
}
