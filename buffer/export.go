package buffer

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/robert-malhotra/go-imaris/internal/tiff"
	"github.com/robert-malhotra/go-imaris/volume"
)

// ExportOptions configures Export.
type ExportOptions struct {
	// Deflate zlib-compresses every plane.
	Deflate bool
}

// exportDType returns the element type written to TIFF. Types ImageJ
// cannot display are stored as float32.
func exportDType(dt volume.DType) volume.DType {
	switch dt {
	case volume.Uint8, volume.Uint16, volume.Float32:
		return dt
	}
	return volume.Float32
}

// Export writes the buffer to path as an ImageJ hyperstack TIFF in TZCYX
// order, carrying the voxel size and channel names. One (T, Z) slab is
// held in memory at a time.
func (b *Buffer) Export(path string, opts ExportOptions) error {
	const op = "buffer export"
	switch strings.ToLower(filepath.Ext(path)) {
	case ".tif", ".tiff":
	default:
		return volume.Errorf(volume.ErrFormat, op, "unsupported export format %q", filepath.Ext(path)).WithPath(path)
	}
	if err := b.acquire(op); err != nil {
		return err
	}
	b.mu.RUnlock()

	shape := b.Shape()
	md := b.Metadata()
	dt := exportDType(b.DType())
	h := tiff.Header{
		Width:    shape[volume.X],
		Height:   shape[volume.Y],
		Frames:   shape[volume.T],
		Slices:   shape[volume.Z],
		Channels: shape[volume.C],
		DType:    dt,
		Scale:    md.Scale,
		Labels:   md.ChannelNames()[:shape[volume.C]],
	}
	w, err := tiff.Create(path, h, opts.Deflate)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	abort := func() {
		w.Close()
		os.Remove(path)
	}
	for t := 0; t < shape[volume.T]; t++ {
		for z := 0; z < shape[volume.Z]; z++ {
			slab, err := b.Read(volume.Sel(volume.At(t), volume.At(z)))
			if err != nil {
				abort()
				return err
			}
			if slab.DType != dt {
				slab = slab.Convert(dt)
			}
			size := h.PlaneSize()
			for c := 0; c < shape[volume.C]; c++ {
				if err := w.WritePlane(slab.Data[c*size : (c+1)*size]); err != nil {
					abort()
					return fmt.Errorf("%s: %w", op, err)
				}
			}
		}
	}
	if err := w.Close(); err != nil {
		os.Remove(path)
		return fmt.Errorf("%s: %w", op, err)
	}
	b.log.Info("buffer exported",
		zap.String("path", path),
		zap.Stringer("dtype", dt),
		zap.Stringer("scale", md.Scale))
	return nil
}
