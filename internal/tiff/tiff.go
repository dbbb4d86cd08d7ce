// Package tiff reads and writes multi-page grayscale TIFF files carrying
// ImageJ hyperstack metadata: the TZCYX shape and Z spacing in the image
// description, X and Y pixel size in the resolution tags and channel names
// as slice labels.
//
// Planes are stored in ImageJ order, channels fastest, then slices, then
// frames, which is row-major TZCYX.
package tiff

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/robert-malhotra/go-imaris/volume"
)

var (
	ErrNotTIFF     = errors.New("not a TIFF file")
	ErrUnsupported = errors.New("unsupported TIFF feature")
	// ErrTooLarge is returned when the file would pass the 4 GiB limit of
	// classic TIFF.
	ErrTooLarge = errors.New("image exceeds 4 GiB TIFF limit")
)

// Tags used by this package.
const (
	tagNewSubfileType   = 254
	tagImageWidth       = 256
	tagImageLength      = 257
	tagBitsPerSample    = 258
	tagCompression      = 259
	tagPhotometric      = 262
	tagImageDescription = 270
	tagStripOffsets     = 273
	tagSamplesPerPixel  = 277
	tagRowsPerStrip     = 278
	tagStripByteCounts  = 279
	tagXResolution      = 282
	tagYResolution      = 283
	tagPlanarConfig     = 284
	tagResolutionUnit   = 296
	tagPredictor        = 317
	tagSampleFormat     = 339
	tagIJMetaCounts     = 50838
	tagIJMeta           = 50839
)

// Field types.
const (
	typeByte     = 1
	typeASCII    = 2
	typeShort    = 3
	typeLong     = 4
	typeRational = 5
)

// Field values.
const (
	compressionNone       = 1
	compressionDeflate    = 8
	compressionDeflateOld = 32946

	resolutionUnitNone = 1
	resolutionUnitInch = 2
	resolutionUnitCm   = 3

	sampleFormatUint  = 1
	sampleFormatInt   = 2
	sampleFormatFloat = 3

	photometricMinIsBlack = 1
)

const (
	micronsPerInch       = 25400.0
	micronsPerCentimetre = 10000.0
)

// Header describes a hyperstack.
type Header struct {
	Width, Height int
	// Frames, Slices and Channels are the T, Z and C extents.
	Frames, Slices, Channels int
	DType                    volume.DType
	// Scale is the Z, Y, X voxel size in micrometres; zero when unknown.
	Scale volume.VoxelSize
	// Labels names each channel.
	Labels []string
}

// Shape returns the TZCYX shape.
func (h *Header) Shape() [volume.Rank]int {
	return [volume.Rank]int{h.Frames, h.Slices, h.Channels, h.Height, h.Width}
}

// Planes returns the page count.
func (h *Header) Planes() int { return h.Frames * h.Slices * h.Channels }

// PlaneSize returns the bytes in one page.
func (h *Header) PlaneSize() int { return h.Width * h.Height * h.DType.Size() }

func (h *Header) validate() error {
	if h.Width < 1 || h.Height < 1 || h.Frames < 1 || h.Slices < 1 || h.Channels < 1 {
		return fmt.Errorf("tiff: invalid shape %v", h.Shape())
	}
	if h.DType.Size() == 0 {
		return fmt.Errorf("tiff: invalid dtype %s", h.DType)
	}
	return nil
}

// description renders the ImageJ image description.
func (h *Header) description() string {
	var b strings.Builder
	fmt.Fprintf(&b, "ImageJ=1.11a\nimages=%d\n", h.Planes())
	if h.Channels > 1 {
		fmt.Fprintf(&b, "channels=%d\n", h.Channels)
	}
	if h.Slices > 1 {
		fmt.Fprintf(&b, "slices=%d\n", h.Slices)
	}
	if h.Frames > 1 {
		fmt.Fprintf(&b, "frames=%d\n", h.Frames)
	}
	if h.Channels*h.Slices > 1 || h.Frames*h.Channels > 1 || h.Frames*h.Slices > 1 {
		b.WriteString("hyperstack=true\n")
	}
	if h.Channels > 1 {
		b.WriteString("mode=composite\n")
	} else {
		b.WriteString("mode=grayscale\n")
	}
	if h.Scale.Known() {
		b.WriteString("unit=um\n")
		fmt.Fprintf(&b, "spacing=%s\n", strconv.FormatFloat(h.Scale[0], 'g', -1, 64))
	}
	b.WriteString("loop=false\n")
	return b.String()
}

// parseDescription applies an ImageJ description to h. It reports false
// when the text is not an ImageJ description.
func (h *Header) parseDescription(s string) (unit string, ok bool) {
	if !strings.HasPrefix(s, "ImageJ=") {
		return "", false
	}
	h.Frames, h.Slices, h.Channels = 1, 1, 1
	images := 0
	for _, line := range strings.Split(s, "\n") {
		key, value, found := strings.Cut(strings.TrimSpace(line), "=")
		if !found {
			continue
		}
		switch key {
		case "images":
			images, _ = strconv.Atoi(value)
		case "channels":
			h.Channels = atoiOr(value, 1)
		case "slices":
			h.Slices = atoiOr(value, 1)
		case "frames":
			h.Frames = atoiOr(value, 1)
		case "spacing":
			if v, err := strconv.ParseFloat(value, 64); err == nil && v > 0 {
				h.Scale[0] = v
			}
		case "unit":
			unit = strings.Trim(value, `"`)
		}
	}
	if images > 1 && h.Planes() == 1 {
		h.Slices = images
	}
	return unit, true
}

func atoiOr(s string, def int) int {
	v, err := strconv.Atoi(s)
	if err != nil || v < 1 {
		return def
	}
	return v
}

func sampleFormat(dt volume.DType) uint16 {
	switch dt {
	case volume.Float32, volume.Float64:
		return sampleFormatFloat
	case volume.Int8, volume.Int16, volume.Int32, volume.Int64:
		return sampleFormatInt
	}
	return sampleFormatUint
}

func dtypeOf(bits, format int) (volume.DType, bool) {
	switch {
	case format == sampleFormatFloat && bits == 32:
		return volume.Float32, true
	case format == sampleFormatFloat && bits == 64:
		return volume.Float64, true
	case format == sampleFormatInt:
		switch bits {
		case 8:
			return volume.Int8, true
		case 16:
			return volume.Int16, true
		case 32:
			return volume.Int32, true
		case 64:
			return volume.Int64, true
		}
	case format == sampleFormatUint:
		switch bits {
		case 8:
			return volume.Uint8, true
		case 16:
			return volume.Uint16, true
		case 32:
			return volume.Uint32, true
		case 64:
			return volume.Uint64, true
		}
	}
	return volume.Invalid, false
}
