package proxy

import (
	"encoding/binary"
	"image"
	"image/color"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"

	"github.com/robert-malhotra/go-imaris/volume"
)

var sampleNames = []string{"Red", "Green", "Blue", "Alpha"}

var sampleColors = [][]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}, {1, 1, 1}}

// openPicture loads a PNG or JPEG into memory. Grey images become a single
// channel, colour images one channel per sample with alpha kept only when
// the image is not opaque. Pictures carry no physical scale.
func openPicture(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, volume.Wrap(volume.ErrFormat, "open", err).WithPath(path)
	}

	a, rgb := pictureArray(img)
	dims := "YX"
	if rgb {
		dims = "YXC"
	}
	m, err := FromArray(a, dims)
	if err != nil {
		return nil, err
	}
	md := volume.Metadata{
		Filename: filepath.Base(path),
		Shape:    m.Shape(),
		Channels: volume.DefaultChannels(m.Shape()[volume.C]),
		RGB:      rgb,
	}
	if rgb {
		for i := range md.Channels {
			md.Channels[i].Name = sampleNames[i]
			md.Channels[i].Color = sampleColors[i]
		}
	}
	return &Image{Proxy: m, Metadata: md}, nil
}

// pictureArray converts img to a YX or YXC array and reports whether it has
// colour samples.
func pictureArray(img image.Image) (*volume.Array, bool) {
	b := img.Bounds()
	h, w := b.Dy(), b.Dx()
	switch src := img.(type) {
	case *image.Gray:
		a := volume.New(volume.Uint8, h, w)
		for y := 0; y < h; y++ {
			copy(a.Data[y*w:(y+1)*w], src.Pix[y*src.Stride:])
		}
		return a, false
	case *image.Gray16:
		a := volume.New(volume.Uint16, h, w)
		for y := 0; y < h; y++ {
			row := src.Pix[y*src.Stride:]
			for x := 0; x < w; x++ {
				// Gray16 pixels are big-endian
				binary.LittleEndian.PutUint16(a.Data[(y*w+x)*2:], binary.BigEndian.Uint16(row[2*x:]))
			}
		}
		return a, false
	}

	samples := 4
	if o, ok := img.(interface{ Opaque() bool }); ok && o.Opaque() {
		samples = 3
	}
	if deep(img.ColorModel()) {
		rgba := image.NewNRGBA64(image.Rect(0, 0, w, h))
		draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
		a := volume.New(volume.Uint16, h, w, samples)
		for i := 0; i < h*w; i++ {
			for s := 0; s < samples; s++ {
				v := binary.BigEndian.Uint16(rgba.Pix[i*8+s*2:])
				binary.LittleEndian.PutUint16(a.Data[(i*samples+s)*2:], v)
			}
		}
		return a, true
	}
	rgba := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	a := volume.New(volume.Uint8, h, w, samples)
	for i := 0; i < h*w; i++ {
		copy(a.Data[i*samples:(i+1)*samples], rgba.Pix[i*4:i*4+samples])
	}
	return a, true
}

// deep reports whether m carries 16 bits per sample.
func deep(m color.Model) bool {
	return m == color.RGBA64Model || m == color.NRGBA64Model
}
