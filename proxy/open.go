package proxy

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/robert-malhotra/go-imaris/ims"
	"github.com/robert-malhotra/go-imaris/internal/tiff"
	"github.com/robert-malhotra/go-imaris/volume"
)

// Image is an opened file: a proxy over its full resolution together with
// its metadata record.
type Image struct {
	Proxy
	Metadata volume.Metadata

	reader *ims.Reader
	closer io.Closer
}

// Open opens an Imaris (.ims), ImageJ TIFF (.tif, .tiff), PNG or JPEG
// file. Imaris files are read lazily; the others are loaded into memory.
func Open(path string, opts ...ims.Option) (*Image, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ims", ".h5", ".hdf5":
		return openIMS(path, opts)
	case ".tif", ".tiff":
		return openTIFF(path)
	case ".png", ".jpg", ".jpeg":
		return openPicture(path)
	}
	return nil, volume.Errorf(volume.ErrFormat, "open", "unrecognized file extension %q", filepath.Ext(path)).WithPath(path)
}

func openIMS(path string, opts []ims.Option) (*Image, error) {
	r, err := ims.Open(path, opts...)
	if err != nil {
		return nil, err
	}
	p, err := NewContainer(r, 0)
	if err != nil {
		r.Close()
		return nil, err
	}
	return &Image{Proxy: p, Metadata: r.Metadata(), reader: r, closer: r}, nil
}

func openTIFF(path string) (*Image, error) {
	f, err := tiff.Open(path)
	if err != nil {
		var pe *fs.PathError
		if errors.As(err, &pe) {
			return nil, fmt.Errorf("open %s: %w", path, err)
		}
		return nil, volume.Wrap(volume.ErrFormat, "open", err).WithPath(path)
	}
	defer f.Close()
	a, err := f.ReadAll()
	if err != nil {
		return nil, volume.Wrap(volume.ErrFormat, "open", err).WithPath(path)
	}
	m, err := NewMemory(a)
	if err != nil {
		return nil, err
	}
	md := volume.Metadata{
		Filename: filepath.Base(path),
		Shape:    f.Shape(),
		Scale:    f.Scale,
		Channels: volume.DefaultChannels(f.Channels),
	}
	for i, l := range f.Labels {
		if i < len(md.Channels) && l != "" {
			md.Channels[i].Name = l
		}
	}
	return &Image{Proxy: m, Metadata: md}, nil
}

// Reader returns the Imaris reader behind the image, or nil for files
// loaded into memory.
func (im *Image) Reader() *ims.Reader { return im.reader }

// Downsampled returns a view of the coarsest resolution level covering
// want, given as Z, Y and X extents. Images without a pyramid return
// themselves.
func (im *Image) Downsampled(want [3]int) (Proxy, error) {
	if im.reader == nil {
		return im.Proxy, nil
	}
	return NewContainerFor(im.reader, want)
}

// Close releases the underlying file. Closing twice is a no-op.
func (im *Image) Close() error {
	if im.closer == nil {
		return nil
	}
	c := im.closer
	im.closer = nil
	return c.Close()
}
