package tiff

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf16"

	"github.com/klauspost/compress/zlib"

	"github.com/robert-malhotra/go-imaris/volume"
)

// maxPages bounds IFD chains in damaged files.
const maxPages = 1 << 20

type page struct {
	width, height int
	bits, format  int
	samples       int
	compression   int
	predictor     int
	offsets       []uint64
	counts        []uint64
}

// File is an open TIFF. Planes are read on demand.
type File struct {
	Header
	r      io.ReaderAt
	closer io.Closer
	order  binary.ByteOrder
	pages  []page
}

// Open opens a TIFF file.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	tf, err := NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	tf.closer = f
	return tf, nil
}

// NewReader parses every IFD of r.
func NewReader(r io.ReaderAt) (*File, error) {
	var hdr [8]byte
	if _, err := r.ReadAt(hdr[:], 0); err != nil {
		return nil, ErrNotTIFF
	}
	f := &File{r: r}
	switch string(hdr[:2]) {
	case "II":
		f.order = binary.LittleEndian
	case "MM":
		f.order = binary.BigEndian
	default:
		return nil, ErrNotTIFF
	}
	switch f.order.Uint16(hdr[2:]) {
	case 42:
	case 43:
		return nil, fmt.Errorf("%w: BigTIFF", ErrUnsupported)
	default:
		return nil, ErrNotTIFF
	}

	var desc string
	var meta ijMeta
	var xres, yres float64
	resUnit := resolutionUnitNone
	off := uint64(f.order.Uint32(hdr[4:]))
	for off != 0 {
		if len(f.pages) == maxPages {
			return nil, fmt.Errorf("tiff: more than %d pages", maxPages)
		}
		ifd, next, err := f.readIFD(off)
		if err != nil {
			return nil, err
		}
		p, err := f.page(ifd)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", len(f.pages), err)
		}
		if len(f.pages) == 0 {
			desc = ifd.ascii(tagImageDescription)
			xres = ifd.rational(tagXResolution)
			yres = ifd.rational(tagYResolution)
			if v := ifd.uints(tagResolutionUnit); len(v) > 0 {
				resUnit = int(v[0])
			}
			meta = ijMeta{counts: ifd.uints(tagIJMetaCounts), data: ifd.bytes(tagIJMeta)}
		} else if q := f.pages[0]; p.width != q.width || p.height != q.height || p.bits != q.bits ||
			p.format != q.format || p.samples != q.samples {
			return nil, fmt.Errorf("%w: page %d differs from page 0", ErrUnsupported, len(f.pages))
		}
		f.pages = append(f.pages, p)
		off = next
	}
	if len(f.pages) == 0 {
		return nil, fmt.Errorf("tiff: no pages")
	}

	p0 := f.pages[0]
	dt, ok := dtypeOf(p0.bits, p0.format)
	if !ok {
		return nil, fmt.Errorf("%w: %d-bit samples of format %d", ErrUnsupported, p0.bits, p0.format)
	}
	f.Width, f.Height, f.DType = p0.width, p0.height, dt
	f.shape(desc)
	f.scale(desc, xres, yres, resUnit)
	f.Labels = meta.labels(f.Channels)
	return f, nil
}

// shape derives TZC from the ImageJ description when it agrees with the
// page count, otherwise treats pages as slices and samples as channels.
func (f *File) shape(desc string) {
	samples := f.pages[0].samples
	if samples == 1 {
		h := f.Header
		if _, ok := h.parseDescription(desc); ok && h.Planes() == len(f.pages) {
			f.Frames, f.Slices, f.Channels = h.Frames, h.Slices, h.Channels
			return
		}
	}
	f.Frames, f.Slices, f.Channels = 1, len(f.pages), samples
}

func (f *File) scale(desc string, xres, yres float64, unit int) {
	h := f.Header
	ijUnit, _ := h.parseDescription(desc)
	if xres <= 0 || yres <= 0 {
		return
	}
	factor := 1.0
	switch unit {
	case resolutionUnitInch:
		factor = micronsPerInch
	case resolutionUnitCm:
		factor = micronsPerCentimetre
	default:
		switch strings.ToLower(ijUnit) {
		case "mm":
			factor = 1000
		case "nm":
			factor = 0.001
		}
	}
	f.Scale = volume.VoxelSize{1, factor / yres, factor / xres}
	if h.Scale[0] > 0 {
		f.Scale[0] = h.Scale[0]
	}
}

// ReadPlane returns plane i in TZCYX order as little-endian element bytes.
func (f *File) ReadPlane(i int) ([]byte, error) {
	if i < 0 || i >= f.Planes() {
		return nil, fmt.Errorf("tiff: plane %d of %d", i, f.Planes())
	}
	p := &f.pages[i/f.pages[0].samples]
	elem := p.bits / 8
	raw := make([]byte, 0, p.width*p.height*p.samples*elem)
	for s := range p.offsets {
		b := make([]byte, p.counts[s])
		if _, err := f.r.ReadAt(b, int64(p.offsets[s])); err != nil {
			return nil, fmt.Errorf("tiff: strip %d of plane %d: %w", s, i, err)
		}
		if p.compression != compressionNone {
			var err error
			if b, err = inflate(b); err != nil {
				return nil, fmt.Errorf("tiff: strip %d of plane %d: %w", s, i, err)
			}
		}
		raw = append(raw, b...)
	}
	want := p.width * p.height * p.samples * elem
	if len(raw) < want {
		return nil, fmt.Errorf("tiff: plane %d holds %d bytes, want %d", i, len(raw), want)
	}
	raw = raw[:want]
	if p.predictor == 2 {
		undoPredictor(raw, p.width*p.samples, elem, p.samples, f.order)
	}
	if f.order == binary.BigEndian && elem > 1 {
		swap(raw, elem)
	}
	if p.samples == 1 {
		return raw, nil
	}
	c := i % p.samples
	out := make([]byte, p.width*p.height*elem)
	for px := 0; px < p.width*p.height; px++ {
		copy(out[px*elem:], raw[(px*p.samples+c)*elem:(px*p.samples+c+1)*elem])
	}
	return out, nil
}

// ReadAll reads every plane into a TZCYX array.
func (f *File) ReadAll() (*volume.Array, error) {
	s := f.Shape()
	a := volume.New(f.DType, s[:]...)
	size := f.PlaneSize()
	for i := 0; i < f.Planes(); i++ {
		b, err := f.ReadPlane(i)
		if err != nil {
			return nil, err
		}
		copy(a.Data[i*size:], b)
	}
	return a, nil
}

// Close closes the underlying file when the reader opened it.
func (f *File) Close() error {
	if f.closer == nil {
		return nil
	}
	c := f.closer
	f.closer = nil
	return c.Close()
}

func inflate(b []byte) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}

func swap(b []byte, elem int) {
	for i := 0; i+elem <= len(b); i += elem {
		for j, k := i, i+elem-1; j < k; j, k = j+1, k-1 {
			b[j], b[k] = b[k], b[j]
		}
	}
}

// undoPredictor reverses horizontal differencing row by row.
func undoPredictor(b []byte, rowSamples, elem, samples int, order binary.ByteOrder) {
	rowBytes := rowSamples * elem
	for row := 0; row+rowBytes <= len(b); row += rowBytes {
		r := b[row : row+rowBytes]
		for i := samples; i < rowSamples; i++ {
			cur, prev := r[i*elem:], r[(i-samples)*elem:]
			switch elem {
			case 1:
				cur[0] += prev[0]
			case 2:
				order.PutUint16(cur, order.Uint16(cur)+order.Uint16(prev))
			case 4:
				order.PutUint32(cur, order.Uint32(cur)+order.Uint32(prev))
			case 8:
				order.PutUint64(cur, order.Uint64(cur)+order.Uint64(prev))
			}
		}
	}
}

type field struct {
	typ   uint16
	count uint64
	data  []byte
}

type ifd struct {
	order  binary.ByteOrder
	fields map[uint16]field
}

var typeSizes = map[uint16]int{typeByte: 1, typeASCII: 1, typeShort: 2, typeLong: 4, typeRational: 8, 6: 1, 7: 1, 8: 2, 9: 4, 10: 8, 11: 4, 12: 8}

func (f *File) readIFD(off uint64) (*ifd, uint64, error) {
	var n [2]byte
	if _, err := f.r.ReadAt(n[:], int64(off)); err != nil {
		return nil, 0, fmt.Errorf("tiff: IFD at %d: %w", off, err)
	}
	count := int(f.order.Uint16(n[:]))
	buf := make([]byte, 12*count+4)
	if _, err := f.r.ReadAt(buf, int64(off)+2); err != nil {
		return nil, 0, fmt.Errorf("tiff: IFD at %d: %w", off, err)
	}
	d := &ifd{order: f.order, fields: make(map[uint16]field, count)}
	for i := 0; i < count; i++ {
		e := buf[12*i:]
		tag, typ := f.order.Uint16(e), f.order.Uint16(e[2:])
		cnt := uint64(f.order.Uint32(e[4:]))
		size, ok := typeSizes[typ]
		if !ok {
			continue
		}
		total := cnt * uint64(size)
		var data []byte
		if total <= 4 {
			data = append([]byte(nil), e[8:8+total]...)
		} else {
			if total > 1<<28 {
				return nil, 0, fmt.Errorf("tiff: tag %d holds %d bytes", tag, total)
			}
			data = make([]byte, total)
			if _, err := f.r.ReadAt(data, int64(f.order.Uint32(e[8:]))); err != nil {
				return nil, 0, fmt.Errorf("tiff: tag %d: %w", tag, err)
			}
		}
		d.fields[tag] = field{typ: typ, count: cnt, data: data}
	}
	next := uint64(f.order.Uint32(buf[12*count:]))
	if next != 0 && next <= off {
		// chains must move forward; a loop ends the file here
		next = 0
	}
	return d, next, nil
}

func (d *ifd) uints(tag uint16) []uint64 {
	fd, ok := d.fields[tag]
	if !ok {
		return nil
	}
	out := make([]uint64, fd.count)
	for i := range out {
		switch fd.typ {
		case typeByte:
			out[i] = uint64(fd.data[i])
		case typeShort:
			out[i] = uint64(d.order.Uint16(fd.data[2*i:]))
		case typeLong:
			out[i] = uint64(d.order.Uint32(fd.data[4*i:]))
		default:
			return nil
		}
	}
	return out
}

func (d *ifd) value(tag uint16, def int) int {
	if v := d.uints(tag); len(v) > 0 {
		return int(v[0])
	}
	return def
}

func (d *ifd) ascii(tag uint16) string {
	fd, ok := d.fields[tag]
	if !ok || fd.typ != typeASCII {
		return ""
	}
	return strings.TrimRight(string(fd.data), "\x00")
}

func (d *ifd) bytes(tag uint16) []byte {
	fd, ok := d.fields[tag]
	if !ok {
		return nil
	}
	return fd.data
}

func (d *ifd) rational(tag uint16) float64 {
	fd, ok := d.fields[tag]
	if !ok || fd.typ != typeRational || len(fd.data) < 8 {
		return 0
	}
	num, den := d.order.Uint32(fd.data), d.order.Uint32(fd.data[4:])
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

func (f *File) page(d *ifd) (page, error) {
	p := page{
		width:       d.value(tagImageWidth, 0),
		height:      d.value(tagImageLength, 0),
		samples:     d.value(tagSamplesPerPixel, 1),
		format:      d.value(tagSampleFormat, sampleFormatUint),
		compression: d.value(tagCompression, compressionNone),
		predictor:   d.value(tagPredictor, 1),
		offsets:     d.uints(tagStripOffsets),
		counts:      d.uints(tagStripByteCounts),
	}
	p.bits = d.value(tagBitsPerSample, 1)
	if p.width < 1 || p.height < 1 {
		return p, fmt.Errorf("tiff: image size %dx%d", p.width, p.height)
	}
	if p.bits%8 != 0 {
		return p, fmt.Errorf("%w: %d bits per sample", ErrUnsupported, p.bits)
	}
	switch p.compression {
	case compressionNone, compressionDeflate, compressionDeflateOld:
	default:
		return p, fmt.Errorf("%w: compression %d", ErrUnsupported, p.compression)
	}
	if p.samples > 1 && d.value(tagPlanarConfig, 1) != 1 {
		return p, fmt.Errorf("%w: planar sample layout", ErrUnsupported)
	}
	if p.predictor != 1 && (p.predictor != 2 || p.format == sampleFormatFloat) {
		return p, fmt.Errorf("%w: predictor %d", ErrUnsupported, p.predictor)
	}
	if len(p.offsets) == 0 || len(p.offsets) != len(p.counts) {
		return p, fmt.Errorf("tiff: %d strip offsets, %d byte counts", len(p.offsets), len(p.counts))
	}
	return p, nil
}

// ijMeta is the ImageJ metadata block.
type ijMeta struct {
	counts []uint64
	data   []byte
}

// labels returns the first n slice labels, or nil when absent.
func (m ijMeta) labels(n int) []string {
	if len(m.counts) < 2 || len(m.data) < 4 || int(m.counts[0]) > len(m.data) {
		return nil
	}
	var order binary.ByteOrder
	var labelType string
	switch string(m.data[:4]) {
	case "IJIJ":
		order, labelType = binary.BigEndian, "labl"
	case "JIJI":
		order, labelType = binary.LittleEndian, "lbal"
	default:
		return nil
	}

	hdr := m.data[4:m.counts[0]]
	pos := m.counts[0]
	item := 1
	var labels []string
	for len(hdr) >= 8 {
		typ, count := string(hdr[:4]), int(order.Uint32(hdr[4:]))
		hdr = hdr[8:]
		for i := 0; i < count && item < len(m.counts); i++ {
			size := m.counts[item]
			item++
			if pos+size > uint64(len(m.data)) {
				return nil
			}
			if typ == labelType && size%2 == 0 {
				b := m.data[pos : pos+size]
				units := make([]uint16, len(b)/2)
				for j := range units {
					units[j] = order.Uint16(b[2*j:])
				}
				labels = append(labels, string(utf16.Decode(units)))
			}
			pos += size
		}
	}
	if len(labels) < n {
		return nil
	}
	return labels[:n]
}
