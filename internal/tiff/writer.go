package tiff

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"unicode/utf16"

	"github.com/klauspost/compress/zlib"
)

var le = binary.LittleEndian

const maxOffset = math.MaxUint32

type strip struct {
	offset, size uint32
}

// Writer streams planes to a little-endian TIFF. IFDs are written after
// the pixel data when the writer is closed.
type Writer struct {
	w       io.WriteSeeker
	closer  io.Closer
	h       Header
	deflate bool
	pos     uint64
	strips  []strip
	zbuf    bytes.Buffer
	closed  bool
}

// Create creates path and returns a writer for h. With deflate set every
// plane is zlib compressed.
func Create(path string, h Header, deflate bool) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w, err := NewWriter(f, h, deflate)
	if err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}
	w.closer = f
	return w, nil
}

// NewWriter writes a TIFF header to w.
func NewWriter(w io.WriteSeeker, h Header, deflate bool) (*Writer, error) {
	if err := h.validate(); err != nil {
		return nil, err
	}
	if len(h.Labels) > 0 && len(h.Labels) != h.Channels {
		return nil, fmt.Errorf("tiff: %d labels for %d channels", len(h.Labels), h.Channels)
	}
	if !deflate && uint64(h.Planes())*uint64(h.PlaneSize()) > maxOffset {
		return nil, ErrTooLarge
	}
	hdr := []byte{'I', 'I', 42, 0, 0, 0, 0, 0}
	if _, err := w.Write(hdr); err != nil {
		return nil, err
	}
	return &Writer{w: w, h: h, deflate: deflate, pos: uint64(len(hdr))}, nil
}

// WritePlane appends the next plane in TZCYX order as little-endian
// element bytes.
func (w *Writer) WritePlane(data []byte) error {
	if w.closed {
		return os.ErrClosed
	}
	if len(data) != w.h.PlaneSize() {
		return fmt.Errorf("tiff: plane of %d bytes, want %d", len(data), w.h.PlaneSize())
	}
	if len(w.strips) == w.h.Planes() {
		return fmt.Errorf("tiff: all %d planes already written", w.h.Planes())
	}
	if w.deflate {
		w.zbuf.Reset()
		zw := zlib.NewWriter(&w.zbuf)
		if _, err := zw.Write(data); err != nil {
			return err
		}
		if err := zw.Close(); err != nil {
			return err
		}
		data = w.zbuf.Bytes()
	}
	if w.pos+uint64(len(data)) > maxOffset {
		return ErrTooLarge
	}
	if _, err := w.w.Write(data); err != nil {
		return err
	}
	w.strips = append(w.strips, strip{offset: uint32(w.pos), size: uint32(len(data))})
	w.pos += uint64(len(data))
	return nil
}

// Close writes the IFD chain. It fails if planes are missing.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	err := w.finish()
	if w.closer != nil {
		if cerr := w.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func (w *Writer) finish() error {
	if len(w.strips) != w.h.Planes() {
		return fmt.Errorf("tiff: %d of %d planes written", len(w.strips), w.h.Planes())
	}
	if w.pos%2 == 1 {
		if _, err := w.w.Write([]byte{0}); err != nil {
			return err
		}
		w.pos++
	}
	first := w.pos

	var buf bytes.Buffer
	for i, s := range w.strips {
		entries := w.entries(i, s)
		base := w.pos + uint64(buf.Len())
		size := ifdSize(entries)
		next := uint64(0)
		if i < len(w.strips)-1 {
			next = base + size
		}
		if next > maxOffset || base+size > maxOffset {
			return ErrTooLarge
		}
		encodeIFD(&buf, uint32(base), entries, uint32(next))
	}
	if _, err := w.w.Write(buf.Bytes()); err != nil {
		return err
	}

	if _, err := w.w.Seek(4, io.SeekStart); err != nil {
		return err
	}
	var off [4]byte
	le.PutUint32(off[:], uint32(first))
	_, err := w.w.Write(off[:])
	return err
}

type entry struct {
	tag, typ uint16
	count    uint32
	data     []byte
}

func shortEntry(tag uint16, v uint16) entry {
	b := make([]byte, 2)
	le.PutUint16(b, v)
	return entry{tag: tag, typ: typeShort, count: 1, data: b}
}

func longEntry(tag uint16, v uint32) entry {
	b := make([]byte, 4)
	le.PutUint32(b, v)
	return entry{tag: tag, typ: typeLong, count: 1, data: b}
}

func rationalEntry(tag uint16, num, den uint32) entry {
	b := make([]byte, 8)
	le.PutUint32(b, num)
	le.PutUint32(b[4:], den)
	return entry{tag: tag, typ: typeRational, count: 1, data: b}
}

// rational approximates v as num/den with den a power of ten.
func rational(v float64) (uint32, uint32) {
	if !(v > 0) || math.IsInf(v, 0) {
		return 1, 1
	}
	den := 1e6
	for den > 1 && v*den > math.MaxUint32 {
		den /= 10
	}
	num := math.Round(v * den)
	if num < 1 {
		num = 1
	}
	if num > math.MaxUint32 {
		num = math.MaxUint32
	}
	return uint32(num), uint32(den)
}

func (w *Writer) entries(i int, s strip) []entry {
	h := &w.h
	compression := uint16(compressionNone)
	if w.deflate {
		compression = compressionDeflate
	}
	es := []entry{
		longEntry(tagNewSubfileType, 0),
		longEntry(tagImageWidth, uint32(h.Width)),
		longEntry(tagImageLength, uint32(h.Height)),
		shortEntry(tagBitsPerSample, uint16(8*h.DType.Size())),
		shortEntry(tagCompression, compression),
		shortEntry(tagPhotometric, photometricMinIsBlack),
	}
	if i == 0 {
		desc := append([]byte(h.description()), 0)
		es = append(es, entry{tag: tagImageDescription, typ: typeASCII, count: uint32(len(desc)), data: desc})
	}
	es = append(es,
		longEntry(tagStripOffsets, s.offset),
		shortEntry(tagSamplesPerPixel, 1),
		longEntry(tagRowsPerStrip, uint32(h.Height)),
		longEntry(tagStripByteCounts, s.size),
	)
	if h.Scale.Known() {
		xn, xd := rational(1 / h.Scale[2])
		yn, yd := rational(1 / h.Scale[1])
		es = append(es,
			rationalEntry(tagXResolution, xn, xd),
			rationalEntry(tagYResolution, yn, yd),
			shortEntry(tagResolutionUnit, resolutionUnitNone),
		)
	}
	es = append(es, shortEntry(tagSampleFormat, sampleFormat(h.DType)))
	if i == 0 && len(h.Labels) > 0 {
		counts, meta := w.labels()
		es = append(es,
			entry{tag: tagIJMetaCounts, typ: typeLong, count: uint32(len(counts) / 4), data: counts},
			entry{tag: tagIJMeta, typ: typeByte, count: uint32(len(meta)), data: meta},
		)
	}
	return es
}

// labels encodes one ImageJ slice label per plane, the name of the plane's
// channel, in the little-endian IJMetadata layout.
func (w *Writer) labels() (counts, meta []byte) {
	n := w.h.Planes()
	var body bytes.Buffer
	var header bytes.Buffer
	header.WriteString("JIJI")
	header.WriteString("lbal")
	binary.Write(&header, le, uint32(n))

	sizes := []uint32{uint32(header.Len())}
	for p := 0; p < n; p++ {
		units := utf16.Encode([]rune(w.h.Labels[p%w.h.Channels]))
		for _, u := range units {
			binary.Write(&body, le, u)
		}
		sizes = append(sizes, uint32(2*len(units)))
	}
	counts = make([]byte, 4*len(sizes))
	for i, s := range sizes {
		le.PutUint32(counts[4*i:], s)
	}
	return counts, append(header.Bytes(), body.Bytes()...)
}

func ifdSize(entries []entry) uint64 {
	size := uint64(2 + 12*len(entries) + 4)
	for _, e := range entries {
		if len(e.data) > 4 {
			size += uint64(len(e.data) + len(e.data)%2)
		}
	}
	return size
}

func encodeIFD(buf *bytes.Buffer, base uint32, entries []entry, next uint32) {
	extra := base + uint32(2+12*len(entries)+4)
	var tail bytes.Buffer
	binary.Write(buf, le, uint16(len(entries)))
	for _, e := range entries {
		binary.Write(buf, le, e.tag)
		binary.Write(buf, le, e.typ)
		binary.Write(buf, le, e.count)
		if len(e.data) <= 4 {
			var v [4]byte
			copy(v[:], e.data)
			buf.Write(v[:])
			continue
		}
		binary.Write(buf, le, extra+uint32(tail.Len()))
		tail.Write(e.data)
		if len(e.data)%2 == 1 {
			tail.WriteByte(0)
		}
	}
	binary.Write(buf, le, next)
	buf.Write(tail.Bytes())
}
