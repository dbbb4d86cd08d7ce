package binary

import "encoding/binary"

// Writer appends HDF5 fields to an in-memory buffer. Structures are
// assembled completely before they are placed in a file, so patching
// earlier fields (sizes, checksums) is done with the Put methods.
type Writer struct {
	buf []byte
	cfg Config
}

// NewWriter returns an empty writer.
func NewWriter(cfg Config) *Writer {
	return &Writer{cfg: cfg}
}

// Config returns the writer configuration.
func (w *Writer) Config() Config { return w.cfg }

// Len returns the number of bytes written so far.
func (w *Writer) Len() int { return len(w.buf) }

// Bytes returns the written bytes.
func (w *Writer) Bytes() []byte { return w.buf }

func (w *Writer) Uint8(v uint8) { w.buf = append(w.buf, v) }

func (w *Writer) Uint16(v uint16) { w.UintN(uint64(v), 2) }

func (w *Writer) Uint32(v uint32) { w.UintN(uint64(v), 4) }

func (w *Writer) Uint64(v uint64) { w.UintN(v, 8) }

// UintN appends v using n bytes.
func (w *Writer) UintN(v uint64, n int) {
	var tmp [8]byte
	if w.cfg.ByteOrder == binary.BigEndian {
		binary.BigEndian.PutUint64(tmp[:], v)
		w.buf = append(w.buf, tmp[8-n:]...)
		return
	}
	binary.LittleEndian.PutUint64(tmp[:], v)
	w.buf = append(w.buf, tmp[:n]...)
}

// Offset appends a file address.
func (w *Writer) Offset(v uint64) { w.UintN(v, w.cfg.OffsetSize) }

// Length appends a length field.
func (w *Writer) Length(v uint64) { w.UintN(v, w.cfg.LengthSize) }

// Undefined appends the undefined address.
func (w *Writer) Undefined() { w.UintN(^uint64(0), w.cfg.OffsetSize) }

// Write appends raw bytes.
func (w *Writer) Write(p []byte) { w.buf = append(w.buf, p...) }

// Zero appends n zero bytes.
func (w *Writer) Zero(n int) {
	for i := 0; i < n; i++ {
		w.buf = append(w.buf, 0)
	}
}

// Pad appends zero bytes until Len is a multiple of alignment.
func (w *Writer) Pad(alignment int) {
	if rem := len(w.buf) % alignment; rem != 0 {
		w.Zero(alignment - rem)
	}
}

// PutUint32 overwrites four bytes at pos.
func (w *Writer) PutUint32(pos int, v uint32) {
	w.cfg.ByteOrder.PutUint32(w.buf[pos:pos+4], v)
}

// AppendChecksum appends the lookup3 checksum of everything written since start.
func (w *Writer) AppendChecksum(start int) {
	w.Uint32(Checksum(w.buf[start:]))
}
