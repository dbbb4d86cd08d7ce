package message

import (
	"encoding/binary"
	"fmt"

	binpkg "github.com/robert-malhotra/go-imaris/internal/binary"
)

// Registered filter identifiers.
const (
	FilterDeflate     uint16 = 1
	FilterShuffle     uint16 = 2
	FilterFletcher32  uint16 = 3
	FilterSZIP        uint16 = 4
	FilterNBit        uint16 = 5
	FilterScaleOffset uint16 = 6
	FilterBlosc       uint16 = 32001
	FilterLZ4         uint16 = 32004
	FilterBitshuffle  uint16 = 32008
	FilterZstd        uint16 = 32015
)

// FilterName returns a readable name for a filter identifier.
func FilterName(id uint16) string {
	switch id {
	case FilterDeflate:
		return "deflate"
	case FilterShuffle:
		return "shuffle"
	case FilterFletcher32:
		return "fletcher32"
	case FilterSZIP:
		return "szip"
	case FilterNBit:
		return "nbit"
	case FilterScaleOffset:
		return "scaleoffset"
	case FilterBlosc:
		return "blosc"
	case FilterLZ4:
		return "lz4"
	case FilterBitshuffle:
		return "bitshuffle"
	case FilterZstd:
		return "zstd"
	}
	return fmt.Sprintf("filter %d", id)
}

// FilterInfo is one stage of a pipeline.
type FilterInfo struct {
	ID         uint16
	Flags      uint16
	Name       string
	ClientData []uint32
}

// Optional reports whether a failing filter may be skipped.
func (f FilterInfo) Optional() bool { return f.Flags&0x01 != 0 }

// FilterPipeline lists the filters applied to chunks (type 0x000B).
type FilterPipeline struct {
	Version uint8
	Filters []FilterInfo
}

func (m *FilterPipeline) Type() Type { return TypeFilterPipeline }

func parseFilterPipeline(data []byte) (*FilterPipeline, error) {
	if len(data) < 2 {
		return nil, errTruncated
	}
	fp := &FilterPipeline{Version: data[0], Filters: make([]FilterInfo, data[1])}
	pos := 2
	switch fp.Version {
	case 1:
		pos = 8
	case 2:
	default:
		return nil, errVersion("filter pipeline", fp.Version)
	}

	u16 := func() (uint16, error) {
		if pos+2 > len(data) {
			return 0, errTruncated
		}
		v := binary.LittleEndian.Uint16(data[pos:])
		pos += 2
		return v, nil
	}

	for i := range fp.Filters {
		f := &fp.Filters[i]
		var err error
		if f.ID, err = u16(); err != nil {
			return nil, err
		}
		var nameLen uint16
		if fp.Version == 1 || f.ID >= 256 {
			if nameLen, err = u16(); err != nil {
				return nil, err
			}
		}
		if f.Flags, err = u16(); err != nil {
			return nil, err
		}
		ncd, err := u16()
		if err != nil {
			return nil, err
		}
		if nameLen > 0 {
			if pos+int(nameLen) > len(data) {
				return nil, errTruncated
			}
			f.Name = cstring(data[pos : pos+int(nameLen)])
			pos += int(nameLen)
			if fp.Version == 1 {
				pos = pad8(pos)
			}
		}
		if pos+4*int(ncd) > len(data) {
			return nil, errTruncated
		}
		f.ClientData = make([]uint32, ncd)
		for j := range f.ClientData {
			f.ClientData[j] = binary.LittleEndian.Uint32(data[pos:])
			pos += 4
		}
		if fp.Version == 1 && ncd%2 == 1 {
			pos += 4
		}
	}
	return fp, nil
}

// Encode writes a version 2 pipeline.
func (m *FilterPipeline) Encode(w *binpkg.Writer) {
	w.Uint8(2)
	w.Uint8(uint8(len(m.Filters)))
	for _, f := range m.Filters {
		w.Uint16(f.ID)
		if f.ID >= 256 {
			w.Uint16(uint16(len(f.Name) + 1))
		}
		w.Uint16(f.Flags)
		w.Uint16(uint16(len(f.ClientData)))
		if f.ID >= 256 {
			w.Write([]byte(f.Name))
			w.Uint8(0)
		}
		for _, cd := range f.ClientData {
			w.Uint32(cd)
		}
	}
}
