package message

import (
	binpkg "github.com/robert-malhotra/go-imaris/internal/binary"
)

// DataspaceType is the kind of dataspace.
type DataspaceType uint8

const (
	DataspaceScalar DataspaceType = 0
	DataspaceSimple DataspaceType = 1
	DataspaceNull   DataspaceType = 2
)

// Dataspace describes the extent of a dataset or attribute (type 0x0001).
type Dataspace struct {
	Version    uint8
	SpaceType  DataspaceType
	Dimensions []uint64
	MaxDims    []uint64
}

func (m *Dataspace) Type() Type { return TypeDataspace }

// NewDataspace returns a simple dataspace, or a scalar one for no dims.
func NewDataspace(dims []uint64) *Dataspace {
	if len(dims) == 0 {
		return &Dataspace{Version: 2, SpaceType: DataspaceScalar}
	}
	return &Dataspace{Version: 2, SpaceType: DataspaceSimple, Dimensions: dims}
}

// NumElements returns the number of elements described.
func (m *Dataspace) NumElements() uint64 {
	switch m.SpaceType {
	case DataspaceScalar:
		return 1
	case DataspaceSimple:
		n := uint64(1)
		for _, d := range m.Dimensions {
			n *= d
		}
		return n
	}
	return 0
}

/*
Layout:

	0  version
	1  rank
	2  flags (bit 0: max dims present)
	3  type (version 2) or reserved (version 1)
	4  version 1 only: 4 reserved bytes
	.. rank dimension sizes, then optional max sizes, each of length width
*/
func parseDataspace(data []byte, r *binpkg.Reader) (*Dataspace, error) {
	if len(data) < 4 {
		return nil, errTruncated
	}
	ds := &Dataspace{Version: data[0]}
	rank := int(data[1])
	flags := data[2]

	pos := 4
	switch ds.Version {
	case 1:
		pos = 8
		ds.SpaceType = DataspaceSimple
		if rank == 0 {
			ds.SpaceType = DataspaceScalar
		}
	case 2:
		ds.SpaceType = DataspaceType(data[3])
	default:
		return nil, errVersion("dataspace", ds.Version)
	}
	if ds.SpaceType != DataspaceSimple {
		return ds, nil
	}

	l := r.LengthSize()
	read := func() ([]uint64, error) {
		out := make([]uint64, rank)
		for i := range out {
			if pos+l > len(data) {
				return nil, errTruncated
			}
			out[i] = uintAt(data, pos, l, r)
			pos += l
		}
		return out, nil
	}
	var err error
	if ds.Dimensions, err = read(); err != nil {
		return nil, err
	}
	if flags&0x01 != 0 {
		if ds.MaxDims, err = read(); err != nil {
			return nil, err
		}
	}
	return ds, nil
}

// Encode writes a version 2 dataspace without max dims.
func (m *Dataspace) Encode(w *binpkg.Writer) {
	w.Uint8(2)
	w.Uint8(uint8(len(m.Dimensions)))
	w.Uint8(0)
	w.Uint8(uint8(m.SpaceType))
	for _, d := range m.Dimensions {
		w.Length(d)
	}
}
