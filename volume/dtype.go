package volume

import (
	"encoding/binary"
	"fmt"
	"math"
)

// DType is the element type of a volume. Elements are stored little-endian.
type DType uint8

const (
	Invalid DType = iota
	Uint8
	Uint16
	Uint32
	Uint64
	Int8
	Int16
	Int32
	Int64
	Float32
	Float64
)

var dtypeNames = [...]string{"invalid", "uint8", "uint16", "uint32", "uint64", "int8", "int16", "int32", "int64", "float32", "float64"}

func (t DType) String() string {
	if int(t) >= len(dtypeNames) {
		return dtypeNames[0]
	}
	return dtypeNames[t]
}

// ParseDType is the inverse of DType.String.
func ParseDType(s string) (DType, error) {
	for i, n := range dtypeNames[1:] {
		if n == s {
			return DType(i + 1), nil
		}
	}
	return Invalid, fmt.Errorf("unknown dtype %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (t DType) MarshalText() ([]byte, error) {
	if t == Invalid || int(t) >= len(dtypeNames) {
		return nil, fmt.Errorf("invalid dtype %d", t)
	}
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *DType) UnmarshalText(b []byte) error {
	v, err := ParseDType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Size returns the element size in bytes.
func (t DType) Size() int {
	switch t {
	case Uint8, Int8:
		return 1
	case Uint16, Int16:
		return 2
	case Uint32, Int32, Float32:
		return 4
	case Uint64, Int64, Float64:
		return 8
	}
	return 0
}

// IsFloat reports whether t is a floating point type.
func (t DType) IsFloat() bool { return t == Float32 || t == Float64 }

// Range returns the smallest and largest representable values.
func (t DType) Range() (lo, hi float64) {
	switch t {
	case Uint8:
		return 0, math.MaxUint8
	case Uint16:
		return 0, math.MaxUint16
	case Uint32:
		return 0, math.MaxUint32
	case Uint64:
		return 0, math.MaxUint64
	case Int8:
		return math.MinInt8, math.MaxInt8
	case Int16:
		return math.MinInt16, math.MaxInt16
	case Int32:
		return math.MinInt32, math.MaxInt32
	case Int64:
		return math.MinInt64, math.MaxInt64
	case Float32:
		return -math.MaxFloat32, math.MaxFloat32
	}
	return -math.MaxFloat64, math.MaxFloat64
}

func (t DType) get(b []byte) float64 {
	le := binary.LittleEndian
	switch t {
	case Uint8:
		return float64(b[0])
	case Int8:
		return float64(int8(b[0]))
	case Uint16:
		return float64(le.Uint16(b))
	case Int16:
		return float64(int16(le.Uint16(b)))
	case Uint32:
		return float64(le.Uint32(b))
	case Int32:
		return float64(int32(le.Uint32(b)))
	case Uint64:
		return float64(le.Uint64(b))
	case Int64:
		return float64(int64(le.Uint64(b)))
	case Float32:
		return float64(math.Float32frombits(le.Uint32(b)))
	case Float64:
		return math.Float64frombits(le.Uint64(b))
	}
	return 0
}

// put stores v, rounding and saturating for integer types. NaN stores as
// zero in integer types.
func (t DType) put(b []byte, v float64) {
	le := binary.LittleEndian
	if !t.IsFloat() {
		if math.IsNaN(v) {
			v = 0
		}
		lo, hi := t.Range()
		v = math.Max(lo, math.Min(hi, math.Round(v)))
	}
	switch t {
	case Uint8:
		b[0] = uint8(v)
	case Int8:
		b[0] = byte(int8(v))
	case Uint16:
		le.PutUint16(b, uint16(v))
	case Int16:
		le.PutUint16(b, uint16(int16(v)))
	case Uint32:
		le.PutUint32(b, uint32(v))
	case Int32:
		le.PutUint32(b, uint32(int32(v)))
	case Uint64:
		if v >= math.MaxUint64 {
			le.PutUint64(b, math.MaxUint64)
		} else {
			le.PutUint64(b, uint64(v))
		}
	case Int64:
		if v >= math.MaxInt64 {
			le.PutUint64(b, math.MaxInt64)
		} else {
			le.PutUint64(b, uint64(int64(v)))
		}
	case Float32:
		le.PutUint32(b, math.Float32bits(float32(v)))
	case Float64:
		le.PutUint64(b, math.Float64bits(v))
	}
}
