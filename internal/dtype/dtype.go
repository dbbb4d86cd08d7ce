// Package dtype converts raw HDF5 element bytes into Go values.
//
// Only atomic classes are handled: fixed-point, floating-point and fixed
// length strings. That covers image data and the attributes written by
// microscopy software.
package dtype

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"reflect"

	"github.com/robert-malhotra/go-imaris/internal/message"
)

// GoType returns the Go type matching an atomic datatype.
func GoType(dt *message.Datatype) (reflect.Type, error) {
	if dt == nil {
		return nil, fmt.Errorf("nil datatype")
	}
	switch dt.Class {
	case message.ClassFixedPoint:
		switch {
		case dt.Size == 1 && dt.Signed:
			return reflect.TypeOf(int8(0)), nil
		case dt.Size == 1:
			return reflect.TypeOf(uint8(0)), nil
		case dt.Size == 2 && dt.Signed:
			return reflect.TypeOf(int16(0)), nil
		case dt.Size == 2:
			return reflect.TypeOf(uint16(0)), nil
		case dt.Size == 4 && dt.Signed:
			return reflect.TypeOf(int32(0)), nil
		case dt.Size == 4:
			return reflect.TypeOf(uint32(0)), nil
		case dt.Size == 8 && dt.Signed:
			return reflect.TypeOf(int64(0)), nil
		case dt.Size == 8:
			return reflect.TypeOf(uint64(0)), nil
		}
	case message.ClassFloatPoint:
		switch dt.Size {
		case 4:
			return reflect.TypeOf(float32(0)), nil
		case 8:
			return reflect.TypeOf(float64(0)), nil
		}
	case message.ClassString:
		return reflect.TypeOf(""), nil
	}
	return nil, fmt.Errorf("unsupported datatype %s", dt)
}

// ByteOrder returns the element byte order.
func ByteOrder(dt *message.Datatype) binary.ByteOrder {
	if dt.BigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// IsNumeric reports whether dt is an integer or float type.
func IsNumeric(dt *message.Datatype) bool {
	return dt.Class == message.ClassFixedPoint || dt.Class == message.ClassFloatPoint
}

// ToLittleEndian swaps multi-byte elements of a big-endian type in place.
func ToLittleEndian(dt *message.Datatype, data []byte) {
	size := int(dt.Size)
	if !dt.BigEndian || size <= 1 || !IsNumeric(dt) {
		return
	}
	for i := 0; i+size <= len(data); i += size {
		e := data[i : i+size]
		for a, b := 0, size-1; a < b; a, b = a+1, b-1 {
			e[a], e[b] = e[b], e[a]
		}
	}
}

// Float64s decodes numeric elements.
func Float64s(dt *message.Datatype, data []byte) ([]float64, error) {
	if !IsNumeric(dt) {
		return nil, fmt.Errorf("datatype %s is not numeric", dt)
	}
	size := int(dt.Size)
	if size == 0 || len(data)%size != 0 {
		return nil, fmt.Errorf("%d bytes is not a whole number of %d-byte elements", len(data), size)
	}
	order := ByteOrder(dt)
	out := make([]float64, len(data)/size)
	for i := range out {
		e := data[i*size : (i+1)*size]
		switch {
		case dt.Class == message.ClassFloatPoint && size == 4:
			out[i] = float64(math.Float32frombits(order.Uint32(e)))
		case dt.Class == message.ClassFloatPoint && size == 8:
			out[i] = math.Float64frombits(order.Uint64(e))
		case dt.Class == message.ClassFloatPoint:
			return nil, fmt.Errorf("unsupported float size %d", size)
		default:
			v, err := integer(e, order, dt.Signed)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
	}
	return out, nil
}

func integer(e []byte, order binary.ByteOrder, signed bool) (float64, error) {
	switch len(e) {
	case 1:
		if signed {
			return float64(int8(e[0])), nil
		}
		return float64(e[0]), nil
	case 2:
		if signed {
			return float64(int16(order.Uint16(e))), nil
		}
		return float64(order.Uint16(e)), nil
	case 4:
		if signed {
			return float64(int32(order.Uint32(e))), nil
		}
		return float64(order.Uint32(e)), nil
	case 8:
		if signed {
			return float64(int64(order.Uint64(e))), nil
		}
		return float64(order.Uint64(e)), nil
	}
	return 0, fmt.Errorf("unsupported integer size %d", len(e))
}

// Text decodes string data into one string. Arrays of one-character
// strings, the layout Imaris uses for every attribute, are concatenated.
// NUL padding is dropped.
func Text(dt *message.Datatype, data []byte) (string, error) {
	if dt.Class != message.ClassString && !(dt.Class == message.ClassFixedPoint && dt.Size == 1) {
		return "", fmt.Errorf("datatype %s is not text", dt)
	}
	var b bytes.Buffer
	size := max(int(dt.Size), 1)
	for i := 0; i+size <= len(data); i += size {
		e := data[i : i+size]
		if j := bytes.IndexByte(e, 0); j >= 0 {
			e = e[:j]
		}
		b.Write(e)
	}
	return b.String(), nil
}

// Strings decodes each fixed-length string element separately.
func Strings(dt *message.Datatype, data []byte) ([]string, error) {
	if dt.Class != message.ClassString || dt.Size == 0 {
		return nil, fmt.Errorf("datatype %s is not a fixed string", dt)
	}
	size := int(dt.Size)
	out := make([]string, 0, len(data)/size)
	for i := 0; i+size <= len(data); i += size {
		e := data[i : i+size]
		if j := bytes.IndexByte(e, 0); j >= 0 {
			e = e[:j]
		}
		out = append(out, string(bytes.TrimRight(e, " ")))
	}
	return out, nil
}

// CharArray encodes s the way Imaris stores attribute text: one
// single-byte string element per character.
func CharArray(s string) (*message.Datatype, []uint64, []byte) {
	return message.NewString(1), []uint64{uint64(len(s))}, []byte(s)
}

// EncodeFloat64s stores values as little-endian doubles.
func EncodeFloat64s(values []float64) (*message.Datatype, []byte) {
	out := make([]byte, 8*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint64(out[8*i:], math.Float64bits(v))
	}
	return message.NewFloat(8), out
}
