package dtype

import (
	"encoding/binary"
	"math"
	"reflect"
	"testing"

	"github.com/robert-malhotra/go-imaris/internal/message"
)

func TestGoType(t *testing.T) {
	tests := []struct {
		dt   *message.Datatype
		want reflect.Type
	}{
		{message.NewInteger(1, false), reflect.TypeOf(uint8(0))},
		{message.NewInteger(2, false), reflect.TypeOf(uint16(0))},
		{message.NewInteger(4, true), reflect.TypeOf(int32(0))},
		{message.NewFloat(4), reflect.TypeOf(float32(0))},
		{message.NewFloat(8), reflect.TypeOf(float64(0))},
		{message.NewString(8), reflect.TypeOf("")},
	}
	for _, tt := range tests {
		t.Run(tt.dt.String(), func(t *testing.T) {
			got, err := GoType(tt.dt)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("GoType = %v, want %v", got, tt.want)
			}
		})
	}

	if _, err := GoType(message.NewInteger(3, false)); err == nil {
		t.Error("expected error for 3-byte integer")
	}
}

func TestFloat64s(t *testing.T) {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf, math.Float32bits(1.5))
	binary.LittleEndian.PutUint32(buf[4:], math.Float32bits(-2))
	got, err := Float64s(message.NewFloat(4), buf)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, []float64{1.5, -2}) {
		t.Errorf("float32 = %v", got)
	}

	be := &message.Datatype{Class: message.ClassFixedPoint, Size: 2, BigEndian: true, Signed: true}
	got, err = Float64s(be, []byte{0xff, 0xfe, 0x01, 0x00})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, []float64{-2, 256}) {
		t.Errorf("big-endian int16 = %v", got)
	}

	if _, err := Float64s(message.NewFloat(4), []byte{1, 2, 3}); err == nil {
		t.Error("expected error for ragged data")
	}
}

func TestToLittleEndian(t *testing.T) {
	be := &message.Datatype{Class: message.ClassFixedPoint, Size: 2, BigEndian: true}
	data := []byte{0x01, 0x02, 0x03, 0x04}
	ToLittleEndian(be, data)
	if !reflect.DeepEqual(data, []byte{0x02, 0x01, 0x04, 0x03}) {
		t.Errorf("swapped = %x", data)
	}

	le := message.NewInteger(2, false)
	data = []byte{0x01, 0x02}
	ToLittleEndian(le, data)
	if data[0] != 0x01 {
		t.Error("little-endian data was modified")
	}
}

func TestText(t *testing.T) {
	dt, dims, data := CharArray("0.328")
	if dims[0] != 5 {
		t.Errorf("dims = %v", dims)
	}
	got, err := Text(dt, data)
	if err != nil {
		t.Fatal(err)
	}
	if got != "0.328" {
		t.Errorf("Text = %q", got)
	}

	got, err = Text(message.NewString(8), []byte("Name\x00\x00\x00\x00"))
	if err != nil {
		t.Fatal(err)
	}
	if got != "Name" {
		t.Errorf("padded Text = %q", got)
	}

	if _, err := Text(message.NewFloat(4), nil); err == nil {
		t.Error("expected error for float")
	}
}

func TestStrings(t *testing.T) {
	got, err := Strings(message.NewString(4), []byte("ab\x00\x00cdef"))
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, []string{"ab", "cdef"}) {
		t.Errorf("Strings = %q", got)
	}
}

func TestEncodeFloat64s(t *testing.T) {
	dt, data := EncodeFloat64s([]float64{0.25, 3})
	got, err := Float64s(dt, data)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, []float64{0.25, 3}) {
		t.Errorf("round trip = %v", got)
	}
}
