package object

import (
	"bytes"
	"encoding/binary"
	"testing"

	binpkg "github.com/robert-malhotra/go-imaris/internal/binary"
	"github.com/robert-malhotra/go-imaris/internal/message"
)

func TestEncodeReadV2(t *testing.T) {
	cfg := binpkg.DefaultConfig()
	raw := Encode(cfg, []message.Encoder{
		message.NewDataspace([]uint64{8, 8}),
		message.NewInteger(2, false),
		message.NewContiguousLayout(4096, 128),
		&message.Attribute{
			Name:      "Name",
			Datatype:  message.NewString(1),
			Dataspace: message.NewDataspace([]uint64{3}),
			Data:      []byte("dapi"),
		},
	})
	// leading padding so the header does not sit at address zero
	file := append(make([]byte, 64), raw...)

	h, err := Read(binpkg.NewReader(bytes.NewReader(file), cfg), 64)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if h.Version != 2 {
		t.Errorf("Version = %d", h.Version)
	}
	if !h.IsDataset() {
		t.Error("expected a dataset header")
	}
	ds, err := h.Dataspace()
	if err != nil || ds == nil || ds.Dimensions[1] != 8 {
		t.Errorf("Dataspace = %+v, %v", ds, err)
	}
	l, err := h.Layout()
	if err != nil || l.Address != 4096 {
		t.Errorf("Layout = %+v, %v", l, err)
	}
	if attrs := h.Attributes(); len(attrs) != 1 || attrs[0].Name != "Name" {
		t.Errorf("Attributes = %+v", attrs)
	}
}

func TestReadV1WithContinuation(t *testing.T) {
	cfg := binpkg.DefaultConfig()
	le := binary.LittleEndian

	msg := func(typ message.Type, data []byte) []byte {
		out := le.AppendUint16(nil, uint16(typ))
		padded := (len(data) + 7) &^ 7
		out = le.AppendUint16(out, uint16(padded))
		out = append(out, 0, 0, 0, 0)
		out = append(out, data...)
		return append(out, make([]byte, padded-len(data))...)
	}

	w := binpkg.NewWriter(cfg)
	message.NewDataspace([]uint64{5}).Encode(w)
	dataspace := msg(message.TypeDataspace, w.Bytes())

	// continuation block lives at 256
	cont := le.AppendUint64(nil, 256)
	cont = le.AppendUint64(cont, uint64(len(dataspace)))
	first := msg(message.TypeContinuation, cont)

	file := make([]byte, 256+len(dataspace))
	prefix := []byte{1, 0}
	prefix = le.AppendUint16(prefix, 2)
	prefix = le.AppendUint32(prefix, 1)
	prefix = le.AppendUint32(prefix, uint32(len(first)))
	prefix = append(prefix, 0, 0, 0, 0)
	copy(file[0:], prefix)
	copy(file[16:], first)
	copy(file[256:], dataspace)

	h, err := Read(binpkg.NewReader(bytes.NewReader(file), cfg), 0)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	ds, err := h.Dataspace()
	if err != nil || ds == nil {
		t.Fatalf("Dataspace missing: %v", err)
	}
	if ds.Dimensions[0] != 5 {
		t.Errorf("dims = %v", ds.Dimensions)
	}
}

func TestInvalidMessageSurfacesOnLookup(t *testing.T) {
	cfg := binpkg.DefaultConfig()
	bad := &rawMessage{typ: message.TypeDataLayout, data: []byte{1, 1}}
	raw := Encode(cfg, []message.Encoder{message.NewDataspace([]uint64{2}), bad})

	h, err := Read(binpkg.NewReader(bytes.NewReader(raw), cfg), 0)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if _, err := h.Layout(); err == nil {
		t.Error("expected layout decode error")
	}
}

func TestReadGarbage(t *testing.T) {
	cfg := binpkg.DefaultConfig()
	if _, err := Read(binpkg.NewReader(bytes.NewReader([]byte{9, 9, 9, 9}), cfg), 0); err == nil {
		t.Error("expected error for garbage header")
	}
}

type rawMessage struct {
	typ  message.Type
	data []byte
}

func (m *rawMessage) Type() message.Type      { return m.typ }
func (m *rawMessage) Encode(w *binpkg.Writer) { w.Write(m.data) }
