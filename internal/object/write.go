package object

import (
	"github.com/robert-malhotra/go-imaris/internal/binary"
	"github.com/robert-malhotra/go-imaris/internal/message"
)

// Encode serializes a version 2 object header holding msgs in a single
// chunk.
func Encode(cfg binary.Config, msgs []message.Encoder) []byte {
	body := binary.NewWriter(cfg)
	for _, m := range msgs {
		data := binary.NewWriter(cfg)
		m.Encode(data)
		body.Uint8(uint8(m.Type()))
		body.Uint16(uint16(data.Len()))
		body.Uint8(0)
		body.Write(data.Bytes())
	}

	size := body.Len()
	var width uint8
	switch {
	case size <= 0xFF:
		width = 0
	case size <= 0xFFFF:
		width = 1
	default:
		width = 2
	}

	w := binary.NewWriter(cfg)
	w.Write([]byte("OHDR"))
	w.Uint8(2)
	w.Uint8(width)
	w.UintN(uint64(size), 1<<width)
	w.Write(body.Bytes())
	w.AppendChecksum(0)
	return w.Bytes()
}
