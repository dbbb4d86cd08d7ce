package filter

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/robert-malhotra/go-imaris/internal/message"
)

func sample(n int) []byte {
	out := make([]byte, n)
	for i := range out {
		// a smooth ramp compresses well once shuffled
		out[i] = byte(i / 7)
	}
	return out
}

func TestFilterRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		f    Filter
	}{
		{"deflate", newDeflate([]uint32{4})},
		{"shuffle2", newShuffle(2, nil)},
		{"shuffle4", newShuffle(1, []uint32{4})},
		{"fletcher32", fletcher32{}},
		{"lz4", newLZ4(nil)},
		{"lz4 small blocks", newLZ4([]uint32{1000})},
		{"zstd", newZstd(nil)},
		{"zstd level", newZstd([]uint32{19})},
	}

	inputs := map[string][]byte{
		"empty": {},
		"tiny":  {1, 2, 3},
		"ramp":  sample(10_001),
	}

	for _, tt := range tests {
		for iname, in := range inputs {
			t.Run(tt.name+"/"+iname, func(t *testing.T) {
				enc, err := tt.f.Encode(in)
				if err != nil {
					t.Fatalf("Encode: %v", err)
				}
				dec, err := tt.f.Decode(enc)
				if err != nil {
					t.Fatalf("Decode: %v", err)
				}
				if !bytes.Equal(dec, in) {
					t.Fatalf("round trip mismatch: got %d bytes, want %d", len(dec), len(in))
				}
			})
		}
	}
}

func TestShuffleLayout(t *testing.T) {
	in := []byte{
		0x01, 0x02, 0x03, 0x04,
		0x11, 0x12, 0x13, 0x14,
		0x21, 0x22, 0x23, 0x24,
	}
	want := []byte{
		0x01, 0x11, 0x21,
		0x02, 0x12, 0x22,
		0x03, 0x13, 0x23,
		0x04, 0x14, 0x24,
	}
	got, err := newShuffle(4, nil).Encode(in)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("shuffled = %x, want %x", got, want)
	}
}

func TestFletcher32(t *testing.T) {
	// "abcde" as big-endian words: 0x6162 0x6364 0x6500
	if got, want := Fletcher32([]byte("abcde")), uint32(0x4ff0_29c7); got != want {
		t.Errorf("Fletcher32(abcde) = %#x, want %#x", got, want)
	}

	enc, _ := fletcher32{}.Encode([]byte("test data for checksum"))
	enc[3] ^= 0xff
	if _, err := (fletcher32{}).Decode(enc); !errors.Is(err, ErrChecksum) {
		t.Errorf("corrupt chunk: err = %v, want ErrChecksum", err)
	}
}

func TestLZ4Malformed(t *testing.T) {
	if _, err := newLZ4(nil).Decode([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for short frame")
	}
}

func TestNewUnsupported(t *testing.T) {
	_, err := New(message.FilterInfo{ID: message.FilterSZIP}, 2)
	var unsupported *UnsupportedError
	if !errors.As(err, &unsupported) {
		t.Fatalf("err = %v, want UnsupportedError", err)
	}
	if unsupported.Name != "szip" {
		t.Errorf("Name = %q, want szip", unsupported.Name)
	}

	f, err := New(message.FilterInfo{ID: 40000, Flags: 1}, 2)
	if err != nil || f == nil {
		t.Fatalf("optional unknown filter = (%v, %v), want a placeholder", f, err)
	}
	if _, err := f.Decode([]byte{1, 2, 3}); !errors.As(err, &unsupported) {
		t.Errorf("placeholder Decode err = %v, want UnsupportedError", err)
	}
}

func TestPipelineOptionalUnavailable(t *testing.T) {
	msg := &message.FilterPipeline{Filters: []message.FilterInfo{
		{ID: message.FilterShuffle, ClientData: []uint32{2}},
		{ID: message.FilterBlosc, Flags: 1},
	}}
	p, err := NewPipeline(msg, 2)
	if err != nil {
		t.Fatal(err)
	}
	if p.Empty() || p.Len() != 2 {
		t.Fatalf("Len = %d, want 2", p.Len())
	}

	in := sample(64)
	_, err = p.Decode(in, 0)
	var unsupported *UnsupportedError
	if !errors.As(err, &unsupported) {
		t.Fatalf("Decode err = %v, want UnsupportedError", err)
	}
	if unsupported.ID != message.FilterBlosc || !strings.Contains(err.Error(), "blosc") {
		t.Errorf("err = %v, want it to name blosc", err)
	}

	// chunks that skipped the missing filter are still readable
	shuffled, _ := newShuffle(2, nil).Encode(in)
	dec, err := p.Decode(shuffled, 1<<1)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(dec, in) {
		t.Fatal("masked decode mismatch")
	}
}

func TestRegister(t *testing.T) {
	const id = 40001
	if Supported(id) {
		t.Fatalf("filter %d registered before the test", id)
	}
	restore := Register(id, func(int, []uint32) Filter { return fletcher32{} })
	if !Supported(id) {
		t.Fatal("Register did not install the filter")
	}
	restore()
	if Supported(id) {
		t.Fatal("restore left the filter installed")
	}

	restore = Register(message.FilterDeflate, func(int, []uint32) Filter { return fletcher32{} })
	restore()
	f, err := New(message.FilterInfo{ID: message.FilterDeflate}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := f.(fletcher32); ok {
		t.Fatal("restore did not bring back deflate")
	}
}

func TestPipelineMask(t *testing.T) {
	msg := &message.FilterPipeline{Filters: []message.FilterInfo{
		{ID: message.FilterShuffle, ClientData: []uint32{2}},
		{ID: message.FilterDeflate, ClientData: []uint32{6}},
	}}
	p, err := NewPipeline(msg, 2)
	if err != nil {
		t.Fatal(err)
	}
	if p.Len() != 2 {
		t.Fatalf("Len = %d", p.Len())
	}

	in := sample(4096)
	enc, err := p.Encode(in)
	if err != nil {
		t.Fatal(err)
	}
	if len(enc) >= len(in) {
		t.Errorf("encoded %d bytes from %d", len(enc), len(in))
	}
	dec, err := p.Decode(enc, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(dec, in) {
		t.Fatal("pipeline round trip mismatch")
	}

	// a chunk stored with shuffle skipped only needs inflating
	deflated, _ := newDeflate(nil).Encode(in)
	dec, err = p.Decode(deflated, 1)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(dec, in) {
		t.Fatal("masked decode mismatch")
	}
}

func TestEmptyPipeline(t *testing.T) {
	p, err := NewPipeline(nil, 1)
	if err != nil {
		t.Fatal(err)
	}
	if !p.Empty() {
		t.Error("expected empty pipeline")
	}
	data := []byte{9, 8, 7}
	out, _ := p.Decode(data, 0)
	if !bytes.Equal(out, data) {
		t.Error("empty pipeline altered data")
	}
}
