package apa102

import (
	"bytes"
	"testing"

	"github.com/fkcurrie/matrixhost/pkg/matrix"
)

// bus samples the data line on every rising clock edge, like the strip does
type bus struct {
	data  int
	clock int
	bits  []int
}

type dataPin struct{ b *bus }
type clockPin struct{ b *bus }

func (p dataPin) SetValue(v int) error {
	p.b.data = v
	return nil
}

func (p clockPin) SetValue(v int) error {
	if p.b.clock == 0 && v == 1 {
		p.b.bits = append(p.b.bits, p.b.data)
	}
	p.b.clock = v
	return nil
}

func (b *bus) bytes() []byte {
	out := make([]byte, 0, len(b.bits)/8)
	for i := 0; i+8 <= len(b.bits); i += 8 {
		var v byte
		for _, bit := range b.bits[i : i+8] {
			v = v<<1 | byte(bit)
		}
		out = append(out, v)
	}
	return out
}

// TestNewStrip tests strip construction limits
func TestNewStrip(t *testing.T) {
	tests := []struct {
		name       string
		length     int
		brightness int
		wantErr    bool
	}{
		{name: "valid", length: 64, brightness: 16},
		{name: "zero length", length: 0, brightness: 16, wantErr: true},
		{name: "brightness too high", length: 8, brightness: 32, wantErr: true},
		{name: "negative brightness", length: 8, brightness: -1, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &bus{}
			strip, err := NewStrip(dataPin{b}, clockPin{b}, tt.length, tt.brightness)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewStrip() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && strip.Len() != tt.length {
				t.Errorf("Len() = %d, want %d", strip.Len(), tt.length)
			}
		})
	}
}

// TestStripWrite tests the bytes shifted out for a frame
func TestStripWrite(t *testing.T) {
	b := &bus{}
	strip, err := NewStrip(dataPin{b}, clockPin{b}, 2, 31)
	if err != nil {
		t.Fatalf("NewStrip() error = %v", err)
	}

	pixels := []matrix.BGRA{
		matrix.NewBGRA(0x10, 0x20, 0x30, 0xFF),
		matrix.NewBGRA(0xAA, 0xBB, 0xCC, 0xFF),
	}
	if err := strip.Write(pixels); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	want := []byte{
		0, 0, 0, 0,
		0xFF, 0x30, 0x20, 0x10,
		0xFF, 0xCC, 0xBB, 0xAA,
		0xFF, 0xFF, 0xFF, 0xFF,
	}
	if got := b.bytes(); !bytes.Equal(got, want) {
		t.Errorf("strip received % x, want % x", got, want)
	}
	if b.clock != 0 {
		t.Error("clock left high after write")
	}
}

func TestStripWriteLengthMismatch(t *testing.T) {
	b := &bus{}
	strip, _ := NewStrip(dataPin{b}, clockPin{b}, 4, 8)

	if err := strip.Write(make([]matrix.BGRA, 3)); err == nil {
		t.Error("Write() with short buffer did not return error")
	}
}

func TestEncodeEndFrame(t *testing.T) {
	pixels := make([]matrix.BGRA, 100)
	out := Encode(pixels, 40)

	if len(out) != 4+4*100+7 {
		t.Fatalf("Encode() length = %d, want %d", len(out), 4+4*100+7)
	}
	if out[4] != 0xE0|MaxBrightness {
		t.Errorf("brightness byte = %#x, want clamped %#x", out[4], 0xE0|MaxBrightness)
	}
}
