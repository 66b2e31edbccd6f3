// Package apa102 drives APA102 and SK9822 LED strips over two GPIO lines.
//
// The protocol is clocked, so bit-banging from userspace is timing tolerant:
// data is sampled on the rising clock edge and the strip simply waits between
// edges.
package apa102

import (
	"fmt"
	"sync"

	"github.com/fkcurrie/matrixhost/pkg/matrix"
)

// MaxBrightness is the largest value of the 5 bit global brightness field
const MaxBrightness = 31

// Pin is a single output line
type Pin interface {
	SetValue(value int) error
}

// Strip represents an APA102 strip of fixed length
type Strip struct {
	data       Pin
	clock      Pin
	length     int
	brightness uint8
	mu         sync.Mutex
}

// NewStrip creates a strip of length LEDs on the given data and clock pins
func NewStrip(data, clock Pin, length int, brightness int) (*Strip, error) {
	if length <= 0 {
		return nil, fmt.Errorf("invalid strip length: %d", length)
	}
	if brightness < 0 || brightness > MaxBrightness {
		return nil, fmt.Errorf("brightness must be between 0 and %d", MaxBrightness)
	}
	if err := clock.SetValue(0); err != nil {
		return nil, fmt.Errorf("failed to idle clock: %w", err)
	}
	return &Strip{
		data:       data,
		clock:      clock,
		length:     length,
		brightness: uint8(brightness),
	}, nil
}

// Len returns the number of LEDs on the strip
func (s *Strip) Len() int {
	return s.length
}

// SetBrightness sets the global brightness used for subsequent writes
func (s *Strip) SetBrightness(brightness int) error {
	if brightness < 0 || brightness > MaxBrightness {
		return fmt.Errorf("brightness must be between 0 and %d", MaxBrightness)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.brightness = uint8(brightness)
	return nil
}

// Write shifts a physically ordered buffer out to the strip
func (s *Strip) Write(pixels []matrix.BGRA) error {
	if len(pixels) != s.length {
		return fmt.Errorf("buffer has %d pixels, strip has %d", len(pixels), s.length)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, b := range Encode(pixels, s.brightness) {
		if err := s.writeByte(b); err != nil {
			return err
		}
	}
	return nil
}

// Clear turns every LED off
func (s *Strip) Clear() error {
	return s.Write(make([]matrix.BGRA, s.length))
}

func (s *Strip) writeByte(b byte) error {
	for bit := 7; bit >= 0; bit-- {
		if err := s.data.SetValue(int(b>>uint(bit)) & 1); err != nil {
			return fmt.Errorf("failed to write data bit: %w", err)
		}
		if err := s.clock.SetValue(1); err != nil {
			return fmt.Errorf("failed to raise clock: %w", err)
		}
		if err := s.clock.SetValue(0); err != nil {
			return fmt.Errorf("failed to lower clock: %w", err)
		}
	}
	return nil
}

// Encode builds the byte stream for one frame: a zero start frame, one
// 4 byte LED frame per pixel and an end frame long enough to clock the data
// through every LED.
func Encode(pixels []matrix.BGRA, brightness uint8) []byte {
	if brightness > MaxBrightness {
		brightness = MaxBrightness
	}
	endLen := (len(pixels) + 15) / 16
	if endLen < 4 {
		endLen = 4
	}

	out := make([]byte, 0, 4+4*len(pixels)+endLen)
	out = append(out, 0, 0, 0, 0)
	for _, c := range pixels {
		out = append(out, 0xE0|brightness, c.B(), c.G(), c.R())
	}
	for i := 0; i < endLen; i++ {
		out = append(out, 0xFF)
	}
	return out
}
