package display

import (
	"context"
	"fmt"

	"github.com/fkcurrie/matrixhost/pkg/apa102"
	"github.com/fkcurrie/matrixhost/pkg/gpio"
	"github.com/fkcurrie/matrixhost/pkg/matrix"
)

// StripConfig holds the wiring of an APA102 strip
type StripConfig struct {
	Width      int
	Height     int
	Chip       string
	DataPin    int
	ClockPin   int
	Brightness int
}

// Strip is the hardware backend for APA102 strips folded into a matrix
type Strip struct {
	width  int
	height int
	strip  *apa102.Strip
	pins   []*gpio.Pin
}

// NewStrip requests the GPIO lines and creates the hardware backend
func NewStrip(cfg StripConfig) (*Strip, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("invalid dimensions: %dx%d", cfg.Width, cfg.Height)
	}

	data, err := gpio.NewPin(cfg.Chip, cfg.DataPin)
	if err != nil {
		return nil, fmt.Errorf("failed to open data pin: %w", err)
	}
	clock, err := gpio.NewPin(cfg.Chip, cfg.ClockPin)
	if err != nil {
		data.Close()
		return nil, fmt.Errorf("failed to open clock pin: %w", err)
	}

	s, err := NewStripOn(data, clock, cfg.Width, cfg.Height, cfg.Brightness)
	if err != nil {
		data.Close()
		clock.Close()
		return nil, err
	}
	s.pins = []*gpio.Pin{data, clock}
	return s, nil
}

// NewStripOn creates the backend on already opened pins
func NewStripOn(data, clock apa102.Pin, width, height, brightness int) (*Strip, error) {
	strip, err := apa102.NewStrip(data, clock, width*height, brightness)
	if err != nil {
		return nil, fmt.Errorf("failed to create strip: %w", err)
	}
	return &Strip{
		width:  width,
		height: height,
		strip:  strip,
	}, nil
}

// Target implements Backend
func (s *Strip) Target() matrix.Target {
	return matrix.Hardware{}
}

// Render implements Backend. A failing GPIO write means the strip is gone,
// so it is reported as unrecoverable.
func (s *Strip) Render(ctx context.Context, frame Frame) error {
	if frame.Width != s.width || frame.Height != s.height {
		return fmt.Errorf("frame is %dx%d, strip is %dx%d", frame.Width, frame.Height, s.width, s.height)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.strip.Write(frame.Pixels); err != nil {
		return Unrecoverable(err)
	}
	return nil
}

// Close blanks the strip and releases the pins
func (s *Strip) Close() error {
	err := s.strip.Clear()
	for _, p := range s.pins {
		if cerr := p.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
