package display

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"sync"

	"golang.org/x/image/draw"

	"github.com/fkcurrie/matrixhost/pkg/matrix"
)

// Simulator renders frames into a magnified raster instead of LEDs.
//
// The physical buffer is laid out row-major, one strip position per cell, so
// the preview shows exactly what a progressively wired panel would display.
type Simulator struct {
	width         int
	height        int
	magnification float32
	scale         int
	hub           *Hub

	mu     sync.RWMutex
	raster *image.RGBA
	out    *image.RGBA
	png    []byte
	frames uint64
}

// NewSimulator creates a simulated matrix. hub may be nil.
func NewSimulator(width, height int, magnification float32, hub *Hub) (*Simulator, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid dimensions: %dx%d", width, height)
	}
	scale := int(math.Round(float64(magnification)))
	if scale < 1 {
		scale = 1
	}
	return &Simulator{
		width:         width,
		height:        height,
		magnification: magnification,
		scale:         scale,
		hub:           hub,
		raster:        image.NewRGBA(image.Rect(0, 0, width, height)),
		out:           image.NewRGBA(image.Rect(0, 0, width*scale, height*scale)),
	}, nil
}

// Target implements Backend
func (s *Simulator) Target() matrix.Target {
	return matrix.Simulated{Magnification: s.magnification}
}

// Render implements Backend
func (s *Simulator) Render(ctx context.Context, frame Frame) error {
	if frame.Width != s.width || frame.Height != s.height || len(frame.Pixels) != s.width*s.height {
		return fmt.Errorf("frame is %dx%d with %d pixels, simulator is %dx%d",
			frame.Width, frame.Height, len(frame.Pixels), s.width, s.height)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	for i, c := range frame.Pixels {
		s.raster.SetRGBA(i%s.width, i/s.width, color.RGBA{R: c.R(), G: c.G(), B: c.B(), A: 0xff})
	}
	draw.NearestNeighbor.Scale(s.out, s.out.Bounds(), s.raster, s.raster.Bounds(), draw.Src, nil)

	var buf bytes.Buffer
	if err := png.Encode(&buf, s.out); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to encode preview: %w", err)
	}
	s.png = buf.Bytes()
	s.frames++
	encoded := s.png
	s.mu.Unlock()

	if s.hub != nil {
		s.hub.Broadcast(encoded)
	}
	return nil
}

// Snapshot returns the last rendered frame as PNG, or nil before the first frame
func (s *Simulator) Snapshot() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.png
}

// Image returns a copy of the magnified raster
func (s *Simulator) Image() *image.RGBA {
	s.mu.RLock()
	defer s.mu.RUnlock()
	img := image.NewRGBA(s.out.Bounds())
	copy(img.Pix, s.out.Pix)
	return img
}

// Frames returns the number of frames rendered
func (s *Simulator) Frames() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.frames
}

// Close implements Backend
func (s *Simulator) Close() error {
	return nil
}
