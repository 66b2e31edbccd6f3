// Package text scrolls a line of text across the matrix.
package text

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/fkcurrie/matrixhost/internal/plugin"
	"github.com/fkcurrie/matrixhost/pkg/matrix"
)

// Scroller moves text from the right edge until it has left on the left
type Scroller struct {
	text       string
	color      color.NRGBA
	background color.NRGBA
	step       int
	face       font.Face

	canvas  *image.NRGBA
	advance int
	offset  int
}

// New builds a scroller. Params: text, color, background, step (columns per
// tick).
func New(params plugin.Params) (plugin.Plugin, error) {
	s := &Scroller{
		text: params.String("text", ""),
		step: params.Int("step", 1),
		face: basicfont.Face7x13,
	}
	if s.text == "" {
		return nil, errors.New("text: param text is required")
	}
	if s.step < 1 {
		return nil, fmt.Errorf("text: step must be at least 1, got %d", s.step)
	}

	var err error
	if s.color, err = params.Color("color", color.NRGBA{R: 255, G: 255, B: 255, A: 255}); err != nil {
		return nil, err
	}
	if s.background, err = params.Color("background", color.NRGBA{A: 255}); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Scroller) Setup(cfg matrix.Configuration) error {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return fmt.Errorf("text: invalid matrix %dx%d", cfg.Width, cfg.Height)
	}
	s.canvas = image.NewNRGBA(image.Rect(0, 0, cfg.Width, cfg.Height))
	s.advance = font.MeasureString(s.face, s.text).Ceil()
	s.offset = cfg.Width
	return nil
}

func (s *Scroller) Update() matrix.Update {
	draw.Draw(s.canvas, s.canvas.Bounds(), image.NewUniform(s.background), image.Point{}, draw.Src)

	// Centred on the glyph box; matrices shorter than the face clip it.
	metrics := s.face.Metrics()
	height := s.canvas.Bounds().Dy()
	baseline := (height + metrics.Ascent.Ceil() - metrics.Descent.Ceil()) / 2

	d := &font.Drawer{
		Dst:  s.canvas,
		Src:  image.NewUniform(s.color),
		Face: s.face,
		Dot:  fixed.P(s.offset, baseline),
	}
	d.DrawString(s.text)

	update := matrix.Update{State: matrix.GridFromImage(s.canvas)}
	if s.offset == s.canvas.Bounds().Dx() {
		update.LogMessage = []string{fmt.Sprintf("scrolling %q", s.text)}
	}
	s.offset -= s.step
	update.Done = s.offset+s.advance <= 0
	return update
}
