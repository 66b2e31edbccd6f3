// Package svg shows a rasterized SVG image on the matrix.
package svg

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"io"
	"os"
	"strings"
	"time"

	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"

	"github.com/fkcurrie/matrixhost/internal/plugin"
	"github.com/fkcurrie/matrixhost/pkg/matrix"
)

// Image holds a rasterized SVG for a fixed duration
type Image struct {
	path       string
	source     string
	duration   time.Duration
	background color.NRGBA

	frame matrix.Grid
	ticks int
	tick  int
}

// New builds an svg plugin. Params: path or inline svg, duration, background.
func New(params plugin.Params) (plugin.Plugin, error) {
	img := &Image{
		path:   params.String("path", ""),
		source: params.String("svg", ""),
	}
	if img.path == "" && img.source == "" {
		return nil, errors.New("svg: one of path or svg is required")
	}

	var err error
	if img.duration, err = params.Duration("duration", 5*time.Second); err != nil {
		return nil, err
	}
	if img.background, err = params.Color("background", color.NRGBA{A: 255}); err != nil {
		return nil, err
	}
	return img, nil
}

func (i *Image) Setup(cfg matrix.Configuration) error {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return fmt.Errorf("svg: invalid matrix %dx%d", cfg.Width, cfg.Height)
	}

	var r io.Reader = strings.NewReader(i.source)
	if i.path != "" {
		f, err := os.Open(i.path)
		if err != nil {
			return fmt.Errorf("failed to open svg: %w", err)
		}
		defer f.Close()
		r = f
	}

	raster, err := Rasterize(r, cfg.Width, cfg.Height, i.background)
	if err != nil {
		return err
	}
	i.frame = matrix.GridFromImage(raster)
	i.ticks = plugin.Ticks(i.duration, cfg.TargetFPS)
	i.tick = 0
	return nil
}

func (i *Image) Update() matrix.Update {
	update := matrix.Update{State: i.frame.Clone()}
	if i.tick == 0 {
		name := i.path
		if name == "" {
			name = "inline svg"
		}
		update.LogMessage = []string{fmt.Sprintf("showing %s for %d ticks", name, i.ticks)}
	}
	i.tick++
	update.Done = i.tick >= i.ticks
	return update
}

// Rasterize draws the SVG document in r scaled to width by height over
// background
func Rasterize(r io.Reader, width, height int, background color.Color) (*image.RGBA, error) {
	icon, err := oksvg.ReadIconStream(r, oksvg.WarnErrorMode)
	if err != nil {
		return nil, fmt.Errorf("failed to parse svg: %w", err)
	}
	icon.SetTarget(0, 0, float64(width), float64(height))

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), image.NewUniform(background), image.Point{}, draw.Src)

	scanner := rasterx.NewScannerGV(width, height, img, img.Bounds())
	dasher := rasterx.NewDasher(width, height, scanner)
	icon.Draw(dasher, 1.0)
	return img, nil
}
