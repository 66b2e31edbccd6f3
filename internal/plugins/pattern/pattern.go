// Package pattern provides plugins that draw generated patterns.
package pattern

import (
	"fmt"
	"image/color"
	"math"
	"time"

	"github.com/fkcurrie/matrixhost/internal/plugin"
	"github.com/fkcurrie/matrixhost/pkg/matrix"
)

// Wipe lights one logical pixel per tick in row-major order. Watching it on
// the physical strip shows whether the wiring settings are right.
type Wipe struct {
	color  matrix.BGRA
	width  int
	height int
	tick   int
	grid   matrix.Grid
}

// NewWipe builds a wipe plugin. Params: color.
func NewWipe(params plugin.Params) (plugin.Plugin, error) {
	c, err := params.Color("color", color.NRGBA{R: 255, G: 255, B: 255, A: 255})
	if err != nil {
		return nil, err
	}
	return &Wipe{color: matrix.FromColor(c)}, nil
}

func (w *Wipe) Setup(cfg matrix.Configuration) error {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return fmt.Errorf("wipe: invalid matrix %dx%d", cfg.Width, cfg.Height)
	}
	w.width, w.height = cfg.Width, cfg.Height
	w.grid = matrix.NewGrid(cfg.Width, cfg.Height)
	w.tick = 0
	return nil
}

func (w *Wipe) Update() matrix.Update {
	total := w.width * w.height
	update := matrix.Update{}
	if w.tick < total {
		row, col := w.tick/w.width, w.tick%w.width
		w.grid[row][col] = w.color
		if col == 0 {
			update.LogMessage = []string{fmt.Sprintf("row %d", row)}
		}
	}
	w.tick++
	update.State = w.grid.Clone()
	update.Done = w.tick >= total
	return update
}

// Rainbow cycles a diagonal hue gradient across the grid
type Rainbow struct {
	duration time.Duration
	speed    float64
	cfg      matrix.Configuration
	ticks    int
	tick     int
}

// NewRainbow builds a rainbow plugin. Params: duration, speed (degrees of
// hue per tick).
func NewRainbow(params plugin.Params) (plugin.Plugin, error) {
	d, err := params.Duration("duration", 10*time.Second)
	if err != nil {
		return nil, err
	}
	return &Rainbow{duration: d, speed: params.Float("speed", 4)}, nil
}

func (r *Rainbow) Setup(cfg matrix.Configuration) error {
	r.cfg = cfg
	r.ticks = plugin.Ticks(r.duration, cfg.TargetFPS)
	r.tick = 0
	return nil
}

func (r *Rainbow) Update() matrix.Update {
	grid := matrix.NewGrid(r.cfg.Width, r.cfg.Height)
	span := float64(r.cfg.Width + r.cfg.Height)
	offset := float64(r.tick) * r.speed
	for row := range grid {
		for col := range grid[row] {
			hue := math.Mod(float64(row+col)*360/span+offset, 360)
			grid[row][col] = HSV(hue, 1, 1)
		}
	}

	update := matrix.Update{State: grid}
	if r.tick == 0 {
		update.LogMessage = []string{fmt.Sprintf("rainbow for %d ticks", r.ticks)}
	}
	r.tick++
	update.Done = r.tick >= r.ticks
	return update
}

// HSV converts hue in degrees, saturation and value in [0, 1] into an opaque
// pixel
func HSV(h, s, v float64) matrix.BGRA {
	h = math.Mod(h, 360)
	if h < 0 {
		h += 360
	}
	c := v * s
	x := c * (1 - math.Abs(math.Mod(h/60, 2)-1))
	m := v - c

	var r, g, b float64
	switch {
	case h < 60:
		r, g, b = c, x, 0
	case h < 120:
		r, g, b = x, c, 0
	case h < 180:
		r, g, b = 0, c, x
	case h < 240:
		r, g, b = 0, x, c
	case h < 300:
		r, g, b = x, 0, c
	default:
		r, g, b = c, 0, x
	}
	return matrix.NewBGRA(channel(r+m), channel(g+m), channel(b+m), 255)
}

func channel(f float64) uint8 {
	return uint8(math.Round(math.Max(0, math.Min(1, f)) * 255))
}
