package matrix

import (
	"errors"
	"fmt"
	"strings"
)

// ErrFrameSize is returned when a grid does not match the layout dimensions
var ErrFrameSize = errors.New("frame size does not match matrix")

// Wiring selects the axis a serpentine strip folds along
type Wiring int

const (
	// WiringRows runs the strip along each row; odd rows run right to left
	WiringRows Wiring = iota
	// WiringColumns runs the strip down each column; odd columns run bottom to top
	WiringColumns
)

func (w Wiring) String() string {
	switch w {
	case WiringRows:
		return "rows"
	case WiringColumns:
		return "columns"
	default:
		return fmt.Sprintf("wiring(%d)", int(w))
	}
}

// MarshalText implements encoding.TextMarshaler
func (w Wiring) MarshalText() ([]byte, error) {
	switch w {
	case WiringRows, WiringColumns:
		return []byte(w.String()), nil
	}
	return nil, fmt.Errorf("unknown wiring %d", int(w))
}

// UnmarshalText implements encoding.TextUnmarshaler
func (w *Wiring) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "", "rows", "row":
		*w = WiringRows
	case "columns", "column", "cols":
		*w = WiringColumns
	default:
		return fmt.Errorf("unknown wiring %q", string(text))
	}
	return nil
}

// Layout is the geometry the serpentine mapper works from
type Layout struct {
	Width      int
	Height     int
	Serpentine bool
	Wiring     Wiring
}

// Len returns the number of LEDs in the layout
func (l Layout) Len() int {
	return l.Width * l.Height
}

// Validate checks the layout dimensions
func (l Layout) Validate() error {
	if l.Width < 0 || l.Height < 0 {
		return fmt.Errorf("invalid dimensions: %dx%d", l.Width, l.Height)
	}
	if l.Wiring != WiringRows && l.Wiring != WiringColumns {
		return fmt.Errorf("unknown wiring %d", int(l.Wiring))
	}
	return nil
}

// Index returns the physical strip position of the logical pixel at row, col.
// Coordinates must lie inside the layout.
func (l Layout) Index(row, col int) int {
	if l.Wiring == WiringColumns {
		if l.Serpentine && col%2 == 1 {
			row = l.Height - 1 - row
		}
		return col*l.Height + row
	}
	if l.Serpentine && row%2 == 1 {
		col = l.Width - 1 - col
	}
	return row*l.Width + col
}

// CheckGrid returns ErrFrameSize unless grid has exactly Height rows of Width
// columns each.
func (l Layout) CheckGrid(grid Grid) error {
	if len(grid) != l.Height {
		return fmt.Errorf("%w: got %d rows, want %d", ErrFrameSize, len(grid), l.Height)
	}
	for row, cols := range grid {
		if len(cols) != l.Width {
			return fmt.Errorf("%w: row %d has %d columns, want %d", ErrFrameSize, row, len(cols), l.Width)
		}
	}
	return nil
}

// Map converts a logical grid into the order the wired strip expects. A
// fresh slice is returned on every call.
func (l Layout) Map(grid Grid) ([]BGRA, error) {
	if err := l.Validate(); err != nil {
		return nil, err
	}
	if err := l.CheckGrid(grid); err != nil {
		return nil, err
	}

	out := make([]BGRA, l.Len())
	for row, cols := range grid {
		for col, c := range cols {
			out[l.Index(row, col)] = c
		}
	}
	return out, nil
}
