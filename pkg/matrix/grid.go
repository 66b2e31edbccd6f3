package matrix

import (
	"image"
	"image/color"
)

// NewGrid allocates a black grid of the given size
func NewGrid(width, height int) Grid {
	if width < 0 || height < 0 {
		return Grid{}
	}
	grid := make(Grid, height)
	for row := range grid {
		grid[row] = make([]BGRA, width)
	}
	return grid
}

// Fill sets every pixel of the grid to c
func (g Grid) Fill(c BGRA) {
	for _, cols := range g {
		for col := range cols {
			cols[col] = c
		}
	}
}

// Clone returns a deep copy of the grid
func (g Grid) Clone() Grid {
	out := make(Grid, len(g))
	for row, cols := range g {
		out[row] = append([]BGRA(nil), cols...)
	}
	return out
}

// GridFromImage samples img into a grid of the image's size
func GridFromImage(img image.Image) Grid {
	bounds := img.Bounds()
	grid := NewGrid(bounds.Dx(), bounds.Dy())
	for y := 0; y < bounds.Dy(); y++ {
		for x := 0; x < bounds.Dx(); x++ {
			c := color.NRGBAModel.Convert(img.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.NRGBA)
			grid[y][x] = NewBGRA(c.R, c.G, c.B, c.A)
		}
	}
	return grid
}

// FromColor converts any color into a BGRA value
func FromColor(c color.Color) BGRA {
	n := color.NRGBAModel.Convert(c).(color.NRGBA)
	return NewBGRA(n.R, n.G, n.B, n.A)
}

// NRGBA converts the value into a standard library color
func (c BGRA) NRGBA() color.NRGBA {
	return color.NRGBA{R: c.R(), G: c.G(), B: c.B(), A: c.A()}
}

// Image returns the grid as an image, one pixel per cell. Ragged rows are
// padded with transparent pixels.
func (g Grid) Image() *image.NRGBA {
	width := 0
	for _, cols := range g {
		if len(cols) > width {
			width = len(cols)
		}
	}
	img := image.NewNRGBA(image.Rect(0, 0, width, len(g)))
	for y, cols := range g {
		for x, c := range cols {
			img.SetNRGBA(x, y, c.NRGBA())
		}
	}
	return img
}
