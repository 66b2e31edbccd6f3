package display

import (
	"context"
	"errors"
	"fmt"

	"github.com/fkcurrie/matrixhost/pkg/matrix"
)

// ErrUnrecoverable marks a backend failure that must end the session
var ErrUnrecoverable = errors.New("unrecoverable backend failure")

// Unrecoverable wraps err so that errors.Is(err, ErrUnrecoverable) holds
func Unrecoverable(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrUnrecoverable, err)
}

// Frame is a physically ordered buffer ready for the LEDs
type Frame struct {
	Width  int
	Height int
	Pixels []matrix.BGRA
}

// Backend consumes mapped frames. It never sees the serpentine setting: the
// pixels it receives are already in strip order.
type Backend interface {
	// Target reports which configuration variant plugins are given
	Target() matrix.Target
	// Render shows one frame. The backend owns the pixel slice.
	Render(ctx context.Context, frame Frame) error
	// Close releases the backend
	Close() error
}
