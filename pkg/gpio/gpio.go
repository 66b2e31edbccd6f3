package gpio

import (
	"fmt"
	"sync"

	"github.com/warthog618/go-gpiocdev"
)

// Line is the part of a GPIO line the pin needs
type Line interface {
	SetValue(value int) error
	Close() error
}

// Pin represents an output pin on a GPIO character device
type Pin struct {
	offset int
	line   Line
	value  int
	mu     sync.Mutex
}

// NewPin requests the line at offset on chip as an output driven low
func NewPin(chip string, offset int) (*Pin, error) {
	line, err := gpiocdev.RequestLine(chip, offset,
		gpiocdev.AsOutput(0),
		gpiocdev.WithConsumer("matrixhost"))
	if err != nil {
		return nil, fmt.Errorf("failed to request line %d on %s: %w", offset, chip, err)
	}
	return NewPinFromLine(offset, line), nil
}

// NewPinFromLine wraps an already requested line
func NewPinFromLine(offset int, line Line) *Pin {
	return &Pin{
		offset: offset,
		line:   line,
	}
}

// Offset returns the line offset of the pin
func (p *Pin) Offset() int {
	return p.offset
}

// Close releases the line
func (p *Pin) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.line == nil {
		return nil
	}
	err := p.line.Close()
	p.line = nil
	if err != nil {
		return fmt.Errorf("failed to close line %d: %w", p.offset, err)
	}
	return nil
}

// SetValue sets the value of the pin (0 or 1)
func (p *Pin) SetValue(value int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.line == nil {
		return fmt.Errorf("line %d is closed", p.offset)
	}
	if value != 0 {
		value = 1
	}
	if err := p.line.SetValue(value); err != nil {
		return fmt.Errorf("failed to set line %d: %w", p.offset, err)
	}
	p.value = value
	return nil
}

// Value returns the last value written to the pin
func (p *Pin) Value() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.value
}
