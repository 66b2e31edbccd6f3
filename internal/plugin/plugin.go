package plugin

import (
	"fmt"
	"image/color"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/fkcurrie/matrixhost/pkg/matrix"
)

// Plugin computes frames for the matrix.
//
// Setup is called once per activation with the matrix configuration. Update
// is then called once per tick until it reports Done. A plugin instance is
// used for a single activation only.
type Plugin interface {
	Setup(cfg matrix.Configuration) error
	Update() matrix.Update
}

// Closer is implemented by plugins holding resources past their activation
type Closer interface {
	Close() error
}

// Params are the free-form settings of one playlist entry
type Params map[string]any

// String returns the string at key, or def
func (p Params) String(key, def string) string {
	if v, ok := p[key].(string); ok {
		return v
	}
	return def
}

// Float returns the number at key, or def
func (p Params) Float(key string, def float64) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int64:
		return float64(v)
	case int:
		return float64(v)
	}
	return def
}

// Int returns the integer at key, or def
func (p Params) Int(key string, def int) int {
	switch v := p[key].(type) {
	case int64:
		return int(v)
	case int:
		return v
	case float64:
		return int(v)
	}
	return def
}

// Duration returns the duration at key, or def. Strings use
// time.ParseDuration; bare numbers are seconds.
func (p Params) Duration(key string, def time.Duration) (time.Duration, error) {
	switch v := p[key].(type) {
	case nil:
		return def, nil
	case string:
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("param %s: %w", key, err)
		}
		return d, nil
	case int64, int, float64:
		return time.Duration(p.Float(key, 0) * float64(time.Second)), nil
	}
	return 0, fmt.Errorf("param %s: unsupported duration %v", key, p[key])
}

// Color returns the "#rrggbb" or "#rrggbbaa" color at key, or def
func (p Params) Color(key string, def color.NRGBA) (color.NRGBA, error) {
	raw, ok := p[key].(string)
	if !ok {
		return def, nil
	}
	return ParseColor(raw)
}

// ParseColor parses a "#rrggbb" or "#rrggbbaa" hex color
func ParseColor(raw string) (color.NRGBA, error) {
	hex := strings.TrimPrefix(strings.TrimSpace(raw), "#")
	if len(hex) != 6 && len(hex) != 8 {
		return color.NRGBA{}, fmt.Errorf("invalid color %q", raw)
	}
	if len(hex) == 6 {
		hex += "ff"
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("invalid color %q: %w", raw, err)
	}
	return color.NRGBA{
		R: uint8(v >> 24),
		G: uint8(v >> 16),
		B: uint8(v >> 8),
		A: uint8(v),
	}, nil
}

// Entry is one configured slot of a playlist
type Entry struct {
	Name   string
	Kind   string
	Params Params
}

// Instance is a plugin built for a single activation
type Instance struct {
	Entry  Entry
	Plugin Plugin
}

// Ticks converts a wall-clock duration into a number of ticks at fps. An
// uncapped rate has no wall-clock meaning, so it always yields one tick.
func Ticks(d time.Duration, fps float32) int {
	if fps <= 0 || d <= 0 {
		return 1
	}
	n := int(math.Ceil(d.Seconds() * float64(fps)))
	if n < 1 {
		return 1
	}
	return n
}
