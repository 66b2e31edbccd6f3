// Package matrix holds the contracts shared between the host and its plugins,
// and the mapping from a plugin's logical grid to the physical LED order.
package matrix

import "encoding/json"

// BGRA is one LED color in Blue-Green-Red-Alpha channel order
type BGRA [4]byte

// NewBGRA builds a BGRA value from RGBA components
func NewBGRA(r, g, b, a uint8) BGRA {
	return BGRA{b, g, r, a}
}

// B returns the blue channel
func (c BGRA) B() uint8 { return c[0] }

// G returns the green channel
func (c BGRA) G() uint8 { return c[1] }

// R returns the red channel
func (c BGRA) R() uint8 { return c[2] }

// A returns the alpha channel
func (c BGRA) A() uint8 { return c[3] }

// Grid is a logical frame: rows of columns of colors
type Grid [][]BGRA

// Target describes the rendering backend the configuration is built for.
// It is either Hardware or Simulated.
type Target interface {
	isTarget()
}

// Hardware is the target for physical LED backends
type Hardware struct{}

// Simulated is the target for windowed or preview backends
type Simulated struct {
	// Magnification scales each LED to a square of this many pixels
	Magnification float32
}

func (Hardware) isTarget()  {}
func (Simulated) isTarget() {}

// Configuration describes the matrix to a plugin. It is handed over once per
// activation and never changes while the plugin runs.
type Configuration struct {
	// Width of the matrix, in number of LEDs
	Width int
	// Height of the matrix, in number of LEDs
	Height int
	// TargetFPS is the rate the host will try to drive the plugin at.
	// Zero means no throttling.
	TargetFPS float32
	// Serpentine is set when every other row or column is wired reversed
	Serpentine bool
	// Wiring is the axis the serpentine flip alternates along
	Wiring Wiring
	// Target is nil for the zero value, which behaves like Hardware
	Target Target
}

// Magnification returns the simulated magnification, if the configuration
// targets a simulated backend.
func (c Configuration) Magnification() (float32, bool) {
	if s, ok := c.Target.(Simulated); ok {
		return s.Magnification, true
	}
	return 0, false
}

// Layout returns the mapper layout described by the configuration
func (c Configuration) Layout() Layout {
	return Layout{
		Width:      c.Width,
		Height:     c.Height,
		Serpentine: c.Serpentine,
		Wiring:     c.Wiring,
	}
}

type configurationJSON struct {
	Width         int      `json:"width"`
	Height        int      `json:"height"`
	TargetFPS     float32  `json:"target_fps"`
	Serpentine    bool     `json:"serpentine"`
	Wiring        Wiring   `json:"wiring"`
	Magnification *float32 `json:"magnification,omitempty"`
}

// MarshalJSON encodes the configuration with magnification present only for
// simulated targets.
func (c Configuration) MarshalJSON() ([]byte, error) {
	out := configurationJSON{
		Width:      c.Width,
		Height:     c.Height,
		TargetFPS:  c.TargetFPS,
		Serpentine: c.Serpentine,
		Wiring:     c.Wiring,
	}
	if m, ok := c.Magnification(); ok {
		out.Magnification = &m
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes a configuration; a magnification field selects the
// simulated target.
func (c *Configuration) UnmarshalJSON(data []byte) error {
	var in configurationJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*c = Configuration{
		Width:      in.Width,
		Height:     in.Height,
		TargetFPS:  in.TargetFPS,
		Serpentine: in.Serpentine,
		Wiring:     in.Wiring,
	}
	if in.Magnification != nil {
		c.Target = Simulated{Magnification: *in.Magnification}
	} else {
		c.Target = Hardware{}
	}
	return nil
}

// Update is what a plugin returns on every tick
type Update struct {
	// State of each LED, as rows of columns
	State Grid `json:"state"`

	// Done is set once the plugin has nothing more to show. The frame
	// carried with it is still rendered.
	Done bool `json:"done"`

	// LogMessage holds lines the host logs on behalf of the plugin.
	// A nil slice means the plugin logged nothing this tick.
	LogMessage []string `json:"log_message,omitempty"`
}

// HasLog reports whether the update carries log lines to relay
func (u Update) HasLog() bool {
	return u.LogMessage != nil
}
