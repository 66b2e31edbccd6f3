package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/fkcurrie/matrixhost/internal/plugin"
	"github.com/fkcurrie/matrixhost/pkg/matrix"
)

// Backend kinds
const (
	BackendSimulator = "simulator"
	BackendAPA102    = "apa102"
)

// Config represents the session configuration
type Config struct {
	Matrix  MatrixConfig   `toml:"matrix"`
	Backend BackendConfig  `toml:"backend"`
	Driver  DriverConfig   `toml:"driver"`
	Log     LogConfig      `toml:"log"`
	Status  StatusConfig   `toml:"status"`
	Plugins []PluginConfig `toml:"plugins"`
}

// MatrixConfig represents the physical matrix
type MatrixConfig struct {
	Width      int           `toml:"width"`
	Height     int           `toml:"height"`
	TargetFPS  float32       `toml:"target_fps"`
	Serpentine bool          `toml:"serpentine"`
	Wiring     matrix.Wiring `toml:"wiring"`
}

// BackendConfig selects and configures where frames go
type BackendConfig struct {
	Kind          string  `toml:"kind"`
	Magnification float32 `toml:"magnification"`
	Chip          string  `toml:"chip"`
	DataPin       int     `toml:"data_pin"`
	ClockPin      int     `toml:"clock_pin"`
	Brightness    int     `toml:"brightness"`
}

// DriverConfig holds the plugin driver settings
type DriverConfig struct {
	UpdateTimeout Duration `toml:"update_timeout"`
	Loop          bool     `toml:"loop"`
}

// LogConfig holds logging and plugin log relay settings
type LogConfig struct {
	Level    string `toml:"level"`
	Broker   string `toml:"mqtt_broker"`
	Topic    string `toml:"mqtt_topic"`
	ClientID string `toml:"mqtt_client_id"`
}

// StatusConfig holds the status server settings. An empty address disables
// the server.
type StatusConfig struct {
	Addr string `toml:"addr"`
}

// PluginConfig is one playlist entry
type PluginConfig struct {
	Name   string         `toml:"name"`
	Kind   string         `toml:"kind"`
	Params map[string]any `toml:"params"`
}

// Duration is a time.Duration written as a string such as "2s"
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("failed to parse duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// LoadConfig loads the configuration from a file on top of DefaultConfig
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	cfg.Plugins = nil

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return nil, fmt.Errorf("unknown config keys in %s: %s", path, strings.Join(keys, ", "))
	}
	if !meta.IsDefined("plugins") {
		cfg.Plugins = DefaultConfig().Plugins
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// DefaultConfig returns the default configuration: a 16x16 serpentine
// matrix previewed in the simulator running the built-in demo playlist.
func DefaultConfig() *Config {
	return &Config{
		Matrix: MatrixConfig{
			Width:      16,
			Height:     16,
			TargetFPS:  30,
			Serpentine: true,
			Wiring:     matrix.WiringRows,
		},
		Backend: BackendConfig{
			Kind:          BackendSimulator,
			Magnification: 20,
			Chip:          "gpiochip0",
			DataPin:       10,
			ClockPin:      11,
			Brightness:    8,
		},
		Driver: DriverConfig{
			Loop: true,
		},
		Log: LogConfig{
			Level:    "info",
			Topic:    "matrixhost/log",
			ClientID: "matrixhost",
		},
		Status: StatusConfig{
			Addr: ":8080",
		},
		Plugins: []PluginConfig{
			{Name: "rainbow", Kind: "rainbow", Params: map[string]any{"duration": "10s"}},
			{Name: "hello", Kind: "text", Params: map[string]any{"text": "hello", "color": "#ffa500"}},
		},
	}
}

// Validate checks the configuration for values the driver cannot run with
func (c *Config) Validate() error {
	var errs []error

	if c.Matrix.Width <= 0 || c.Matrix.Height <= 0 {
		errs = append(errs, fmt.Errorf("matrix: invalid dimensions %dx%d", c.Matrix.Width, c.Matrix.Height))
	}
	if c.Matrix.TargetFPS < 0 {
		errs = append(errs, fmt.Errorf("matrix: target_fps must not be negative, got %v", c.Matrix.TargetFPS))
	}

	switch c.Backend.Kind {
	case BackendSimulator:
		if c.Backend.Magnification <= 0 {
			errs = append(errs, fmt.Errorf("backend: magnification must be positive, got %v", c.Backend.Magnification))
		}
	case BackendAPA102:
		if c.Backend.Chip == "" {
			errs = append(errs, errors.New("backend: chip is required for apa102"))
		}
		if c.Backend.DataPin == c.Backend.ClockPin {
			errs = append(errs, fmt.Errorf("backend: data_pin and clock_pin are both %d", c.Backend.DataPin))
		}
		if c.Backend.Brightness < 0 || c.Backend.Brightness > 31 {
			errs = append(errs, fmt.Errorf("backend: brightness must be 0-31, got %d", c.Backend.Brightness))
		}
	default:
		errs = append(errs, fmt.Errorf("backend: unknown kind %q", c.Backend.Kind))
	}

	if c.Log.Broker != "" && c.Log.Topic == "" {
		errs = append(errs, errors.New("log: mqtt_topic is required with mqtt_broker"))
	}

	names := make(map[string]bool, len(c.Plugins))
	for i, p := range c.Plugins {
		if p.Kind == "" {
			errs = append(errs, fmt.Errorf("plugins[%d]: kind is required", i))
		}
		name := p.name()
		if names[name] {
			errs = append(errs, fmt.Errorf("plugins[%d]: duplicate name %q", i, name))
		}
		names[name] = true
	}

	return errors.Join(errs...)
}

// Entries returns the playlist entries in file order
func (c *Config) Entries() []plugin.Entry {
	entries := make([]plugin.Entry, 0, len(c.Plugins))
	for _, p := range c.Plugins {
		entries = append(entries, plugin.Entry{
			Name:   p.name(),
			Kind:   p.Kind,
			Params: plugin.Params(p.Params),
		})
	}
	return entries
}

// Configuration returns the matrix configuration plugins see for this
// session's backend
func (c *Config) Configuration() matrix.Configuration {
	cfg := matrix.Configuration{
		Width:      c.Matrix.Width,
		Height:     c.Matrix.Height,
		TargetFPS:  c.Matrix.TargetFPS,
		Serpentine: c.Matrix.Serpentine,
		Wiring:     c.Matrix.Wiring,
		Target:     matrix.Hardware{},
	}
	if c.Backend.Kind == BackendSimulator {
		cfg.Target = matrix.Simulated{Magnification: c.Backend.Magnification}
	}
	return cfg
}

func (p PluginConfig) name() string {
	if p.Name != "" {
		return p.Name
	}
	return p.Kind
}
