// Package plugins registers the built-in plugin kinds.
package plugins

import (
	"fmt"

	"github.com/fkcurrie/matrixhost/internal/plugin"
	"github.com/fkcurrie/matrixhost/internal/plugins/lua"
	"github.com/fkcurrie/matrixhost/internal/plugins/pattern"
	"github.com/fkcurrie/matrixhost/internal/plugins/svg"
	"github.com/fkcurrie/matrixhost/internal/plugins/text"
)

// Built-in plugin kinds
const (
	KindWipe    = "wipe"
	KindRainbow = "rainbow"
	KindText    = "text"
	KindSVG     = "svg"
	KindLua     = "lua"
)

// RegisterAll adds every built-in kind to r
func RegisterAll(r *plugin.Registry) error {
	builtins := map[string]plugin.Factory{
		KindWipe:    pattern.NewWipe,
		KindRainbow: pattern.NewRainbow,
		KindText:    text.New,
		KindSVG:     svg.New,
		KindLua:     lua.New,
	}
	for kind, factory := range builtins {
		if err := r.Register(kind, factory); err != nil {
			return fmt.Errorf("failed to register %s: %w", kind, err)
		}
	}
	return nil
}

// NewRegistry returns a registry holding the built-in kinds
func NewRegistry() (*plugin.Registry, error) {
	r := plugin.NewRegistry()
	if err := RegisterAll(r); err != nil {
		return nil, err
	}
	return r, nil
}
