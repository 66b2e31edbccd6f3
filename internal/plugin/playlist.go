package plugin

import (
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

var (
	// ErrExhausted means the playlist has no more entries to activate
	ErrExhausted = errors.New("playlist exhausted")
	// ErrNoHealthyPlugins means a looping playlist went a full cycle without
	// a single successful activation
	ErrNoHealthyPlugins = errors.New("no plugin in the playlist activated successfully")
)

// Playlist selects plugins in configured order, optionally looping. Every
// call to Next builds a fresh instance so activations never share state.
type Playlist struct {
	registry *Registry
	entries  []Entry
	loop     bool
	logger   zerolog.Logger

	mu        sync.Mutex
	next      int
	healthy   bool
	attempted bool
}

// NewPlaylist creates a playlist over entries built from registry
func NewPlaylist(registry *Registry, entries []Entry, loop bool, logger zerolog.Logger) *Playlist {
	return &Playlist{
		registry: registry,
		entries:  append([]Entry(nil), entries...),
		loop:     loop,
		logger:   logger.With().Str("component", "playlist").Logger(),
	}
}

// Len returns the number of entries
func (p *Playlist) Len() int {
	return len(p.entries)
}

// Next builds the next plugin to activate. Entries whose factory fails are
// logged and skipped.
func (p *Playlist) Next() (Instance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for {
		if p.next >= len(p.entries) {
			if !p.loop || len(p.entries) == 0 {
				return Instance{}, ErrExhausted
			}
			if p.attempted && !p.healthy {
				return Instance{}, ErrNoHealthyPlugins
			}
			p.next = 0
			p.healthy = false
			p.attempted = false
		}

		entry := p.entries[p.next]
		p.next++
		p.attempted = true

		plug, err := p.registry.Build(entry.Kind, entry.Params)
		if err != nil {
			p.logger.Error().Err(err).Str("plugin", entry.Name).Msg("skipping plugin")
			continue
		}
		return Instance{Entry: entry, Plugin: plug}, nil
	}
}

// Report records the outcome of the activation last returned by Next
func (p *Playlist) Report(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err == nil {
		p.healthy = true
	}
}
