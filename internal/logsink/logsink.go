// Package logsink relays plugin log lines to their destinations.
package logsink

import (
	"github.com/rs/zerolog"
)

// Sink receives the log lines a plugin produced in one tick, in order
type Sink interface {
	Log(plugin string, lines []string)
}

// Logger writes every line as an info event tagged with the plugin
type Logger struct {
	logger zerolog.Logger
}

// NewLogger creates a sink on top of logger
func NewLogger(logger zerolog.Logger) *Logger {
	return &Logger{logger: logger.With().Str("component", "plugin").Logger()}
}

// Log implements Sink
func (l *Logger) Log(plugin string, lines []string) {
	for _, line := range lines {
		l.logger.Info().Str("plugin", plugin).Msg(line)
	}
}

// Multi fans every call out to each sink in order
type Multi []Sink

// Log implements Sink
func (m Multi) Log(plugin string, lines []string) {
	for _, s := range m {
		if s != nil {
			s.Log(plugin, lines)
		}
	}
}
