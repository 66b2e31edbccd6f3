// Package lifecycle tracks the state of a plugin activation.
package lifecycle

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrInvalidTransition is returned for a transition the machine does not allow
var ErrInvalidTransition = errors.New("invalid lifecycle transition")

// State is the lifecycle state of the host's plugin slot
type State int

const (
	// Idle means no plugin is active
	Idle State = iota
	// Setup means a plugin has been handed its configuration
	Setup
	// Running means the plugin is polled every tick
	Running
	// Finished ends one activation
	Finished
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Setup:
		return "setup"
	case Running:
		return "running"
	case Finished:
		return "finished"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

var transitions = map[State][]State{
	Idle:     {Setup},
	Setup:    {Running, Finished},
	Running:  {Running, Finished},
	Finished: {Setup, Idle},
}

// Allowed reports whether the machine may move from one state to another
func Allowed(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Snapshot is a copy of the machine's state
type Snapshot struct {
	State   State
	Plugin  string
	Ticks   uint64
	Err     error
	Changed time.Time
}

// Machine is the lifecycle of one plugin slot. It is safe for concurrent
// readers; transitions are expected from a single goroutine.
type Machine struct {
	mu       sync.RWMutex
	state    State
	plugin   string
	ticks    uint64
	err      error
	changed  time.Time
	observer func(from, to State, plugin string)
	now      func() time.Time
}

// New returns a machine in the Idle state
func New() *Machine {
	return &Machine{now: time.Now, changed: time.Now()}
}

// OnTransition registers a callback invoked after every state change,
// including Running to Running ticks.
func (m *Machine) OnTransition(fn func(from, to State, plugin string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observer = fn
}

// State returns the current state
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Snapshot returns a copy of the current state
func (m *Machine) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Snapshot{
		State:   m.state,
		Plugin:  m.plugin,
		Ticks:   m.ticks,
		Err:     m.err,
		Changed: m.changed,
	}
}

// Begin moves Idle or Finished to Setup for the named plugin
func (m *Machine) Begin(plugin string) error {
	return m.move(Setup, func() {
		m.plugin = plugin
		m.ticks = 0
		m.err = nil
	})
}

// Start moves Setup to Running
func (m *Machine) Start() error {
	return m.move(Running, nil)
}

// Tick records one Running to Running iteration
func (m *Machine) Tick() error {
	return m.move(Running, func() { m.ticks++ })
}

// Finish ends the activation. A non-nil err annotates why it ended early.
func (m *Machine) Finish(err error) error {
	return m.move(Finished, func() { m.err = err })
}

// Release moves Finished to Idle once no further plugin is selected
func (m *Machine) Release() error {
	return m.move(Idle, func() { m.plugin = "" })
}

func (m *Machine) move(to State, apply func()) error {
	m.mu.Lock()
	from := m.state
	if !Allowed(from, to) {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, from, to)
	}
	if apply != nil {
		apply()
	}
	m.state = to
	if from != to {
		m.changed = m.now()
	}
	observer, plugin := m.observer, m.plugin
	m.mu.Unlock()

	if observer != nil {
		observer(from, to, plugin)
	}
	return nil
}
