// Package driver runs plugins against the matrix at a fixed frame rate.
//
// One goroutine owns the tick loop: it asks the active plugin for an update,
// relays the plugin's log lines, maps the frame into strip order and hands it
// to the backend, then sleeps out the rest of the tick. Plugin failures end
// the activation and the driver moves on; only backend failures the backend
// marks unrecoverable stop the session.
package driver

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/fkcurrie/matrixhost/internal/display"
	"github.com/fkcurrie/matrixhost/internal/lifecycle"
	"github.com/fkcurrie/matrixhost/internal/logsink"
	"github.com/fkcurrie/matrixhost/internal/observability"
	"github.com/fkcurrie/matrixhost/internal/plugin"
	"github.com/fkcurrie/matrixhost/internal/types"
	"github.com/fkcurrie/matrixhost/pkg/matrix"
)

var (
	// ErrUpdateTimeout is the annotation of an activation whose update hung
	ErrUpdateTimeout = errors.New("plugin update timed out")
	// ErrPluginPanic is the annotation of an activation whose plugin panicked
	ErrPluginPanic = errors.New("plugin panicked")
)

const (
	// MinUpdateTimeout is the floor of the automatic update timeout
	MinUpdateTimeout = time.Second
	// TimeoutTicks is how many tick intervals an update may take before the
	// automatic timeout fires
	TimeoutTicks = 10
)

// Selector chooses the plugin for the next activation. It returns
// plugin.ErrExhausted when the session should end normally.
type Selector interface {
	Next() (plugin.Instance, error)
}

// Reporter is implemented by selectors that want activation outcomes
type Reporter interface {
	Report(err error)
}

// Config holds the session settings of the driver
type Config struct {
	Width      int
	Height     int
	TargetFPS  float32
	Serpentine bool
	Wiring     matrix.Wiring

	// UpdateTimeout bounds each update call. Zero picks TimeoutTicks tick
	// intervals with a floor of MinUpdateTimeout; negative disables it.
	UpdateTimeout time.Duration

	Clock  Clock
	Logger zerolog.Logger
}

// Validate checks the session settings
func (c Config) Validate() error {
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("invalid dimensions: %dx%d", c.Width, c.Height)
	}
	if c.TargetFPS < 0 || math.IsNaN(float64(c.TargetFPS)) || math.IsInf(float64(c.TargetFPS), 0) {
		return fmt.Errorf("invalid target fps: %v", c.TargetFPS)
	}
	return matrix.Layout{Width: c.Width, Height: c.Height, Wiring: c.Wiring}.Validate()
}

// Driver runs plugin activations one after another
type Driver struct {
	cfg      Config
	layout   matrix.Layout
	interval time.Duration
	timeout  time.Duration
	backend  display.Backend
	sink     logsink.Sink
	clock    Clock
	logger   zerolog.Logger
	machine  *lifecycle.Machine

	mu     sync.RWMutex
	status types.DriverStatus
}

// New creates a driver rendering to backend and logging plugin output to sink
func New(cfg Config, backend display.Backend, sink logsink.Sink) (*Driver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if backend == nil {
		return nil, errors.New("backend is nil")
	}
	if sink == nil {
		sink = logsink.Multi{}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = WallClock()
	}

	interval := TickInterval(cfg.TargetFPS)
	timeout := cfg.UpdateTimeout
	if timeout == 0 {
		timeout = TimeoutTicks * interval
		if timeout < MinUpdateTimeout {
			timeout = MinUpdateTimeout
		}
	}

	d := &Driver{
		cfg: cfg,
		layout: matrix.Layout{
			Width:      cfg.Width,
			Height:     cfg.Height,
			Serpentine: cfg.Serpentine,
			Wiring:     cfg.Wiring,
		},
		interval: interval,
		timeout:  timeout,
		backend:  backend,
		sink:     sink,
		clock:    clock,
		logger:   cfg.Logger.With().Str("component", "driver").Logger(),
		machine:  lifecycle.New(),
	}
	d.machine.OnTransition(func(from, to lifecycle.State, name string) {
		if from != to {
			d.logger.Debug().Str("plugin", name).Stringer("from", from).Stringer("to", to).Msg("lifecycle")
		}
	})
	d.status = types.DriverStatus{
		State:       lifecycle.Idle.String(),
		StartedAt:   clock.Now(),
		LastUpdated: clock.Now(),
		Matrix:      d.Configuration(),
	}
	return d, nil
}

// Configuration returns what every plugin is set up with
func (d *Driver) Configuration() matrix.Configuration {
	return matrix.Configuration{
		Width:      d.cfg.Width,
		Height:     d.cfg.Height,
		TargetFPS:  d.cfg.TargetFPS,
		Serpentine: d.cfg.Serpentine,
		Wiring:     d.cfg.Wiring,
		Target:     d.backend.Target(),
	}
}

// Lifecycle returns the state machine of the plugin slot
func (d *Driver) Lifecycle() *lifecycle.Machine {
	return d.machine
}

// Status returns a snapshot of the driver
func (d *Driver) Status() types.DriverStatus {
	snap := d.machine.Snapshot()

	d.mu.RLock()
	defer d.mu.RUnlock()
	status := d.status
	status.State = snap.State.String()
	status.Ticks = snap.Ticks
	if snap.Err != nil {
		status.LastError = snap.Err.Error()
	}
	return status
}

// Run activates plugins from sel until it is exhausted, ctx is done or the
// backend fails unrecoverably. Plugin failures are logged and skipped.
func (d *Driver) Run(ctx context.Context, sel Selector) error {
	defer d.release()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		inst, err := sel.Next()
		if errors.Is(err, plugin.ErrExhausted) {
			d.logger.Info().Msg("no more plugins to run")
			return nil
		}
		if err != nil {
			return err
		}

		err = d.Activate(ctx, inst)
		if r, ok := sel.(Reporter); ok {
			r.Report(err)
		}
		d.closePlugin(inst, err)

		if errors.Is(err, display.ErrUnrecoverable) {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
	}
}

// Activate runs one plugin from Setup to Finished. It returns nil when the
// plugin reported done, and otherwise the reason the activation ended.
func (d *Driver) Activate(ctx context.Context, inst plugin.Instance) error {
	name := inst.Entry.Name
	if name == "" {
		name = inst.Entry.Kind
	}
	id := uuid.NewString()
	logger := d.logger.With().
		Str("plugin", name).
		Str("kind", inst.Entry.Kind).
		Str("activation", id).
		Logger()

	if err := d.machine.Begin(name); err != nil {
		return err
	}
	d.mu.Lock()
	d.status.Plugin = name
	d.status.Kind = inst.Entry.Kind
	d.status.ActivationID = id
	d.status.Activations++
	d.status.LastError = ""
	d.status.LastUpdated = d.clock.Now()
	d.mu.Unlock()

	cfg := d.Configuration()
	logger.Info().Int("width", cfg.Width).Int("height", cfg.Height).Float32("fps", cfg.TargetFPS).Msg("plugin setup")

	if err := safely(func() error { return inst.Plugin.Setup(cfg) }); err != nil {
		err = fmt.Errorf("setup %s: %w", name, err)
		logger.Error().Err(err).Msg("plugin setup failed")
		return d.finish(name, err, "setup_failed")
	}

	if err := d.machine.Start(); err != nil {
		return err
	}
	logger.Debug().Dur("interval", d.interval).Dur("timeout", d.timeout).Msg("plugin running")

	for {
		if err := ctx.Err(); err != nil {
			return d.finish(name, err, "cancelled")
		}

		start := d.clock.Now()
		update, err := d.update(ctx, inst.Plugin)
		if err != nil {
			err = fmt.Errorf("update %s: %w", name, err)
			logger.Error().Err(err).Msg("plugin update failed")
			return d.finish(name, err, outcome(err))
		}
		if err := d.machine.Tick(); err != nil {
			return err
		}

		if update.HasLog() {
			d.sink.Log(name, update.LogMessage)
		}

		if err := d.render(ctx, update.State); err != nil {
			if errors.Is(err, display.ErrUnrecoverable) {
				logger.Error().Err(err).Msg("backend failed")
				return d.finish(name, err, "backend_failed")
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return d.finish(name, ctxErr, "cancelled")
			}
			logger.Warn().Err(err).Msg("frame not rendered")
		}

		elapsed := d.clock.Now().Sub(start)
		observability.RecordTick(name, elapsed)

		if update.Done {
			logger.Info().Uint64("ticks", d.machine.Snapshot().Ticks).Msg("plugin done")
			return d.finish(name, nil, "done")
		}

		if remaining := d.interval - elapsed; d.interval > 0 && remaining > 0 {
			if err := d.clock.Sleep(ctx, remaining); err != nil {
				return d.finish(name, err, "cancelled")
			}
		}
	}
}

// render maps and shows one frame. Size mismatches are counted and dropped
// without reaching the backend.
func (d *Driver) render(ctx context.Context, grid matrix.Grid) error {
	name := d.machine.Snapshot().Plugin

	pixels, err := d.layout.Map(grid)
	if err != nil {
		observability.RecordFrameRejected(name)
		d.mu.Lock()
		d.status.Rejected++
		d.mu.Unlock()
		return err
	}

	err = d.backend.Render(ctx, display.Frame{
		Width:  d.layout.Width,
		Height: d.layout.Height,
		Pixels: pixels,
	})
	if err != nil {
		observability.RecordBackendError(name, errors.Is(err, display.ErrUnrecoverable))
		return err
	}

	observability.RecordFrameRendered(name)
	d.mu.Lock()
	d.status.Rendered++
	d.status.LastUpdated = d.clock.Now()
	d.mu.Unlock()
	return nil
}

// update calls the plugin, bounded by the update timeout
func (d *Driver) update(ctx context.Context, p plugin.Plugin) (matrix.Update, error) {
	call := func() (u matrix.Update, err error) {
		err = safely(func() error {
			u = p.Update()
			return nil
		})
		return u, err
	}
	if d.timeout < 0 {
		return call()
	}

	type result struct {
		update matrix.Update
		err    error
	}
	done := make(chan result, 1)
	go func() {
		u, err := call()
		done <- result{u, err}
	}()

	timer := time.NewTimer(d.timeout)
	defer timer.Stop()
	select {
	case r := <-done:
		return r.update, r.err
	case <-timer.C:
		return matrix.Update{}, fmt.Errorf("%w after %s", ErrUpdateTimeout, d.timeout)
	case <-ctx.Done():
		return matrix.Update{}, ctx.Err()
	}
}

func (d *Driver) finish(name string, err error, result string) error {
	if ferr := d.machine.Finish(err); ferr != nil {
		return ferr
	}
	observability.RecordActivation(name, result)
	if err != nil {
		d.mu.Lock()
		d.status.LastError = err.Error()
		d.mu.Unlock()
	}
	return err
}

func (d *Driver) closePlugin(inst plugin.Instance, err error) {
	c, ok := inst.Plugin.(plugin.Closer)
	if !ok {
		return
	}
	// An update that timed out may still be running inside the plugin
	if errors.Is(err, ErrUpdateTimeout) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		d.logger.Warn().Str("plugin", inst.Entry.Name).Msg("abandoning plugin without close")
		return
	}
	if cerr := c.Close(); cerr != nil {
		d.logger.Warn().Err(cerr).Str("plugin", inst.Entry.Name).Msg("failed to close plugin")
	}
}

func (d *Driver) release() {
	if d.machine.State() == lifecycle.Finished {
		_ = d.machine.Release()
	}
}

func safely(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPluginPanic, r)
		}
	}()
	return fn()
}

func outcome(err error) string {
	switch {
	case errors.Is(err, ErrUpdateTimeout):
		return "timeout"
	case errors.Is(err, ErrPluginPanic):
		return "panic"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "failed"
	}
}
