package driver

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/fkcurrie/matrixhost/internal/display"
	"github.com/fkcurrie/matrixhost/internal/lifecycle"
	"github.com/fkcurrie/matrixhost/internal/logsink"
	"github.com/fkcurrie/matrixhost/internal/plugin"
	"github.com/fkcurrie/matrixhost/pkg/matrix"
)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) slept() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

// scripted returns its updates in order, repeating the last one
type scripted struct {
	mu       sync.Mutex
	setupErr error
	updates  []matrix.Update
	onUpdate func(n int)
	cfg      matrix.Configuration
	calls    int
	closed   bool
}

func (p *scripted) Setup(cfg matrix.Configuration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg = cfg
	return p.setupErr
}

func (p *scripted) Update() matrix.Update {
	p.mu.Lock()
	n := p.calls
	p.calls++
	hook := p.onUpdate
	p.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	if n >= len(p.updates) {
		n = len(p.updates) - 1
	}
	return p.updates[n]
}

func (p *scripted) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *scripted) updateCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type fakeBackend struct {
	mu     sync.Mutex
	target matrix.Target
	frames []display.Frame
	fail   func(n int) error
}

func (b *fakeBackend) Target() matrix.Target {
	if b.target == nil {
		return matrix.Hardware{}
	}
	return b.target
}

func (b *fakeBackend) Render(ctx context.Context, frame display.Frame) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail != nil {
		if err := b.fail(len(b.frames)); err != nil {
			b.frames = append(b.frames, display.Frame{})
			return err
		}
	}
	b.frames = append(b.frames, frame)
	return nil
}

func (b *fakeBackend) Close() error { return nil }

func (b *fakeBackend) rendered() []display.Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []display.Frame
	for _, f := range b.frames {
		if f.Pixels != nil {
			out = append(out, f)
		}
	}
	return out
}

type recordingSink struct {
	calls [][]string
}

func (s *recordingSink) Log(plugin string, lines []string) {
	s.calls = append(s.calls, append([]string(nil), lines...))
}

type listSelector struct {
	instances []plugin.Instance
	next      int
	reports   []error
}

func (s *listSelector) Next() (plugin.Instance, error) {
	if s.next >= len(s.instances) {
		return plugin.Instance{}, plugin.ErrExhausted
	}
	inst := s.instances[s.next]
	s.next++
	return inst, nil
}

func (s *listSelector) Report(err error) {
	s.reports = append(s.reports, err)
}

func instances(plugins ...plugin.Plugin) *listSelector {
	sel := &listSelector{}
	for i, p := range plugins {
		name := string(rune('a' + i))
		sel.instances = append(sel.instances, plugin.Instance{
			Entry:  plugin.Entry{Name: name, Kind: "test"},
			Plugin: p,
		})
	}
	return sel
}

func frame(width, height int, done bool, logs ...string) matrix.Update {
	grid := matrix.NewGrid(width, height)
	grid.Fill(matrix.NewBGRA(10, 20, 30, 255))
	return matrix.Update{State: grid, Done: done, LogMessage: logs}
}

func newTestDriver(t *testing.T, fps float32, backend display.Backend, sink *recordingSink, clock Clock) *Driver {
	t.Helper()
	cfg := Config{
		Width:     4,
		Height:    2,
		TargetFPS: fps,
		Clock:     clock,
		Logger:    zerolog.Nop(),
	}
	var s logsink.Sink
	if sink != nil {
		s = sink
	}
	d, err := New(cfg, backend, s)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return d
}

// TestDoneFrameRenderedOnce tests that a done update is shown and ends the
// activation without another update call
func TestDoneFrameRenderedOnce(t *testing.T) {
	clock := newFakeClock()
	backend := &fakeBackend{}
	p := &scripted{updates: []matrix.Update{frame(4, 2, true)}}
	d := newTestDriver(t, 30, backend, nil, clock)

	if err := d.Run(context.Background(), instances(p)); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if p.updateCalls() != 1 {
		t.Errorf("update calls = %d, want 1", p.updateCalls())
	}
	if got := len(backend.rendered()); got != 1 {
		t.Errorf("rendered frames = %d, want 1", got)
	}
	if len(clock.slept()) != 0 {
		t.Errorf("slept after done: %v", clock.slept())
	}
	if d.Lifecycle().State() != lifecycle.Idle {
		t.Errorf("state after run = %s, want idle", d.Lifecycle().State())
	}
	if !p.closed {
		t.Error("plugin not closed after activation")
	}
}

// TestMismatchedFrameSkipped tests that a wrongly sized frame never reaches
// the backend and the activation carries on
func TestMismatchedFrameSkipped(t *testing.T) {
	backend := &fakeBackend{}
	p := &scripted{updates: []matrix.Update{
		frame(3, 2, false),
		frame(4, 3, false),
		frame(4, 2, true),
	}}
	d := newTestDriver(t, 0, backend, nil, newFakeClock())

	if err := d.Run(context.Background(), instances(p)); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if p.updateCalls() != 3 {
		t.Errorf("update calls = %d, want 3", p.updateCalls())
	}
	if got := len(backend.rendered()); got != 1 {
		t.Errorf("rendered frames = %d, want 1", got)
	}
	status := d.Status()
	if status.Rejected != 2 || status.Rendered != 1 {
		t.Errorf("status rejected=%d rendered=%d, want 2 and 1", status.Rejected, status.Rendered)
	}
}

// TestFrameMappedToStripOrder tests that the backend sees the serpentine order
func TestFrameMappedToStripOrder(t *testing.T) {
	backend := &fakeBackend{}
	a, b := matrix.NewBGRA(1, 0, 0, 255), matrix.NewBGRA(2, 0, 0, 255)
	c, e := matrix.NewBGRA(3, 0, 0, 255), matrix.NewBGRA(4, 0, 0, 255)
	p := &scripted{updates: []matrix.Update{{State: matrix.Grid{{a, b}, {c, e}}, Done: true}}}

	d, err := New(Config{Width: 2, Height: 2, Serpentine: true, Logger: zerolog.Nop(), Clock: newFakeClock()}, backend, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := d.Run(context.Background(), instances(p)); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	frames := backend.rendered()
	if len(frames) != 1 {
		t.Fatalf("rendered frames = %d, want 1", len(frames))
	}
	want := []matrix.BGRA{a, b, e, c}
	if !reflect.DeepEqual(frames[0].Pixels, want) {
		t.Errorf("pixels = %v, want %v", frames[0].Pixels, want)
	}
	if frames[0].Width != 2 || frames[0].Height != 2 {
		t.Errorf("frame size = %dx%d", frames[0].Width, frames[0].Height)
	}
}

// TestPacing tests the sleep between ticks
func TestPacing(t *testing.T) {
	tests := []struct {
		name    string
		fps     float32
		work    time.Duration
		updates int
		want    []time.Duration
	}{
		{
			name:    "uncapped never sleeps",
			fps:     0,
			work:    10 * time.Millisecond,
			updates: 4,
			want:    nil,
		},
		{
			name:    "sleeps the remainder",
			fps:     10,
			work:    30 * time.Millisecond,
			updates: 3,
			want:    []time.Duration{70 * time.Millisecond, 70 * time.Millisecond},
		},
		{
			name:    "overrun does not catch up",
			fps:     10,
			work:    150 * time.Millisecond,
			updates: 3,
			want:    nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := newFakeClock()
			updates := make([]matrix.Update, tt.updates)
			for i := range updates {
				updates[i] = frame(4, 2, i == tt.updates-1)
			}
			p := &scripted{updates: updates, onUpdate: func(int) { clock.advance(tt.work) }}
			d := newTestDriver(t, tt.fps, &fakeBackend{}, nil, clock)
			d.timeout = -1

			if err := d.Run(context.Background(), instances(p)); err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if got := clock.slept(); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("sleeps = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestLogsForwarded tests log relaying order and that absent logs produce no
// sink calls
func TestLogsForwarded(t *testing.T) {
	sink := &recordingSink{}
	p := &scripted{updates: []matrix.Update{
		frame(4, 2, false, "one", "two"),
		frame(4, 2, false),
		frame(4, 2, true, "three"),
	}}
	d := newTestDriver(t, 0, &fakeBackend{}, sink, newFakeClock())

	if err := d.Run(context.Background(), instances(p)); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := [][]string{{"one", "two"}, {"three"}}
	if !reflect.DeepEqual(sink.calls, want) {
		t.Errorf("sink calls = %v, want %v", sink.calls, want)
	}
}

// TestLogsForwardedForRejectedFrames tests that logs are relayed even when
// the frame is dropped
func TestLogsForwardedForRejectedFrames(t *testing.T) {
	sink := &recordingSink{}
	p := &scripted{updates: []matrix.Update{frame(1, 1, true, "bad size")}}
	d := newTestDriver(t, 0, &fakeBackend{}, sink, newFakeClock())

	if err := d.Run(context.Background(), instances(p)); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(sink.calls) != 1 || sink.calls[0][0] != "bad size" {
		t.Errorf("sink calls = %v", sink.calls)
	}
}

// TestPluginFailuresMoveOn tests that a failing plugin ends its activation
// and the next plugin runs
func TestPluginFailuresMoveOn(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	tests := []struct {
		name    string
		failing *scripted
		timeout time.Duration
		wantErr error
	}{
		{
			name:    "setup error",
			failing: &scripted{setupErr: errors.New("missing asset"), updates: []matrix.Update{frame(4, 2, true)}},
		},
		{
			name: "panic",
			failing: &scripted{
				updates:  []matrix.Update{frame(4, 2, true)},
				onUpdate: func(int) { panic("boom") },
			},
			wantErr: ErrPluginPanic,
		},
		{
			name: "hung update",
			failing: &scripted{
				updates:  []matrix.Update{frame(4, 2, true)},
				onUpdate: func(int) { <-release },
			},
			timeout: 20 * time.Millisecond,
			wantErr: ErrUpdateTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := &fakeBackend{}
			next := &scripted{updates: []matrix.Update{frame(4, 2, true)}}
			sel := instances(tt.failing, next)

			d := newTestDriver(t, 0, backend, nil, newFakeClock())
			if tt.timeout != 0 {
				d.timeout = tt.timeout
			}

			if err := d.Run(context.Background(), sel); err != nil {
				t.Fatalf("Run() error = %v", err)
			}

			if len(sel.reports) != 2 {
				t.Fatalf("reports = %v, want 2", sel.reports)
			}
			if sel.reports[0] == nil {
				t.Error("failing activation reported success")
			}
			if tt.wantErr != nil && !errors.Is(sel.reports[0], tt.wantErr) {
				t.Errorf("failure = %v, want %v", sel.reports[0], tt.wantErr)
			}
			if sel.reports[1] != nil {
				t.Errorf("second activation error = %v", sel.reports[1])
			}
			if next.updateCalls() != 1 {
				t.Errorf("next plugin update calls = %d, want 1", next.updateCalls())
			}
			if len(backend.rendered()) != 1 {
				t.Errorf("rendered frames = %d, want 1", len(backend.rendered()))
			}
		})
	}
}

// TestSetupFailureSkipsUpdate tests that Update is never called after a
// failed Setup
func TestSetupFailureSkipsUpdate(t *testing.T) {
	p := &scripted{setupErr: errors.New("bad svg"), updates: []matrix.Update{frame(4, 2, true)}}
	d := newTestDriver(t, 0, &fakeBackend{}, nil, newFakeClock())

	err := d.Activate(context.Background(), plugin.Instance{Entry: plugin.Entry{Name: "svg"}, Plugin: p})
	if err == nil {
		t.Fatal("Activate() error = nil, want setup failure")
	}
	if p.updateCalls() != 0 {
		t.Errorf("update calls = %d, want 0", p.updateCalls())
	}
	snap := d.Lifecycle().Snapshot()
	if snap.State != lifecycle.Finished || snap.Err == nil {
		t.Errorf("snapshot = %+v, want finished with error", snap)
	}
}

// TestBackendErrors tests the split between recoverable and unrecoverable
// backend failures
func TestBackendErrors(t *testing.T) {
	t.Run("recoverable", func(t *testing.T) {
		backend := &fakeBackend{fail: func(n int) error {
			if n == 0 {
				return errors.New("dropped frame")
			}
			return nil
		}}
		p := &scripted{updates: []matrix.Update{frame(4, 2, false), frame(4, 2, true)}}
		d := newTestDriver(t, 0, backend, nil, newFakeClock())

		if err := d.Run(context.Background(), instances(p)); err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if p.updateCalls() != 2 {
			t.Errorf("update calls = %d, want 2", p.updateCalls())
		}
	})

	t.Run("unrecoverable", func(t *testing.T) {
		backend := &fakeBackend{fail: func(int) error {
			return display.Unrecoverable(errors.New("spi bus gone"))
		}}
		first := &scripted{updates: []matrix.Update{frame(4, 2, false)}}
		second := &scripted{updates: []matrix.Update{frame(4, 2, true)}}
		d := newTestDriver(t, 0, backend, nil, newFakeClock())

		err := d.Run(context.Background(), instances(first, second))
		if !errors.Is(err, display.ErrUnrecoverable) {
			t.Fatalf("Run() error = %v, want unrecoverable", err)
		}
		if first.updateCalls() != 1 {
			t.Errorf("first update calls = %d, want 1", first.updateCalls())
		}
		if second.updateCalls() != 0 {
			t.Errorf("second plugin ran after a fatal backend error")
		}
	})
}

// TestCancel tests that cancelling the context stops the session
func TestCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := &scripted{
		updates: []matrix.Update{frame(4, 2, false)},
		onUpdate: func(n int) {
			if n == 2 {
				cancel()
			}
		},
	}
	d := newTestDriver(t, 0, &fakeBackend{}, nil, newFakeClock())
	d.timeout = -1

	err := d.Run(ctx, instances(p))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if d.Lifecycle().State() != lifecycle.Idle {
		t.Errorf("state after cancel = %s, want idle", d.Lifecycle().State())
	}
}

// TestSetupConfiguration tests what plugins are set up with
func TestSetupConfiguration(t *testing.T) {
	backend := &fakeBackend{target: matrix.Simulated{Magnification: 12}}
	p := &scripted{updates: []matrix.Update{frame(4, 2, true)}}
	d := newTestDriver(t, 25, backend, nil, newFakeClock())

	if err := d.Run(context.Background(), instances(p)); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if p.cfg.Width != 4 || p.cfg.Height != 2 || p.cfg.TargetFPS != 25 {
		t.Errorf("configuration = %+v", p.cfg)
	}
	if mag, ok := p.cfg.Magnification(); !ok || mag != 12 {
		t.Errorf("magnification = %v, %v; want 12, true", mag, ok)
	}
}

func TestStatus(t *testing.T) {
	p := &scripted{updates: []matrix.Update{frame(4, 2, false), frame(4, 2, true)}}
	d := newTestDriver(t, 0, &fakeBackend{}, nil, newFakeClock())

	if got := d.Status().State; got != "idle" {
		t.Errorf("initial state = %q", got)
	}
	if err := d.Run(context.Background(), instances(p)); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	status := d.Status()
	if status.Activations != 1 || status.Rendered != 2 || status.Plugin != "a" || status.ActivationID == "" {
		t.Errorf("status = %+v", status)
	}
}

func TestNewValidates(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "valid", cfg: Config{Width: 8, Height: 8, TargetFPS: 30}},
		{name: "uncapped", cfg: Config{Width: 8, Height: 8}},
		{name: "zero width", cfg: Config{Height: 8}, wantErr: true},
		{name: "negative fps", cfg: Config{Width: 8, Height: 8, TargetFPS: -1}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg, &fakeBackend{}, nil)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestUpdateTimeoutDefault(t *testing.T) {
	tests := []struct {
		fps  float32
		set  time.Duration
		want time.Duration
	}{
		{fps: 30, want: MinUpdateTimeout},
		{fps: 2, want: 5 * time.Second},
		{fps: 0, want: MinUpdateTimeout},
		{fps: 30, set: 3 * time.Second, want: 3 * time.Second},
		{fps: 30, set: -1, want: -1},
	}

	for _, tt := range tests {
		d, err := New(Config{Width: 1, Height: 1, TargetFPS: tt.fps, UpdateTimeout: tt.set}, &fakeBackend{}, nil)
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}
		if d.timeout != tt.want {
			t.Errorf("fps %v set %v: timeout = %v, want %v", tt.fps, tt.set, d.timeout, tt.want)
		}
	}
}

func TestTickInterval(t *testing.T) {
	if got := TickInterval(0); got != 0 {
		t.Errorf("TickInterval(0) = %v", got)
	}
	if got := TickInterval(4); got != 250*time.Millisecond {
		t.Errorf("TickInterval(4) = %v", got)
	}
}
