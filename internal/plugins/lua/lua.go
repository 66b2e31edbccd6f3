// Package lua runs plugins written as Lua scripts.
//
// A script may define two globals:
//
//	function setup(cfg) end   -- cfg.width, cfg.height, cfg.target_fps, cfg.simulated, cfg.magnification
//	function update() end     -- return true, or {done = bool, log = {...}}, when finished
//
// and draws with pixel(row, col, r, g, b [, a]), clear([r, g, b]) and
// log(message). Coordinates are zero based. Only the base, table, string and
// math libraries are loaded.
package lua

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	glua "github.com/yuin/gopher-lua"

	"github.com/fkcurrie/matrixhost/internal/plugin"
	"github.com/fkcurrie/matrixhost/pkg/matrix"
)

// Script is a plugin backed by a Lua state
type Script struct {
	path   string
	source string
	budget time.Duration

	state *glua.LState
	grid  matrix.Grid
	logs  []string
	done  bool
}

// New builds a script plugin. Params: script (file path) or source, budget
// (time allowed per call).
func New(params plugin.Params) (plugin.Plugin, error) {
	s := &Script{
		path:   params.String("script", ""),
		source: params.String("source", ""),
	}
	if s.path == "" && s.source == "" {
		return nil, errors.New("lua: one of script or source is required")
	}

	var err error
	if s.budget, err = params.Duration("budget", time.Second); err != nil {
		return nil, err
	}
	if s.budget <= 0 {
		return nil, fmt.Errorf("lua: budget must be positive, got %s", s.budget)
	}
	return s, nil
}

func (s *Script) Setup(cfg matrix.Configuration) error {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return fmt.Errorf("lua: invalid matrix %dx%d", cfg.Width, cfg.Height)
	}
	s.grid = matrix.NewGrid(cfg.Width, cfg.Height)

	L := glua.NewState(glua.Options{SkipOpenLibs: true})
	if err := openLibs(L); err != nil {
		L.Close()
		return err
	}
	s.state = L
	s.register()

	src := s.source
	if s.path != "" {
		b, err := os.ReadFile(s.path)
		if err != nil {
			return fmt.Errorf("failed to read lua script: %w", err)
		}
		src = string(b)
	}
	if err := s.call(func() error { return L.DoString(src) }); err != nil {
		return fmt.Errorf("failed to load lua script: %w", err)
	}

	if fn := L.GetGlobal("setup"); fn.Type() == glua.LTFunction {
		arg := L.NewTable()
		arg.RawSetString("width", glua.LNumber(cfg.Width))
		arg.RawSetString("height", glua.LNumber(cfg.Height))
		arg.RawSetString("target_fps", glua.LNumber(cfg.TargetFPS))
		arg.RawSetString("serpentine", glua.LBool(cfg.Serpentine))
		mag, simulated := cfg.Magnification()
		arg.RawSetString("simulated", glua.LBool(simulated))
		if simulated {
			arg.RawSetString("magnification", glua.LNumber(mag))
		}

		err := s.call(func() error {
			return L.CallByParam(glua.P{Fn: fn, NRet: 0, Protect: true}, arg)
		})
		if err != nil {
			return fmt.Errorf("lua setup: %w", err)
		}
	}

	if L.GetGlobal("update").Type() != glua.LTFunction {
		return errors.New("lua: script does not define update()")
	}
	return nil
}

// Update runs the script's update function. Script errors end the
// activation with the error as the last log line.
func (s *Script) Update() matrix.Update {
	if s.done {
		return matrix.Update{State: s.grid.Clone(), Done: true}
	}
	L := s.state

	var ret glua.LValue
	err := s.call(func() error {
		if err := L.CallByParam(glua.P{Fn: L.GetGlobal("update"), NRet: 1, Protect: true}); err != nil {
			return err
		}
		ret = L.Get(-1)
		L.Pop(1)
		return nil
	})
	if err != nil {
		s.logs = append(s.logs, fmt.Sprintf("lua error: %v", err))
		s.done = true
	} else {
		s.done = s.result(ret)
	}

	update := matrix.Update{State: s.grid.Clone(), Done: s.done}
	if s.logs != nil {
		update.LogMessage = s.logs
		s.logs = nil
	}
	return update
}

// Close releases the Lua state
func (s *Script) Close() error {
	if s.state != nil {
		s.state.Close()
		s.state = nil
	}
	return nil
}

func (s *Script) result(ret glua.LValue) bool {
	switch v := ret.(type) {
	case glua.LBool:
		return bool(v)
	case *glua.LTable:
		if logs, ok := v.RawGetString("log").(*glua.LTable); ok {
			logs.ForEach(func(_, line glua.LValue) {
				s.logs = append(s.logs, line.String())
			})
		} else if line := v.RawGetString("log"); line != glua.LNil {
			s.logs = append(s.logs, line.String())
		}
		return glua.LVAsBool(v.RawGetString("done"))
	}
	return false
}

// call runs fn with the per-call budget as the state's context
func (s *Script) call(fn func() error) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.budget)
	defer cancel()
	s.state.SetContext(ctx)
	defer s.state.RemoveContext()
	return fn()
}

func (s *Script) register() {
	L := s.state
	L.SetGlobal("pixel", L.NewFunction(func(L *glua.LState) int {
		row, col := L.CheckInt(1), L.CheckInt(2)
		c := matrix.NewBGRA(uint8(L.CheckInt(3)), uint8(L.CheckInt(4)), uint8(L.CheckInt(5)), uint8(L.OptInt(6, 255)))
		if row < 0 || row >= len(s.grid) || col < 0 || col >= len(s.grid[row]) {
			L.ArgError(1, fmt.Sprintf("pixel (%d, %d) outside the matrix", row, col))
			return 0
		}
		s.grid[row][col] = c
		return 0
	}))
	L.SetGlobal("clear", L.NewFunction(func(L *glua.LState) int {
		c := matrix.NewBGRA(uint8(L.OptInt(1, 0)), uint8(L.OptInt(2, 0)), uint8(L.OptInt(3, 0)), 255)
		if L.GetTop() == 0 {
			c = matrix.BGRA{}
		}
		s.grid.Fill(c)
		return 0
	}))
	L.SetGlobal("log", L.NewFunction(func(L *glua.LState) int {
		s.logs = append(s.logs, L.CheckString(1))
		return 0
	}))
}

func openLibs(L *glua.LState) error {
	for _, lib := range []struct {
		name string
		fn   glua.LGFunction
	}{
		{glua.BaseLibName, glua.OpenBase},
		{glua.TabLibName, glua.OpenTable},
		{glua.StringLibName, glua.OpenString},
		{glua.MathLibName, glua.OpenMath},
	} {
		if err := L.CallByParam(glua.P{Fn: L.NewFunction(lib.fn), NRet: 0, Protect: true}, glua.LString(lib.name)); err != nil {
			return fmt.Errorf("failed to open lua %s library: %w", lib.name, err)
		}
	}
	return nil
}
