// Package lua runs user hook scripts against execution snapshots. A script
// may define
//
//	function on_snapshot(snap) ... end  -- every poll; return false to stop following
//	function on_complete(snap) ... end  -- once, with the terminal snapshot
//
// Scripts run in a sandbox without io, os or module loading.
package lua

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/mpataki/nfwatch/internal/logging"
	"github.com/mpataki/nfwatch/internal/models"
)

// DefaultTimeout bounds a single hook call.
const DefaultTimeout = 5 * time.Second

// Hooks holds one loaded script. It is not safe for concurrent use.
type Hooks struct {
	L       *lua.LState
	path    string
	logger  *slog.Logger
	timeout time.Duration
	logs    []string
}

// Load reads and runs the script at path so its hook functions are defined.
func Load(path string, logger *slog.Logger) (*Hooks, error) {
	script, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read hook script: %w", err)
	}
	return LoadString(path, string(script), logger)
}

// LoadString is Load for a script already in memory; name is used in
// messages only.
func LoadString(name, script string, logger *slog.Logger) (*Hooks, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	h := &Hooks{
		L: lua.NewState(lua.Options{
			SkipOpenLibs: true,
		}),
		path:    name,
		logger:  logger,
		timeout: DefaultTimeout,
	}
	h.openSafeLibs()
	h.L.SetGlobal("log", h.L.NewFunction(h.luaLog))

	if err := h.L.DoString(script); err != nil {
		h.L.Close()
		return nil, fmt.Errorf("failed to load hook script %s: %w", name, err)
	}
	return h, nil
}

func (h *Hooks) Close() {
	h.L.Close()
}

// SetTimeout changes the per-call limit; zero disables it.
func (h *Hooks) SetTimeout(d time.Duration) {
	h.timeout = d
}

// openSafeLibs loads base, table, string and math, minus anything that
// reaches the filesystem or is non-deterministic.
func (h *Hooks) openSafeLibs() {
	L := h.L
	lua.OpenBase(L)

	L.SetGlobal("loadfile", lua.LNil)
	L.SetGlobal("dofile", lua.LNil)
	L.SetGlobal("load", lua.LNil)
	L.SetGlobal("loadstring", lua.LNil)
	L.SetGlobal("print", lua.LNil) // log() instead

	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)

	if tbl, ok := L.GetGlobal("math").(*lua.LTable); ok {
		L.SetField(tbl, "random", lua.LNil)
		L.SetField(tbl, "randomseed", lua.LNil)
	}
}

// OnSnapshot calls on_snapshot if the script defines it. It reports false
// when the hook returned false.
func (h *Hooks) OnSnapshot(exec *models.Execution) (bool, error) {
	ret, called, err := h.call("on_snapshot", exec)
	if err != nil || !called {
		return true, err
	}
	return ret != lua.LFalse, nil
}

// OnComplete calls on_complete if the script defines it.
func (h *Hooks) OnComplete(exec *models.Execution) error {
	_, _, err := h.call("on_complete", exec)
	return err
}

// Logs returns what the script passed to log().
func (h *Hooks) Logs() []string {
	return h.logs
}

func (h *Hooks) call(name string, exec *models.Execution) (lua.LValue, bool, error) {
	fn, ok := h.L.GetGlobal(name).(*lua.LFunction)
	if !ok {
		return lua.LNil, false, nil
	}

	if h.timeout > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
		defer cancel()
		h.L.SetContext(ctx)
		defer h.L.RemoveContext()
	}

	err := h.L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, SnapshotTable(h.L, exec))
	if err != nil {
		return lua.LNil, true, fmt.Errorf("hook %s in %s failed: %w", name, h.path, err)
	}
	ret := h.L.Get(-1)
	h.L.Pop(1)
	return ret, true, nil
}

// SnapshotTable converts exec into the table hooks receive.
func SnapshotTable(L *lua.LState, exec *models.Execution) *lua.LTable {
	tbl := L.NewTable()
	L.SetField(tbl, "id", lua.LString(exec.ID))
	L.SetField(tbl, "location", lua.LString(exec.Location))
	L.SetField(tbl, "status", lua.LString(exec.Status))
	L.SetField(tbl, "pid", lua.LNumber(exec.PID))
	L.SetField(tbl, "elapsed", lua.LNumber(exec.Elapsed.Seconds()))
	L.SetField(tbl, "terminal", lua.LBool(exec.Status.Terminal()))
	L.SetField(tbl, "command", goToLua(L, toAny(exec.Command)))
	if !exec.StartedAt.IsZero() {
		L.SetField(tbl, "started_at", lua.LNumber(exec.StartedAt.Unix()))
	}
	if exec.ReturnCode != nil {
		L.SetField(tbl, "return_code", lua.LNumber(*exec.ReturnCode))
	}

	tasks := L.NewTable()
	for _, t := range exec.Tasks() {
		tasks.Append(goToLua(L, map[string]any{
			"hash":     t.Hash,
			"name":     t.Name,
			"process":  t.Process(),
			"tag":      t.Tag(),
			"status":   string(t.Status),
			"exit":     t.Exit,
			"duration": t.Duration.Seconds(),
			"workdir":  t.Workdir,
		}))
	}
	L.SetField(tbl, "tasks", tasks)

	counts := L.NewTable()
	for status, n := range exec.CountByStatus() {
		L.SetField(counts, string(status), lua.LNumber(n))
	}
	L.SetField(tbl, "counts", counts)

	return tbl
}

// goToLua converts a Go value to a Lua value
func goToLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case int:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case string:
		return lua.LString(val)
	case []any:
		tbl := L.NewTable()
		for i, item := range val {
			L.SetTable(tbl, lua.LNumber(i+1), goToLua(L, item))
		}
		return tbl
	case map[string]any:
		tbl := L.NewTable()
		for k, item := range val {
			L.SetField(tbl, k, goToLua(L, item))
		}
		return tbl
	default:
		return lua.LString(fmt.Sprintf("%v", val))
	}
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// luaLog implements log(message)
func (h *Hooks) luaLog(L *lua.LState) int {
	message := L.CheckString(1)
	h.logs = append(h.logs, message)
	h.logger.Info(message, "hook", h.path)
	return 0
}
