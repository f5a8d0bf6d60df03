package scripting

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/l1jgo/networld/internal/action"
	"github.com/l1jgo/networld/internal/world"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// Engine wraps a single gopher-lua VM whose scripts handle custom actions.
// Single-goroutine access only (game loop).
type Engine struct {
	vm       *lua.LState
	handlers map[string]*lua.LFunction
	cur      *world.World // set while a handler runs
	log      *zap.Logger
}

// NewEngine creates a Lua engine and loads every .lua file in scriptsDir.
// A missing directory yields an engine with no handlers.
func NewEngine(scriptsDir string, log *zap.Logger) (*Engine, error) {
	vm := lua.NewState()
	vm.SetGlobal("API_VERSION", lua.LNumber(1))

	e := &Engine{vm: vm, handlers: make(map[string]*lua.LFunction), log: log}
	vm.SetGlobal("networld", vm.SetFuncs(vm.NewTable(), map[string]lua.LGFunction{
		"on":           e.luaOn,
		"set_flag":     e.luaSetFlag,
		"flag":         e.luaFlag,
		"dispatch":     e.luaDispatch,
		"tick":         e.luaTick,
		"client_count": e.luaClientCount,
		"log":          e.luaLog,
	}))

	if err := e.loadDir(scriptsDir); err != nil {
		vm.Close()
		return nil, fmt.Errorf("load scripts: %w", err)
	}
	return e, nil
}

// loadDir loads all .lua files in a directory, in name order.
func (e *Engine) loadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".lua" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := e.vm.DoFile(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		e.log.Debug("loaded lua script", zap.String("file", path))
	}
	return nil
}

// LoadString runs a chunk of Lua, for scripts that do not live on disk.
func (e *Engine) LoadString(src string) error {
	return e.vm.DoString(src)
}

// Install registers the engine as a receptor on w.
func (e *Engine) Install(w *world.World) {
	w.AddReceptor("lua", e.receive)
}

// Handlers returns the custom action names that have a Lua handler.
func (e *Engine) Handlers() []string {
	names := make([]string, 0, len(e.handlers))
	for n := range e.handlers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (e *Engine) Close() {
	e.vm.Close()
}

func (e *Engine) receive(w *world.World, a action.Action) {
	p, ok := a.Payload.(action.Custom)
	if !ok {
		return
	}
	fn, ok := e.handlers[p.Name]
	if !ok {
		return
	}

	ev := e.vm.NewTable()
	ev.RawSetString("name", lua.LString(p.Name))
	ev.RawSetString("from", lua.LString(a.From))
	ev.RawSetString("id", lua.LString(a.ID))
	ev.RawSetString("params", toLua(e.vm, p.Params))

	e.cur = w
	defer func() { e.cur = nil }()
	if err := e.vm.CallByParam(lua.P{
		Fn:      fn,
		NRet:    0,
		Protect: true,
	}, ev); err != nil {
		e.log.Error("lua handler error", zap.String("action", p.Name), zap.Error(err))
	}
}

// networld.on(name, fn)
func (e *Engine) luaOn(L *lua.LState) int {
	name := L.CheckString(1)
	fn := L.CheckFunction(2)
	e.handlers[name] = fn
	return 0
}

// networld.set_flag(key, value) dispatches a scene flag to everyone.
func (e *Engine) luaSetFlag(L *lua.LState) int {
	w := e.world(L)
	w.Dispatch(action.SetSceneFlag{Key: L.CheckString(1), Value: L.CheckString(2)}, action.ToAll)
	return 0
}

// networld.flag(key) returns the scene flag's value or nil.
func (e *Engine) luaFlag(L *lua.LState) int {
	w := e.world(L)
	if v, ok := w.Metadata(L.CheckString(1)); ok {
		L.Push(lua.LString(v))
	} else {
		L.Push(lua.LNil)
	}
	return 1
}

// networld.dispatch(name, params[, cache]) sends a custom action to everyone.
func (e *Engine) luaDispatch(L *lua.LState) int {
	w := e.world(L)
	p := action.Custom{Name: L.CheckString(1), Cache: L.OptBool(3, false)}
	if t := L.OptTable(2, nil); t != nil {
		if m, ok := fromLua(t).(map[string]any); ok {
			p.Params = m
		}
	}
	w.Dispatch(p, action.ToAll)
	return 0
}

func (e *Engine) luaTick(L *lua.LState) int {
	L.Push(lua.LNumber(e.world(L).FixedTick()))
	return 1
}

func (e *Engine) luaClientCount(L *lua.LState) int {
	L.Push(lua.LNumber(e.world(L).Clients().Len()))
	return 1
}

func (e *Engine) luaLog(L *lua.LState) int {
	e.log.Info("lua", zap.String("msg", L.CheckString(1)))
	return 0
}

func (e *Engine) world(L *lua.LState) *world.World {
	if e.cur == nil {
		L.RaiseError("world API used outside an action handler")
	}
	return e.cur
}
