package scripting

import (
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/l1jgo/networld/internal/action"
	"github.com/l1jgo/networld/internal/world"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func newWorld(t *testing.T) *world.World {
	t.Helper()
	w, err := world.New(world.Options{Name: "arena"})
	if err != nil {
		t.Fatal(err)
	}
	return w
}

func newEngine(t *testing.T, src string, log *zap.Logger) *Engine {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "main.lua"), []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}
	e, err := NewEngine(dir, log)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(e.Close)
	return e
}

func TestCustomActionRunsHandler(t *testing.T) {
	e := newEngine(t, `
networld.on("open_door", function(ev)
  networld.set_flag("door:" .. ev.params.door, "open")
  networld.dispatch("door_opened", { by = ev.from, doors = { ev.params.door } }, true)
end)
`, zap.NewNop())
	if !slices.Equal(e.Handlers(), []string{"open_door"}) {
		t.Fatalf("handlers = %v", e.Handlers())
	}

	w := newWorld(t)
	e.Install(w)
	w.DispatchFrom("alice", action.Custom{Name: "open_door", Params: map[string]any{"door": "gate"}}, action.ToAll)
	w.Step(0.016, 0) // applies open_door
	w.Step(0.016, 0) // applies what the handler dispatched

	if v, ok := w.Metadata("door:gate"); !ok || v != "open" {
		t.Fatalf("flag = %q, %v", v, ok)
	}
	var opened *action.Custom
	for _, a := range w.History() {
		if p, ok := a.Payload.(action.Custom); ok && p.Name == "door_opened" {
			opened = &p
		}
	}
	if opened == nil {
		t.Fatal("door_opened never applied")
	}
	if opened.Params["by"] != "alice" || !opened.Cache {
		t.Fatalf("params = %v cache = %v", opened.Params, opened.Cache)
	}
	if doors, ok := opened.Params["doors"].([]any); !ok || len(doors) != 1 || doors[0] != "gate" {
		t.Fatalf("doors = %#v", opened.Params["doors"])
	}
}

func TestHandlerErrorIsLogged(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	e := newEngine(t, `networld.on("boom", function(ev) error("kaboom") end)`, zap.New(core))
	w := newWorld(t)
	e.Install(w)
	w.Dispatch(action.Custom{Name: "boom"}, action.ToAll)
	w.Step(0.016, 0)
	if logs.FilterMessage("lua handler error").Len() != 1 {
		t.Fatalf("logs = %v", logs.All())
	}
}

func TestWorldAPIOutsideHandler(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "bad.lua"), []byte(`networld.set_flag("a", "b")`), 0o644)
	if _, err := NewEngine(dir, zap.NewNop()); err == nil {
		t.Fatal("world API at load time should fail")
	}
}

func TestQueries(t *testing.T) {
	e := newEngine(t, `
networld.on("probe", function(ev)
  networld.set_flag("tick", tostring(networld.tick()))
  networld.set_flag("clients", tostring(networld.client_count()))
  if networld.flag("missing") == nil then networld.set_flag("missing", "nil") end
end)
`, zap.NewNop())
	w := newWorld(t)
	e.Install(w)
	w.Step(0.016, 0)
	w.Dispatch(action.Custom{Name: "probe"}, action.ToAll)
	w.Step(0.016, 0)
	w.Step(0.016, 0)
	for k, want := range map[string]string{"tick": "1", "clients": "0", "missing": "nil"} {
		if v, _ := w.Metadata(k); v != want {
			t.Errorf("%s = %q, want %q", k, v, want)
		}
	}
}

func TestMissingDirectory(t *testing.T) {
	e, err := NewEngine(filepath.Join(t.TempDir(), "nope"), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()
	if len(e.Handlers()) != 0 {
		t.Fatal("handlers from nowhere")
	}
}
