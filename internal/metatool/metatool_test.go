package metatool

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/mcpswarm/mcpswarm/internal/bus"
	"github.com/mcpswarm/mcpswarm/internal/catalog"
	"github.com/mcpswarm/mcpswarm/internal/config"
	"github.com/mcpswarm/mcpswarm/internal/profile"
	"github.com/mcpswarm/mcpswarm/internal/store"
	"github.com/mcpswarm/mcpswarm/internal/supervisor"
	"github.com/mcpswarm/mcpswarm/internal/worker"
)

func newTestRegistry(t *testing.T) *registry {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	cfg := config.Config{
		ToolCallTimeout: time.Second,
		QueueTTL:        time.Minute,
		MaxPool:         4,
		ScaleUpWait:     5 * time.Second,
		IdleKill:        time.Minute,
		HealthTimeout:   time.Second,
	}
	sup := supervisor.New(cfg, st, bus.New())
	t.Cleanup(sup.Shutdown)

	profiles, err := profile.NewManager(st)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return &registry{
		Deps: Deps{
			Sup:      sup,
			Store:    st,
			Profiles: profiles,
			Catalog:  catalog.NewSearcher(),
		},
		sessionID: "test-session",
	}
}

// ── argument helpers ───────────────────────────────────────────────────────

func TestBoolArg_DistinguishesAbsentFromFalse(t *testing.T) {
	v, present := boolArg(map[string]any{"stateful": false}, "stateful")
	if v || !present {
		t.Errorf("explicit false: got (%v, %v)", v, present)
	}
	_, present = boolArg(map[string]any{}, "stateful")
	if present {
		t.Error("absent key reported as present")
	}
}

func TestIntArg_JSONNumbersAreFloat64(t *testing.T) {
	if got := intArg(map[string]any{"limit": float64(7)}, "limit", 10); got != 7 {
		t.Errorf("intArg = %d, want 7", got)
	}
	if got := intArg(map[string]any{}, "limit", 10); got != 10 {
		t.Errorf("intArg default = %d, want 10", got)
	}
}

func TestStringSliceArg_SkipsNonStrings(t *testing.T) {
	got := stringSliceArg(map[string]any{"args": []any{"a", 1, "b"}}, "args")
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("stringSliceArg = %v", got)
	}
}

// ── declare_worker defaults ────────────────────────────────────────────────

func TestConfigFromArgs_StatefulDefaultsFromNameSet(t *testing.T) {
	cfg := configFromArgs(map[string]any{"name": "playwright", "command": "npx"})
	if !cfg.Stateful {
		t.Error("playwright not auto-stateful")
	}
	cfg = configFromArgs(map[string]any{"name": "fetch", "command": "npx"})
	if cfg.Stateful {
		t.Error("fetch wrongly auto-stateful")
	}
	// Explicit flag always wins over the name set.
	cfg = configFromArgs(map[string]any{"name": "playwright", "command": "npx", "stateful": false})
	if cfg.Stateful {
		t.Error("explicit stateful=false overridden by name set")
	}
}

func TestConfigFromArgs_DefaultsToLocalTransport(t *testing.T) {
	cfg := configFromArgs(map[string]any{"name": "fetch", "command": "npx"})
	if cfg.Transport != worker.TransportLocal {
		t.Errorf("transport = %q, want local", cfg.Transport)
	}
}

// ── worker operations against an empty supervisor ──────────────────────────

func TestDeclareWorker_RejectsInvalidConfig(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.declareWorker(context.Background(), map[string]any{"name": "bad name", "command": "x"})
	if !errors.Is(err, worker.ErrBadInput) {
		t.Errorf("declareWorker(bad name) = %v, want ErrBadInput", err)
	}
	// Invalid configs must never be persisted.
	if _, found, _ := r.Store.GetWorker("bad name"); found {
		t.Error("invalid config was persisted")
	}
}

func TestRemoveWorker_Unknown(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.removeWorker(context.Background(), map[string]any{"name": "ghost"})
	if !errors.Is(err, worker.ErrNotFound) {
		t.Errorf("removeWorker(unknown) = %v, want ErrNotFound", err)
	}
}

func TestRemoveWorker_PersistedButNotRunning(t *testing.T) {
	r := newTestRegistry(t)
	seed := worker.Config{Name: "fetch", Transport: worker.TransportLocal, Command: "npx"}
	if err := r.Store.SaveWorker(seed); err != nil {
		t.Fatalf("seed: %v", err)
	}

	out, err := r.removeWorker(context.Background(), map[string]any{"name": "fetch"})
	if err != nil {
		t.Fatalf("removeWorker: %v", err)
	}
	if m := out.(map[string]any); m["was_running"] != false {
		t.Errorf("was_running = %v, want false", m["was_running"])
	}
	if _, found, _ := r.Store.GetWorker("fetch"); found {
		t.Error("config survived remove_worker")
	}
}

func TestStopWorker_NotRunning(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.stopWorker(context.Background(), map[string]any{"name": "fetch"})
	if !errors.Is(err, worker.ErrNotRunning) {
		t.Errorf("stopWorker(not running) = %v, want ErrNotRunning", err)
	}
}

func TestStartWorker_Unknown(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.startWorker(context.Background(), map[string]any{"name": "ghost"})
	if !errors.Is(err, worker.ErrNotFound) {
		t.Errorf("startWorker(unknown) = %v, want ErrNotFound", err)
	}
}

func TestResetWorker_Unknown(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.resetWorker(context.Background(), map[string]any{"name": "ghost"})
	if !errors.Is(err, worker.ErrNotFound) {
		t.Errorf("resetWorker(unknown) = %v, want ErrNotFound", err)
	}
}

func TestUpdateWorker_MergesOnlyProvidedFields(t *testing.T) {
	r := newTestRegistry(t)
	seed := worker.Config{
		Name:        "fetch",
		Transport:   worker.TransportLocal,
		Command:     "npx",
		Args:        []string{"-y", "server-fetch"},
		Description: "old",
	}
	if err := r.Store.SaveWorker(seed); err != nil {
		t.Fatalf("seed: %v", err)
	}

	_, err := r.updateWorker(context.Background(), map[string]any{
		"name":        "fetch",
		"description": "new",
	})
	if err != nil {
		t.Fatalf("updateWorker: %v", err)
	}

	got, _, _ := r.Store.GetWorker("fetch")
	if got.Description != "new" {
		t.Errorf("description = %q, want merged value", got.Description)
	}
	if got.Command != "npx" || len(got.Args) != 2 {
		t.Errorf("unprovided fields changed: %+v", got)
	}
}

func TestUpdateWorker_Unknown(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.updateWorker(context.Background(), map[string]any{"name": "ghost", "description": "x"})
	if !errors.Is(err, worker.ErrNotFound) {
		t.Errorf("updateWorker(unknown) = %v, want ErrNotFound", err)
	}
}

func TestListWorkers_IncludesPersistedStopped(t *testing.T) {
	r := newTestRegistry(t)
	if err := r.Store.SaveWorker(worker.Config{Name: "fetch", Transport: worker.TransportLocal, Command: "npx"}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	out, err := r.listWorkers(context.Background(), nil)
	if err != nil {
		t.Fatalf("listWorkers: %v", err)
	}
	m := out.(map[string]any)
	live := m["live"].([]supervisor.Snapshot)
	if len(live) != 0 {
		t.Errorf("live = %v, want empty", live)
	}
}

func TestListTools_UnknownServer(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.listTools(context.Background(), map[string]any{"server": "ghost"})
	if !errors.Is(err, worker.ErrNotFound) {
		t.Errorf("listTools(unknown) = %v, want ErrNotFound", err)
	}
}

func TestCallTool_RequiresServerAndTool(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.callTool(context.Background(), map[string]any{"server": "fetch"})
	if !errors.Is(err, worker.ErrBadInput) {
		t.Errorf("callTool(no tool) = %v, want ErrBadInput", err)
	}
}

// ── profile operations ─────────────────────────────────────────────────────

func TestCreateAndDeleteProfile(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.createProfile(context.Background(), map[string]any{
		"name":        "mystack",
		"description": "test",
		"entries": []any{
			map[string]any{"name": "fetch", "command": "npx", "args": []any{"-y", "server-fetch"}},
		},
	})
	if err != nil {
		t.Fatalf("createProfile: %v", err)
	}

	bundles, err := r.Profiles.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	found := false
	for _, b := range bundles {
		if b.Name == "mystack" {
			found = true
		}
	}
	if !found {
		t.Fatal("created profile not listed")
	}

	if _, err := r.deleteProfile(context.Background(), map[string]any{"name": "mystack"}); err != nil {
		t.Fatalf("deleteProfile: %v", err)
	}
	if _, err := r.deleteProfile(context.Background(), map[string]any{"name": "mystack"}); !errors.Is(err, worker.ErrNotFound) {
		t.Errorf("second delete = %v, want ErrNotFound", err)
	}
}

func TestActivateProfile_Unknown(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.activateProfile(context.Background(), map[string]any{"name": "ghost"})
	if !errors.Is(err, worker.ErrNotFound) {
		t.Errorf("activateProfile(unknown) = %v, want ErrNotFound", err)
	}
}

func TestDeactivateProfile_NothingRunning(t *testing.T) {
	r := newTestRegistry(t)
	out, err := r.deactivateProfile(context.Background(), map[string]any{"name": "core"})
	if err != nil {
		t.Fatalf("deactivateProfile: %v", err)
	}
	m := out.(map[string]any)
	if stopped := m["stopped"].([]string); len(stopped) != 0 {
		t.Errorf("stopped = %v, want empty", stopped)
	}
}

func TestDiscover_RequiresQuery(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.discover(context.Background(), map[string]any{})
	if !errors.Is(err, worker.ErrBadInput) {
		t.Errorf("discover(no query) = %v, want ErrBadInput", err)
	}
}
