package profile

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/mcpswarm/mcpswarm/internal/store"
	"github.com/mcpswarm/mcpswarm/internal/worker"
)

func newTestManager(t *testing.T) (*Manager, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	m, err := NewManager(st)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m, st
}

func TestNewManager_LoadsBuiltins(t *testing.T) {
	m, _ := newTestManager(t)
	for _, name := range []string{"core", "browser", "dev"} {
		b, found, err := m.Get(name)
		if err != nil || !found {
			t.Errorf("built-in %q not found (err=%v)", name, err)
			continue
		}
		if !b.BuiltIn {
			t.Errorf("built-in %q not flagged as built-in", name)
		}
		if len(b.Entries) == 0 {
			t.Errorf("built-in %q has no entries", name)
		}
	}
}

func TestList_BuiltinsFirstThenUser(t *testing.T) {
	m, _ := newTestManager(t)
	if err := m.Create("custom", "mine", []store.ProfileEntry{{Name: "w", Command: "x"}}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	list, err := m.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) < 4 {
		t.Fatalf("List returned %d bundles, want built-ins plus one", len(list))
	}
	if !list[0].BuiltIn {
		t.Error("built-ins should come first")
	}
	last := list[len(list)-1]
	if last.Name != "custom" || last.BuiltIn {
		t.Errorf("user bundle missing or misflagged: %+v", last)
	}
}

func TestList_BuiltinShadowsUserBundle(t *testing.T) {
	m, st := newTestManager(t)
	// Write straight to the store, bypassing Create's conflict check.
	if err := st.SaveProfile(store.ProfileRecord{Name: "core", Entries: []store.ProfileEntry{{Name: "w", Command: "x"}}}); err != nil {
		t.Fatalf("SaveProfile: %v", err)
	}

	list, err := m.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	seen := 0
	for _, b := range list {
		if b.Name == "core" {
			seen++
			if !b.BuiltIn {
				t.Error("user bundle shadowed the built-in")
			}
		}
	}
	if seen != 1 {
		t.Errorf("core listed %d times, want 1", seen)
	}
}

func TestCreate_Validation(t *testing.T) {
	m, _ := newTestManager(t)

	err := m.Create("bad name", "", []store.ProfileEntry{{Name: "w", Command: "x"}})
	if !errors.Is(err, worker.ErrBadInput) {
		t.Errorf("bad profile name: got %v, want ErrBadInput", err)
	}
	err = m.Create("ok", "", nil)
	if !errors.Is(err, worker.ErrBadInput) {
		t.Errorf("empty entries: got %v, want ErrBadInput", err)
	}
	err = m.Create("ok", "", []store.ProfileEntry{{Name: "w", Command: ""}})
	if !errors.Is(err, worker.ErrBadInput) {
		t.Errorf("entry without command: got %v, want ErrBadInput", err)
	}
	err = m.Create("core", "", []store.ProfileEntry{{Name: "w", Command: "x"}})
	if !errors.Is(err, worker.ErrConflict) {
		t.Errorf("built-in name: got %v, want ErrConflict", err)
	}
}

func TestDelete_ProtectsBuiltins(t *testing.T) {
	m, _ := newTestManager(t)
	if err := m.Delete("core"); !errors.Is(err, worker.ErrProtected) {
		t.Errorf("Delete(built-in) = %v, want ErrProtected", err)
	}
	if err := m.Delete("nope"); !errors.Is(err, worker.ErrNotFound) {
		t.Errorf("Delete(missing) = %v, want ErrNotFound", err)
	}

	if err := m.Create("mine", "", []store.ProfileEntry{{Name: "w", Command: "x"}}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := m.Delete("mine"); err != nil {
		t.Errorf("Delete(user bundle) = %v", err)
	}
	if _, found, _ := m.Get("mine"); found {
		t.Error("bundle still resolvable after delete")
	}
}
