package store

import (
	"path/filepath"
	"testing"

	"github.com/mcpswarm/mcpswarm/internal/worker"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// ── workers ────────────────────────────────────────────────────────────────

func TestSaveWorker_Roundtrip(t *testing.T) {
	s := openTestStore(t)
	in := worker.Config{
		Name:      "fetch",
		Transport: worker.TransportLocal,
		Command:   "npx",
		Args:      []string{"-y", "@modelcontextprotocol/server-fetch"},
		Env:       map[string]string{"DEBUG": "1"},
		Stateful:  false,
	}
	if err := s.SaveWorker(in); err != nil {
		t.Fatalf("SaveWorker: %v", err)
	}

	got, found, err := s.GetWorker("fetch")
	if err != nil || !found {
		t.Fatalf("GetWorker: found=%v err=%v", found, err)
	}
	if got.Command != in.Command || len(got.Args) != 2 || got.Env["DEBUG"] != "1" {
		t.Errorf("roundtrip mismatch: %+v", got)
	}
}

func TestSaveWorker_SkipsDerivedNames(t *testing.T) {
	s := openTestStore(t)
	for _, name := range []string{"fetch#1", "playwright@a1b2c3d4"} {
		if err := s.SaveWorker(worker.Config{Name: name, Transport: worker.TransportLocal, Command: "x"}); err != nil {
			t.Fatalf("SaveWorker(%q): %v", name, err)
		}
		if _, found, _ := s.GetWorker(name); found {
			t.Errorf("derived config %q was persisted", name)
		}
	}
}

func TestListWorkers_SortedByName(t *testing.T) {
	s := openTestStore(t)
	for _, name := range []string{"zeta", "alpha", "mid"} {
		if err := s.SaveWorker(worker.Config{Name: name, Transport: worker.TransportLocal, Command: "x"}); err != nil {
			t.Fatalf("SaveWorker: %v", err)
		}
	}
	list, err := s.ListWorkers()
	if err != nil {
		t.Fatalf("ListWorkers: %v", err)
	}
	if len(list) != 3 || list[0].Name != "alpha" || list[2].Name != "zeta" {
		t.Errorf("ListWorkers order = %v", list)
	}
}

func TestDeleteWorker_UnknownIsNoop(t *testing.T) {
	s := openTestStore(t)
	if err := s.DeleteWorker("ghost"); err != nil {
		t.Errorf("DeleteWorker(unknown): %v", err)
	}
}

// ── process ids ────────────────────────────────────────────────────────────

func TestPIDs_RoundtripAndClear(t *testing.T) {
	s := openTestStore(t)
	if err := s.SavePID("fetch", 4242); err != nil {
		t.Fatalf("SavePID: %v", err)
	}
	if err := s.SavePID("fs#1", 4243); err != nil {
		t.Fatalf("SavePID: %v", err)
	}

	pids, err := s.ListPIDs()
	if err != nil {
		t.Fatalf("ListPIDs: %v", err)
	}
	if pids["fetch"] != 4242 || pids["fs#1"] != 4243 {
		t.Errorf("ListPIDs = %v", pids)
	}

	if err := s.DeletePID("fetch"); err != nil {
		t.Fatalf("DeletePID: %v", err)
	}
	pids, _ = s.ListPIDs()
	if _, ok := pids["fetch"]; ok {
		t.Error("DeletePID left the entry behind")
	}

	if err := s.ClearPIDs(); err != nil {
		t.Fatalf("ClearPIDs: %v", err)
	}
	pids, _ = s.ListPIDs()
	if len(pids) != 0 {
		t.Errorf("ClearPIDs left %v", pids)
	}

	// The bucket must survive the clear.
	if err := s.SavePID("again", 1234); err != nil {
		t.Errorf("SavePID after ClearPIDs: %v", err)
	}
}

// ── profiles ───────────────────────────────────────────────────────────────

func TestProfiles_Roundtrip(t *testing.T) {
	s := openTestStore(t)
	rec := ProfileRecord{
		Name:        "mystack",
		Description: "test bundle",
		Entries: []ProfileEntry{
			{Name: "fetch", Command: "npx", Args: []string{"-y", "server-fetch"}},
		},
	}
	if err := s.SaveProfile(rec); err != nil {
		t.Fatalf("SaveProfile: %v", err)
	}

	got, found, err := s.GetProfile("mystack")
	if err != nil || !found {
		t.Fatalf("GetProfile: found=%v err=%v", found, err)
	}
	if len(got.Entries) != 1 || got.Entries[0].Command != "npx" {
		t.Errorf("profile roundtrip mismatch: %+v", got)
	}

	list, err := s.ListProfiles()
	if err != nil || len(list) != 1 {
		t.Fatalf("ListProfiles: %v (%d)", err, len(list))
	}
}

func TestDeleteProfile_ReportsExistence(t *testing.T) {
	s := openTestStore(t)
	if err := s.SaveProfile(ProfileRecord{Name: "p", Entries: []ProfileEntry{{Name: "w", Command: "x"}}}); err != nil {
		t.Fatalf("SaveProfile: %v", err)
	}

	existed, err := s.DeleteProfile("p")
	if err != nil || !existed {
		t.Errorf("DeleteProfile(existing) = %v, %v", existed, err)
	}
	existed, err = s.DeleteProfile("p")
	if err != nil || existed {
		t.Errorf("DeleteProfile(missing) = %v, %v", existed, err)
	}
}
