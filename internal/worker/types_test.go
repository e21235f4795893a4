package worker

import (
	"errors"
	"testing"
)

// ── name validation ────────────────────────────────────────────────────────

func TestValidName_Accepts(t *testing.T) {
	for _, name := range []string{"fetch", "my-worker", "Worker_2", "a"} {
		if !ValidName(name) {
			t.Errorf("ValidName(%q) = false, want true", name)
		}
	}
}

func TestValidName_Rejects(t *testing.T) {
	for _, name := range []string{"", "has space", "slash/y", "pool#1", "sess@abc", "dot.name"} {
		if ValidName(name) {
			t.Errorf("ValidName(%q) = true, want false", name)
		}
	}
}

// ── config validation ──────────────────────────────────────────────────────

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		desc    string
		cfg     Config
		wantErr bool
	}{
		{"local with command", Config{Name: "fs", Transport: TransportLocal, Command: "npx"}, false},
		{"local without command", Config{Name: "fs", Transport: TransportLocal}, true},
		{"sse with url", Config{Name: "r", Transport: TransportSSE, URL: "http://127.0.0.1:9000/sse"}, false},
		{"sse without url", Config{Name: "r", Transport: TransportSSE}, true},
		{"streamable with url", Config{Name: "r", Transport: TransportStreamableHTTP, URL: "http://127.0.0.1:9000/mcp"}, false},
		{"unknown transport", Config{Name: "r", Transport: "carrier-pigeon", Command: "x"}, true},
		{"bad name", Config{Name: "bad name", Transport: TransportLocal, Command: "x"}, true},
	}
	for _, tc := range tests {
		err := tc.cfg.Validate()
		if (err != nil) != tc.wantErr {
			t.Errorf("%s: Validate() = %v, wantErr %v", tc.desc, err, tc.wantErr)
		}
		if err != nil && !errors.Is(err, ErrBadInput) {
			t.Errorf("%s: error does not wrap ErrBadInput: %v", tc.desc, err)
		}
	}
}

func TestConfigClone_Independent(t *testing.T) {
	orig := Config{
		Name:      "w",
		Transport: TransportLocal,
		Command:   "npx",
		Args:      []string{"-y", "pkg"},
		Env:       map[string]string{"A": "1"},
		Headers:   map[string]string{"X": "y"},
	}
	clone := orig.Clone()
	clone.Args = append(clone.Args, "--extra")
	clone.Args[0] = "changed"
	clone.Env["A"] = "2"
	clone.Headers["X"] = "z"

	if orig.Args[0] != "-y" || len(orig.Args) != 2 {
		t.Errorf("clone mutated original args: %v", orig.Args)
	}
	if orig.Env["A"] != "1" {
		t.Errorf("clone mutated original env: %v", orig.Env)
	}
	if orig.Headers["X"] != "y" {
		t.Errorf("clone mutated original headers: %v", orig.Headers)
	}
}
