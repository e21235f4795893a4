package catalog

import (
	"context"
	"errors"
	"net/http"
	"testing"
)

func TestNormalizeName(t *testing.T) {
	tests := []struct{ in, want string }{
		{"@modelcontextprotocol/server-fetch", "serverfetch"},
		{"io.github.acme/Fetch-MCP", "fetchmcp"},
		{"server_fetch", "serverfetch"},
		{"Server Fetch!", "serverfetch"},
		{"plain", "plain"},
		{"", ""},
		{"@scope/", ""},
	}
	for _, tc := range tests {
		if got := normalizeName(tc.in); got != tc.want {
			t.Errorf("normalizeName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestDedupe_PrefersInstallableEntry(t *testing.T) {
	in := []Result{
		{Name: "io.github.acme/server-fetch", Source: "mcp-registry"},
		{Name: "@acme/server-fetch", Install: "@acme/server-fetch", Source: "npm"},
		{Name: "other", Install: "other", Source: "npm"},
	}
	out := dedupe(in)
	if len(out) != 2 {
		t.Fatalf("dedupe returned %d entries, want 2", len(out))
	}
	if out[0].Install == "" {
		t.Errorf("dedupe kept the non-installable duplicate: %+v", out[0])
	}
	if out[0].Source != "npm" {
		t.Errorf("dedupe winner source = %q, want npm", out[0].Source)
	}
}

func TestDedupe_DropsUnnameableEntries(t *testing.T) {
	out := dedupe([]Result{{Name: "###"}, {Name: "ok", Install: "ok"}})
	if len(out) != 1 || out[0].Name != "ok" {
		t.Errorf("dedupe = %+v", out)
	}
}

func fakeSource(results []Result, err error) source {
	return func(context.Context, *http.Client, string) ([]Result, error) {
		return results, err
	}
}

func TestDiscover_MergesAndSorts(t *testing.T) {
	s := NewSearcher()
	s.sources = []source{
		fakeSource([]Result{
			{Name: "popular", Install: "popular", Popularity: 0.9},
			{Name: "no-install", Popularity: 1.0},
		}, nil),
		fakeSource([]Result{
			{Name: "niche", Install: "niche", Popularity: 0.1},
		}, nil),
	}

	got := s.Discover(context.Background(), "anything", 10)
	if len(got) != 3 {
		t.Fatalf("Discover returned %d results, want 3", len(got))
	}
	// Installable entries first, by popularity; non-installable last.
	if got[0].Name != "popular" || got[1].Name != "niche" || got[2].Name != "no-install" {
		t.Errorf("sort order = [%s %s %s]", got[0].Name, got[1].Name, got[2].Name)
	}
}

func TestDiscover_SwallowsSourceFailures(t *testing.T) {
	s := NewSearcher()
	s.sources = []source{
		fakeSource(nil, errors.New("registry down")),
		fakeSource([]Result{{Name: "survivor", Install: "survivor"}}, nil),
	}

	got := s.Discover(context.Background(), "anything", 10)
	if len(got) != 1 || got[0].Name != "survivor" {
		t.Errorf("Discover = %+v, want the surviving source's result", got)
	}
}

func TestDiscover_AppliesLimit(t *testing.T) {
	var many []Result
	for i := 0; i < 20; i++ {
		many = append(many, Result{Name: string(rune('a'+i)) + "-pkg", Install: "x", Popularity: float64(i)})
	}
	s := NewSearcher()
	s.sources = []source{fakeSource(many, nil)}

	if got := s.Discover(context.Background(), "q", 5); len(got) != 5 {
		t.Errorf("Discover with limit 5 returned %d", len(got))
	}
	// Zero limit falls back to the default.
	if got := s.Discover(context.Background(), "q", 0); len(got) != defaultLimit {
		t.Errorf("Discover with limit 0 returned %d, want %d", len(got), defaultLimit)
	}
}
