// Package catalog implements best-effort discovery of installable MCP
// workers across public registries. Up to three upstream catalogs are
// queried in parallel, each under its own deadline; per-source failures
// are swallowed — a registry outage degrades the result set, it never
// fails the discover call.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	npmSearchURL     = "https://registry.npmjs.org/-/v1/search"
	mcpRegistryURL   = "https://registry.modelcontextprotocol.io/v0/servers"
	smitheryURL      = "https://registry.smithery.ai/servers"
	sourceTimeout    = 8 * time.Second
	perSourceResults = 15
	defaultLimit     = 10
	discoverMaxBody  = 5 << 20 // 5MB response limit per source
)

// Result is one discovered catalog entry.
type Result struct {
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Install     string  `json:"install,omitempty"` // installable identifier, when known
	Source      string  `json:"source"`
	Popularity  float64 `json:"popularity,omitempty"`
}

type source func(ctx context.Context, client *http.Client, query string) ([]Result, error)

// Searcher fans a discovery query out to the upstream catalogs.
type Searcher struct {
	client  *http.Client // dedicated client to avoid shared http.DefaultClient
	sources []source
}

// NewSearcher creates a Searcher over the three public registries.
func NewSearcher() *Searcher {
	s := &Searcher{client: &http.Client{}}
	s.sources = []source{s.searchNPM, s.searchMCPRegistry, s.searchSmithery}
	return s
}

// Discover queries every source in parallel, deduplicates by normalized
// name (entries with an installable identifier win), sorts installable
// entries first then by popularity descending, and returns at most limit
// results.
func (s *Searcher) Discover(ctx context.Context, query string, limit int) []Result {
	if limit <= 0 {
		limit = defaultLimit
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []Result
	)
	for _, src := range s.sources {
		wg.Add(1)
		go func(src source) {
			defer wg.Done()
			srcCtx, cancel := context.WithTimeout(ctx, sourceTimeout)
			defer cancel()
			found, err := src(srcCtx, s.client, query)
			if err != nil {
				return // best effort: a dead registry just contributes nothing
			}
			mu.Lock()
			results = append(results, found...)
			mu.Unlock()
		}(src)
	}
	wg.Wait()

	deduped := dedupe(results)
	sort.SliceStable(deduped, func(i, j int) bool {
		ii, ji := deduped[i].Install != "", deduped[j].Install != ""
		if ii != ji {
			return ii
		}
		return deduped[i].Popularity > deduped[j].Popularity
	})
	if len(deduped) > limit {
		deduped = deduped[:limit]
	}
	return deduped
}

// dedupe collapses results that normalize to the same name, preferring
// the entry that carries an installable identifier.
func dedupe(results []Result) []Result {
	seen := make(map[string]int)
	var out []Result
	for _, r := range results {
		key := normalizeName(r.Name)
		if key == "" {
			continue
		}
		if i, ok := seen[key]; ok {
			if out[i].Install == "" && r.Install != "" {
				out[i] = r
			}
			continue
		}
		seen[key] = len(out)
		out = append(out, r)
	}
	return out
}

// normalizeName strips scope and registry prefixes ("@scope/pkg",
// "io.github.owner/server"), lowercases, and drops non-alphanumerics so
// the same server listed by several registries collapses to one entry.
func normalizeName(name string) string {
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// getJSON performs one bounded GET and decodes the JSON body into dst.
func getJSON(ctx context.Context, client *http.Client, rawURL string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("catalog: %s returned %s", rawURL, resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, discoverMaxBody))
	if err != nil {
		return err
	}
	return json.Unmarshal(body, dst)
}

// searchNPM queries the npm registry's full-text search, biased towards
// MCP servers.
func (s *Searcher) searchNPM(ctx context.Context, client *http.Client, query string) ([]Result, error) {
	q := url.Values{}
	q.Set("text", query+" mcp")
	q.Set("size", fmt.Sprint(perSourceResults))

	var resp struct {
		Objects []struct {
			Package struct {
				Name        string `json:"name"`
				Description string `json:"description"`
			} `json:"package"`
			Score struct {
				Detail struct {
					Popularity float64 `json:"popularity"`
				} `json:"detail"`
			} `json:"score"`
		} `json:"objects"`
	}
	if err := getJSON(ctx, client, npmSearchURL+"?"+q.Encode(), &resp); err != nil {
		return nil, err
	}

	out := make([]Result, 0, len(resp.Objects))
	for _, o := range resp.Objects {
		out = append(out, Result{
			Name:        o.Package.Name,
			Description: o.Package.Description,
			Install:     o.Package.Name, // npm packages are npx-installable
			Source:      "npm",
			Popularity:  o.Score.Detail.Popularity,
		})
	}
	return out, nil
}

// searchMCPRegistry queries the official MCP server registry.
func (s *Searcher) searchMCPRegistry(ctx context.Context, client *http.Client, query string) ([]Result, error) {
	q := url.Values{}
	q.Set("search", query)
	q.Set("limit", fmt.Sprint(perSourceResults))

	var resp struct {
		Servers []struct {
			Name        string `json:"name"`
			Description string `json:"description"`
			Packages    []struct {
				RegistryType string `json:"registry_type"`
				Identifier   string `json:"identifier"`
			} `json:"packages"`
		} `json:"servers"`
	}
	if err := getJSON(ctx, client, mcpRegistryURL+"?"+q.Encode(), &resp); err != nil {
		return nil, err
	}

	out := make([]Result, 0, len(resp.Servers))
	for _, sv := range resp.Servers {
		r := Result{
			Name:        sv.Name,
			Description: sv.Description,
			Source:      "mcp-registry",
		}
		for _, p := range sv.Packages {
			if p.Identifier != "" {
				r.Install = p.Identifier
				break
			}
		}
		out = append(out, r)
	}
	return out, nil
}

// searchSmithery queries the Smithery community registry.
func (s *Searcher) searchSmithery(ctx context.Context, client *http.Client, query string) ([]Result, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("pageSize", fmt.Sprint(perSourceResults))

	var resp struct {
		Servers []struct {
			QualifiedName string  `json:"qualifiedName"`
			DisplayName   string  `json:"displayName"`
			Description   string  `json:"description"`
			UseCount      float64 `json:"useCount"`
		} `json:"servers"`
	}
	if err := getJSON(ctx, client, smitheryURL+"?"+q.Encode(), &resp); err != nil {
		return nil, err
	}

	out := make([]Result, 0, len(resp.Servers))
	for _, sv := range resp.Servers {
		name := sv.QualifiedName
		if name == "" {
			name = sv.DisplayName
		}
		out = append(out, Result{
			Name:        name,
			Description: sv.Description,
			Install:     sv.QualifiedName,
			Source:      "smithery",
			Popularity:  sv.UseCount,
		})
	}
	return out, nil
}
