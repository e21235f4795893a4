// Package profile manages named bundles of worker definitions. Bundles
// come from two sources: read-only built-ins compiled into the binary
// from a YAML descriptor, and user-defined bundles persisted in the
// store. Built-ins shadow same-named user bundles; user bundles can
// never overwrite a built-in name.
package profile

import (
	_ "embed"
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/mcpswarm/mcpswarm/internal/store"
	"github.com/mcpswarm/mcpswarm/internal/worker"
)

//go:embed builtins.yaml
var builtinsYAML []byte

// Bundle is a resolved profile: a named group of worker definitions.
type Bundle struct {
	Name        string               `json:"name"`
	Description string               `json:"description,omitempty"`
	Entries     []store.ProfileEntry `json:"entries"`
	BuiltIn     bool                 `json:"built_in"`
}

// descriptor mirrors builtins.yaml.
type descriptor struct {
	Profiles []struct {
		Name        string `yaml:"name"`
		Description string `yaml:"description"`
		Entries     []struct {
			Name        string            `yaml:"name"`
			Command     string            `yaml:"command"`
			Args        []string          `yaml:"args"`
			Env         map[string]string `yaml:"env"`
			Description string            `yaml:"description"`
		} `yaml:"entries"`
	} `yaml:"profiles"`
}

// Manager resolves bundles against the built-in set and the store.
type Manager struct {
	st *store.Store

	mu       sync.RWMutex
	builtins []Bundle // descriptor order
	byName   map[string]Bundle
}

// NewManager parses the embedded descriptor and wires the store for
// user-defined bundles.
func NewManager(st *store.Store) (*Manager, error) {
	var desc descriptor
	if err := yaml.Unmarshal(builtinsYAML, &desc); err != nil {
		return nil, fmt.Errorf("profile: parse built-in descriptor: %w", err)
	}

	m := &Manager{st: st, byName: make(map[string]Bundle)}
	for _, p := range desc.Profiles {
		b := Bundle{Name: p.Name, Description: p.Description, BuiltIn: true}
		for _, e := range p.Entries {
			b.Entries = append(b.Entries, store.ProfileEntry{
				Name:        e.Name,
				Command:     e.Command,
				Args:        e.Args,
				Env:         e.Env,
				Description: e.Description,
			})
		}
		m.builtins = append(m.builtins, b)
		m.byName[b.Name] = b
	}
	return m, nil
}

// List returns built-ins first (descriptor order), then user bundles
// sorted by name, with user bundles shadowed by a built-in name omitted.
func (m *Manager) List() ([]Bundle, error) {
	m.mu.RLock()
	out := make([]Bundle, len(m.builtins))
	copy(out, m.builtins)
	m.mu.RUnlock()

	records, err := m.st.ListProfiles()
	if err != nil {
		return nil, err
	}
	for _, r := range records {
		if m.isBuiltIn(r.Name) {
			continue // built-in shadows the user bundle
		}
		out = append(out, Bundle{
			Name:        r.Name,
			Description: r.Description,
			Entries:     r.Entries,
		})
	}
	return out, nil
}

// Get resolves one bundle, built-ins taking precedence.
func (m *Manager) Get(name string) (Bundle, bool, error) {
	m.mu.RLock()
	b, ok := m.byName[name]
	m.mu.RUnlock()
	if ok {
		return b, true, nil
	}
	r, found, err := m.st.GetProfile(name)
	if err != nil || !found {
		return Bundle{}, false, err
	}
	return Bundle{Name: r.Name, Description: r.Description, Entries: r.Entries}, true, nil
}

// Create persists a user bundle. Fails with worker.ErrConflict when the
// name belongs to a built-in, worker.ErrBadInput on a malformed name or
// an empty entry list.
func (m *Manager) Create(name, description string, entries []store.ProfileEntry) error {
	if !worker.ValidName(name) {
		return fmt.Errorf("%w: invalid profile name %q", worker.ErrBadInput, name)
	}
	if len(entries) == 0 {
		return fmt.Errorf("%w: profile %q has no entries", worker.ErrBadInput, name)
	}
	for _, e := range entries {
		if !worker.ValidName(e.Name) {
			return fmt.Errorf("%w: invalid entry name %q in profile %q", worker.ErrBadInput, e.Name, name)
		}
		if e.Command == "" {
			return fmt.Errorf("%w: entry %q in profile %q has no command", worker.ErrBadInput, e.Name, name)
		}
	}
	if m.isBuiltIn(name) {
		return fmt.Errorf("%w: %q is a built-in profile", worker.ErrConflict, name)
	}
	return m.st.SaveProfile(store.ProfileRecord{
		Name:        name,
		Description: description,
		Entries:     entries,
	})
}

// Delete removes a user bundle. Built-ins are protected.
func (m *Manager) Delete(name string) error {
	if m.isBuiltIn(name) {
		return fmt.Errorf("%w: %q is a built-in profile", worker.ErrProtected, name)
	}
	existed, err := m.st.DeleteProfile(name)
	if err != nil {
		return err
	}
	if !existed {
		return fmt.Errorf("%w: profile %q", worker.ErrNotFound, name)
	}
	return nil
}

func (m *Manager) isBuiltIn(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.byName[name]
	return ok
}
