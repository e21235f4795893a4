package metatool

import (
	"context"
	"fmt"
	"log"

	"github.com/mcpswarm/mcpswarm/internal/catalog"
	"github.com/mcpswarm/mcpswarm/internal/config"
	"github.com/mcpswarm/mcpswarm/internal/store"
	"github.com/mcpswarm/mcpswarm/internal/supervisor"
	"github.com/mcpswarm/mcpswarm/internal/worker"
)

func (r *registry) discover(ctx context.Context, args map[string]any) (any, error) {
	query := stringArg(args, "query")
	if query == "" {
		return nil, fmt.Errorf("%w: query is required", worker.ErrBadInput)
	}
	results := r.Catalog.Discover(ctx, query, intArg(args, "limit", 0))
	if results == nil {
		results = []catalog.Result{} // empty array, not null
	}
	return results, nil
}

func (r *registry) listProfiles(_ context.Context, _ map[string]any) (any, error) {
	return r.Profiles.List()
}

// activateProfile declares and persists every bundle entry. Entries that
// are already connected are skipped; per-entry failures do not abort the
// rest of the bundle.
func (r *registry) activateProfile(ctx context.Context, args map[string]any) (any, error) {
	name := stringArg(args, "name")
	bundle, found, err := r.Profiles.Get(name)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: profile %q", worker.ErrNotFound, name)
	}

	type entryResult struct {
		Worker string `json:"worker"`
		Status string `json:"status"`
		Error  string `json:"error,omitempty"`
	}
	results := make([]entryResult, 0, len(bundle.Entries))

	for _, e := range bundle.Entries {
		if snap, live := r.Sup.Get(e.Name); live && snap.State == supervisor.StateConnected {
			results = append(results, entryResult{Worker: e.Name, Status: "already_connected"})
			continue
		}

		cfg := worker.Config{
			Name:        e.Name,
			Transport:   worker.TransportLocal,
			Command:     e.Command,
			Args:        e.Args,
			Env:         e.Env,
			Description: e.Description,
			Stateful:    config.StatefulNames[e.Name],
		}
		// Declare replaces any non-connected leftover instance.
		if _, err := r.Sup.Declare(ctx, cfg); err != nil {
			results = append(results, entryResult{Worker: e.Name, Status: "failed", Error: err.Error()})
			continue
		}
		if err := r.Store.SaveWorker(cfg); err != nil {
			log.Printf("[MetaTool] Persist worker %q: %v", cfg.Name, err)
		}
		results = append(results, entryResult{Worker: e.Name, Status: "started"})
	}

	return map[string]any{"profile": name, "workers": results}, nil
}

// deactivateProfile stops every live bundle entry. Persisted configs are
// untouched, so a later activate brings the bundle straight back.
func (r *registry) deactivateProfile(_ context.Context, args map[string]any) (any, error) {
	name := stringArg(args, "name")
	bundle, found, err := r.Profiles.Get(name)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: profile %q", worker.ErrNotFound, name)
	}

	var stopped []string
	for _, e := range bundle.Entries {
		if _, live := r.Sup.Get(e.Name); !live {
			continue
		}
		if err := r.Sup.Stop(e.Name); err != nil {
			log.Printf("[MetaTool] Stop %q: %v", e.Name, err)
			continue
		}
		stopped = append(stopped, e.Name)
	}
	if stopped == nil {
		stopped = []string{}
	}
	return map[string]any{"profile": name, "stopped": stopped}, nil
}

func (r *registry) createProfile(_ context.Context, args map[string]any) (any, error) {
	name := stringArg(args, "name")

	rawEntries, _ := args["entries"].([]any)
	entries := make([]store.ProfileEntry, 0, len(rawEntries))
	for _, raw := range rawEntries {
		m, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: malformed profile entry", worker.ErrBadInput)
		}
		entries = append(entries, store.ProfileEntry{
			Name:        stringArg(m, "name"),
			Command:     stringArg(m, "command"),
			Args:        stringSliceArg(m, "args"),
			Env:         stringMapArg(m, "env"),
			Description: stringArg(m, "description"),
		})
	}

	if err := r.Profiles.Create(name, stringArg(args, "description"), entries); err != nil {
		return nil, err
	}
	return map[string]any{"created": name, "entries": len(entries)}, nil
}

func (r *registry) deleteProfile(_ context.Context, args map[string]any) (any, error) {
	name := stringArg(args, "name")
	if err := r.Profiles.Delete(name); err != nil {
		return nil, err
	}
	return map[string]any{"deleted": name}, nil
}
