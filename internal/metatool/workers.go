package metatool

import (
	"context"
	"fmt"
	"log"

	"github.com/mcpswarm/mcpswarm/internal/config"
	"github.com/mcpswarm/mcpswarm/internal/supervisor"
	"github.com/mcpswarm/mcpswarm/internal/util"
	"github.com/mcpswarm/mcpswarm/internal/worker"
)

// previewMaxRunes caps the tool-name preview in the list_tools summary.
const previewMaxRunes = 120

// configFromArgs builds a worker config from declare_worker arguments.
// The stateful flag defaults from the well-known name set when absent.
func configFromArgs(args map[string]any) worker.Config {
	cfg := worker.Config{
		Name:        stringArg(args, "name"),
		Transport:   worker.Transport(stringArg(args, "transport")),
		Command:     stringArg(args, "command"),
		Args:        stringSliceArg(args, "args"),
		Env:         stringMapArg(args, "env"),
		URL:         stringArg(args, "url"),
		Headers:     stringMapArg(args, "headers"),
		Description: stringArg(args, "description"),
	}
	if cfg.Transport == "" {
		cfg.Transport = worker.TransportLocal
	}
	if v, present := boolArg(args, "stateful"); present {
		cfg.Stateful = v
	} else {
		cfg.Stateful = config.StatefulNames[cfg.Name]
	}
	return cfg
}

func (r *registry) declareWorker(ctx context.Context, args map[string]any) (any, error) {
	cfg := configFromArgs(args)
	snap, err := r.Sup.Declare(ctx, cfg)
	if err != nil {
		return nil, err
	}
	// Persist only once the worker actually connected, so a typo'd
	// command does not survive a restart.
	if err := r.Store.SaveWorker(cfg); err != nil {
		log.Printf("[MetaTool] Persist worker %q: %v", cfg.Name, err)
	}
	return snap, nil
}

func (r *registry) removeWorker(_ context.Context, args map[string]any) (any, error) {
	name := stringArg(args, "name")
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", worker.ErrBadInput)
	}

	_, live := r.Sup.Get(name)
	_, persisted, err := r.Store.GetWorker(name)
	if err != nil {
		return nil, err
	}
	if !live && !persisted {
		return nil, fmt.Errorf("%w: worker %q", worker.ErrNotFound, name)
	}

	if live {
		if err := r.Sup.Stop(name); err != nil {
			return nil, err
		}
	}
	if err := r.Store.DeleteWorker(name); err != nil {
		return nil, err
	}
	return map[string]any{"removed": name, "was_running": live}, nil
}

func (r *registry) listWorkers(_ context.Context, args map[string]any) (any, error) {
	live := r.Sup.List()
	persisted, err := r.Store.ListWorkers()
	if err != nil {
		return nil, err
	}

	running := make(map[string]bool, len(live))
	for _, snap := range live {
		running[snap.BaseName] = true
	}

	type stoppedWorker struct {
		Name        string           `json:"name"`
		Transport   worker.Transport `json:"transport"`
		Stateful    bool             `json:"stateful"`
		Description string           `json:"description,omitempty"`
	}
	var stopped []stoppedWorker
	for _, cfg := range persisted {
		if running[cfg.Name] {
			continue
		}
		stopped = append(stopped, stoppedWorker{
			Name:        cfg.Name,
			Transport:   cfg.Transport,
			Stateful:    cfg.Stateful,
			Description: cfg.Description,
		})
	}

	return map[string]any{"live": live, "stopped": stopped}, nil
}

func (r *registry) stopWorker(_ context.Context, args map[string]any) (any, error) {
	name := stringArg(args, "name")
	if _, live := r.Sup.Get(name); !live {
		return nil, fmt.Errorf("%w: worker %q", worker.ErrNotRunning, name)
	}
	if err := r.Sup.Stop(name); err != nil {
		return nil, err
	}
	return map[string]any{"stopped": name}, nil
}

func (r *registry) startWorker(ctx context.Context, args map[string]any) (any, error) {
	name := stringArg(args, "name")
	if _, live := r.Sup.Get(name); live {
		return nil, fmt.Errorf("%w: worker %q", worker.ErrAlreadyRunning, name)
	}
	cfg, found, err := r.Store.GetWorker(name)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: worker %q", worker.ErrNotFound, name)
	}
	return r.Sup.Declare(ctx, cfg)
}

func (r *registry) resetWorker(ctx context.Context, args map[string]any) (any, error) {
	name := stringArg(args, "name")
	if _, live := r.Sup.Get(name); live {
		return r.Sup.Restart(ctx, name)
	}
	// Not running: treat reset as a fresh start from persisted config.
	cfg, found, err := r.Store.GetWorker(name)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: worker %q", worker.ErrNotFound, name)
	}
	return r.Sup.Declare(ctx, cfg)
}

func (r *registry) updateWorker(ctx context.Context, args map[string]any) (any, error) {
	name := stringArg(args, "name")
	cfg, found, err := r.Store.GetWorker(name)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: worker %q", worker.ErrNotFound, name)
	}

	// Only fields present in the request change.
	if _, ok := args["transport"]; ok {
		cfg.Transport = worker.Transport(stringArg(args, "transport"))
	}
	if _, ok := args["command"]; ok {
		cfg.Command = stringArg(args, "command")
	}
	if _, ok := args["args"]; ok {
		cfg.Args = stringSliceArg(args, "args")
	}
	if _, ok := args["env"]; ok {
		cfg.Env = stringMapArg(args, "env")
	}
	if _, ok := args["url"]; ok {
		cfg.URL = stringArg(args, "url")
	}
	if _, ok := args["headers"]; ok {
		cfg.Headers = stringMapArg(args, "headers")
	}
	if _, ok := args["description"]; ok {
		cfg.Description = stringArg(args, "description")
	}
	if v, present := boolArg(args, "stateful"); present {
		cfg.Stateful = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := r.Store.SaveWorker(cfg); err != nil {
		return nil, err
	}

	if _, live := r.Sup.Get(name); live {
		return r.Sup.Declare(ctx, cfg) // replaces the running instance
	}
	return map[string]any{"updated": name, "running": false}, nil
}

func (r *registry) listTools(_ context.Context, args map[string]any) (any, error) {
	base := stringArg(args, "server")
	if base != "" {
		snap, ok := r.Sup.Get(base)
		if !ok {
			return nil, fmt.Errorf("%w: worker %q", worker.ErrNotFound, base)
		}
		return map[string]any{"server": base, "state": snap.State, "tools": snap.Tools}, nil
	}

	type summary struct {
		Server  string           `json:"server"`
		State   supervisor.State `json:"state"`
		Tools   int              `json:"tools"`
		Preview string           `json:"preview,omitempty"`
	}
	var out []summary
	for _, snap := range r.Sup.List() {
		if snap.Index != 0 {
			continue // one line per base, not per pool member
		}
		names := make([]string, 0, len(snap.Tools))
		for _, t := range snap.Tools {
			names = append(names, t.Name)
		}
		out = append(out, summary{
			Server:  snap.BaseName,
			State:   snap.State,
			Tools:   len(snap.Tools),
			Preview: util.PreviewList(names, previewMaxRunes),
		})
	}
	return out, nil
}

func (r *registry) callTool(ctx context.Context, args map[string]any) (any, error) {
	server := stringArg(args, "server")
	tool := stringArg(args, "tool")
	if server == "" || tool == "" {
		return nil, fmt.Errorf("%w: server and tool are required", worker.ErrBadInput)
	}

	result, err := r.Sup.CallQueued(ctx, server, tool, mapArg(args, "args"), r.sessionID)
	if err != nil {
		// A peer-reported tool failure already carries a well-formed
		// error result; pass it through instead of re-wrapping.
		if result != nil {
			return result, nil
		}
		return nil, err
	}
	return result, nil
}
