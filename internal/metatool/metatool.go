// Package metatool registers the supervisor's control surface as MCP
// tools on a session-scoped tool server. Every handler is a synchronous
// request/response against the shared supervisor; failures come back as
// error-flagged tool results, never as protocol errors.
package metatool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/mcpswarm/mcpswarm/internal/catalog"
	"github.com/mcpswarm/mcpswarm/internal/profile"
	"github.com/mcpswarm/mcpswarm/internal/store"
	"github.com/mcpswarm/mcpswarm/internal/supervisor"
)

// Deps are the shared singletons every session's tool server binds to.
type Deps struct {
	Sup      *supervisor.Supervisor
	Store    *store.Store
	Profiles *profile.Manager
	Catalog  *catalog.Searcher
}

// registry carries the per-session binding: the shared deps plus the
// owning session id, threaded into call_tool for stateful routing.
type registry struct {
	Deps
	sessionID string
}

// handler is the internal tool shape. A returned *mcp.CallToolResult is
// passed through verbatim (worker results); anything else is JSON
// encoded into a text result.
type handler func(ctx context.Context, args map[string]any) (any, error)

// Register adds all fifteen meta-tools to srv. sessionID may be empty
// (stdio mode), in which case stateful bases lose per-session isolation
// and route through the pool queue like everything else.
func Register(srv *mcpserver.MCPServer, deps Deps, sessionID string) {
	r := &registry{Deps: deps, sessionID: sessionID}

	r.add(srv, "discover",
		"Search public MCP server catalogs for workers matching a query.",
		discoverSchema, r.discover)
	r.add(srv, "declare_worker",
		"Declare and start a worker. Replaces any existing worker with the same name; the config is persisted once the worker connects.",
		declareWorkerSchema, r.declareWorker)
	r.add(srv, "remove_worker",
		"Stop a worker if running and remove its persisted config.",
		nameOnlySchema, r.removeWorker)
	r.add(srv, "list_workers",
		"List live worker instances plus persisted workers that are not running.",
		emptySchema, r.listWorkers)
	r.add(srv, "stop_worker",
		"Stop a running worker. Its persisted config is kept.",
		nameOnlySchema, r.stopWorker)
	r.add(srv, "start_worker",
		"Start a worker from its persisted config.",
		nameOnlySchema, r.startWorker)
	r.add(srv, "reset_worker",
		"Restart a worker, or start it fresh from its persisted config if it is not running.",
		nameOnlySchema, r.resetWorker)
	r.add(srv, "update_worker",
		"Update a worker's persisted config. Only provided fields change; a running worker is restarted with the new config.",
		updateWorkerSchema, r.updateWorker)
	r.add(srv, "list_tools",
		"Without a server name: a one-line tool summary per worker. With one: the full tool schemas of that worker.",
		listToolsSchema, r.listTools)
	r.add(srv, "call_tool",
		"Invoke a tool on a worker. The call is admitted through the worker's pool queue, or routed to this session's dedicated instance for stateful workers.",
		callToolSchema, r.callTool)
	r.add(srv, "list_profiles",
		"List profile bundles: built-ins plus user-defined.",
		emptySchema, r.listProfiles)
	r.add(srv, "activate_profile",
		"Declare and persist every worker in a profile bundle. Workers already connected are left alone.",
		nameOnlySchema, r.activateProfile)
	r.add(srv, "deactivate_profile",
		"Stop every running worker of a profile bundle. Persisted configs are kept.",
		nameOnlySchema, r.deactivateProfile)
	r.add(srv, "create_profile",
		"Create a user-defined profile bundle. Built-in names cannot be overwritten.",
		createProfileSchema, r.createProfile)
	r.add(srv, "delete_profile",
		"Delete a user-defined profile bundle. Built-ins are protected.",
		nameOnlySchema, r.deleteProfile)
}

func (r *registry) add(srv *mcpserver.MCPServer, name, description, schema string, h handler) {
	tool := mcp.NewToolWithRawSchema(name, description, json.RawMessage(schema))
	srv.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := request.GetArguments()
		if args == nil {
			args = map[string]any{}
		}
		result, err := h(ctx, args)
		if err != nil {
			return errorResult(err), nil
		}
		if passthrough, ok := result.(*mcp.CallToolResult); ok {
			return passthrough, nil
		}
		payload, merr := json.MarshalIndent(result, "", "  ")
		if merr != nil {
			return errorResult(fmt.Errorf("encode result: %w", merr)), nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{mcp.NewTextContent(string(payload))},
		}, nil
	})
}

func errorResult(err error) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(err.Error())},
		IsError: true,
	}
}

// ── argument extraction ─────────────────────────────────────────────────────

func stringArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

func intArg(args map[string]any, key string, def int) int {
	if v, ok := args[key].(float64); ok {
		return int(v)
	}
	return def
}

// boolArg distinguishes absent from false so callers can apply defaults
// only when the field was not provided.
func boolArg(args map[string]any, key string) (value, present bool) {
	v, ok := args[key].(bool)
	return v, ok
}

func stringSliceArg(args map[string]any, key string) []string {
	raw, ok := args[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func stringMapArg(args map[string]any, key string) map[string]string {
	raw, ok := args[key].(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}

func mapArg(args map[string]any, key string) map[string]any {
	v, _ := args[key].(map[string]any)
	return v
}
