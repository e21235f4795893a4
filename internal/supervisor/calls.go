package supervisor

import (
	"context"
	"errors"
	"fmt"

	sdk_mcp "github.com/mark3labs/mcp-go/mcp"

	"github.com/mcpswarm/mcpswarm/internal/bus"
	"github.com/mcpswarm/mcpswarm/internal/worker"
)

// Call invokes a tool directly on a named instance, bypassing the
// admission queue. Fails when the target is absent or not connected.
func (s *Supervisor) Call(ctx context.Context, name, tool string, args map[string]any) (*sdk_mcp.CallToolResult, error) {
	s.mu.Lock()
	inst, ok := s.instances[name]
	var cli worker.Client
	var state State
	if ok {
		cli = inst.Client
		state = inst.State
	}
	s.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("%w: worker %q", worker.ErrNotFound, name)
	}
	if state != StateConnected || cli == nil {
		return nil, fmt.Errorf("%w: worker %q is %s", worker.ErrNotConnected, name, state)
	}

	inst.callMu.Lock()
	defer inst.callMu.Unlock()
	return s.invoke(ctx, name, cli, tool, args)
}

// CallQueued is the concurrency-aware entry point used by the meta-tools.
// Stateful bases called with a session id route to that session's
// dedicated instance; everything else goes through the admission queue in
// FIFO order.
func (s *Supervisor) CallQueued(ctx context.Context, base, tool string, args map[string]any, sessionID string) (*sdk_mcp.CallToolResult, error) {
	s.mu.Lock()
	primary, ok := s.instances[base]
	stateful := ok && primary.Config.Stateful
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: worker %q", worker.ErrNotFound, base)
	}

	s.bus.Publish(bus.ToolCall, map[string]any{"worker": base, "tool": tool, "session": sessionID})

	var (
		result *sdk_mcp.CallToolResult
		err    error
	)
	if sessionID != "" && stateful {
		result, err = s.callSessionInstance(ctx, sessionID, base, tool, args)
	} else {
		result, err = s.q.Submit(ctx, base, tool, args)
	}

	data := map[string]any{"worker": base, "tool": tool, "ok": err == nil}
	if err != nil {
		data["error"] = err.Error()
	}
	s.bus.Publish(bus.ToolResult, data)
	return result, err
}

// execute is the admission queue's dispatch callback: one tool call on a
// specific pool instance.
func (s *Supervisor) execute(ctx context.Context, internalName, tool string, args map[string]any) (*sdk_mcp.CallToolResult, error) {
	s.mu.Lock()
	inst, ok := s.instances[internalName]
	var cli worker.Client
	var state State
	if ok {
		cli = inst.Client
		state = inst.State
	}
	s.mu.Unlock()

	if !ok || state != StateConnected || cli == nil {
		return nil, fmt.Errorf("%w: worker %q", worker.ErrNotConnected, internalName)
	}
	// The busy gate serializes queued calls per instance; the call mutex
	// extends that to direct calls racing on the same instance.
	inst.callMu.Lock()
	defer inst.callMu.Unlock()
	return s.invoke(ctx, internalName, cli, tool, args)
}

// invoke runs one tool call under the configured timeout and classifies
// the failure: a peer-reported error passes through untouched, a timeout
// never poisons the instance, and any other transport failure flips the
// instance into the error path.
func (s *Supervisor) invoke(ctx context.Context, name string, cli worker.Client, tool string, args map[string]any) (*sdk_mcp.CallToolResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.ToolCallTimeout)
	defer cancel()

	result, err := cli.CallTool(callCtx, tool, args)
	if err == nil {
		return result, nil
	}

	var ce *worker.CallError
	if errors.As(err, &ce) {
		// The worker itself is healthy; it just reported a tool failure.
		return result, err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w: tool %q on %q after %s", worker.ErrTimeout, tool, name, s.cfg.ToolCallTimeout)
	}
	if errors.Is(err, context.Canceled) {
		return nil, fmt.Errorf("%w: tool %q on %q", worker.ErrCancelled, tool, name)
	}

	go s.onTransportClosed(name)
	return nil, err
}
