package supervisor

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	sdk_mcp "github.com/mark3labs/mcp-go/mcp"

	"github.com/mcpswarm/mcpswarm/internal/worker"
)

// sessionPrefixLen is how much of the session id ends up in the internal
// instance name.
const sessionPrefixLen = 8

func sessionInstanceName(base, sessionID string) string {
	prefix := sessionID
	if len(prefix) > sessionPrefixLen {
		prefix = prefix[:sessionPrefixLen]
	}
	return base + sessionMarker + prefix
}

// callSessionInstance routes a call on a stateful base to the calling
// session's dedicated instance, lazily spawning it on first use. The
// instance is dedicated, so the pool queue is bypassed entirely.
func (s *Supervisor) callSessionInstance(ctx context.Context, sessionID, base, tool string, args map[string]any) (*sdk_mcp.CallToolResult, error) {
	// Fast path: the session already owns a live instance.
	if inst, ok := s.liveSessionInstance(sessionID, base); ok {
		return s.callDirect(ctx, inst, tool, args)
	}

	unlock := s.lockSession(sessionID, base)
	defer unlock()

	// Re-check under the spawn mutex: a concurrent call may have won.
	if inst, ok := s.liveSessionInstance(sessionID, base); ok {
		return s.callDirect(ctx, inst, tool, args)
	}

	s.mu.Lock()
	primary, ok := s.instances[base]
	var cfg worker.Config
	if ok {
		cfg = primary.Config.Clone()
	}
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: worker %q", worker.ErrNotFound, base)
	}

	internal := sessionInstanceName(base, sessionID)
	s.stopInstance(internal) // clear any stale (crashed) leftover

	s.mutateSessionLaunch(&cfg, sessionID)
	inst := &Instance{
		InternalName: internal,
		BaseName:     base,
		Index:        -1,
		Config:       cfg,
		SessionID:    sessionID,
	}

	log.Printf("[Supervisor] Spawning session instance %s", internal)
	if err := s.spawn(ctx, inst); err != nil {
		s.stopInstance(internal)
		return nil, fmt.Errorf("%w: session instance %q: %v", worker.ErrSpawnFailed, internal, err)
	}

	s.sessMu.Lock()
	owned, ok := s.sessionOwned[sessionID]
	if !ok {
		owned = make(map[string]string)
		s.sessionOwned[sessionID] = owned
	}
	owned[base] = internal
	s.sessMu.Unlock()

	return s.callDirect(ctx, inst, tool, args)
}

// liveSessionInstance resolves the session's mapping to a connected
// instance, if any.
func (s *Supervisor) liveSessionInstance(sessionID, base string) (*Instance, bool) {
	s.sessMu.Lock()
	internal := s.sessionOwned[sessionID][base]
	s.sessMu.Unlock()
	if internal == "" {
		return nil, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[internal]
	if !ok || inst.State != StateConnected || inst.Client == nil {
		return nil, false
	}
	return inst, true
}

func (s *Supervisor) callDirect(ctx context.Context, inst *Instance, tool string, args map[string]any) (*sdk_mcp.CallToolResult, error) {
	s.mu.Lock()
	cli := inst.Client
	state := inst.State
	s.mu.Unlock()
	if state != StateConnected || cli == nil {
		return nil, fmt.Errorf("%w: worker %q is %s", worker.ErrNotConnected, inst.InternalName, state)
	}

	inst.callMu.Lock()
	defer inst.callMu.Unlock()
	return s.invoke(ctx, inst.InternalName, cli, tool, args)
}

// mutateSessionLaunch applies the browser-variant launch mutation to a
// session clone. The heuristic is intentionally coarse: any launch arg
// mentioning playwright gets the isolation sentinel, any mentioning
// puppeteer gets a fresh profile directory that is removed when the
// session ends.
func (s *Supervisor) mutateSessionLaunch(cfg *worker.Config, sessionID string) {
	if cfg.Transport != worker.TransportLocal {
		return
	}
	switch {
	case argsMention(cfg, "playwright"):
		cfg.Args = append(cfg.Args, "--isolated")
	case argsMention(cfg, "puppeteer"):
		dir, err := os.MkdirTemp("", "mcpswarm-profile-")
		if err != nil {
			log.Printf("[Supervisor] Temp profile dir for %q: %v", cfg.Name, err)
			return
		}
		cfg.Args = append(cfg.Args, "--user-data-dir="+dir)
		s.sessMu.Lock()
		s.sessionDirs[sessionID] = append(s.sessionDirs[sessionID], dir)
		s.sessMu.Unlock()
	}
}

func argsMention(cfg *worker.Config, needle string) bool {
	if strings.Contains(cfg.Command, needle) {
		return true
	}
	for _, arg := range cfg.Args {
		if strings.Contains(arg, needle) {
			return true
		}
	}
	return false
}

// ReleaseSession stops every instance owned by a session and removes its
// temp profile directories. Called by the session layer on teardown.
func (s *Supervisor) ReleaseSession(sessionID string) {
	s.sessMu.Lock()
	owned := s.sessionOwned[sessionID]
	dirs := s.sessionDirs[sessionID]
	delete(s.sessionOwned, sessionID)
	delete(s.sessionDirs, sessionID)
	s.sessMu.Unlock()

	for _, internal := range owned {
		s.stopInstance(internal)
	}
	for _, dir := range dirs {
		if err := os.RemoveAll(dir); err != nil {
			log.Printf("[Supervisor] Remove session dir %q: %v", dir, err)
		}
	}

	s.lockMu.Lock()
	for key := range s.sessLocks {
		if strings.HasPrefix(key, sessionID+"|") {
			delete(s.sessLocks, key)
		}
	}
	s.lockMu.Unlock()

	if len(owned) > 0 {
		log.Printf("[Supervisor] Released %d session instance(s) for %s", len(owned), sessionID)
	}
}
