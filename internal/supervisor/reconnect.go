package supervisor

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/mcpswarm/mcpswarm/internal/worker"
)

const (
	reconnectBaseDelay   = 2 * time.Second
	reconnectMaxAttempts = 3
)

// permanentMarkers are case-insensitive stderr substrings that mean the
// worker can never start (missing package, bad command). Seeing one skips
// reconnect entirely.
var permanentMarkers = []string{
	"e404",
	"not found",
	"enoent",
	"command not found",
	"not in this registry",
}

// reconnectDelay is the backoff before attempt number attempts+1:
// base × 2^attempts.
func reconnectDelay(attempts int) time.Duration {
	return reconnectBaseDelay << uint(attempts)
}

// permanentFailure scans a stderr tail for permanent-failure markers.
func permanentFailure(tail []string) bool {
	for _, line := range tail {
		lower := strings.ToLower(line)
		for _, marker := range permanentMarkers {
			if strings.Contains(lower, marker) {
				return true
			}
		}
	}
	return false
}

// onTransportClosed handles an instance whose transport died outside of
// an explicit stop. Invoked by the worker client's closed callback and by
// transport-level call failures.
func (s *Supervisor) onTransportClosed(name string) {
	s.mu.Lock()
	inst, ok := s.instances[name]
	if !ok || inst.State != StateConnected {
		s.mu.Unlock()
		return
	}
	cli := inst.Client
	s.mu.Unlock()

	// Scaled instances are disposable: drop them and let the queue
	// re-scale if load persists.
	if inst.SessionID == "" && isDerived(name) {
		log.Printf("[Supervisor] Scaled instance %s lost its transport, removing", name)
		s.stopInstance(name)
		return
	}

	s.q.UnregisterInstance(inst.BaseName, name)

	var tail []string
	if cli != nil {
		tail = cli.StderrTail()
		go func() { _ = cli.Close() }()
	}
	s.failInstance(inst, "transport closed", tail)
}

// maybeScheduleReconnect arms the exponential-backoff timer for a primary
// in the error state: delay = base × 2^attempts, capped at
// reconnectMaxAttempts. Derived instances never reconnect — session-owned
// lifecycles are tied to their session and scaled copies are recreated by
// the queue on demand.
func (s *Supervisor) maybeScheduleReconnect(name string) {
	if isDerived(name) {
		return
	}
	if s.paused.Load() {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[name]
	if !ok || inst.State != StateError {
		return
	}
	if inst.ReconnectCount >= reconnectMaxAttempts {
		log.Printf("[Supervisor] %s exhausted %d reconnect attempts, staying in error state",
			name, reconnectMaxAttempts)
		return
	}
	if _, pending := s.timers[name]; pending {
		return
	}

	delay := reconnectDelay(inst.ReconnectCount)
	log.Printf("[Supervisor] Reconnecting %s in %v (attempt %d/%d)",
		name, delay, inst.ReconnectCount+1, reconnectMaxAttempts)
	s.timers[name] = time.AfterFunc(delay, func() { s.attemptReconnect(name) })
}

// attemptReconnect runs one reconnect attempt under the base mutex. On
// success the counter resets to zero; on failure the counter is carried
// forward so the next round continues the backoff where it left off.
func (s *Supervisor) attemptReconnect(name string) {
	unlock := s.lockBase(name)
	defer unlock()

	s.mu.Lock()
	delete(s.timers, name)
	inst, ok := s.instances[name]
	if !ok || inst.State != StateError {
		s.mu.Unlock()
		return
	}
	inst.ReconnectCount++
	attempt := inst.ReconnectCount
	s.mu.Unlock()

	log.Printf("[Supervisor] Reconnect attempt %d for %s", attempt, name)
	ctx, cancel := context.WithTimeout(context.Background(), worker.ConnectTimeout)
	defer cancel()
	if err := s.spawn(ctx, inst); err != nil {
		// spawn restored the error state and, unless the failure was
		// permanent or attempts ran out, scheduled the next try.
		log.Printf("[Supervisor] Reconnect attempt %d for %s failed: %v", attempt, name, err)
		return
	}
}

// refreshTools re-fetches the tool list after a tools-changed
// notification and overwrites the cache.
func (s *Supervisor) refreshTools(name string) {
	s.mu.Lock()
	inst, ok := s.instances[name]
	var cli worker.Client
	if ok {
		cli = inst.Client
	}
	s.mu.Unlock()
	if !ok || cli == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.HealthTimeout)
	defer cancel()
	tools, err := cli.ListTools(ctx)
	if err != nil {
		log.Printf("[Supervisor] Tool refresh for %q failed: %v", name, err)
		return
	}

	s.mu.Lock()
	if cur, ok := s.instances[name]; ok && cur == inst {
		cur.Tools = tools
	}
	s.mu.Unlock()
	s.publishState(name, StateConnected, "tools_updated")
	log.Printf("[Supervisor] Tool list for %s updated (%d tool(s))", name, len(tools))
}
