package supervisor

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/mcpswarm/mcpswarm/internal/bus"
	"github.com/mcpswarm/mcpswarm/internal/worker"
)

// Declare creates or replaces the primary instance for cfg.Name. An
// existing primary (and its whole pool) is stopped first. The returned
// snapshot may be in the error state; the error then wraps
// worker.ErrSpawnFailed. Config persistence is the caller's concern —
// the supervisor only tracks live state and PIDs.
func (s *Supervisor) Declare(ctx context.Context, cfg worker.Config) (Snapshot, error) {
	if err := cfg.Validate(); err != nil {
		return Snapshot{}, err
	}

	unlock := s.lockBase(cfg.Name)
	defer unlock()

	s.mu.Lock()
	_, exists := s.instances[cfg.Name]
	s.mu.Unlock()
	if exists {
		s.stopBaseLocked(cfg.Name)
	}

	inst := &Instance{
		InternalName: cfg.Name,
		BaseName:     cfg.Name,
		Index:        0,
		Config:       cfg,
	}
	s.bus.Publish(bus.WorkerAdded, map[string]any{"worker": cfg.Name, "transport": string(cfg.Transport)})

	err := s.spawn(ctx, inst)
	s.mu.Lock()
	snap := inst.snapshot()
	s.mu.Unlock()
	if err != nil {
		return snap, fmt.Errorf("%w: %v", worker.ErrSpawnFailed, err)
	}
	return snap, nil
}

// spawn connects one instance. The caller holds the base (or session)
// spawn mutex; network I/O runs outside the supervisor mutex. On success
// the instance is connected, its tools cached, its PID persisted (local)
// and, unless session-owned, registered with the admission queue. On
// failure the instance stays in the index in the error state and a
// reconnect is scheduled where the policy allows one.
func (s *Supervisor) spawn(ctx context.Context, inst *Instance) error {
	name := inst.InternalName

	s.mu.Lock()
	inst.State = StateConnecting
	inst.LastError = ""
	inst.Client = nil
	s.instances[name] = inst
	s.mu.Unlock()
	s.publishState(name, StateConnecting, "")

	cli := worker.New(inst.Config, worker.Options{
		StderrSink: func(line string) {
			s.bus.Publish(bus.WorkerStderr, map[string]any{"worker": name, "line": line})
		},
	})
	cli.OnClosed(func() { s.onTransportClosed(name) })
	cli.OnToolsChanged(func() { s.refreshTools(name) })

	if err := cli.Connect(ctx); err != nil {
		tail := cli.StderrTail()
		_ = cli.Close()
		s.failInstance(inst, err.Error(), tail)
		return err
	}

	// Eagerly cache the tool list; failure here is a warning, not a
	// spawn error.
	listCtx, cancel := context.WithTimeout(ctx, s.cfg.HealthTimeout)
	tools, err := cli.ListTools(listCtx)
	cancel()
	if err != nil {
		log.Printf("[Supervisor] Initial tool list for %q failed: %v", name, err)
	}

	s.mu.Lock()
	inst.State = StateConnected
	inst.Client = cli
	inst.PID = cli.PID()
	inst.Tools = tools
	inst.ReconnectCount = 0
	s.mu.Unlock()

	if inst.Config.Transport == worker.TransportLocal && inst.PID > 0 {
		if err := s.st.SavePID(name, inst.PID); err != nil {
			log.Printf("[Supervisor] Persist PID for %q: %v", name, err)
		}
	}
	s.publishState(name, StateConnected, "")
	log.Printf("[Supervisor] Connected: %s (%s), %d tool(s)", name, inst.Config.Transport, len(tools))

	if !isSessionOwned(name) {
		s.q.RegisterInstance(inst.BaseName, name, inst.Index)
	}
	return nil
}

// failInstance records a spawn or transport failure. The stderr tail is
// inspected for permanent-failure markers; when one is present the last
// lines become the instance error and no reconnect is ever scheduled.
func (s *Supervisor) failInstance(inst *Instance, errMsg string, stderrTail []string) {
	name := inst.InternalName
	permanent := permanentFailure(stderrTail)

	s.mu.Lock()
	inst.State = StateError
	inst.Client = nil
	if permanent {
		inst.LastError = strings.Join(lastN(stderrTail, 5), "\n")
	} else {
		inst.LastError = errMsg
	}
	s.mu.Unlock()

	reason := ""
	if permanent {
		reason = "permanent_failure"
	}
	s.publishState(name, StateError, reason)
	log.Printf("[Supervisor] %s entered error state: %s", name, inst.LastError)

	if !permanent {
		s.maybeScheduleReconnect(name)
	}
}

// Stop stops a base worker and its whole pool: pending reconnects are
// cancelled, the pool queue is drained, every pool instance is closed and
// removed from the live index. Idempotent — stopping an unknown or
// already-stopped base is a no-op.
func (s *Supervisor) Stop(base string) error {
	unlock := s.lockBase(base)
	defer unlock()
	s.stopBaseLocked(base)
	return nil
}

// stopBaseLocked does the work of Stop with the base mutex already held.
func (s *Supervisor) stopBaseLocked(base string) {
	s.q.Drain(base)

	s.mu.Lock()
	var members []*Instance
	for name, inst := range s.instances {
		if inst.SessionID == "" && baseOf(name) == base {
			members = append(members, inst)
		}
	}
	for _, inst := range members {
		if t, ok := s.timers[inst.InternalName]; ok {
			t.Stop()
			delete(s.timers, inst.InternalName)
		}
		inst.State = StateStopped
		delete(s.instances, inst.InternalName)
	}
	s.mu.Unlock()

	for _, inst := range members {
		if inst.Client != nil {
			_ = inst.Client.Close() // bounded internally
		}
		if err := s.st.DeletePID(inst.InternalName); err != nil {
			log.Printf("[Supervisor] Drop PID for %q: %v", inst.InternalName, err)
		}
		s.publishState(inst.InternalName, StateStopped, "")
		s.bus.Publish(bus.WorkerRemoved, map[string]any{"worker": inst.InternalName})
		log.Printf("[Supervisor] Stopped: %s", inst.InternalName)
	}
}

// stopInstance removes a single derived instance (scaled or
// session-owned) without touching the rest of its pool.
func (s *Supervisor) stopInstance(internalName string) {
	s.mu.Lock()
	inst, ok := s.instances[internalName]
	if ok {
		if t, tok := s.timers[internalName]; tok {
			t.Stop()
			delete(s.timers, internalName)
		}
		inst.State = StateStopped
		delete(s.instances, internalName)
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	s.q.UnregisterInstance(inst.BaseName, internalName)
	if inst.Client != nil {
		_ = inst.Client.Close()
	}
	if err := s.st.DeletePID(internalName); err != nil {
		log.Printf("[Supervisor] Drop PID for %q: %v", internalName, err)
	}
	s.publishState(internalName, StateStopped, "")
	s.bus.Publish(bus.WorkerRemoved, map[string]any{"worker": internalName})
	log.Printf("[Supervisor] Stopped: %s", internalName)
}

// Restart snapshots the live config, stops the base, and declares it
// again.
func (s *Supervisor) Restart(ctx context.Context, base string) (Snapshot, error) {
	s.mu.Lock()
	inst, ok := s.instances[base]
	var cfg worker.Config
	if ok {
		cfg = inst.Config.Clone()
	}
	s.mu.Unlock()
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: worker %q", worker.ErrNotFound, base)
	}
	if err := s.Stop(base); err != nil {
		return Snapshot{}, err
	}
	return s.Declare(ctx, cfg)
}

// lastN returns the last n elements of lines.
func lastN(lines []string, n int) []string {
	if len(lines) <= n {
		return lines
	}
	return lines[len(lines)-n:]
}
