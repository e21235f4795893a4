// Package supervisor owns the live index of worker instances and drives
// the per-worker lifecycle: spawn, stop, reconnect with backoff, pool
// scaling, idle reaping, health probing, and session-scoped instance
// routing.
//
// Concurrency model: the supervisor mutex guards the instance index and
// the reconnect timer set; network I/O (connect, close, tool calls) is
// always performed outside that lock so a hung worker cannot block the
// supervisor. Spawn/stop races on one base are serialized by a per-base
// mutex, and session-instance creation by a per-(session, base) mutex.
package supervisor

import (
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mcpswarm/mcpswarm/internal/bus"
	"github.com/mcpswarm/mcpswarm/internal/config"
	"github.com/mcpswarm/mcpswarm/internal/queue"
	"github.com/mcpswarm/mcpswarm/internal/store"
	"github.com/mcpswarm/mcpswarm/internal/worker"
)

// reaperInterval is how often idle scaled instances are swept.
const reaperInterval = 10 * time.Second

// Supervisor is the singleton runtime shared by every client session.
type Supervisor struct {
	cfg config.Config
	st  *store.Store
	bus *bus.Bus
	q   *queue.Queue

	mu        sync.Mutex
	instances map[string]*Instance   // internal name → live instance
	timers    map[string]*time.Timer // internal name → pending reconnect

	lockMu    sync.Mutex
	baseLocks map[string]*sync.Mutex
	sessLocks map[string]*sync.Mutex // "<session>|<base>" → spawn mutex

	sessMu       sync.Mutex
	sessionOwned map[string]map[string]string // session → base → internal name
	sessionDirs  map[string][]string          // session → temp dirs to remove

	done     chan struct{}
	stopOnce sync.Once
	paused   atomic.Bool // pauses reaper and watchdog during shutdown
}

// New wires the supervisor and its admission queue. Call Start to launch
// the periodic loops and Restore to bring persisted workers back up.
func New(cfg config.Config, st *store.Store, b *bus.Bus) *Supervisor {
	s := &Supervisor{
		cfg:          cfg,
		st:           st,
		bus:          b,
		instances:    make(map[string]*Instance),
		timers:       make(map[string]*time.Timer),
		baseLocks:    make(map[string]*sync.Mutex),
		sessLocks:    make(map[string]*sync.Mutex),
		sessionOwned: make(map[string]map[string]string),
		sessionDirs:  make(map[string][]string),
		done:         make(chan struct{}),
	}
	s.q = queue.New(cfg.QueueTTL, cfg.ScaleUpWait, s.execute, s.scaleUp)
	return s
}

// Start launches the idle reaper and, when enabled, the health watchdog.
func (s *Supervisor) Start() {
	go s.reaperLoop()
	if s.cfg.HealthInterval > 0 {
		go s.watchdogLoop()
	}
}

// Queue exposes the admission queue for status endpoints.
func (s *Supervisor) Queue() *queue.Queue { return s.q }

// Shutdown stops everything: periodic loops, reconnect timers, the
// admission queue, and every live instance. Safe to call more than once.
func (s *Supervisor) Shutdown() {
	s.stopOnce.Do(func() {
		s.paused.Store(true)
		close(s.done)

		s.mu.Lock()
		for name, t := range s.timers {
			t.Stop()
			delete(s.timers, name)
		}
		bases := make(map[string]bool)
		var sessions []string
		for name, inst := range s.instances {
			if inst.SessionID != "" {
				sessions = append(sessions, inst.SessionID)
			} else {
				bases[baseOf(name)] = true
			}
		}
		s.mu.Unlock()

		for _, id := range sessions {
			s.ReleaseSession(id)
		}
		for base := range bases {
			if err := s.Stop(base); err != nil {
				log.Printf("[Supervisor] Shutdown stop %q: %v", base, err)
			}
		}
		s.q.Close()
		log.Printf("[Supervisor] All workers stopped")
	})
}

// lockBase returns the spawn mutex for a base, locked. Callers must
// invoke the returned unlock.
func (s *Supervisor) lockBase(base string) func() {
	s.lockMu.Lock()
	m, ok := s.baseLocks[base]
	if !ok {
		m = &sync.Mutex{}
		s.baseLocks[base] = m
	}
	s.lockMu.Unlock()
	m.Lock()
	return m.Unlock
}

// lockSession returns the per-(session, base) spawn mutex, locked.
func (s *Supervisor) lockSession(sessionID, base string) func() {
	key := sessionID + "|" + base
	s.lockMu.Lock()
	m, ok := s.sessLocks[key]
	if !ok {
		m = &sync.Mutex{}
		s.sessLocks[key] = m
	}
	s.lockMu.Unlock()
	m.Lock()
	return m.Unlock
}

// Get returns the snapshot of one instance by internal name.
func (s *Supervisor) Get(name string) (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[name]
	if !ok {
		return Snapshot{}, false
	}
	return inst.snapshot(), true
}

// List returns snapshots of every live instance, ordered by internal
// name for deterministic output.
func (s *Supervisor) List() []Snapshot {
	s.mu.Lock()
	out := make([]Snapshot, 0, len(s.instances))
	for _, inst := range s.instances {
		out = append(out, inst.snapshot())
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].InternalName < out[j].InternalName })
	return out
}

// LiveCount returns the number of live instances.
func (s *Supervisor) LiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.instances)
}

// StderrTail returns the stderr ring of a local worker's live instance.
func (s *Supervisor) StderrTail(name string) ([]string, bool) {
	s.mu.Lock()
	inst, ok := s.instances[name]
	var cli worker.Client
	if ok {
		cli = inst.Client
	}
	s.mu.Unlock()
	if !ok || cli == nil {
		return nil, ok
	}
	return cli.StderrTail(), true
}

// publishState emits a worker:state event.
func (s *Supervisor) publishState(name string, state State, reason string) {
	data := map[string]any{"worker": name, "state": string(state)}
	if reason != "" {
		data["reason"] = reason
	}
	s.bus.Publish(bus.WorkerState, data)
}
