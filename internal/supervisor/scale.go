package supervisor

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/mcpswarm/mcpswarm/internal/bus"
	"github.com/mcpswarm/mcpswarm/internal/worker"
)

// scaleUp is the admission queue's scale signal. It clones the primary's
// config under the smallest unused #k name and spawns it. Refused when
// the primary is not a connected local non-stateful worker or the pool is
// already at max size. The pending-scale-up flag is cleared whatever the
// outcome so the queue may signal again.
func (s *Supervisor) scaleUp(base string) {
	defer s.q.ClearScalePending(base)
	if s.paused.Load() {
		return
	}

	unlock := s.lockBase(base)
	defer unlock()

	s.mu.Lock()
	primary, ok := s.instances[base]
	var (
		cfg      worker.Config
		state    State
		poolSize int
		inUse    = make(map[int]bool)
	)
	if ok {
		cfg = primary.Config.Clone()
		state = primary.State
		for name, inst := range s.instances {
			if inst.SessionID == "" && baseOf(name) == base {
				poolSize++
				inUse[inst.Index] = true
			}
		}
	}
	s.mu.Unlock()

	switch {
	case !ok:
		return
	case state != StateConnected:
		log.Printf("[Supervisor] Not scaling %q: primary is %s", base, state)
		return
	case cfg.Transport != worker.TransportLocal:
		log.Printf("[Supervisor] Not scaling %q: transport %s", base, cfg.Transport)
		return
	case cfg.Stateful:
		log.Printf("[Supervisor] Not scaling %q: stateful workers are session-isolated", base)
		return
	case poolSize >= s.cfg.MaxPool:
		log.Printf("[Supervisor] Not scaling %q: pool at max size %d", base, s.cfg.MaxPool)
		return
	}

	k := 1
	for inUse[k] {
		k++
	}
	internal := fmt.Sprintf("%s%s%d", base, scaledMarker, k)
	inst := &Instance{
		InternalName: internal,
		BaseName:     base,
		Index:        k,
		Config:       cfg,
	}

	log.Printf("[Supervisor] Scaling pool %q up to %s", base, internal)
	ctx, cancel := context.WithTimeout(context.Background(), worker.ConnectTimeout)
	defer cancel()
	if err := s.spawn(ctx, inst); err != nil {
		log.Printf("[Supervisor] Scale-up of %q failed: %v", internal, err)
		s.stopInstance(internal)
		return
	}
	// spawn registered the new instance with the queue, which triggered
	// an immediate dispatch pass.
	s.bus.Publish(bus.PoolScaled, map[string]any{"worker": base, "instance": internal, "size": poolSize + 1})
}

// reaperLoop kills idle scaled instances every reaperInterval. Primaries
// and session-owned instances are never reaped.
func (s *Supervisor) reaperLoop() {
	ticker := time.NewTicker(reaperInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if !s.paused.Load() {
				s.reapIdle(time.Now())
			}
		}
	}
}

func (s *Supervisor) reapIdle(now time.Time) {
	s.mu.Lock()
	type candidate struct{ name, base string }
	var scaled []candidate
	for name, inst := range s.instances {
		if inst.Index > 0 && inst.SessionID == "" {
			scaled = append(scaled, candidate{name: name, base: inst.BaseName})
		}
	}
	s.mu.Unlock()

	for _, c := range scaled {
		for _, qs := range s.q.Snapshot(c.base) {
			if qs.InternalName != c.name {
				continue
			}
			if !qs.Busy && now.Sub(qs.LastActive) > s.cfg.IdleKill {
				log.Printf("[Supervisor] Reaping idle instance %s (idle %v)", c.name, now.Sub(qs.LastActive).Round(time.Second))
				s.stopInstance(c.name)
			}
			break
		}
	}
}
