package supervisor

import (
	"context"
	"log"
	"time"

	"github.com/mcpswarm/mcpswarm/internal/bus"
	"github.com/mcpswarm/mcpswarm/internal/worker"
)

// watchdogLoop probes every connected primary with a bounded list_tools
// call. A failed probe restarts that worker; failures are isolated per
// worker.
func (s *Supervisor) watchdogLoop() {
	ticker := time.NewTicker(s.cfg.HealthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if !s.paused.Load() {
				s.probeAll()
			}
		}
	}
}

func (s *Supervisor) probeAll() {
	s.mu.Lock()
	type target struct {
		name string
		cli  worker.Client
	}
	var targets []target
	for name, inst := range s.instances {
		if inst.Index == 0 && !isDerived(name) && inst.State == StateConnected && inst.Client != nil {
			targets = append(targets, target{name: name, cli: inst.Client})
		}
	}
	s.mu.Unlock()

	for _, t := range targets {
		go s.probe(t.name, t.cli)
	}
}

func (s *Supervisor) probe(name string, cli worker.Client) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.HealthTimeout)
	defer cancel()

	_, err := cli.ListTools(ctx)
	if err == nil {
		return
	}
	log.Printf("[Supervisor] Health probe failed for %s: %v", name, err)

	s.bus.Publish(bus.WorkerState, map[string]any{
		"worker": name,
		"state":  "restarting",
		"reason": "health_check_failed",
	})
	if _, err := s.Restart(context.Background(), name); err != nil {
		log.Printf("[Supervisor] Health restart of %s failed: %v", name, err)
	}
}
