package supervisor

import (
	"context"
	"log"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/mcpswarm/mcpswarm/internal/worker"
)

// orphanGrace is how long a leftover process gets between SIGTERM and
// SIGKILL.
const orphanGrace = 2 * time.Second

// Restore brings the supervisor to its declared state after a restart:
// terminate orphaned child processes recorded by the previous run, clear
// the PID table, then re-declare every persisted worker config in
// parallel. Per-worker failures are non-fatal.
func (s *Supervisor) Restore(ctx context.Context) {
	pids, err := s.st.ListPIDs()
	if err != nil {
		log.Printf("[Supervisor] Read PID table: %v", err)
	}

	var wg sync.WaitGroup
	for name, pid := range pids {
		if pid <= 1 {
			continue // invalid entry, skip
		}
		wg.Add(1)
		go func(name string, pid int) {
			defer wg.Done()
			terminateOrphan(name, pid)
		}(name, pid)
	}
	wg.Wait()

	if err := s.st.ClearPIDs(); err != nil {
		log.Printf("[Supervisor] Clear PID table: %v", err)
	}

	configs, err := s.st.ListWorkers()
	if err != nil {
		log.Printf("[Supervisor] Load persisted workers: %v", err)
		return
	}
	if len(configs) == 0 {
		return
	}

	log.Printf("[Supervisor] Restoring %d persisted worker(s)", len(configs))
	for _, cfg := range configs {
		wg.Add(1)
		go func(cfg worker.Config) {
			defer wg.Done()
			if _, err := s.Declare(ctx, cfg); err != nil {
				log.Printf("[Supervisor] Restore %q: %v", cfg.Name, err)
			}
		}(cfg)
	}
	wg.Wait()
}

// terminateOrphan sends SIGTERM to a recorded child of the previous run,
// escalating to SIGKILL after the grace period. Signal 0 verifies the
// PID is still alive before anything is sent — the table may point at a
// long-recycled PID.
func terminateOrphan(name string, pid int) {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return
	}
	if err := proc.Signal(syscall.Signal(0)); err != nil {
		return // already gone
	}

	log.Printf("[Supervisor] Terminating orphan %s (pid %d)", name, pid)
	_ = proc.Signal(syscall.SIGTERM)

	deadline := time.Now().Add(orphanGrace)
	for time.Now().Before(deadline) {
		time.Sleep(100 * time.Millisecond)
		if err := proc.Signal(syscall.Signal(0)); err != nil {
			return // exited on its own
		}
	}
	_ = proc.Kill()
}
