package web

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[Web] Encode response: %v", err)
	}
}

// handleHealth serves GET /health.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"mode":     g.cfg.Mode,
		"sessions": g.sessions.count(),
		"workers":  g.sup.LiveCount(),
		"uptime_s": int64(time.Since(g.start).Seconds()),
	})
}

// handleSessions serves GET /api/sessions: live session metadata.
func (g *Gateway) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	type sessionInfo struct {
		ID        string `json:"id"`
		CreatedAt string `json:"created_at"`
		IdleSecs  int64  `json:"idle_s"`
	}
	g.sessions.mu.Lock()
	out := make([]sessionInfo, 0, len(g.sessions.sessions))
	for _, s := range g.sessions.sessions {
		out = append(out, sessionInfo{
			ID:        s.id,
			CreatedAt: s.createdAt.Format(time.RFC3339),
			IdleSecs:  int64(s.idle().Seconds()),
		})
	}
	g.sessions.mu.Unlock()

	writeJSON(w, http.StatusOK, out)
}

// handleLogs serves GET /api/logs/<base>: the stderr tail of a local
// worker. 404 when the worker is unknown.
func (g *Gateway) handleLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	base := strings.TrimPrefix(r.URL.Path, "/api/logs/")
	if base == "" {
		http.Error(w, "missing worker name", http.StatusBadRequest)
		return
	}

	lines, ok := g.sup.StderrTail(base)
	if !ok {
		http.Error(w, "unknown worker", http.StatusNotFound)
		return
	}
	if lines == nil {
		lines = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"worker": base, "stderr": lines})
}

// handleConfig serves GET /api/config: the resolved runtime config.
func (g *Gateway) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	data, err := g.cfg.JSON()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}

// handleWorkers serves GET /api/workers: live instance snapshots plus
// persisted-but-stopped configs.
func (g *Gateway) handleWorkers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	live := g.sup.List()
	running := make(map[string]bool, len(live))
	for _, snap := range live {
		running[snap.BaseName] = true
	}

	persisted, err := g.deps.Store.ListWorkers()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	type stoppedWorker struct {
		Name        string `json:"name"`
		Transport   string `json:"transport"`
		Stateful    bool   `json:"stateful"`
		Description string `json:"description,omitempty"`
	}
	stopped := []stoppedWorker{}
	for _, cfg := range persisted {
		if running[cfg.Name] {
			continue
		}
		stopped = append(stopped, stoppedWorker{
			Name:        cfg.Name,
			Transport:   string(cfg.Transport),
			Stateful:    cfg.Stateful,
			Description: cfg.Description,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{"live": live, "stopped": stopped})
}

// handleProfiles serves GET /api/profiles: the merged bundle listing.
func (g *Gateway) handleProfiles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	bundles, err := g.deps.Profiles.List()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, bundles)
}
