package web

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/mcpswarm/mcpswarm/internal/bus"
	"github.com/mcpswarm/mcpswarm/internal/config"
	"github.com/mcpswarm/mcpswarm/internal/metatool"
)

// maxMessageBytes bounds one inbound protocol message.
const maxMessageBytes = 4 << 20

// session is one client's logical attachment: a dedicated tool server
// bound to the shared supervisor, plus activity bookkeeping for idle GC.
type session struct {
	id        string
	createdAt time.Time
	srv       *mcpserver.MCPServer

	mu         sync.Mutex
	lastActive time.Time
	streamDone chan struct{} // closed on teardown to end the GET stream
}

func (s *session) touch() {
	s.mu.Lock()
	s.lastActive = time.Now()
	s.mu.Unlock()
}

func (s *session) idle() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastActive)
}

// sessionStore is the live session index with TTL eviction, mirroring
// the supervisor's single-process architecture.
type sessionStore struct {
	cfg  config.Config
	deps metatool.Deps
	bus  *bus.Bus

	mu       sync.Mutex
	sessions map[string]*session
	done     chan struct{}
	gcOnce   sync.Once
}

func newSessionStore(cfg config.Config, deps metatool.Deps, b *bus.Bus) *sessionStore {
	return &sessionStore{
		cfg:      cfg,
		deps:     deps,
		bus:      b,
		sessions: make(map[string]*session),
		done:     make(chan struct{}),
	}
}

// mint creates a session with its own tool server. Fails when the
// session cap is reached.
func (st *sessionStore) mint() (*session, error) {
	st.mu.Lock()
	if len(st.sessions) >= st.cfg.MaxSessions {
		st.mu.Unlock()
		return nil, fmt.Errorf("session limit reached (%d)", st.cfg.MaxSessions)
	}

	id := uuid.NewString()
	srv := mcpserver.NewMCPServer(gatewayName, gatewayVersion,
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithRecovery(),
	)
	metatool.Register(srv, st.deps, id)

	s := &session{
		id:         id,
		createdAt:  time.Now(),
		srv:        srv,
		lastActive: time.Now(),
		streamDone: make(chan struct{}),
	}
	st.sessions[id] = s
	count := len(st.sessions)
	st.mu.Unlock()

	st.bus.Publish(bus.SessionOpened, map[string]any{"session": id})
	log.Printf("[Session] Opened %s (%d active)", id, count)
	return s, nil
}

func (st *sessionStore) get(id string) (*session, bool) {
	if id == "" {
		return nil, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[id]
	return s, ok
}

func (st *sessionStore) count() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}

// teardown removes a session, ends its push stream, and releases its
// supervisor-side instances. Unknown ids are a no-op.
func (st *sessionStore) teardown(id, reason string) bool {
	st.mu.Lock()
	s, ok := st.sessions[id]
	if ok {
		delete(st.sessions, id)
	}
	st.mu.Unlock()
	if !ok {
		return false
	}

	close(s.streamDone)
	st.deps.Sup.ReleaseSession(id)
	st.bus.Publish(bus.SessionClosed, map[string]any{"session": id, "reason": reason})
	log.Printf("[Session] Closed %s (%s)", id, reason)
	return true
}

// startGC launches the idle sweeper. Idempotent.
func (st *sessionStore) startGC() {
	st.gcOnce.Do(func() { go st.gcLoop() })
}

func (st *sessionStore) gcLoop() {
	ticker := time.NewTicker(st.cfg.SessionCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-st.done:
			return
		case <-ticker.C:
			st.mu.Lock()
			var expired []string
			for id, s := range st.sessions {
				if s.idle() >= st.cfg.SessionIdleTimeout {
					expired = append(expired, id)
				}
			}
			st.mu.Unlock()
			for _, id := range expired {
				st.teardown(id, "idle_timeout")
			}
		}
	}
}

func (st *sessionStore) closeAll() {
	select {
	case <-st.done:
	default:
		close(st.done)
	}

	st.mu.Lock()
	ids := make([]string, 0, len(st.sessions))
	for id := range st.sessions {
		ids = append(ids, id)
	}
	st.mu.Unlock()
	for _, id := range ids {
		st.teardown(id, "shutdown")
	}
}

// ── /mcp ────────────────────────────────────────────────────────────────────

func (g *Gateway) handleMCP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		g.handleMCPPost(w, r)
	case http.MethodGet:
		g.handleMCPStream(w, r)
	case http.MethodDelete:
		g.handleMCPDelete(w, r)
	default:
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
	}
}

// handleMCPPost dispatches one protocol message into the owning
// session's tool server. A missing or unknown session header mints a
// fresh session (per-protocol: the client adopts the echoed id).
func (g *Gateway) handleMCPPost(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxMessageBytes))
	if err != nil {
		http.Error(w, "read body: "+err.Error(), http.StatusBadRequest)
		return
	}

	sess, ok := g.sessions.get(r.Header.Get(sessionHeader))
	if !ok {
		sess, err = g.sessions.mint()
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
	}
	sess.touch()
	w.Header().Set(sessionHeader, sess.id)

	resp := sess.srv.HandleMessage(r.Context(), body)
	if resp == nil {
		// Notification: nothing to send back.
		w.WriteHeader(http.StatusAccepted)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Printf("[Session] Write response to %s: %v", sess.id, err)
	}
}

// handleMCPStream holds a server-push event stream open for a session.
// The stream carries keep-alive pings and ends on session teardown.
func (g *Gateway) handleMCPStream(w http.ResponseWriter, r *http.Request) {
	id := r.Header.Get(sessionHeader)
	if id == "" {
		http.Error(w, "missing "+sessionHeader, http.StatusBadRequest)
		return
	}
	sess, ok := g.sessions.get(id)
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}

	sse := newSSEWriter(w, r)
	if sse == nil {
		return
	}
	sess.touch()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-sess.streamDone:
			return
		case <-ticker.C:
			if !sse.Send("ping", map[string]any{"type": "ping"}) {
				return
			}
		}
	}
}

func (g *Gateway) handleMCPDelete(w http.ResponseWriter, r *http.Request) {
	id := r.Header.Get(sessionHeader)
	if id == "" {
		http.Error(w, "missing "+sessionHeader, http.StatusBadRequest)
		return
	}
	if !g.sessions.teardown(id, "client_request") {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
