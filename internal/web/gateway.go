// Package web is the HTTP control surface: the multi-client MCP gateway
// at /mcp, the event stream at /events, and the admin REST endpoints.
// Binds loopback by default; a unix socket path overrides host:port.
package web

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/mcpswarm/mcpswarm/internal/bus"
	"github.com/mcpswarm/mcpswarm/internal/config"
	"github.com/mcpswarm/mcpswarm/internal/metatool"
	"github.com/mcpswarm/mcpswarm/internal/supervisor"
)

const (
	gatewayName    = "mcpswarm"
	gatewayVersion = "0.3.0"

	// sessionHeader carries the session id per the streamable HTTP
	// transport spec.
	sessionHeader = "Mcp-Session-Id"
)

// Gateway holds the HTTP server and its dependencies.
type Gateway struct {
	cfg  config.Config
	sup  *supervisor.Supervisor
	bus  *bus.Bus
	deps metatool.Deps

	mux      *http.ServeMux
	srv      *http.Server
	sessions *sessionStore
	start    time.Time
}

// NewGateway wires the gateway routes. Call Start to listen and Shutdown
// to stop.
func NewGateway(cfg config.Config, deps metatool.Deps, b *bus.Bus) *Gateway {
	g := &Gateway{
		cfg:   cfg,
		sup:   deps.Sup,
		bus:   b,
		deps:  deps,
		mux:   http.NewServeMux(),
		start: time.Now(),
	}
	g.sessions = newSessionStore(cfg, deps, b)
	g.registerRoutes()
	return g
}

func (g *Gateway) registerRoutes() {
	g.mux.HandleFunc("/mcp", g.handleMCP)
	g.mux.HandleFunc("/health", g.handleHealth)
	g.mux.HandleFunc("/events", g.handleEvents)
	g.mux.HandleFunc("/api/sessions", g.handleSessions)
	g.mux.HandleFunc("/api/logs/", g.handleLogs)
	g.mux.HandleFunc("/api/config", g.handleConfig)
	g.mux.HandleFunc("/api/workers", g.handleWorkers)
	g.mux.HandleFunc("/api/profiles", g.handleProfiles)
}

// Start listens until the context is cancelled or the listener fails.
func (g *Gateway) Start(ctx context.Context) error {
	var handler http.Handler = g.mux
	if g.cfg.CORSEnabled {
		handler = corsMiddleware(g.mux)
	}
	g.srv = &http.Server{Handler: handler}

	ln, err := g.listen()
	if err != nil {
		return err
	}
	g.sessions.startGC()

	errCh := make(chan error, 1)
	go func() {
		if err := g.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

func (g *Gateway) listen() (net.Listener, error) {
	if g.cfg.SocketPath != "" {
		// A stale socket from a crashed run blocks the bind.
		_ = os.Remove(g.cfg.SocketPath)
		ln, err := net.Listen("unix", g.cfg.SocketPath)
		if err != nil {
			return nil, err
		}
		log.Printf("[Web] Listening on unix socket %s", g.cfg.SocketPath)
		return ln, nil
	}
	ln, err := net.Listen("tcp", g.cfg.Addr())
	if err != nil {
		return nil, err
	}
	log.Printf("[Web] Listening on http://%s", g.cfg.Addr())
	return ln, nil
}

// Shutdown stops the listener, waits briefly for in-flight requests, and
// tears down every session.
func (g *Gateway) Shutdown(ctx context.Context) {
	if g.srv != nil {
		if err := g.srv.Shutdown(ctx); err != nil {
			log.Printf("[Web] Shutdown: %v", err)
		}
	}
	g.sessions.closeAll()
	if g.cfg.SocketPath != "" {
		_ = os.Remove(g.cfg.SocketPath)
	}
}

// corsMiddleware answers preflight requests and stamps the permissive
// headers on everything else. Only enabled by explicit config.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+sessionHeader)
		w.Header().Set("Access-Control-Expose-Headers", sessionHeader)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
