package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/mcpswarm/mcpswarm/internal/bus"
	"github.com/mcpswarm/mcpswarm/internal/catalog"
	"github.com/mcpswarm/mcpswarm/internal/config"
	"github.com/mcpswarm/mcpswarm/internal/metatool"
	"github.com/mcpswarm/mcpswarm/internal/profile"
	"github.com/mcpswarm/mcpswarm/internal/store"
	"github.com/mcpswarm/mcpswarm/internal/supervisor"
	"github.com/mcpswarm/mcpswarm/internal/web"
)

// shutdownDeadline is the hard cap on graceful shutdown; after it the
// process force-exits.
const shutdownDeadline = 10 * time.Second

func main() {
	// Load .env file
	config.LoadEnv()
	cfg := config.FromEnv()

	if cfg.Mode == config.ModeHTTP {
		fmt.Println(`  ┌─────────────────────────────┐`)
		fmt.Println(`  │  mcpswarm · MCP supervisor  │`)
		fmt.Println(`  └─────────────────────────────┘`)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatalf("❌ Create data dir %q: %v", cfg.DataDir, err)
	}
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("❌ Open store: %v", err)
	}

	b := bus.New()
	sup := supervisor.New(cfg, st, b)
	profiles, err := profile.NewManager(st)
	if err != nil {
		log.Fatalf("❌ Load profiles: %v", err)
	}
	deps := metatool.Deps{
		Sup:      sup,
		Store:    st,
		Profiles: profiles,
		Catalog:  catalog.NewSearcher(),
	}

	sup.Start()
	// Orphan cleanup and worker restore run in the background so the
	// control surface is reachable immediately.
	go sup.Restore(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		log.Printf("[Main] Received %v, shutting down", sig)
		time.AfterFunc(shutdownDeadline, func() {
			log.Printf("[Main] Shutdown deadline exceeded, forcing exit")
			os.Exit(1)
		})
		cancel()
	}()

	switch cfg.Mode {
	case config.ModeStdio:
		runStdio(ctx, deps)
	default:
		runHTTP(ctx, cfg, deps, b)
	}

	sup.Shutdown()
	if err := st.Close(); err != nil {
		log.Printf("[Main] Close store: %v", err)
	}
	log.Println("✅ Stopped")
}

// runHTTP serves the multi-client gateway until the context is
// cancelled.
func runHTTP(ctx context.Context, cfg config.Config, deps metatool.Deps, b *bus.Bus) {
	gw := web.NewGateway(cfg, deps, b)
	if err := gw.Start(ctx); err != nil {
		log.Printf("[Main] Gateway: %v", err)
	}
	shCtx, shCancel := context.WithTimeout(context.Background(), shutdownDeadline)
	defer shCancel()
	gw.Shutdown(shCtx)
}

// runStdio serves one client on the parent's standard streams. There is
// no session layer: stateful workers lose per-session isolation and all
// calls admit through the pool queue.
func runStdio(ctx context.Context, deps metatool.Deps) {
	srv := mcpserver.NewMCPServer("mcpswarm", "0.3.0",
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithRecovery(),
	)
	metatool.Register(srv, deps, "")

	done := make(chan error, 1)
	go func() { done <- mcpserver.ServeStdio(srv) }()

	select {
	case <-ctx.Done():
	case err := <-done:
		if err != nil && err != context.Canceled {
			log.Printf("[Main] Stdio server: %v", err)
		}
	}
}
