package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/kristenwon/shepherd-mvp/internal/config"
	"github.com/kristenwon/shepherd-mvp/internal/hub"
	"github.com/kristenwon/shepherd-mvp/internal/launcher"
	"github.com/kristenwon/shepherd-mvp/internal/pidfile"
	"github.com/kristenwon/shepherd-mvp/internal/proc"
	"github.com/kristenwon/shepherd-mvp/internal/registry"
	"github.com/kristenwon/shepherd-mvp/internal/runner"
	"github.com/kristenwon/shepherd-mvp/internal/store"
	handler "github.com/kristenwon/shepherd-mvp/internal/transport/http"
	"github.com/kristenwon/shepherd-mvp/internal/ws"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	log.Printf("Starting shepherd service...")
	log.Printf("HTTP Port: %d", cfg.HTTPPort)
	log.Printf("Max concurrent runs: %d", cfg.MaxConcurrentRuns)
	log.Printf("Idle timeout: %s", cfg.IdleTimeout)

	// Initialize store
	db, err := store.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}
	defer db.Close()

	// Initialize run registry
	pidStore := pidfile.New(cfg.LogDir)
	reg := registry.New(cfg.MaxConcurrentRuns, proc.NewUnixSupervisor(), pidStore)

	// Clean up orphaned processes from a previous instance
	if err := reg.RecoverOrphans(); err != nil {
		log.Printf("WARN: could not recover orphaned processes: %v", err)
	}

	// Initialize connection hub and runner
	connectionHub := hub.New(cfg.IdleTimeout)
	launch := launcher.NewExecLauncher(cfg.AnalysisCmd, cfg.LogDir)
	run := runner.New(reg, connectionHub, launch)

	// Start idle connection monitor
	monitor := hub.NewIdleMonitor(connectionHub, run, 30*time.Second, time.Minute)
	monitor.Start()

	// Initialize handlers
	h := handler.NewHandler(cfg, reg, connectionHub, run, db)
	wsServer := ws.NewServer(cfg, connectionHub, run)

	// Create Echo server
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	// Register routes
	h.RegisterRoutes(e)
	e.GET("/ws/:run_id", wsServer.HandleWebSocket)
	e.GET("/echo/:run_id", wsServer.HandleEcho)

	// Start server
	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	log.Printf("Server started on port %d", cfg.HTTPPort)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down shepherd service...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Printf("Failed to shutdown server gracefully: %v", err)
	}

	// Stop idle monitor, then kill remaining analysis processes
	monitor.Stop()
	reg.Shutdown()

	log.Println("Shutdown complete")
}
