/*
Package main is the entry point for the SOGS Gate application.

It is responsible for loading configuration, initializing the global logging
system, opening the snapshot backend and loading the persisted trust state,
connecting the host session, starting the admin HTTP server, and gracefully
handling operating system interrupt signals (SIGINT, SIGTERM) so that trust
state is always flushed on the way down.
*/
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sogsgate/internal/app/challenge"
	"sogsgate/internal/app/gate"
	"sogsgate/internal/app/host"
	"sogsgate/internal/app/state"
	"sogsgate/internal/configs"
	"sogsgate/internal/handler"
	"sogsgate/internal/pkg/logx"
)

func main() {
	// Load configuration from environment variables and the rooms file.
	cfg, err := configs.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize global logger
	logx.InitGlobalLogger(cfg.Environment == "development")
	logx.Logger().Info().
		Str("environment", cfg.Environment).
		Str("host_url", cfg.HostURL).
		Int("admin_port", cfg.AdminPort).
		Str("state_backend", cfg.StateBackend).
		Int("rooms", len(cfg.Rooms)).
		Msg("Configuration loaded successfully")

	// Create a context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Open the snapshot backend and load the persisted trust state.
	var backend state.Backend
	switch cfg.StateBackend {
	case "postgres":
		backend, err = state.NewPostgresBackend(cfg.DatabaseDSN)
	default:
		backend = state.NewFileBackend(cfg.StatePath)
	}
	if err != nil {
		logx.Fatal(err, "Failed to open snapshot backend")
	}
	defer backend.Close()

	snap, err := backend.Load(ctx)
	if err != nil {
		logx.Fatal(err, "Failed to load trust-state snapshot")
	}

	// Connect the host session before building the gate: the session is the
	// gate's command channel and the issuer's uploader.
	session, err := host.Dial(ctx, cfg.HostURL)
	if err != nil {
		logx.Fatal(err, "Failed to connect to host")
	}

	issuer := challenge.NewIssuer(challenge.PNGRenderer{}, session)

	registry, err := gate.NewRegistry(cfg.Rooms, session, issuer, snap)
	if err != nil {
		logx.Fatal(err, "Failed to build room registry")
	}

	manager := state.NewManager(backend, registry)
	registry.SetPersistence(manager)

	session.Start(ctx, registry)

	// Setup the admin HTTP server.
	router := handler.Router(&handler.AppDeps{
		Registry: registry,
		Persist:  manager,
		Config:   cfg,
	})

	serverAddr := fmt.Sprintf(":%d", cfg.AdminPort)
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logx.Info(fmt.Sprintf("SOGS Gate admin server starting on http://localhost%s", serverAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logx.Fatal(err, "Admin server failed to start")
		}
	}()

	// Wait for an interrupt signal or the host closing the session.
	select {
	case <-ctx.Done():
		logx.Info("Received shutdown signal. Starting graceful shutdown...")
	case <-session.Done():
		logx.Warn("Host session closed. Starting graceful shutdown...")
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logx.Error(err, "Admin server forced to shutdown")
	}

	session.Close()
	registry.Shutdown()

	// Final flush is unconditional: the debounce never applies on the way down.
	if err := manager.Close(); err != nil {
		logx.Error(err, "Final trust-state flush failed")
	}

	logx.Info("SOGS Gate gracefully stopped.")
}
