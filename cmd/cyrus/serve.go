package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ceedaragents/cyrus/pkg/agentrunner"
	"github.com/ceedaragents/cyrus/pkg/api"
	"github.com/ceedaragents/cyrus/pkg/config"
	"github.com/ceedaragents/cyrus/pkg/orchestrator"
	"github.com/ceedaragents/cyrus/pkg/store"
	"github.com/ceedaragents/cyrus/pkg/tracker"
	"github.com/ceedaragents/cyrus/pkg/tunnel"
	"github.com/ceedaragents/cyrus/pkg/version"
	"github.com/ceedaragents/cyrus/pkg/workspace"
)

// tunnelOpener selects the tunnel strategy: none when the host is reachable
// from the internet, ngrok otherwise.
func tunnelOpener(cfg *config.Config) tunnel.Opener {
	if cfg.HostExternal {
		return nil
	}
	if cfg.NgrokAuthToken == "" {
		slog.Warn("No ngrok auth token configured; webhooks must reach this host directly or via the proxy")
		return nil
	}
	return tunnel.NewNgrok(cfg.NgrokAuthToken)
}

// shutdownBudget caps how long graceful shutdown may take overall.
const shutdownBudget = 15 * time.Second

// runServe is the long-running mode: restore state, start the orchestrator
// and the shared application server, and run until signalled.
func runServe(ctx context.Context) error {
	home := cyrusHome()
	slog.Info("Starting cyrus", "version", version.Full(), "home", home)

	// 1. Configuration
	cfg, err := config.Initialize(ctx, home)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}
	slog.Info("Configuration loaded", "repositories", len(cfg.Repositories))

	// 2. Orchestrator with snapshot-backed recovery
	snapshots := store.New(config.SnapshotPath(home))
	orch := orchestrator.New(orchestrator.Options{
		Config:      cfg,
		Runner:      orchestrator.NewRunnerAdapter(agentrunner.NewRunner("")),
		Provisioner: workspace.NewProvisioner(cfg.GlobalSetupScript),
		Clients:     tracker.NewFactory(cfg.ProxyURL),
		Snapshots:   snapshots,
	})
	if err := orch.Restore(ctx); err != nil {
		slog.Error("Failed to restore snapshot", "error", err)
		os.Exit(1)
	}

	// 3. Config file watcher: hot-reload repository settings
	watcher, err := config.NewWatcher(home, func(updated *config.Config) {
		orch.UpdateConfig(updated)
	})
	if err != nil {
		slog.Warn("Config watcher unavailable, edits require a restart", "error", err)
	} else {
		watcher.Start(ctx)
		defer watcher.Stop()
	}

	// 4. Shared application server (webhook + OAuth callback)
	port := cfg.ServerPort
	if port == 0 {
		port = config.DefaultServerPort
	}
	server := api.NewServer(api.Config{
		Port:          port,
		HostExternal:  cfg.HostExternal,
		WebhookSecret: cfg.WebhookSecret,
		Tunnel:        tunnelOpener(cfg),
	}, orch)

	// 5. Run orchestrator loop (non-blocking)
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	go orch.Run(runCtx)

	// 6. Start HTTP server (non-blocking). A bind failure is fatal.
	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(runCtx); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("Cyrus started", "port", port, "host_external", cfg.HostExternal)

	// 7. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 8. Graceful shutdown: agents and snapshot first, then the listener.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownBudget)
	defer cancel()

	cancelRun()
	orch.Shutdown(shutdownCtx)
	slog.Info("Orchestrator stopped")

	httpCtx, httpCancel := context.WithTimeout(context.Background(), api.ShutdownTimeout())
	defer httpCancel()
	if err := server.Shutdown(httpCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
	return nil
}
