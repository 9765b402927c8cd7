// Package main is the entry point for acpcore, the process that hosts the
// ACP runtime core: multi-workspace agent lifecycle management exposed
// over an HTTP/WebSocket command surface, with every agent spoken to over
// the Agent Client Protocol on its own stdio pipe.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/kandev/acpcore/internal/api"
	"github.com/kandev/acpcore/internal/common/config"
	"github.com/kandev/acpcore/internal/common/logger"
	"github.com/kandev/acpcore/internal/events/bus"
	"github.com/kandev/acpcore/internal/plugin"
	"github.com/kandev/acpcore/internal/runtime/permission"
	"github.com/kandev/acpcore/internal/runtime/workspace"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("starting acpcore",
		zap.String("version", "0.1.0"),
		zap.String("addr", cfg.Server.Addr()),
		zap.String("events_backend", cfg.Events.Backend),
	)

	eventBus, err := newEventBus(cfg, log)
	if err != nil {
		log.Fatal("failed to initialize event bus", zap.Error(err))
	}
	defer eventBus.Close()

	catalog, err := plugin.LoadCatalog(cfg.Plugin.CatalogPath)
	if err != nil {
		log.Fatal("failed to load plugin catalog", zap.String("path", cfg.Plugin.CatalogPath), zap.Error(err))
	}

	hub := permission.NewHub(log)
	pluginManager := plugin.NewManager(cfg.Workspace.CacheDir, catalog)
	installer := plugin.NewInstaller(pluginManager, hub, eventBus, log)
	workspaces := workspace.NewManager(hub, pluginManager, installer, eventBus, log)

	runCtx, stopEventForwarding := context.WithCancel(context.Background())
	defer stopEventForwarding()
	hub.PublishRequestsTo(runCtx, eventBus)

	shutdownTimeout := time.Duration(cfg.Agent.ShutdownTimeoutSeconds) * time.Second
	apiServer := api.NewServer(workspaces, pluginManager, installer, hub, eventBus, shutdownTimeout, log)

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      apiServer.Router(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		log.Info("HTTP server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down acpcore")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	workspaces.CloseAll(ctx, shutdownTimeout)

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}

	log.Info("acpcore stopped")
}

func newEventBus(cfg *config.Config, log *logger.Logger) (bus.EventBus, error) {
	switch strings.ToLower(cfg.Events.Backend) {
	case "nats":
		return bus.NewNATSEventBus(bus.NATSConfig{URL: cfg.Events.NATSURL, ClientID: "acpcore"}, log)
	default:
		return bus.NewMemoryEventBus(log), nil
	}
}
