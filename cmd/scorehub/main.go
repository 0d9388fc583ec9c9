package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/scorehub/scorehub/cmd/scorehub/diagnostics"
	"github.com/scorehub/scorehub/internal/abstractions"
	"github.com/scorehub/scorehub/internal/config"
	"github.com/scorehub/scorehub/internal/executor"
	"github.com/scorehub/scorehub/internal/invocation"
	"github.com/scorehub/scorehub/internal/logging"
	"github.com/scorehub/scorehub/internal/manage"
	"github.com/scorehub/scorehub/internal/pipeline"
	"github.com/scorehub/scorehub/internal/registry"
	"github.com/scorehub/scorehub/internal/scoring"
	"github.com/scorehub/scorehub/internal/storage"
	"github.com/scorehub/scorehub/internal/telemetry"
	"github.com/scorehub/scorehub/internal/tracker"
	"github.com/scorehub/scorehub/internal/validation"
	"github.com/scorehub/scorehub/internal/workspace"
)

var (
	// Version can be set during the compilation
	Version string = "0.0.1"
	// Build is set during the compilation
	Build string
	// BuildDate is set during the compilation
	BuildDate string
)

func main() {
	logger, logShutdown, err := logging.NewLogger()
	if err != nil {
		// we do this as no point trying to continue
		startUpFailed(nil, err, "Failed to create service logger", logging.FallbackLogger())
	}

	conf, err := config.LoadConfig(logger, Version, Build, BuildDate)
	if err != nil {
		// we do this as no point trying to continue
		startUpFailed(nil, err, "Failed to create service config", logger)
	}

	validate, err := validation.NewValidator()
	if err != nil {
		startUpFailed(conf, err, "Failed to create validator", logger)
	}

	telemetryShutdown, err := telemetry.Setup(context.Background(), &conf.Telemetry, logger)
	if err != nil {
		startUpFailed(conf, err, "Failed to configure telemetry", logger)
	}

	store, err := storage.NewStorage(conf.Database, logger)
	if err != nil {
		startUpFailed(conf, err, "Failed to create storage", logger)
	}

	workspaces, err := workspace.NewManager(logger, validate)
	if err != nil {
		startUpFailed(conf, err, "Failed to create workspace manager", logger)
	}

	reg, err := registry.New(logger, validate, store)
	if err != nil {
		startUpFailed(conf, err, "Failed to create scorer registry", logger)
	}

	ic := invocation.New(context.Background(), logger, "startup")
	watchInterval := time.Duration(conf.Registry.WatchIntervalSeconds) * time.Second
	if _, err := reg.LoadPackDirs(ic, conf.Registry.AutoWatch, watchInterval, conf.Registry.PackDirs...); err != nil {
		startUpFailed(conf, err, "Failed to load scorer packs", logger)
	}

	backend, err := executor.New(logger, conf)
	if err != nil {
		startUpFailed(conf, err, "Failed to create executor backend", logger)
	}
	logger.Info("Executor backend created", "backend", backend.Name())

	publisher, err := tracker.NewPublisher(conf.Tracker, logger)
	if err != nil {
		startUpFailed(conf, err, "Failed to create tracker publisher", logger)
	}
	// a nil *Publisher must not become a non-nil Tracker interface
	var trk abstractions.Tracker
	if publisher != nil {
		trk = publisher
	}

	engine := scoring.NewEngine(logger, workspaces)
	orchestrator := pipeline.New(logger, workspaces, reg, backend, engine, store, trk)
	manager := manage.NewManager(logger, validate, reg, workspaces, engine, orchestrator, store)

	srv, err := diagnostics.NewServer(logger, conf, store)
	if err != nil {
		startUpFailed(conf, err, "Failed to create diagnostics server", logger)
	}

	// the facade is the embedding surface; touch it once so the ready
	// summary reflects what callers will actually see
	listing := manager.List(context.Background())

	logger.Info("Service starting",
		"diagnostics_port", srv.GetPort(),
		"version", conf.Service.Version,
		"build", conf.Service.Build,
		"build_date", conf.Service.BuildDate,
		"backend", backend.Name(),
		"scorers", listing.Value.TotalCount,
		"tracking", trk != nil,
		"local", conf.Service.LocalMode,
	)

	// Start the diagnostics listener in a goroutine
	go func() {
		if err := srv.Start(); err != nil {
			if errors.Is(err, http.ErrServerClosed) {
				logger.Info("Diagnostics server closed gracefully")
				return
			}
			// we do this as no point trying to continue
			startUpFailed(conf, err, "Diagnostics server failed to start", logger)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down...")

	// stop the watch loops before the storage they audit into goes away
	reg.Close()

	waitForShutdown := 30 * time.Second
	ctx, cancel := context.WithTimeout(context.Background(), waitForShutdown)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Diagnostics server forced to shutdown", "error", err.Error(), "timeout", waitForShutdown)
	} else {
		logger.Info("Diagnostics server shutdown gracefully")
	}

	if err := store.Close(); err != nil {
		logger.Error("Failed to close storage", "error", err.Error())
	}

	if err := telemetryShutdown(ctx); err != nil {
		logger.Error("Failed to flush telemetry", "error", err.Error())
	}

	_ = logShutdown() // ignore the error
}

func startUpFailed(conf *config.Config, err error, msg string, logger *slog.Logger) {
	termErr := diagnostics.SetTerminationMessage(diagnostics.GetTerminationFile(conf, logger),
		fmt.Sprintf("%s: %s", msg, err.Error()), logger)
	if termErr != nil {
		logger.Error("Failed to set termination message", "message", msg, "error", termErr.Error())
		log.Println(termErr.Error())
	}
	log.Fatal(err)
}
