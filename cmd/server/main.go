// Package main implements the entry point for the course-generation
// server: it loads configuration, wires the stores, scheduler,
// orchestrator, health monitor and recovery controller, and runs the
// HTTP API alongside the background workers.
package main

import (
	"context"
	"errors"
	"log"
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/oklog/run"

	"github.com/dbawebdesign/lailms/internal/config"
	"github.com/dbawebdesign/lailms/internal/platform/logger"
)

func main() {
	// A missing .env file is fine; the environment may carry everything.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	appLogger, err := logger.Setup(cfg.Server)
	if err != nil {
		log.Fatalf("Failed to set up logger: %v", err)
	}

	slog.Info("server configuration loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Server.LogLevel,
		"worker_count", cfg.Scheduler.WorkerCount,
		"health_check_interval", cfg.Health.CheckInterval)

	app, err := newApplication(context.Background(), cfg, appLogger)
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}
	defer app.close()

	if err := app.run(); err != nil {
		var sig run.SignalError
		if errors.As(err, &sig) {
			appLogger.Info("shutting down", "signal", sig.Signal)
			return
		}
		log.Fatalf("Server exited with error: %v", err)
	}
}
