package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx database/sql driver
	"github.com/oklog/run"

	"github.com/dbawebdesign/lailms/internal/config"
	"github.com/dbawebdesign/lailms/internal/generation"
	"github.com/dbawebdesign/lailms/internal/health"
	"github.com/dbawebdesign/lailms/internal/orchestrator"
	"github.com/dbawebdesign/lailms/internal/platform/gemini"
	"github.com/dbawebdesign/lailms/internal/platform/postgres"
	"github.com/dbawebdesign/lailms/internal/progress"
	"github.com/dbawebdesign/lailms/internal/recovery"
	"github.com/dbawebdesign/lailms/internal/scheduler"
	"github.com/dbawebdesign/lailms/internal/store"
)

const (
	dbPingTimeout       = 5 * time.Second
	httpShutdownTimeout = 10 * time.Second
	readHeaderTimeout   = 10 * time.Second
)

// application holds the wired components of the server.
type application struct {
	cfg    *config.Config
	logger *slog.Logger
	db     *sql.DB

	jobs      store.JobStore
	publisher *progress.Publisher
	scheduler *scheduler.Scheduler
	orch      *orchestrator.Orchestrator
	monitor   *health.Monitor
	recovery  *recovery.Controller
}

// newApplication connects the database, runs migrations and wires every
// component of the job engine.
func newApplication(ctx context.Context, cfg *config.Config, appLogger *slog.Logger) (*application, error) {
	db, err := sql.Open("pgx", cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, dbPingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := runMigrations(db, appLogger); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	jobs := postgres.NewJobStore(db)
	tasks := postgres.NewTaskStore(db)
	errs := postgres.NewErrorStore(db)

	publisher := progress.NewPublisher(appLogger)

	var gen generation.Generator
	if cfg.LLM.GeminiAPIKey == "" {
		appLogger.Warn("no Gemini API key configured, content generation is disabled")
		gen = gemini.DisabledGenerator{}
	} else {
		gen, err = gemini.NewGeminiGenerator(ctx, appLogger, cfg.LLM)
		if err != nil {
			return nil, fmt.Errorf("failed to create generator: %w", err)
		}
	}

	sched := scheduler.New(jobs, tasks, errs, gen, publisher, scheduler.Config{
		WorkerCount:  cfg.Scheduler.WorkerCount,
		QueueSize:    cfg.Scheduler.QueueSize,
		DrainTimeout: cfg.Scheduler.DrainTimeout,
	}, appLogger)

	orch := orchestrator.New(jobs, tasks, errs, sched, sched, publisher, appLogger)
	sched.SetRecomputer(orch)

	monitor := health.NewMonitor(jobs, tasks, errs, publisher, health.Config{
		CheckInterval:       cfg.Health.CheckInterval,
		StallAfter:          cfg.Health.StallAfter,
		StuckAfter:          cfg.Health.StuckAfter,
		MaxRecoveryAttempts: cfg.Recovery.MaxAttempts,
	}, appLogger)

	recoveryController := recovery.New(
		jobs, tasks, errs, sched, sched, publisher, publisher,
		cfg.Recovery.MaxAttempts, appLogger)

	return &application{
		cfg:       cfg,
		logger:    appLogger,
		db:        db,
		jobs:      jobs,
		publisher: publisher,
		scheduler: sched,
		orch:      orch,
		monitor:   monitor,
		recovery:  recoveryController,
	}, nil
}

// run starts the HTTP server, the task scheduler and the health monitor
// and blocks until a signal arrives or any of them fails.
func (app *application) run() error {
	var g run.Group

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Server.Port),
		Handler:           app.setupRouter(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	g.Add(func() error {
		app.logger.Info("http server listening", "addr", srv.Addr)
		return srv.ListenAndServe()
	}, func(error) {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			app.logger.Error("http server shutdown failed", "error", err)
		}
	})

	schedulerDone := make(chan struct{})
	g.Add(func() error {
		if err := app.scheduler.Start(); err != nil {
			return err
		}
		<-schedulerDone
		return nil
	}, func(error) {
		app.scheduler.Stop()
		close(schedulerDone)
	})

	monitorCtx, cancelMonitor := context.WithCancel(context.Background())
	g.Add(func() error {
		err := app.monitor.Run(monitorCtx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}, func(error) {
		cancelMonitor()
	})

	g.Add(run.SignalHandler(context.Background(), syscall.SIGINT, syscall.SIGTERM))

	return g.Run()
}

// close releases the application's resources.
func (app *application) close() {
	if err := app.db.Close(); err != nil {
		app.logger.Error("failed to close database", "error", err)
	}
}
