package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"smart-event-relay/internal/calendar"
	"smart-event-relay/internal/calsync"
	"smart-event-relay/internal/config"
	"smart-event-relay/internal/cycle"
	"smart-event-relay/internal/db"
	"smart-event-relay/internal/handlers"
	"smart-event-relay/internal/inference"
	"smart-event-relay/internal/ingest"
	"smart-event-relay/internal/metrics"
	"smart-event-relay/internal/model"
	"smart-event-relay/internal/push"
	"smart-event-relay/internal/reminder"
	"smart-event-relay/internal/repository"
	"smart-event-relay/internal/scheduler"
	"smart-event-relay/internal/server"
)

// App holds the wired pipeline: storage, the three workers behind a cycle
// runner, and the optional cron trigger.
type App struct {
	Config    *config.Config
	DB        *gorm.DB
	Repo      *repository.Repository
	Runner    *cycle.Runner
	Scheduler *scheduler.Scheduler
}

// LoadConfig loads and validates configuration, then applies the log settings
func LoadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	if err := ConfigureLogging(cfg.Log); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ConfigureLogging sets the logrus level and formatter
func ConfigureLogging(cfg config.LogConfig) error {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	logrus.SetLevel(level)

	switch strings.ToLower(cfg.Format) {
	case "", "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	case "text":
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return fmt.Errorf("invalid log format %q", cfg.Format)
	}
	return nil
}

// New connects to the database and wires the pipeline
func New(cfg *config.Config) (*App, error) {
	dbConn, err := db.Init(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return build(cfg, dbConn, prometheus.DefaultRegisterer)
}

func build(cfg *config.Config, dbConn *gorm.DB, reg prometheus.Registerer) (*App, error) {
	m := metrics.NewMetrics(reg)
	repo := repository.New(dbConn)

	ingestOpts, err := ingest.OptionsFromConfig(cfg.Ingest)
	if err != nil {
		return nil, err
	}
	infer, err := inference.NewOllamaClient(cfg.Inference, ingestOpts.Location)
	if err != nil {
		return nil, fmt.Errorf("failed to create inference client: %w", err)
	}

	providers := calendar.Providers{
		model.CalendarGoogle: calendar.NewGoogleProvider(cfg.Calendar),
		model.CalendarCalDAV: calendar.NewCalDAVProvider(cfg.Calendar.Timeout),
	}

	runner := cycle.NewRunner().
		Register(ingest.Name, ingest.New(repo, infer, m, ingestOpts)).
		Register(calsync.Name, calsync.New(repo, providers, m, calsync.OptionsFromConfig(cfg.Calendar))).
		Register(reminder.Name, reminder.New(repo, push.NewExpoClient(cfg.Push), m, reminder.OptionsFromConfig(cfg.Push)))

	return &App{
		Config:    cfg,
		DB:        dbConn,
		Repo:      repo,
		Runner:    runner,
		Scheduler: scheduler.NewScheduler(scheduler.JobsFromConfig(cfg.Scheduler), runner),
	}, nil
}

// Close releases the database connection
func (a *App) Close() error {
	sqlDB, err := a.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying SQL DB: %w", err)
	}
	return sqlDB.Close()
}

// Serve runs the HTTP API, and the scheduler when enabled, until SIGINT or SIGTERM
func (a *App) Serve() error {
	h := handlers.NewHandlers(a.Repo, a.Runner, a.Scheduler)
	router := server.SetupRouter(h)
	srv := &http.Server{
		Addr:         ":" + a.Config.Server.Port,
		Handler:      router,
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
	}

	if a.Config.Scheduler.Enabled {
		if err := a.Scheduler.Start(); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	} else {
		logrus.Info("Scheduler disabled; cycles run on demand only")
	}

	serverErr := make(chan error, 1)
	go func() {
		logrus.Infof("Starting HTTP server on port %s", a.Config.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case <-quit:
	case err := <-serverErr:
		runErr = fmt.Errorf("HTTP server error: %w", err)
	}

	logrus.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := a.Scheduler.Stop(); err != nil {
		logrus.Errorf("Failed to stop scheduler: %v", err)
	}
	a.Scheduler.Wait()

	if err := srv.Shutdown(ctx); err != nil {
		logrus.Errorf("HTTP server shutdown error: %v", err)
	}

	logrus.Info("Server stopped gracefully")
	return runErr
}

// Run loads configuration, migrates the schema and serves until stopped
func Run() error {
	logrus.SetFormatter(&logrus.JSONFormatter{})
	logrus.Info("Starting Smart Event Relay Service")

	cfg, err := LoadConfig()
	if err != nil {
		return err
	}

	a, err := New(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logrus.Errorf("Failed to close database: %v", err)
		}
	}()

	if err := db.Migrate(a.DB); err != nil {
		return err
	}
	return a.Serve()
}
