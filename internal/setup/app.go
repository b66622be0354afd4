// Package setup builds the services shared by the server, the worker and
// the command line tool from the loaded configuration.
package setup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/varfish-case-importer/internal/caseimport"
	"github.com/varfish-case-importer/internal/config"
	"github.com/varfish-case-importer/internal/database"
	"github.com/varfish-case-importer/internal/domain"
	"github.com/varfish-case-importer/internal/importer/variants"
	"github.com/varfish-case-importer/internal/jobs"
	"github.com/varfish-case-importer/internal/repository"
	"github.com/varfish-case-importer/internal/storage"
	"github.com/varfish-case-importer/internal/tasks"
	"github.com/varfish-case-importer/internal/worker"
)

// LoadConfig reads and validates the configuration. An empty path searches
// the default locations.
func LoadConfig(path string) (*config.Manager, error) {
	var opts []config.Option
	if path != "" {
		opts = append(opts, config.WithConfigFile(path))
	}
	m, err := config.NewManager(opts...)
	if err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return m, nil
}

// NewLogger creates the process logger
func NewLogger(cfg domain.LoggingConfig) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: time.RFC3339,
			FullTimestamp:   true,
		})
	}
	return logger
}

// App holds the open connections of a process
type App struct {
	Config *domain.Config
	DB     *database.DB
	Store  *repository.Store
	Log    *logrus.Logger

	redis *redis.Client
}

// Open connects to the database, waiting for it to come up.
func Open(ctx context.Context, cfg *domain.Config, logger *logrus.Logger) (*App, error) {
	db, err := database.ConnectWithRetry(ctx, database.ConfigFromDomain(cfg.Database), logger)
	if err != nil {
		return nil, err
	}
	return &App{
		Config: cfg,
		DB:     db,
		Store:  repository.New(db, logger),
		Log:    logger,
	}, nil
}

// Close releases all connections.
func (a *App) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.Log.WithError(err).Warn("Closing Redis client failed")
		}
	}
	a.DB.Close()
}

// Migrate applies pending database migrations.
func (a *App) Migrate(ctx context.Context) error {
	return database.Migrate(ctx, database.ConfigFromDomain(a.Config.Database), a.Log)
}

// Redis returns the Redis client, connecting on first use.
func (a *App) Redis(ctx context.Context) (*redis.Client, error) {
	if a.redis != nil {
		return a.redis, nil
	}
	client, err := tasks.NewRedisClient(ctx, a.Config.Redis, a.Config.Database.ConnectTimeout, a.Log)
	if err != nil {
		return nil, err
	}
	a.redis = client
	return client, nil
}

// Queue returns the task queue.
func (a *App) Queue(ctx context.Context) (*tasks.Queue, error) {
	client, err := a.Redis(ctx)
	if err != nil {
		return nil, err
	}
	return tasks.NewQueue(client, a.Config.Queue.Name, a.Log), nil
}

// Internal opens the internal object storage.
func (a *App) Internal() (*storage.FileSystem, error) {
	fs, err := storage.New(storage.InternalOptions(a.Config.InternalStorage), a.Log)
	if err != nil {
		return nil, fmt.Errorf("opening internal storage: %w", err)
	}
	return fs, nil
}

// SeedKits loads the configured enrichment kit catalog, if any.
func (a *App) SeedKits(ctx context.Context, path string) (int, error) {
	if path == "" {
		return 0, nil
	}
	catalog, err := config.LoadKitCatalog(path)
	if err != nil {
		return 0, err
	}
	return catalog.Seed(ctx, a.Store)
}

// Entrypoints builds the task entrypoints around the given worker runner.
// A nil runner starts the configured worker executable.
func (a *App) Entrypoints(runner worker.Runner) (*tasks.Entrypoints, error) {
	wcfg := a.Config.Worker
	if runner == nil {
		runner = worker.NewExecRunner(wcfg.Executable, wcfg.Timeout, a.Log)
	}
	internal, err := a.Internal()
	if err != nil {
		return nil, err
	}
	kits, err := caseimport.NewKitResolver(wcfg.KitCacheSize, a.Log)
	if err != nil {
		return nil, err
	}

	harness := jobs.NewHarness(a.Store, a.Log, jobs.WithCancelPollInterval(wcfg.CancelPollInterval))
	vcfg := variants.Config{
		Bucket:           a.Config.InternalStorage.Bucket,
		MehariDBPath:     wcfg.MehariDBPath,
		TempDir:          wcfg.TempDir,
		Env:              worker.StorageEnv(a.Config.InternalStorage),
		PrefilterConfigs: wcfg.PrefilterConfigs,
	}
	executor := caseimport.NewExecutor(a.Store, internal, runner, kits, harness,
		caseimport.Config{External: a.Config.ExternalStorage, Variants: vcfg}, a.Log)
	query := variants.NewQueryExecutor(a.Store, runner, vcfg, a.Log)
	return tasks.NewEntrypoints(a.Store, harness, executor, query, a.Log), nil
}
