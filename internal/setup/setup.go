package setup

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/redis/rueidis"
	"github.com/robalyx/warden/internal/database"
	"github.com/robalyx/warden/internal/database/migrations"
	"github.com/robalyx/warden/internal/redis"
	"github.com/robalyx/warden/internal/setup/config"
	"github.com/robalyx/warden/internal/setup/telemetry"
	"github.com/uptrace/bun/migrate"
	"go.uber.org/zap"
)

// ErrMigrationsPending is returned when the schema is behind and the
// operator declined to migrate.
var ErrMigrationsPending = errors.New("database migrations are pending")

// App bundles all core dependencies and services needed by the application.
// Each field represents a major subsystem that needs initialization and cleanup.
type App struct {
	Config       *config.Config     // Application configuration
	Logger       *zap.Logger        // Main application logger
	DBLogger     *zap.Logger        // Database-specific logger
	DB           database.Client    // Database connection pool
	RedisManager *redis.Manager     // Redis connection manager
	StatusClient rueidis.Client     // Redis client for component status reporting
	LogManager   *telemetry.Manager // Log management system
}

// Options tune how InitializeApp treats pending migrations.
type Options struct {
	// AutoMigrate applies pending migrations without asking.
	AutoMigrate bool
	// Interactive asks on stdin before applying pending migrations.
	Interactive bool
}

// InitializeApp bootstraps all application dependencies in the correct order,
// ensuring each component has its required dependencies available.
func InitializeApp(
	ctx context.Context, serviceType telemetry.ServiceType, logDir string, opts Options,
) (*App, error) {
	// Load app configuration
	cfg, _, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}

	// Logging system is initialized next to capture setup issues
	logManager := telemetry.NewManager(serviceType, logDir, &cfg.Common.Debug)

	logger, dbLogger, err := logManager.GetLoggers()
	if err != nil {
		return nil, err
	}

	// Redis manager provides connection pools for various subsystems
	redisManager := redis.NewManager(&cfg.Common.Redis, logger)

	// Initialize database with migration check
	db, err := checkAndRunMigrations(ctx, &cfg.Common.PostgreSQL, dbLogger, opts)
	if err != nil {
		redisManager.Close()
		return nil, err
	}

	// Get Redis client for component status reporting
	statusClient, err := redisManager.GetClient(redis.StatusDBIndex)
	if err != nil {
		_ = db.Close()
		redisManager.Close()

		return nil, err
	}

	logger.Info("Application initialized",
		zap.String("component", logManager.ComponentName()),
		zap.String("session", logManager.GetCurrentSessionDir()))

	// Bundle all initialized components
	return &App{
		Config:       cfg,
		Logger:       logger,
		DBLogger:     dbLogger.Named("database"),
		DB:           db,
		RedisManager: redisManager,
		StatusClient: statusClient,
		LogManager:   logManager,
	}, nil
}

// Cleanup ensures graceful shutdown of all components in reverse initialization order.
// Logs but does not fail on cleanup errors to ensure all components get cleanup attempts.
func (s *App) Cleanup() {
	// Sync buffered logs before shutdown
	if err := s.Logger.Sync(); err != nil {
		log.Printf("Failed to sync logger: %v", err)
	}

	if err := s.DBLogger.Sync(); err != nil {
		log.Printf("Failed to sync DB logger: %v", err)
	}

	// Close database connections
	if err := s.DB.Close(); err != nil {
		log.Printf("Failed to close database connection: %v", err)
	}

	// Close Redis connections last as other components might need it during cleanup
	s.RedisManager.Close()
}

// checkAndRunMigrations runs database migrations if needed.
func checkAndRunMigrations(
	ctx context.Context, cfg *config.PostgreSQL, dbLogger *zap.Logger, opts Options,
) (database.Client, error) {
	tempDB, err := database.NewConnection(ctx, cfg, dbLogger, false)
	if err != nil {
		return nil, err
	}

	migrator := migrate.NewMigrator(tempDB.DB(), migrations.Migrations)

	ms, err := migrator.MigrationsWithStatus(ctx)
	if err != nil {
		_ = tempDB.Close()
		return nil, fmt.Errorf("failed to check migration status: %w", err)
	}

	unapplied := ms.Unapplied()
	if len(unapplied) == 0 {
		return tempDB, nil
	}

	apply := opts.AutoMigrate
	if !apply && opts.Interactive {
		log.Printf("%d database migrations are pending. Would you like to run them now? (y/N)", len(unapplied))

		var response string

		_, _ = fmt.Scanln(&response)
		apply = response == "y" || response == "Y"
	}

	_ = tempDB.Close()

	if !apply {
		return nil, fmt.Errorf("%w: %d unapplied", ErrMigrationsPending, len(unapplied))
	}

	return database.NewConnection(ctx, cfg, dbLogger, true)
}
