// Package database opens the weather store selected by configuration and
// brings its schema up to date.
package database

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/raincheck/raincheck/internal/weather"
)

// Supported drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config holds database connection configuration.
type Config struct {
	// Driver is DriverPostgres or DriverSQLite.
	Driver string

	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	// SQLitePath is the database file used with DriverSQLite.
	SQLitePath string
}

// ConfigFromEnv creates a Config from environment variables.
func ConfigFromEnv() Config {
	port, _ := strconv.Atoi(getEnvOrDefault("DB_PORT", "5432"))
	maxOpen, _ := strconv.Atoi(getEnvOrDefault("DB_MAX_OPEN_CONNS", "10"))
	maxIdle, _ := strconv.Atoi(getEnvOrDefault("DB_MAX_IDLE_CONNS", "2"))
	lifetime, _ := time.ParseDuration(getEnvOrDefault("DB_CONN_MAX_LIFETIME", "30m"))

	return Config{
		Driver:          getEnvOrDefault("DB_DRIVER", DriverPostgres),
		Host:            getEnvOrDefault("DB_HOST", "localhost"),
		Port:            port,
		User:            getEnvOrDefault("DB_USER", "raincheck"),
		Password:        getEnvOrDefault("DB_PASSWORD", "localdev"),
		Database:        getEnvOrDefault("DB_NAME", "raincheck"),
		SSLMode:         getEnvOrDefault("DB_SSL_MODE", "disable"),
		MaxOpenConns:    maxOpen,
		MaxIdleConns:    maxIdle,
		ConnMaxLifetime: lifetime,
		SQLitePath:      getEnvOrDefault("SQLITE_PATH", "raincheck.db"),
	}
}

// ConnectionString returns the PostgreSQL connection string.
func (c Config) ConnectionString() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

// Connect creates a new PostgreSQL connection pool.
func Connect(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	// streaming reads hold a connection while rows are written on another
	maxConns := max(cfg.MaxOpenConns, 2)
	poolConfig.MaxConns = int32(maxConns)         //nolint:gosec // bounded by config
	poolConfig.MinConns = int32(cfg.MaxIdleConns) //nolint:gosec // bounded by config
	poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// Store is an opened, migrated weather store.
type Store struct {
	weather.Repository

	close func()
}

// Close releases the underlying connections. Call it only after every user
// of the store has stopped.
func (s *Store) Close() {
	s.close()
}

// Open connects to the configured store and applies pending migrations. A
// migration failure is returned as a *migrate.SchemaError and the store is
// closed again.
func Open(ctx context.Context, cfg Config, logger zerolog.Logger) (*Store, error) {
	switch cfg.Driver {
	case DriverPostgres, "":
		pool, err := Connect(ctx, cfg)
		if err != nil {
			return nil, err
		}
		repo := weather.NewPostgresRepository(pool)
		if err := repo.Migrate(ctx, logger); err != nil {
			pool.Close()
			return nil, err
		}
		logger.Info().
			Str("driver", DriverPostgres).
			Str("host", cfg.Host).
			Str("database", cfg.Database).
			Msg("connected to database")
		return &Store{Repository: repo, close: pool.Close}, nil

	case DriverSQLite:
		repo, err := weather.OpenSQLite(ctx, cfg.SQLitePath, cfg.MaxOpenConns)
		if err != nil {
			return nil, err
		}
		if err := repo.Migrate(ctx, logger); err != nil {
			_ = repo.Close()
			return nil, err
		}
		logger.Info().
			Str("driver", DriverSQLite).
			Str("path", cfg.SQLitePath).
			Int("max_open_conns", repo.Stats().MaxOpenConnections).
			Msg("opened database")
		return &Store{Repository: repo, close: func() { _ = repo.Close() }}, nil

	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
