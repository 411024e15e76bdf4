package ingest

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DBConfig holds PostgreSQL connection configuration for the ingest store.
type DBConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DBConfigFromEnv creates a DBConfig from environment variables.
func DBConfigFromEnv() DBConfig {
	port, _ := strconv.Atoi(getEnvOrDefault("INGEST_DB_PORT", "5432"))
	maxOpen, _ := strconv.Atoi(getEnvOrDefault("INGEST_DB_MAX_OPEN_CONNS", "10"))
	maxIdle, _ := strconv.Atoi(getEnvOrDefault("INGEST_DB_MAX_IDLE_CONNS", "5"))
	lifetime, _ := time.ParseDuration(getEnvOrDefault("INGEST_DB_CONN_MAX_LIFETIME", "5m"))

	return DBConfig{
		Host:            getEnvOrDefault("INGEST_DB_HOST", "localhost"),
		Port:            port,
		User:            getEnvOrDefault("INGEST_DB_USER", "famloop"),
		Password:        getEnvOrDefault("INGEST_DB_PASSWORD", "localdev"),
		Database:        getEnvOrDefault("INGEST_DB_NAME", "famloop"),
		SSLMode:         getEnvOrDefault("INGEST_DB_SSL_MODE", "disable"),
		MaxOpenConns:    maxOpen,
		MaxIdleConns:    maxIdle,
		ConnMaxLifetime: lifetime,
	}
}

// ConnectionString returns the PostgreSQL connection string.
func (c DBConfig) ConnectionString() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

// Connect creates a new database connection pool.
func Connect(ctx context.Context, cfg DBConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxOpenConns) //nolint:gosec // MaxOpenConns is bounded by config validation
	poolConfig.MinConns = int32(cfg.MaxIdleConns) //nolint:gosec // MaxIdleConns is bounded by config validation
	poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// Migrate creates the locations table if it does not exist. The unique
// index on client_event_id is what backs batch redelivery dedup.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS locations (
			id              BIGSERIAL PRIMARY KEY,
			client_event_id TEXT NOT NULL UNIQUE,
			device_id       TEXT NOT NULL,
			family_id       TEXT NOT NULL,
			lat             DOUBLE PRECISION NOT NULL,
			lng             DOUBLE PRECISION NOT NULL,
			accuracy        DOUBLE PRECISION NOT NULL DEFAULT 0,
			altitude        DOUBLE PRECISION NOT NULL DEFAULT 0,
			bearing         DOUBLE PRECISION NOT NULL DEFAULT 0,
			speed           DOUBLE PRECISION NOT NULL DEFAULT 0,
			speed_kmh       DOUBLE PRECISION NOT NULL DEFAULT 0,
			is_moving       BOOLEAN NOT NULL DEFAULT FALSE,
			battery_level   INT,
			recorded_at     TIMESTAMPTZ NOT NULL,
			source          TEXT NOT NULL DEFAULT 'batch',
			created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS idx_locations_family_recorded
			ON locations (family_id, device_id, recorded_at DESC);
	`)
	if err != nil {
		return fmt.Errorf("migrate locations table: %w", err)
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
