// internal/common/database/postgres.go
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"admissions-portal/internal/common/config"
	apperrors "admissions-portal/internal/common/errors"

	_ "github.com/lib/pq"
)

// PostgresClient wraps the SQL connection to the remote application store.
type PostgresClient struct {
	DB *sql.DB
}

// NewPostgres opens the pool. sql.Open does not dial, so callers Ping before use.
func NewPostgres(cfg config.PostgresConfig) (*PostgresClient, error) {
	if !cfg.Configured() {
		return nil, fmt.Errorf("postgres is not configured")
	}

	db, err := sql.Open("postgres", cfg.GetDSN())
	if err != nil {
		return nil, apperrors.NewDatabaseConnectionFailedError(err)
	}

	if cfg.MaxConnections > 0 {
		db.SetMaxOpenConns(cfg.MaxConnections)
	}
	if cfg.MaxIdle > 0 {
		db.SetMaxIdleConns(cfg.MaxIdle)
	}
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	return &PostgresClient{DB: db}, nil
}

// Ping tests the database connection. Failures are retryable DATABASE_CONNECTION_FAILED errors.
func (c *PostgresClient) Ping(ctx context.Context) error {
	if err := c.DB.PingContext(ctx); err != nil {
		return apperrors.NewDatabaseConnectionFailedError(err)
	}
	return nil
}

func (c *PostgresClient) Close() error {
	if c.DB != nil {
		return c.DB.Close()
	}
	return nil
}

// GetDB returns the underlying *sql.DB
func (c *PostgresClient) GetDB() *sql.DB {
	return c.DB
}
