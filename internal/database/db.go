package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	_ "github.com/lib/pq"

	"github.com/placefinder/placefinder/internal/errors"
	"github.com/placefinder/placefinder/internal/telemetry"
)

type DB struct {
	*sql.DB
}

type Config struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// DSN renders the config as a postgres URL.
func (c Config) DSN() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     c.Host + ":" + c.Port,
		Path:     "/" + c.DBName,
		RawQuery: url.Values{"sslmode": {sslMode}}.Encode(),
	}
	return u.String()
}

// NewConnection opens a traced connection pool to the history database.
func NewConnection(ctx context.Context, config Config) (*DB, error) {
	return Open(ctx, config.DSN())
}

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn string) (*DB, error) {
	logger := telemetry.GetContextualLogger(ctx).WithFields(map[string]interface{}{
		"operation": "database_connection",
		"component": "database",
	})
	logger.Info("Establishing database connection")

	db, err := telemetry.InstrumentDatabase("postgres", dsn)
	if err != nil {
		logger.WithError(err).Error("Failed to open database connection")
		return nil, errors.NewDatabaseError("open", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		logger.WithError(err).Error("Failed to ping database")
		return nil, errors.NewDatabaseError("ping", fmt.Errorf("failed to ping database: %w", err))
	}

	logger.Info("Database connection established successfully")
	return &DB{db}, nil
}

func (db *DB) Close() error {
	return db.DB.Close()
}

// Health pings the database.
func (db *DB) Health(ctx context.Context) error {
	err := db.PingContext(ctx)
	if err != nil {
		telemetry.GetContextualLogger(ctx).WithField("operation", "database_health_check").
			WithError(err).Error("Database health check failed")
	}
	return err
}

const schema = `
CREATE TABLE IF NOT EXISTS selections (
	id          UUID PRIMARY KEY,
	chat_id     BIGINT NOT NULL,
	query       TEXT NOT NULL DEFAULT '',
	name        TEXT NOT NULL,
	lat         DOUBLE PRECISION NOT NULL,
	lng         DOUBLE PRECISION NOT NULL,
	bounds      JSONB,
	extensions  JSONB,
	source      TEXT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS selections_chat_created_idx ON selections (chat_id, created_at DESC);
`

// Migrate creates the schema if it does not exist.
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return errors.NewDatabaseError("migrate", err)
	}
	return nil
}

// WithTransaction runs fn in a transaction, committing when it returns nil.
func (db *DB) WithTransaction(ctx context.Context, fn func(*sql.Tx) error) (err error) {
	logger := telemetry.GetContextualLogger(ctx).WithField("operation", "database_transaction")

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		logger.WithError(err).Error("Failed to begin transaction")
		return errors.NewDatabaseError("begin", err)
	}

	defer func() {
		if p := recover(); p != nil {
			logger.WithField("panic", p).Error("Transaction panicked, rolling back")
			_ = tx.Rollback()
			panic(p)
		} else if err != nil {
			logger.WithError(err).Warn("Transaction failed, rolling back")
			_ = tx.Rollback()
		} else if err = tx.Commit(); err != nil {
			logger.WithError(err).Error("Failed to commit transaction")
		}
	}()

	return fn(tx)
}
