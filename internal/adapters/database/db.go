package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/selivandex/newsimpact/internal/adapters/config"
	"github.com/selivandex/newsimpact/pkg/logger"
)

// DB wraps an sqlx connection pool
type DB struct {
	conn *sqlx.DB
	name string
}

// New connects to Postgres
func New(cfg *config.DatabaseConfig) (*DB, error) {
	conn, err := sqlx.Connect("postgres", cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	conn.SetMaxOpenConns(cfg.MaxOpenConns)
	conn.SetMaxIdleConns(cfg.MaxIdleConns)
	conn.SetConnMaxLifetime(cfg.ConnMaxLife)

	logger.Info("database connection established",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
		zap.String("database", cfg.Name),
	)

	return &DB{conn: conn, name: "postgres"}, nil
}

// Wrap adopts an existing pool, used by tests
func Wrap(conn *sqlx.DB, name string) *DB {
	return &DB{conn: conn, name: name}
}

func (db *DB) Close() error {
	if db == nil || db.conn == nil {
		return nil
	}
	logger.Info("closing database connection", zap.String("db", db.name))
	return db.conn.Close()
}

// Conn returns the underlying *sql.DB (migrations)
func (db *DB) Conn() *sql.DB {
	return db.conn.DB
}

func (db *DB) DB() *sqlx.DB {
	return db.conn
}

func (db *DB) BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error) {
	return db.conn.BeginTxx(ctx, opts)
}

// Health pings with a short timeout
func (db *DB) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := db.conn.PingContext(ctx); err != nil {
		return fmt.Errorf("%s health check failed: %w", db.name, err)
	}
	return nil
}

// InTx runs fn in a transaction, committing only when fn returns nil
func (db *DB) InTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
