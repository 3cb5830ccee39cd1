package db

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/blindroute-core/internal/common/logger"
)

type DB struct {
	conn   *sql.DB
	logger logger.Logger
}

func New(connStr string, logger logger.Logger) (*DB, error) {
	conn, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	logger.Info("Database connection established")

	return &DB{
		conn:   conn,
		logger: logger,
	}, nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) Conn() *sql.DB {
	return db.conn
}

func (db *DB) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return db.conn.BeginTx(ctx, nil)
}

// Logger returns the logger instance
func (db *DB) Logger() logger.Logger {
	return db.logger
}

// Migrate creates the reservations table and its uniqueness guard.
// One row per live reservation; a rider may hold at most one boarding and
// one alighting reservation at a time.
func (db *DB) Migrate(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS reservations (
    id         BIGSERIAL PRIMARY KEY,
    owner_id   TEXT        NOT NULL,
    kind       TEXT        NOT NULL CHECK (kind IN ('boarding', 'alighting')),
    stop_id    TEXT        NOT NULL,
    ars_id     TEXT        NOT NULL,
    route_id   TEXT        NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX IF NOT EXISTS reservations_owner_kind_uq
    ON reservations (owner_id, kind);
`
	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrating reservations schema: %w", err)
	}
	return nil
}
