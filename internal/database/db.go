// Package database provides the SQLite-backed local store for the reading plan.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/willswire/mcheyne/internal/kvstore"
)

// DB is the SQLite local store. Every plan key is one row of the kv table.
type DB struct {
	*sql.DB
	logger *slog.Logger
}

var (
	_ kvstore.Store       = (*DB)(nil)
	_ kvstore.Batcher     = (*DB)(nil)
	_ kvstore.Snapshotter = (*DB)(nil)
)

// Config holds database configuration options.
type Config struct {
	Path            string // file path, or ":memory:"
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	// BusyTimeout is how long a write waits on a locked file. Zero means 5s.
	BusyTimeout time.Duration
}

// DefaultConfig returns a single-connection configuration for path. The plan
// is the only writer, so one connection never contends with itself.
func DefaultConfig(path string) Config {
	return Config{
		Path:            path,
		MaxOpenConns:    1,
		MaxIdleConns:    1,
		ConnMaxLifetime: time.Hour,
		BusyTimeout:     5 * time.Second,
	}
}

// dsn appends the pragmas every connection needs: WAL journaling and the
// busy timeout.
func (c Config) dsn() string {
	busy := c.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	return fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=%d", c.Path, busy.Milliseconds())
}

// Open opens the SQLite file at cfg.Path, creating its folder if needed, and
// checks the connection. Call Migrate before using the store.
//
// The caller is responsible for calling Close() when done.
func Open(cfg Config, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if dir := filepath.Dir(cfg.Path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", dir, err)
		}
	}

	sqlDB, err := sql.Open("sqlite3", cfg.dsn())
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", cfg.Path, err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", cfg.Path, err)
	}

	logger.Info("sqlite store opened", slog.String("path", cfg.Path))
	return &DB{DB: sqlDB, logger: logger}, nil
}

// Close closes the database.
func (db *DB) Close() error {
	db.logger.Debug("closing sqlite store")
	return db.DB.Close()
}

// Health runs a trivial query against the store.
func (db *DB) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var one int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("sqlite health: %w", err)
	}
	return nil
}

// =============================================================================
// Schema
// =============================================================================

// Migrate brings the schema up to date and returns how many versions it
// applied. Versions in schema_migrations are skipped; the rest run in version
// order inside one transaction, so a failure leaves the schema untouched.
func (db *DB) Migrate(ctx context.Context) (int, error) {
	versions := slices.Sorted(maps.Keys(migrationsSQL))

	count := 0
	err := db.inTx(ctx, func(tx *sql.Tx) error {
		applied, err := appliedVersions(ctx, tx)
		if err != nil {
			return err
		}

		for _, version := range versions {
			if applied[version] {
				continue
			}
			if _, err := tx.ExecContext(ctx, migrationsSQL[version]); err != nil {
				return fmt.Errorf("apply schema version %d: %w", version, err)
			}
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO schema_migrations (version) VALUES (?)", version,
			); err != nil {
				return fmt.Errorf("record schema version %d: %w", version, err)
			}
			db.logger.Info("applied schema version", slog.Int("version", version))
			count++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	db.logger.Debug("schema up to date",
		slog.Int("applied", count),
		slog.Int("latest", versions[len(versions)-1]),
	)
	return count, nil
}

// appliedVersions creates schema_migrations if needed and reads it.
func appliedVersions(ctx context.Context, tx *sql.Tx) (map[int]bool, error) {
	if _, err := tx.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL DEFAULT (datetime('now'))
		)
	`); err != nil {
		return nil, fmt.Errorf("create schema_migrations: %w", err)
	}

	rows, err := tx.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("read schema_migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan schema version: %w", err)
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

// inTx runs fn in a transaction, committing when it returns nil.
func (db *DB) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := db.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// ErrNotFound is kvstore.ErrNotFound, re-exported for callers of this package.
var ErrNotFound = kvstore.ErrNotFound

// IsNotFound reports whether err means the key or row is absent.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, sql.ErrNoRows)
}
