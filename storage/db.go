// Package storage persists projects, tasks and users in SQL and keeps the
// redis and Azure side channels used by the API.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	log "github.com/sirupsen/logrus"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"tandem/domain"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

func init() {
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
}

// DB is the SQL store. Queries are written with ? placeholders and rebound
// for the active driver.
type DB struct {
	x      *sqlx.DB
	driver string
	now    func() time.Time
}

// PoolOptions tunes the connection pool. Zero values keep the driver defaults.
type PoolOptions struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Open connects to the database, applies per-driver settings and verifies the
// connection.
func Open(ctx context.Context, driver, dsn string, opts PoolOptions) (*DB, error) {
	if driver != DriverPostgres && driver != DriverSQLite {
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	x, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if driver == DriverSQLite {
		// a single connection keeps in-memory databases shared and serialises writers
		x.SetMaxOpenConns(1)
		x.SetMaxIdleConns(1)
		for _, pragma := range []string{"PRAGMA foreign_keys = ON", "PRAGMA busy_timeout = 5000"} {
			if _, err := x.ExecContext(ctx, pragma); err != nil {
				closeQuietly(x)
				return nil, fmt.Errorf("%s: %w", pragma, err)
			}
		}
	} else {
		if opts.MaxOpenConns > 0 {
			x.SetMaxOpenConns(opts.MaxOpenConns)
		}
		if opts.MaxIdleConns > 0 {
			x.SetMaxIdleConns(opts.MaxIdleConns)
		}
		if opts.ConnMaxLifetime > 0 {
			x.SetConnMaxLifetime(opts.ConnMaxLifetime)
		}
	}

	if err := x.PingContext(ctx); err != nil {
		closeQuietly(x)
		return nil, fmt.Errorf("database ping failed: %w", err)
	}
	return &DB{x: x, driver: driver, now: func() time.Time { return time.Now().UTC() }}, nil
}

func closeQuietly(x *sqlx.DB) {
	if err := x.Close(); err != nil {
		log.WithError(err).Error("error closing db")
	}
}

func (db *DB) Close() error {
	return db.x.Close()
}

// Driver returns the name of the SQL driver in use.
func (db *DB) Driver() string { return db.driver }

// Ping is used by the status endpoint.
func (db *DB) Ping(ctx context.Context) error {
	return db.x.PingContext(ctx)
}

func (db *DB) q(query string) string {
	return db.x.Rebind(query)
}

// inTx runs fn inside a transaction and commits when it returns nil.
func (db *DB) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.x.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		if rerr := tx.Rollback(); rerr != nil && !errors.Is(rerr, sql.ErrTxDone) {
			log.WithError(rerr).Warn("rollback failed")
		}
		return err
	}
	return tx.Commit()
}

// lockProject takes the project row write lock used to serialise order
// computation. It doubles as the existence check.
func (db *DB) lockProject(ctx context.Context, tx *sqlx.Tx, projectID string, now time.Time) error {
	res, err := tx.ExecContext(ctx, db.q(`UPDATE projects SET updated_at = ? WHERE id = ?`), now, projectID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("project %s: %w", projectID, domain.ErrNotFound)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		case sqlite3.SQLITE_CONSTRAINT:
			return strings.Contains(sqliteErr.Error(), "UNIQUE")
		}
	}
	return false
}

func notFoundIfNoRows(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, domain.ErrNotFound)
	}
	return err
}
