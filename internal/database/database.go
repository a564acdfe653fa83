// Package database implements the persistence interfaces of the diag
// package on database/sql, against SQLite for single-node deployments and
// MySQL for hosted ones. All statements use ? placeholders so both backends
// share the same queries.
package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/go-sql-driver/mysql" // mysql driver
	_ "github.com/mattn/go-sqlite3"    // sqlite driver

	"storewatch/internal/config"
	"storewatch/internal/database/migrations"
	"storewatch/internal/diag"
)

// DB wraps a sql.DB and implements every store interface of the diag
// package.
type DB struct {
	db     *sql.DB
	driver string
}

// OpenSQLite opens and configures a SQLite connection. path can be a file
// path or ":memory:".
func OpenSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite ships with foreign keys off for backward compatibility.
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// New wraps an existing connection. The caller keeps ownership of db.
func New(db *sql.DB, driver string) *DB {
	return &DB{db: db, driver: driver}
}

// NewFromConfig opens the backend selected by the config and applies any
// pending migrations.
func NewFromConfig(cfg config.DatabaseConfig) (*DB, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data dir: %w", err)
		}
		sqlDB, err := OpenSQLite(filepath.Join(cfg.DataDir, "storewatch.db"))
		if err != nil {
			return nil, err
		}
		return migrated(sqlDB, "sqlite3")
	case "memory":
		sqlDB, err := OpenSQLite(":memory:")
		if err != nil {
			return nil, err
		}
		return migrated(sqlDB, "sqlite3")
	case "mysql":
		if cfg.DSNEnv == "" {
			return nil, fmt.Errorf("dsn_env required for mysql database")
		}
		// The DSN must include parseTime=true so DATETIME columns scan
		// into time.Time.
		dsn := os.Getenv(cfg.DSNEnv)
		if dsn == "" {
			return nil, fmt.Errorf("environment variable %s is not set", cfg.DSNEnv)
		}
		sqlDB, err := sql.Open("mysql", dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		sqlDB.SetConnMaxLifetime(3 * time.Minute)
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetMaxIdleConns(10)
		return migrated(sqlDB, "mysql")
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}

func migrated(sqlDB *sql.DB, driver string) (*DB, error) {
	if err := migrations.MigrateUp(sqlDB, driver); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return New(sqlDB, driver), nil
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	return d.db.Close()
}

// Stores bundles this DB into the service's store set.
func (d *DB) Stores() diag.Stores {
	return diag.Stores{
		Storefronts: d,
		Versions:    d,
		Scripts:     d,
		Scans:       d,
		Audit:       d,
		Issues:      d,
		Apps:        d,
		Settings:    d,
		Usage:       d,
	}
}

// nullTime converts an optional time for storage.
func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// timePtr converts a scanned nullable time back to a pointer.
func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}
