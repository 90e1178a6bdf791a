package db

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"zenj-service/internal/db/migrations"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// MigrateResult describes what happened during migration.
type MigrateResult struct {
	Version uint
	Dirty   bool
	Changed bool
}

// Connect opens the database for driver and applies pending migrations.
func Connect(driver, dsn string, logger *zap.Logger) (*sqlx.DB, error) {
	if driver == DriverSQLite {
		dsn = sqliteDSN(dsn)
	}
	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	if driver == DriverSQLite {
		// one writer keeps SQLite from returning SQLITE_BUSY under load
		db.SetMaxOpenConns(1)
	}

	res, err := Migrate(db)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrations applied",
		zap.String("driver", driver),
		zap.Uint("version", res.Version),
		zap.Bool("changed", res.Changed),
	)
	return db, nil
}

// Migrate runs all pending migrations for the connection's dialect.
func Migrate(db *sqlx.DB) (*MigrateResult, error) {
	dir, err := migrationDir(db.DriverName())
	if err != nil {
		return nil, err
	}
	sub, err := fs.Sub(migrations.FS, dir)
	if err != nil {
		return nil, fmt.Errorf("migration dir: %w", err)
	}
	source, err := iofs.New(sub, ".")
	if err != nil {
		return nil, fmt.Errorf("migration source: %w", err)
	}

	var driver database.Driver
	switch db.DriverName() {
	case DriverPostgres:
		driver, err = postgres.WithInstance(db.DB, &postgres.Config{})
	case DriverSQLite:
		driver, err = sqlite3.WithInstance(db.DB, &sqlite3.Config{})
	}
	if err != nil {
		return nil, fmt.Errorf("migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, db.DriverName(), driver)
	if err != nil {
		return nil, fmt.Errorf("migration instance: %w", err)
	}

	err = m.Up()
	changed := true
	if errors.Is(err, migrate.ErrNoChange) {
		changed = false
		err = nil
	}
	if err != nil {
		return nil, fmt.Errorf("migration up: %w", err)
	}

	version, dirty, _ := m.Version()
	return &MigrateResult{Version: version, Dirty: dirty, Changed: changed}, nil
}

// SQLitePath returns the database file named by a SQLite DSN, or "" for
// in-memory databases.
func SQLitePath(dsn string) string {
	path, _, _ := strings.Cut(strings.TrimPrefix(dsn, "file:"), "?")
	if path == "" || path == ":memory:" {
		return ""
	}
	return filepath.Clean(path)
}

func migrationDir(driver string) (string, error) {
	switch driver {
	case DriverPostgres:
		return "postgres", nil
	case DriverSQLite:
		return "sqlite", nil
	}
	return "", fmt.Errorf("unsupported db driver %q", driver)
}

func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "?") {
		return dsn
	}
	return dsn + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
}
