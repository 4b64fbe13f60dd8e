// Package storage persists resorts, snow reports, forecasts and alerts in
// SQLite or Postgres, under either the current or the legacy table layout.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite" // SQLite driver registration.

	"github.com/i474232898/ski-conditions/internal/metrics"
	"github.com/i474232898/ski-conditions/internal/resort"
	"github.com/i474232898/ski-conditions/migrations"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = resort.ErrNoRecord

	// ErrUnknownDriver is returned for a DSN whose scheme is not supported.
	ErrUnknownDriver = errors.New("unknown database driver")
)

// Driver names a database/sql driver.
type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements resort.Store and the alert store on a single database.
// The table layout is detected on first use and fixed afterwards.
type Store struct {
	db      *sql.DB
	driver  Driver
	log     zerolog.Logger
	metrics *metrics.Metrics

	mu     sync.Mutex
	probe  querier
	schema schema
	q      *queries
}

// Option configures a Store.
type Option func(*Store)

func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) { s.log = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// ParseDSN picks the driver for dsn and returns the data source name to
// hand to it. postgres:// and postgresql:// select Postgres; sqlite://,
// file: and plain paths select SQLite.
func ParseDSN(dsn string) (Driver, string, error) {
	dsn = strings.TrimSpace(dsn)
	switch {
	case dsn == "":
		return "", "", fmt.Errorf("%w: empty dsn", ErrUnknownDriver)
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return DriverPostgres, dsn, nil
	case strings.HasPrefix(dsn, "sqlite://"):
		return DriverSQLite, strings.TrimPrefix(dsn, "sqlite://"), nil
	case strings.HasPrefix(dsn, "sqlite:"):
		return DriverSQLite, strings.TrimPrefix(dsn, "sqlite:"), nil
	case strings.HasPrefix(dsn, "file:"):
		return DriverSQLite, dsn, nil
	case strings.Contains(dsn, "://"):
		scheme, _, _ := strings.Cut(dsn, "://")
		return "", "", fmt.Errorf("%w: %s", ErrUnknownDriver, scheme)
	}
	return DriverSQLite, dsn, nil
}

// Open connects to the database named by dsn. It does not create tables;
// call Migrate for that.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	driver, source, err := ParseDSN(dsn)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(string(driver), source)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}

	if driver == DriverSQLite {
		// One writer at a time; also keeps :memory: databases on one connection.
		db.SetMaxOpenConns(1)
		for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
			if _, err := db.ExecContext(ctx, pragma); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("%s: %w", pragma, err)
			}
		}
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	return New(db, driver, opts...), nil
}

// New wraps an already opened database.
func New(db *sql.DB, driver Driver, opts ...Option) *Store {
	s := &Store{
		db:     db,
		driver: driver,
		log:    zerolog.Nop(),
		probe:  db,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB exposes the underlying handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Driver reports which driver the store runs on.
func (s *Store) Driver() Driver {
	return s.driver
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// GooseDialect is the goose dialect name for the store's driver.
func (s *Store) GooseDialect() string {
	if s.driver == DriverPostgres {
		return "postgres"
	}
	return "sqlite3"
}

// Migrate resolves the schema mode and applies the embedded migrations when
// the current layout is in use. A legacy database is left untouched.
func (s *Store) Migrate(ctx context.Context) (Mode, error) {
	mode, err := s.ResolveSchemaMode(ctx)
	if err != nil {
		return 0, err
	}
	if mode == ModeB {
		s.log.Info().Str("mode", mode.String()).Msg("legacy schema detected, skipping migrations")
		return mode, nil
	}
	if err := migrations.Run(ctx, s.db, s.GooseDialect()); err != nil {
		return 0, err
	}
	return mode, nil
}

// rebind rewrites ? placeholders to $n for Postgres.
func rebind(driver Driver, query string) string {
	if driver != DriverPostgres {
		return query
	}
	var (
		b strings.Builder
		n int
	)
	b.Grow(len(query) + 8)
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// withTx runs fn inside a transaction, committing when it returns nil.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
