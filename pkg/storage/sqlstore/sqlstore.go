package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"           // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/platinummonkey/idlink/pkg/storage"
)

// Store implements storage.Store over database/sql
type Store struct {
	queries
	db     *sql.DB
	config storage.Config
}

var _ storage.Store = (*Store)(nil)

// Open connects to the configured database and verifies the connection
func Open(config storage.Config) (*Store, error) {
	dialect, err := ParseDialect(config.Driver)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(string(dialect), config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", dialect, err)
	}

	// Configure connection pool
	if dialect == SQLite {
		// SQLite allows a single writer; one connection serializes transactions
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(config.MaxOpenConns)
		db.SetMaxIdleConns(config.MaxIdleConns)
		db.SetConnMaxLifetime(config.ConnMaxLifetime)
	}

	timeout := config.QueryTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, wrapErr("ping "+string(dialect), err)
	}

	return New(db, dialect, config), nil
}

// New wraps an existing connection pool
func New(db *sql.DB, dialect Dialect, config storage.Config) *Store {
	return &Store{
		queries: queries{db: db, dialect: dialect},
		db:      db,
		config:  config,
	}
}

// NewInMemory opens a migrated in-memory SQLite store
func NewInMemory(ctx context.Context) (*Store, error) {
	s, err := Open(storage.Config{Driver: "sqlite", DSN: ":memory:"})
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// DB returns the underlying connection pool for health checks
func (s *Store) DB() *sql.DB {
	return s.db
}

// Dialect returns the SQL flavour in use
func (s *Store) Dialect() Dialect {
	return s.dialect
}

// Migrate creates the schema if it does not exist
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range s.dialect.schema() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return wrapErr("apply schema", err)
		}
	}
	return nil
}

// BeginTx starts a multi-row transaction
func (s *Store) BeginTx(ctx context.Context) (storage.Tx, error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrapErr("begin transaction", err)
	}
	return &tx{queries: queries{db: sqlTx, dialect: s.dialect}, tx: sqlTx}, nil
}

// HealthCheck pings the database
func (s *Store) HealthCheck(ctx context.Context) error {
	return wrapErr("ping database", s.db.PingContext(ctx))
}

// Close closes the connection pool
func (s *Store) Close() error {
	return s.db.Close()
}

// tx implements storage.Tx
type tx struct {
	queries
	tx *sql.Tx
}

func (t *tx) Commit() error {
	return wrapErr("commit transaction", t.tx.Commit())
}

func (t *tx) Rollback() error {
	err := t.tx.Rollback()
	if err == sql.ErrTxDone {
		return nil
	}
	return wrapErr("rollback transaction", err)
}

// execer is satisfied by both *sql.DB and *sql.Tx
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries holds every statement; Store and tx share it
type queries struct {
	db      execer
	dialect Dialect
}

func (q *queries) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return q.db.ExecContext(ctx, q.dialect.Rebind(query), args...)
}

func (q *queries) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return q.db.QueryContext(ctx, q.dialect.Rebind(query), args...)
}

func (q *queries) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return q.db.QueryRowContext(ctx, q.dialect.Rebind(query), args...)
}

// execAffected runs a statement and returns the number of rows it changed
func (q *queries) execAffected(ctx context.Context, op, query string, args ...any) (int64, error) {
	res, err := q.exec(ctx, query, args...)
	if err != nil {
		return 0, wrapErr(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, wrapErr(op, err)
	}
	return n, nil
}

// execOne runs a statement that must change exactly one row
func (q *queries) execOne(ctx context.Context, op, query string, args ...any) error {
	n, err := q.execAffected(ctx, op, query, args...)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("failed to %s: %w", op, storage.ErrNotFound)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

func utc(t time.Time) time.Time {
	return t.UTC()
}
