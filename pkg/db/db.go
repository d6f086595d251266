package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"  // PostgreSQL driver
	_ "modernc.org/sqlite" // SQLite driver
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

var ErrNotFound = errors.New("record not found")

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries carries the statement set shared by Database and Tx.
type queries struct {
	ex     execer
	driver string
}

func (q queries) postgres() bool { return q.driver == DriverPostgres }

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (q queries) rebind(query string) string {
	if !q.postgres() {
		return query
	}
	var b strings.Builder
	n := 0
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

func (q queries) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return q.ex.ExecContext(ctx, q.rebind(query), args...)
}

func (q queries) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return q.ex.QueryContext(ctx, q.rebind(query), args...)
}

func (q queries) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return q.ex.QueryRowContext(ctx, q.rebind(query), args...)
}

// Database wraps the SQL handle for easier swapping/testing.
type Database struct {
	queries
	DB *sql.DB
}

// Open connects to sqlite (dsn is a file path or :memory:) or postgres (dsn is a URL).
func Open(driver, dsn string) (*Database, error) {
	if dsn == "" {
		return nil, errors.New("database dsn is empty")
	}
	switch driver {
	case DriverPostgres:
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		db.SetMaxOpenConns(20)
		db.SetConnMaxLifetime(time.Hour)
		return wrap(db, DriverPostgres), nil
	case DriverSQLite, "":
		return New(dsn)
	default:
		return nil, fmt.Errorf("unsupported db driver %q", driver)
	}
}

// New opens (and creates if needed) the SQLite database at path.
func New(path string) (*Database, error) {
	if path == "" {
		return nil, errors.New("database path is empty")
	}

	inMemory := path == ":memory:" || strings.Contains(path, "mode=memory")
	if !inMemory {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite prefers a single writer. This also keeps :memory: databases on
	// one connection, so a transaction in flight blocks every other caller.
	db.SetMaxOpenConns(1)
	if !inMemory {
		db.SetConnMaxLifetime(time.Hour)
	}

	return wrap(db, DriverSQLite), nil
}

func wrap(db *sql.DB, driver string) *Database {
	return &Database{queries: queries{ex: db, driver: driver}, DB: db}
}

// Driver reports the SQL dialect in use.
func (d *Database) Driver() string { return d.driver }

// Close releases the underlying DB handle.
func (d *Database) Close() error {
	if d == nil || d.DB == nil {
		return nil
	}
	return d.DB.Close()
}

// Tx exposes the same statements as Database inside a transaction, plus
// row locking. Callers must not touch Database while a Tx is open on SQLite.
type Tx struct {
	queries
	tx *sql.Tx
}

// WithTx runs fn in a transaction, committing when fn returns nil.
func (d *Database) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	tx := &Tx{queries: queries{ex: sqlTx, driver: d.driver}, tx: sqlTx}
	if err := fn(tx); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
