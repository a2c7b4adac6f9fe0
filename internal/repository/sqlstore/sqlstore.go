// Package sqlstore implements storage.Store on database/sql through sqlx.
// The same queries serve postgres (lib/pq), pgx and sqlite (modernc); the
// dialect only changes placeholders and row locking.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"mlm/internal/storage"
	"mlm/migrations"
	"mlm/pkg/errors"
)

// Dialect names a supported SQL backend. The value is also the
// database/sql driver name.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectPGX      Dialect = "pgx"
	DialectSQLite   Dialect = "sqlite"
)

func init() {
	sqlx.BindDriver(string(DialectSQLite), sqlx.QUESTION)
}

// Options configures Open.
type Options struct {
	Dialect         Dialect
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Store is a storage.Store backed by a SQL database.
type Store struct {
	db      *sqlx.DB
	dialect Dialect
}

// Open connects to the database. For sqlite the URL is a file path and the
// embedded schema is applied on open; postgres schemas are managed with
// Migrate.
func Open(ctx context.Context, opts Options) (*Store, error) {
	switch opts.Dialect {
	case DialectPostgres, DialectPGX:
		db, err := sqlx.ConnectContext(ctx, string(opts.Dialect), opts.URL)
		if err != nil {
			return nil, errors.Wrap(err, "failed to connect to database")
		}
		if opts.MaxOpenConns > 0 {
			db.SetMaxOpenConns(opts.MaxOpenConns)
		}
		if opts.MaxIdleConns > 0 {
			db.SetMaxIdleConns(opts.MaxIdleConns)
		}
		if opts.ConnMaxLifetime > 0 {
			db.SetConnMaxLifetime(opts.ConnMaxLifetime)
		}
		return &Store{db: db, dialect: opts.Dialect}, nil

	case DialectSQLite:
		return openSQLite(ctx, opts.URL)

	default:
		return nil, fmt.Errorf("unsupported sql dialect %q", opts.Dialect)
	}
}

func openSQLite(ctx context.Context, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, errors.Wrap(err, "failed to create database directory")
		}
	}

	db, err := sqlx.Open(string(DialectSQLite), path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}
	// One connection serializes writers and keeps the pragmas below in force.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA foreign_keys = ON", "PRAGMA busy_timeout = 5000"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, errors.Wrap(err, "failed to configure sqlite")
		}
	}
	if err := applySQLiteSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, dialect: DialectSQLite}, nil
}

func applySQLiteSchema(ctx context.Context, db *sqlx.DB) error {
	files, err := fs.Glob(migrations.SQLiteFS, "sqlite/*.sql")
	if err != nil {
		return errors.Wrap(err, "failed to list sqlite schema")
	}
	sort.Strings(files)
	for _, name := range files {
		schema, err := fs.ReadFile(migrations.SQLiteFS, name)
		if err != nil {
			return errors.Wrap(err, "failed to read sqlite schema")
		}
		if _, err := db.ExecContext(ctx, string(schema)); err != nil {
			return errors.Wrap(err, fmt.Sprintf("failed to apply %s", name))
		}
	}
	return nil
}

// DB exposes the connection pool for readiness checks and tooling.
func (s *Store) DB() *sqlx.DB { return s.db }

func (s *Store) Dialect() Dialect { return s.dialect }

// WithTx runs fn in a read-committed transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}

	var opts *sql.TxOptions
	if s.dialect != DialectSQLite {
		opts = &sql.TxOptions{Isolation: sql.LevelReadCommitted}
	}
	sqlTx, err := s.db.BeginTxx(ctx, opts)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = sqlTx.Rollback()
		}
	}()

	if err = fn(ctx, &tx{tx: sqlTx, dialect: s.dialect}); err != nil {
		return err
	}
	if err = sqlTx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit transaction")
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

// tx implements storage.Tx on one sqlx transaction.
type tx struct {
	tx      *sqlx.Tx
	dialect Dialect
}

// q rewrites ? placeholders for the active driver.
func (t *tx) q(query string) string {
	return t.tx.Rebind(query)
}

// forUpdate is the row lock suffix; sqlite locks the whole database per
// write transaction instead.
func (t *tx) forUpdate() string {
	if t.dialect == DialectSQLite {
		return ""
	}
	return " FOR UPDATE"
}

var _ storage.Store = (*Store)(nil)
var _ storage.Tx = (*tx)(nil)
