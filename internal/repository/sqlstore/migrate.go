package sqlstore

import (
	stderrors "errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"

	"mlm/migrations"
	"mlm/pkg/errors"
)

// NewMigrator builds a golang-migrate instance over the embedded postgres
// migrations. The caller owns the returned instance and must Close it,
// which also closes its private connection.
func NewMigrator(dialect Dialect, url string) (*migrate.Migrate, error) {
	if dialect != DialectPostgres && dialect != DialectPGX {
		return nil, fmt.Errorf("migrations are not versioned for dialect %q", dialect)
	}

	db, err := sqlx.Open(string(dialect), url)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open migration connection")
	}

	driver, err := postgres.WithInstance(db.DB, &postgres.Config{})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to create migration driver")
	}

	source, err := iofs.New(migrations.PostgresFS, "postgres")
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to open embedded migrations")
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to create migrate instance")
	}
	return m, nil
}

// MigrateUp applies every pending migration. SQLite stores apply their
// schema on open, so it is a no-op for them.
func MigrateUp(dialect Dialect, url string) error {
	if dialect == DialectSQLite {
		return nil
	}
	m, err := NewMigrator(dialect, url)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !stderrors.Is(err, migrate.ErrNoChange) {
		return errors.Wrap(err, "migration failed")
	}
	return nil
}
