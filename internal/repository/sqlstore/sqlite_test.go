package sqlstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mlm/internal/storage"
	"mlm/internal/storage/storagetest"
)

func newSQLiteStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "network.db")
	store, err := Open(context.Background(), Options{Dialect: DialectSQLite, URL: path})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStoreContract(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store {
		return newSQLiteStore(t)
	})
}

func TestSQLiteSchemaIsReapplicable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "network.db")
	ctx := context.Background()

	first, err := Open(ctx, Options{Dialect: DialectSQLite, URL: path})
	require.NoError(t, err)
	storagetest.SeedParticipant(t, first, storagetest.Now())
	require.NoError(t, first.Close())

	second, err := Open(ctx, Options{Dialect: DialectSQLite, URL: path})
	require.NoError(t, err)
	defer second.Close()
	assert.NoError(t, second.Ping(ctx))
	assert.Equal(t, DialectSQLite, second.Dialect())
}

func TestOpenRejectsUnknownDialect(t *testing.T) {
	_, err := Open(context.Background(), Options{Dialect: "oracle"})
	assert.Error(t, err)
}

func TestMigrateUpIsNoopForSQLite(t *testing.T) {
	assert.NoError(t, MigrateUp(DialectSQLite, "ignored"))
	_, err := NewMigrator(DialectSQLite, "ignored")
	assert.Error(t, err)
}
