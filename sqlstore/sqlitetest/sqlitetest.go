// Package sqlitetest creates file backed sqlite stores for tests.
package sqlitetest

import (
	"path/filepath"
	"testing"

	"github.com/kenshi-labs/unchained-dashboard/sqlstore"
	"github.com/stretchr/testify/require"
)

// NewStore opens a fresh database in a temporary directory and runs the given statements.
func NewStore(t *testing.T, statements ...string) *sqlstore.Store {
	t.Helper()
	store, err := sqlstore.Open(sqlstore.DriverSqlite, filepath.Join(t.TempDir(), "unchained.db"), 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	Exec(t, store, statements...)
	return store
}

func Exec(t *testing.T, store *sqlstore.Store, statements ...string) {
	t.Helper()
	for _, statement := range statements {
		_, err := store.DB().Exec(statement)
		require.NoError(t, err, "executing [%s]", statement)
	}
}
