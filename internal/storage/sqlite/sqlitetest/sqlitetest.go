// Package sqlitetest opens migrated throwaway sqlite databases for tests.
package sqlitetest

import (
	"path/filepath"
	"testing"

	"quill/internal/lib/migrator"
	"quill/internal/storage/sqlite"
	"quill/migrations"

	"github.com/stretchr/testify/require"
)

// New returns a Storage backed by a fresh database file in t.TempDir().
func New(t *testing.T) *sqlite.Storage {
	t.Helper()

	path := filepath.Join(t.TempDir(), "quill_test.db")

	_, err := migrator.Up(migrations.FS, migrations.SQLiteDir, migrator.SQLiteURL(path))
	require.NoError(t, err)

	st, err := sqlite.New(path)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = st.Close()
	})

	return st
}
