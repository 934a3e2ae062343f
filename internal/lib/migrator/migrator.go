package migrator

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// Up applies every pending migration found in dir of fsys to the database at
// databaseURL (sqlite3://path or pgx5://dsn). It returns applied=false when
// the schema was already up to date.
func Up(fsys fs.FS, dir, databaseURL string) (applied bool, err error) {
	const op = "migrator.Up"

	src, err := iofs.New(fsys, dir)
	if err != nil {
		return false, fmt.Errorf("%s: source: %w", op, err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, databaseURL)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	defer m.Close()

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			return false, nil
		}
		return false, fmt.Errorf("%s: %w", op, err)
	}

	return true, nil
}

// SQLiteURL builds a migrate database URL for an sqlite file.
func SQLiteURL(path string) string {
	return "sqlite3://" + path
}

// PostgresURL builds a migrate database URL for a postgres DSN in URL form.
func PostgresURL(dsn string) string {
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if rest, ok := strings.CutPrefix(dsn, scheme); ok {
			return "pgx5://" + rest
		}
	}
	return dsn
}
