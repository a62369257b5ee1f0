package database

import (
	"io/fs"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMigrateURL(t *testing.T) {
	require.Equal(t, "pgx5://u:p@db:5432/dv?sslmode=disable", migrateURL("postgres://u:p@db:5432/dv?sslmode=disable"))
	require.Equal(t, "pgx5://u@db/dv", migrateURL("postgresql://u@db/dv"))
	require.Equal(t, "pgx5://already", migrateURL("pgx5://already"))
}

func TestMigrationsEmbedded(t *testing.T) {
	names, err := fs.Glob(migrationsFS, "migrations/*.sql")
	require.NoError(t, err)
	require.Contains(t, names, "migrations/000001_init.up.sql")
	require.Contains(t, names, "migrations/000001_init.down.sql")
}
