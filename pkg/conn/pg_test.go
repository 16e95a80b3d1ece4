package conn

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresOptionDSN(t *testing.T) {
	dsn, err := PostgresOption{}.DSN()
	require.NoError(t, err)
	assert.Equal(t, "postgres://localhost:5432?sslmode=disable", dsn)

	dsn, err = PostgresOption{
		Host:            "db",
		Port:            6543,
		User:            "alpha",
		Password:        "p@ss",
		Database:        "documents",
		ApplicationName: "databased",
	}.DSN()
	require.NoError(t, err)
	assert.Equal(t, "postgres://alpha:p%40ss@db:6543/documents?application_name=databased&sslmode=disable", dsn)

	dsn, err = PostgresOption{URL: "postgres://custom"}.DSN()
	require.NoError(t, err)
	assert.Equal(t, "postgres://custom", dsn)

	_, err = PostgresOption{Port: 70000}.DSN()
	assert.Error(t, err)
}

func TestOpenSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "store.db")
	db, err := OpenSQLite(path)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Ping())
	_, err = OpenSQLite("")
	assert.Error(t, err)
}
