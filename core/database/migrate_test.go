package database

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectApplied(t *testing.T) {
	files := []string{"000001_sessions.up.sql", "000002_sessions_index.up.sql", "000003_extra.up.sql"}

	assert.Equal(t, []string{"000002_sessions_index.up.sql", "000003_extra.up.sql"}, selectApplied(files, 1, 3))
	assert.Empty(t, selectApplied(files, 3, 3))
	assert.Equal(t, uint64(0), parseVersion("garbage"))
}

func TestListMigrationFilesSkipsDown(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"000002_b.up.sql", "000001_a.up.sql", "000001_a.down.sql"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("--"), 0o600))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.up.sql"), 0o700))

	assert.Equal(t, []string{"000001_a.up.sql", "000002_b.up.sql"}, listMigrationFiles(dir))
}

func TestConfigURLs(t *testing.T) {
	cfg := Config{Host: "db", Port: "5432", User: "bot", Password: "p@ss", Name: "draw"}

	assert.Equal(t, "user=bot password=p@ss host=db port=5432 dbname=draw sslmode=disable", cfg.DSN())
	assert.Equal(t, "postgres://bot:p%40ss@db:5432/draw?sslmode=disable", cfg.URL())

	dir, err := resolveMigrationsDir("/abs/migrations")
	require.NoError(t, err)
	assert.Equal(t, "/abs/migrations", dir)
}
