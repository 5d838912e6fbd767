package migrate

import (
	"database/sql"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func registryFS() fstest.MapFS {
	return fstest.MapFS{
		"schema/002_add_tag.sql":         {Data: []byte(`ALTER TABLE projects ADD COLUMN tag TEXT;`)},
		"schema/001_create_projects.sql": {Data: []byte(`CREATE TABLE projects (alias TEXT PRIMARY KEY);`)},
		"schema/README.md":               {Data: []byte(`ignored`)},
	}
}

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "registry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestLoad(t *testing.T) {
	steps, err := Load(registryFS(), "schema")
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, 1, steps[0].Version)
	assert.Equal(t, "create projects", steps[0].Name)
	assert.Equal(t, 2, steps[1].Version)
}

func TestLoadDuplicateVersion(t *testing.T) {
	fsys := registryFS()
	fsys["schema/002_other.sql"] = &fstest.MapFile{Data: []byte(`SELECT 1;`)}
	_, err := Load(fsys, "schema")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schema version 2")
}

func TestUp(t *testing.T) {
	steps, err := Load(registryFS(), "schema")
	require.NoError(t, err)
	db := openDB(t)
	m := NewMigrator(db, steps, "", nil)

	v, err := m.Version()
	require.NoError(t, err)
	assert.Equal(t, 0, v)

	pending, err := m.Pending()
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	n, err := m.Up()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	v, err = m.Version()
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	_, err = db.Exec(`INSERT INTO projects (alias, tag) VALUES ('conus', 'v3')`)
	require.NoError(t, err)

	n, err = m.Up()
	require.NoError(t, err)
	assert.Zero(t, n, "re-running applies nothing")
}

func TestUpStopsAtFailedStep(t *testing.T) {
	steps := []Step{
		{Version: 1, Name: "create projects", SQL: `CREATE TABLE projects (alias TEXT PRIMARY KEY);`},
		{Version: 2, Name: "broken", SQL: `ALTER TABLE missing ADD COLUMN tag TEXT;`},
	}
	m := NewMigrator(openDB(t), steps, "", nil)

	n, err := m.Up()
	require.Error(t, err)
	assert.Equal(t, 1, n)
	assert.Contains(t, err.Error(), "schema step 2")

	v, err := m.Version()
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}
