package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/dolphin-sweep/internal/monitoring"
)

// setupTestDB creates a migrated database in a temporary directory.
func setupTestDB(t *testing.T) *DB {
	t.Helper()
	prev := monitoring.Logf
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.Logf = prev })

	database, err := NewDB(filepath.Join(t.TempDir(), "sweeps.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return database
}

func tableExists(t *testing.T, database *DB, name string) bool {
	t.Helper()
	var count int
	err := database.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, name).Scan(&count)
	require.NoError(t, err)
	return count == 1
}

func TestNewDBMigratesToLatest(t *testing.T) {
	database := setupTestDB(t)

	version, dirty, err := database.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.False(t, dirty)
	assert.True(t, tableExists(t, database, "sweeps"))
	assert.True(t, tableExists(t, database, "sweep_steps"))

	// Already at latest.
	assert.NoError(t, database.MigrateUp())
}

func TestMigrateDown(t *testing.T) {
	database := setupTestDB(t)

	require.NoError(t, database.MigrateDown())
	version, _, err := database.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, tableExists(t, database, "sweep_steps"))
	assert.True(t, tableExists(t, database, "sweeps"))

	require.NoError(t, database.MigrateUp())
	assert.True(t, tableExists(t, database, "sweep_steps"))
}

func TestOpenDBLeavesSchemaAlone(t *testing.T) {
	database, err := OpenDB(filepath.Join(t.TempDir(), "raw.db"))
	require.NoError(t, err)
	defer database.Close()

	version, dirty, err := database.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(0), version)
	assert.False(t, dirty)
	assert.False(t, tableExists(t, database, "sweeps"))
}

func TestOpenDBBadPath(t *testing.T) {
	_, err := NewDB(filepath.Join(t.TempDir(), "missing", "dir", "sweeps.db"))
	assert.Error(t, err)
}
