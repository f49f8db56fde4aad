package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_CreatesSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.sqlite")

	database, err := Open(path)
	require.NoError(t, err)
	defer database.Close()

	for _, table := range []string{"event_ledger", "resource_state"} {
		var name string
		err := database.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		require.NoError(t, err, table)
		assert.Equal(t, table, name)
	}
}

func TestOpen_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.sqlite")

	first, err := Open(path)
	require.NoError(t, err)
	_, err = first.Exec(`INSERT INTO resource_state (kind, id, payload, updated_at) VALUES ('k', 'i', '{}', 0)`)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := Open(path)
	require.NoError(t, err)
	defer second.Close()

	var count int
	require.NoError(t, second.QueryRow(`SELECT COUNT(*) FROM resource_state`).Scan(&count))
	assert.Equal(t, 1, count)
}
