package database

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNew_AppliesMigrations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.db")

	db, err := New(path, zap.NewNop())
	require.NoError(t, err)
	defer db.Close()

	version, err := db.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, migrations[len(migrations)-1].version, version)

	var name string
	err = db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'captured_events'`).Scan(&name)
	require.NoError(t, err)
	assert.Equal(t, "captured_events", name)
}

func TestNew_ReopenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.db")

	db, err := New(path, zap.NewNop())
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO captured_events (id, category, raw_payload, captured_at, updated_at) VALUES ('a', 'pruning', '{}', 1, 1)`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = New(path, zap.NewNop())
	require.NoError(t, err)
	defer db.Close()

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&count))
	assert.Equal(t, len(migrations), count)

	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM captured_events`).Scan(&count))
	assert.Equal(t, 1, count)
}
