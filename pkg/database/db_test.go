package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuoteLiteral(t *testing.T) {
	assert.Equal(t, "'UTC'", quoteLiteral("UTC"))
	assert.Equal(t, "'it''s'", quoteLiteral("it's"))
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("SQLITE_PATH", "")
	t.Setenv("DATABASE_URL", "postgres://u:p@db:5432/lockers")

	sq := ConfigFromEnv("sqlite")
	assert.Equal(t, "sqlite", sq.Driver)
	assert.Equal(t, "locker.db", sq.DSN)
	assert.Equal(t, 1, sq.MaxConns)

	pg := ConfigFromEnv("postgres")
	assert.Equal(t, "postgres", pg.Driver)
	assert.Equal(t, "postgres://u:p@db:5432/lockers", pg.DSN)
}

func TestConnect_SQLiteMemory(t *testing.T) {
	db, err := Connect(Config{Driver: "sqlite", DSN: ":memory:", MaxConns: 1})
	require.NoError(t, err)
	defer db.Close()

	var one int
	require.NoError(t, db.Get(&one, "SELECT 1"))
	assert.Equal(t, 1, one)
}
