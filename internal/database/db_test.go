package database

import (
	"context"
	"encoding/json"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	db, err := New(context.Background(), Config{DSN: dsn})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestConfigDSN(t *testing.T) {
	cfg := Config{Host: "localhost", Port: 5432, User: "servant", Password: "pw", Database: "servant"}
	assert.Equal(t, "postgres://servant:pw@localhost:5432/servant?sslmode=disable", cfg.dsn())

	cfg.SSLMode = "require"
	assert.Equal(t, "postgres://servant:pw@localhost:5432/servant?sslmode=require", cfg.dsn())

	cfg.DSN = "postgres://other"
	assert.Equal(t, "postgres://other", cfg.dsn())
}

func TestDBRecordLifecycle(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	ns := "/test-" + uuid.NewString()

	_, ok, err := db.Get(ctx, ns+"/itens/1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, db.Update(ctx, ns+"/itens/1", map[string]any{"Produto": "Kindle", "Valor": 499.0}))
	require.NoError(t, db.Update(ctx, ns+"/itens/1", map[string]any{"Valor": 449.0}))

	data, ok, err := db.Get(ctx, ns+"/itens/1")
	require.NoError(t, err)
	require.True(t, ok)

	var record map[string]any
	require.NoError(t, json.Unmarshal(data, &record))
	assert.Equal(t, "Kindle", record["Produto"])
	assert.Equal(t, 449.0, record["Valor"])

	require.NoError(t, db.Set(ctx, ns+"/last_item", 5))
	n, err := db.Incr(ctx, ns+"/last_item")
	require.NoError(t, err)
	assert.Equal(t, 6, n)

	n, err = db.Incr(ctx, ns+"/fresh_counter")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
