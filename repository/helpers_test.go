package repository

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	hub "github.com/goliatone/go-auth-hub"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newClock() *testClock {
	return &testClock{now: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func setupDB(t *testing.T) *bun.DB {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	require.NoError(t, Migrate(context.Background(), db))

	t.Cleanup(func() {
		_ = db.Close()
	})

	return db
}

// setupPooledDB opens a file backed database with several connections.
func setupPooledDB(t *testing.T) *bun.DB {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, filepath.Join(t.TempDir(), "hub.db"))
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(4)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	require.NoError(t, Migrate(context.Background(), db))

	t.Cleanup(func() {
		_ = db.Close()
	})

	return db
}

func requireTextCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, hub.HasTextCode(err, code), "expected %s, got %v", code, err)
}
