// Package database provides a test-only PostgreSQL client backed by a
// testcontainer (or CI_DATABASE_URL), isolated per test via its own schema.
package database

import (
	"context"
	stdsql "database/sql"
	"testing"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	"github.com/stretchr/testify/require"

	"github.com/agentloop/agentloop/pkg/database"
	"github.com/agentloop/agentloop/test/util"
)

// NewTestClient creates a test database client against a fresh schema on
// the shared PostgreSQL testcontainer, runs the embedded migrations, and
// registers cleanup. Each test gets its own schema, so tests can run in
// parallel against the same container.
func NewTestClient(t *testing.T) *database.Client {
	t.Helper()
	ctx := context.Background()

	connStr := util.OpenSchema(t)

	db, err := stdsql.Open("pgx", connStr)
	require.NoError(t, err)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	require.NoError(t, db.PingContext(ctx))

	require.NoError(t, database.ApplyMigrations(db))

	client := database.NewClientFromDB(db)
	t.Cleanup(func() {
		_ = client.Close()
	})
	return client
}
