package database

import (
	"context"
	stdsql "database/sql"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentloop/agentloop/pkg/database"
	"github.com/agentloop/agentloop/test/util"
)

// SharedTestDB creates a single PostgreSQL schema that can be shared by
// multiple test replicas. Each replica gets its own connection pool via
// NewClient, but all pools point to the same schema — for tests that
// exercise concurrent writers against one set of tables, such as the
// Agent Pool's worker concurrency cap or the Cron Scheduler racing
// EndSession against a late callback.
type SharedTestDB struct {
	connStr string
}

// NewSharedTestDB creates a shared test schema and applies migrations
// once; call NewClient to create independent clients against it.
func NewSharedTestDB(t *testing.T) *SharedTestDB {
	t.Helper()
	ctx := context.Background()

	connStr := util.OpenSchema(t)

	db, err := stdsql.Open("pgx", connStr)
	require.NoError(t, err)
	require.NoError(t, db.PingContext(ctx))
	require.NoError(t, database.ApplyMigrations(db))
	_ = db.Close()

	return &SharedTestDB{connStr: connStr}
}

// NewClient creates an independent *database.Client backed by a fresh
// connection pool to the shared schema. Each client has its own pool so
// replicas can be shut down independently without races.
func (s *SharedTestDB) NewClient(t *testing.T) *database.Client {
	t.Helper()

	db, err := stdsql.Open("pgx", s.connStr)
	require.NoError(t, err)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	client := database.NewClientFromDB(db)
	t.Cleanup(func() {
		_ = client.Close()
	})
	return client
}
