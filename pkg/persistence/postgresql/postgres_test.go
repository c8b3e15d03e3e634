package postgresql_test

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/dukex/processflow/pkg/persistence"
	"github.com/dukex/processflow/pkg/persistence/persistencetest"
	"github.com/dukex/processflow/pkg/persistence/postgresql"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

var postgresContainer *postgres.PostgresContainer

func dropDb(ctx context.Context, t *testing.T, databaseURL string) {
	t.Helper()

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	// Children first, parents last
	for _, table := range []string{"flow_edges", "flow_nodes", "flows", "schema_migrations"} {
		_, err = db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE")
		require.NoError(t, err)
	}

	err = db.Close()
	require.NoError(t, err)
}

func setupTestDB(t *testing.T) (*postgresql.Persistence, context.Context, string) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping PostgreSQL container test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)

	if postgresContainer == nil || !postgresContainer.IsRunning() {
		var err error

		postgresContainer, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("processflow_test"),
			postgres.WithUsername("processflow"),
			postgres.WithPassword("processflow"),
			postgres.BasicWaitStrategies(),
		)
		require.NoError(t, err)
	}

	databaseURL, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	dropDb(ctx, t, databaseURL)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
	require.NoError(t, err)

	t.Cleanup(func() {
		err := p.Close(ctx)
		require.NoError(t, err)

		dropDb(ctx, t, databaseURL)

		cancel()
	})

	return p, ctx, databaseURL
}

func TestFlowRepository(t *testing.T) {
	persistencetest.Run(t, func(t *testing.T) persistence.FlowRepository {
		t.Helper()

		p, _, _ := setupTestDB(t)

		return p.FlowRepository()
	})
}

func TestNewPersistence_Migrations(t *testing.T) {
	_, ctx, databaseURL := setupTestDB(t)

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	defer func() { _ = db.Close() }()

	var version int

	err = db.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_migrations").Scan(&version)
	require.NoError(t, err)
	assert.Equal(t, 1, version)

	for _, table := range []string{"flows", "flow_nodes", "flow_edges"} {
		var exists bool

		err = db.QueryRowContext(ctx,
			"SELECT EXISTS (SELECT FROM information_schema.tables WHERE table_name = $1)", table,
		).Scan(&exists)
		require.NoError(t, err)
		assert.True(t, exists, table)
	}

	// Re-running migrations against an up-to-date schema is a no-op.
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	again, err := postgresql.NewPersistence(ctx, logger, databaseURL)
	require.NoError(t, err)
	require.NoError(t, again.Close(ctx))
}

func TestPersistence_HealthCheck(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	assert.NoError(t, p.HealthCheck(ctx))
}

func TestFlowRepository_DeleteCascadesGraph(t *testing.T) {
	p, ctx, databaseURL := setupTestDB(t)
	repo := p.FlowRepository()

	flow := persistencetest.SampleFlow()
	require.NoError(t, repo.Create(ctx, flow))
	require.NoError(t, repo.Delete(ctx, flow.ID))

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	defer func() { _ = db.Close() }()

	var count int

	err = db.QueryRowContext(ctx, "SELECT COUNT(*) FROM flow_nodes WHERE flow_id = $1", flow.ID).Scan(&count)
	require.NoError(t, err)
	assert.Zero(t, count)
}
