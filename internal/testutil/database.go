package testutil

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/inaiurai/settlement/internal/database"
)

// TestDatabase is a migrated PostgreSQL container for repository tests.
type TestDatabase struct {
	Container *postgres.PostgresContainer
	Pool      *pgxpool.Pool
	URL       string
}

// SetupTestDatabase starts PostgreSQL, applies the schema and registers
// cleanup on t. Skipped under -short.
func SetupTestDatabase(t *testing.T) *TestDatabase {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container-backed test in -short mode")
	}
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("settlement_test"),
		postgres.WithUsername("test_user"),
		postgres.WithPassword("test_password"),
		postgres.BasicWaitStrategies(),
		testcontainers.WithLabels(map[string]string{
			"test":      "settlement-repository",
			"test-name": t.Name(),
		}),
	)
	require.NoError(t, err)

	tdb := &TestDatabase{Container: container}
	t.Cleanup(func() { tdb.cleanup(t) })

	url, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, database.MigrateUp(url, slog.Default()))

	pool, err := database.Open(ctx, url)
	require.NoError(t, err)

	tdb.Pool = pool
	tdb.URL = url
	return tdb
}

func (td *TestDatabase) cleanup(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if td.Pool != nil {
		td.Pool.Close()
	}
	if td.Container != nil {
		if err := td.Container.Terminate(ctx); err != nil {
			t.Logf("terminate test container: %v", err)
		}
	}
}
