package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupTestDB starts a PostgreSQL container, applies the embedded migrations
// and returns a connected client. The container is terminated on cleanup.
func setupTestDB(t *testing.T) *Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres container test in -short mode")
	}

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx, "postgres:15-alpine",
		tcpostgres.WithDatabase("floorbot"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	client, err := New(ctx, ClientConfig{DSN: dsn, MaxConns: 16})
	require.NoError(t, err)
	t.Cleanup(client.Close)

	require.NoError(t, client.RunMigrations(ctx))
	// Second run is a no-op.
	require.NoError(t, client.RunMigrations(ctx))
	return client
}
