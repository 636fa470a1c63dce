package database

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupTestPostgres starts PostgreSQL in a container and returns a migrated DB.
// Skipped unless TEST_INTEGRATION is set.
func setupTestPostgres(t *testing.T) *DB {
	t.Helper()

	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("skipping integration test: TEST_INTEGRATION is not set")
	}

	ctx := context.Background()
	container, err := postgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		postgres.WithDatabase("datashare_test"),
		postgres.WithUsername("datashare"),
		postgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(db.Close)

	require.NoError(t, db.RunMigrations(ctx))
	require.NoError(t, db.RunMigrations(ctx), "second run must be a no-op")
	return db
}

func TestPostgresRepository(t *testing.T) {
	db := setupTestPostgres(t)
	ctx := context.Background()

	runRegistrySuite(t, func(t *testing.T) registry {
		_, err := db.Pool.Exec(ctx, "TRUNCATE tags, files, users RESTART IDENTITY CASCADE")
		require.NoError(t, err)
		return NewRepository(db)
	})
}

func TestPostgres_HealthCheck(t *testing.T) {
	db := setupTestPostgres(t)
	assert.NoError(t, db.HealthCheck(context.Background()))
}

func TestMigrateURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"postgres://u:p@h:5432/db?sslmode=disable", "pgx5://u:p@h:5432/db?sslmode=disable"},
		{"postgresql://u@h/db", "pgx5://u@h/db"},
		{"pgx5://u@h/db", "pgx5://u@h/db"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, migrateURL(tt.in))
	}
}
