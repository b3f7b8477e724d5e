package repository

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestPostgresStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("approvals"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2)),
	)
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Fatalf("failed to terminate container: %s", err)
		}
	}()

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatal(err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		t.Fatal(err)
	}
	store := NewPostgresStore(pool)
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		t.Fatal(err)
	}
	// A second run must be a no-op.
	if err := store.Migrate(ctx); err != nil {
		t.Fatal(err)
	}

	runStoreSuite(t, store)
}

func TestPgErrorMapping(t *testing.T) {
	assert.NoError(t, pgError("op", nil))
	assert.ErrorIs(t, pgError("op", &pgconn.PgError{Code: "40001"}), ErrConflict)
	assert.ErrorIs(t, pgError("op", &pgconn.PgError{Code: "40P01"}), ErrConflict)
	assert.NotErrorIs(t, pgError("op", &pgconn.PgError{Code: "23505"}), ErrConflict)
}
