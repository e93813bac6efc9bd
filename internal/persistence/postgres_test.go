package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestPostgresStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container-backed test in short mode")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("hitlflow"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Errorf("terminate container: %v", err)
		}
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	clock := newFakeClock()
	s := NewPostgresStore(pool, WithClock(clock.Now))
	require.NoError(t, s.Migrate(ctx))

	require.NoError(t, s.Save(ctx, "tok", []byte("v1"), time.Minute))
	require.NoError(t, s.Save(ctx, "tok", []byte("v2"), time.Minute))

	got, err := s.Load(ctx, "tok")
	require.NoError(t, err)
	assert.Equal(t, "v2", string(got))

	require.NoError(t, s.Delete(ctx, "tok"))
	assert.ErrorIs(t, s.Delete(ctx, "tok"), ErrNotFound)

	require.NoError(t, s.Save(ctx, "ttl", []byte("x"), 5*time.Second))
	clock.Advance(6 * time.Second)
	_, err = s.Load(ctx, "ttl")
	assert.ErrorIs(t, err, ErrNotFound)
}
