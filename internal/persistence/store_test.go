package persistence

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitlflow/hitlflow/internal/store"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// backend bundles a store with a way to move its notion of time forward.
type backend struct {
	store   Store
	advance func(time.Duration)
}

func memoryBackend(t *testing.T) backend {
	t.Helper()
	clock := newFakeClock()
	s, err := NewMemoryStore(WithClock(clock.Now))
	require.NoError(t, err)
	return backend{store: s, advance: clock.Advance}
}

func sqliteBackend(t *testing.T) backend {
	t.Helper()
	db, err := store.NewDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	clock := newFakeClock()
	return backend{store: NewSQLStore(db, WithClock(clock.Now)), advance: clock.Advance}
}

func redisBackend(t *testing.T) backend {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return backend{store: NewRedisStore(client), advance: mr.FastForward}
}

func backends(t *testing.T) map[string]func(*testing.T) backend {
	return map[string]func(*testing.T) backend{
		"memory": memoryBackend,
		"sqlite": sqliteBackend,
		"redis":  redisBackend,
	}
}

func TestStore_SaveLoadOverwrite(t *testing.T) {
	for name, mk := range backends(t) {
		t.Run(name, func(t *testing.T) {
			b := mk(t)
			ctx := context.Background()

			require.NoError(t, b.store.Save(ctx, "agent_workflow_1", []byte("first"), time.Minute))
			require.NoError(t, b.store.Save(ctx, "agent_workflow_1", []byte("second"), time.Minute))

			got, err := b.store.Load(ctx, "agent_workflow_1")
			require.NoError(t, err)
			assert.Equal(t, "second", string(got))
		})
	}
}

func TestStore_LoadMissing(t *testing.T) {
	for name, mk := range backends(t) {
		t.Run(name, func(t *testing.T) {
			b := mk(t)
			_, err := b.store.Load(context.Background(), "nope")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStore_Expiry(t *testing.T) {
	for name, mk := range backends(t) {
		t.Run(name, func(t *testing.T) {
			b := mk(t)
			ctx := context.Background()

			require.NoError(t, b.store.Save(ctx, "short", []byte("x"), 10*time.Second))
			b.advance(11 * time.Second)

			_, err := b.store.Load(ctx, "short")
			assert.ErrorIs(t, err, ErrNotFound)
			assert.ErrorIs(t, b.store.Delete(ctx, "short"), ErrNotFound)
		})
	}
}

func TestStore_DefaultTTL(t *testing.T) {
	for name, mk := range backends(t) {
		t.Run(name, func(t *testing.T) {
			b := mk(t)
			ctx := context.Background()

			require.NoError(t, b.store.Save(ctx, "default", []byte("x"), 0))
			b.advance(DefaultTTL - time.Minute)
			_, err := b.store.Load(ctx, "default")
			require.NoError(t, err)

			b.advance(2 * time.Minute)
			_, err = b.store.Load(ctx, "default")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStore_DeleteIsSingleUse(t *testing.T) {
	for name, mk := range backends(t) {
		t.Run(name, func(t *testing.T) {
			b := mk(t)
			ctx := context.Background()

			require.NoError(t, b.store.Save(ctx, "once", []byte("x"), time.Minute))

			var wins atomic.Int32
			var wg sync.WaitGroup
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if err := b.store.Delete(ctx, "once"); err == nil {
						wins.Add(1)
					}
				}()
			}
			wg.Wait()

			assert.EqualValues(t, 1, wins.Load())
			_, err := b.store.Load(ctx, "once")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestMemoryStore_SweepEvictsExpired(t *testing.T) {
	clock := newFakeClock()
	s, err := NewMemoryStore(WithClock(clock.Now))
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		require.NoError(t, s.Save(ctx, fmt.Sprintf("short-%d", i), []byte("x"), time.Second))
	}
	require.NoError(t, s.Save(ctx, "long", []byte("kept"), 2*time.Hour))

	clock.Advance(time.Hour)
	n, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 100, n)

	it, err := s.db.Txn(false).Get(memTable, "id")
	require.NoError(t, err)
	held := 0
	for raw := it.Next(); raw != nil; raw = it.Next() {
		held++
	}
	assert.Equal(t, 1, held)

	got, err := s.Load(ctx, "long")
	require.NoError(t, err)
	assert.Equal(t, []byte("kept"), got)

	n, err = s.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSQLStore_SweepEvictsExpired(t *testing.T) {
	db, err := store.NewDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	clock := newFakeClock()
	s := NewSQLStore(db, WithClock(clock.Now))
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, "a", []byte("x"), time.Second))
	require.NoError(t, s.Save(ctx, "b", []byte("y"), 2*time.Hour))
	clock.Advance(time.Hour)

	n, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	_, err = s.Load(ctx, "b")
	assert.NoError(t, err)
}
