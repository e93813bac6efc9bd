package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS hitl_interrupts (
	id         TEXT PRIMARY KEY,
	record     BYTEA NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_hitl_interrupts_expiry ON hitl_interrupts(expires_at);`

// PostgresStore parks records in a Postgres table through a pgx pool.
type PostgresStore struct {
	pool *pgxpool.Pool
	opts options
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore wraps a pool. Call Migrate once before use.
func NewPostgresStore(pool *pgxpool.Pool, opts ...Option) *PostgresStore {
	return &PostgresStore{pool: pool, opts: buildOptions(opts)}
}

// Migrate creates the interrupts table if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("migrate postgres interrupts: %w", err)
	}
	return nil
}

// Save implements Store.
func (s *PostgresStore) Save(ctx context.Context, id string, record []byte, ttl time.Duration) error {
	const q = `INSERT INTO hitl_interrupts (id, record, expires_at) VALUES ($1, $2, $3)
ON CONFLICT (id) DO UPDATE SET record = EXCLUDED.record, expires_at = EXCLUDED.expires_at`
	expires := s.opts.now().Add(effectiveTTL(ttl)).UTC()
	if _, err := s.pool.Exec(ctx, q, id, record, expires); err != nil {
		return fmt.Errorf("save interrupt: %w", err)
	}
	return nil
}

// Load implements Store.
func (s *PostgresStore) Load(ctx context.Context, id string) ([]byte, error) {
	const q = `SELECT record FROM hitl_interrupts WHERE id = $1 AND expires_at > $2`
	var record []byte
	err := s.pool.QueryRow(ctx, q, id, s.opts.now().UTC()).Scan(&record)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load interrupt: %w", err)
	}
	return record, nil
}

// Delete implements Store.
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	const q = `DELETE FROM hitl_interrupts WHERE id = $1 AND expires_at > $2`
	tag, err := s.pool.Exec(ctx, q, id, s.opts.now().UTC())
	if err != nil {
		return fmt.Errorf("delete interrupt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
