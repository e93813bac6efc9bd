package persistence

import (
	"context"
	"database/sql"
	"time"

	"github.com/hitlflow/hitlflow/internal/store"
)

// SQLStore parks records in the SQLite interrupts table.
type SQLStore struct {
	DB   *sql.DB
	Repo *store.InterruptRepo
	opts options
}

var _ Store = (*SQLStore)(nil)

// NewSQLStore wraps an open database that already carries the schema.
func NewSQLStore(db *sql.DB, opts ...Option) *SQLStore {
	return &SQLStore{DB: db, Repo: &store.InterruptRepo{}, opts: buildOptions(opts)}
}

// Save implements Store.
func (s *SQLStore) Save(ctx context.Context, id string, record []byte, ttl time.Duration) error {
	expires := s.opts.now().Add(effectiveTTL(ttl)).UnixMilli()
	return s.Repo.Put(ctx, s.DB, id, record, expires)
}

// Load implements Store.
func (s *SQLStore) Load(ctx context.Context, id string) ([]byte, error) {
	return s.Repo.Get(ctx, s.DB, id, s.opts.now().UnixMilli())
}

// Delete implements Store.
func (s *SQLStore) Delete(ctx context.Context, id string) error {
	return s.Repo.Delete(ctx, s.DB, id, s.opts.now().UnixMilli())
}

// Sweep drops expired records.
func (s *SQLStore) Sweep(ctx context.Context) (int64, error) {
	return s.Repo.Sweep(ctx, s.DB, s.opts.now().UnixMilli())
}
