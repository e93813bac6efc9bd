package persistence

import (
	"context"
	"fmt"
	"time"

	memdb "github.com/hashicorp/go-memdb"
)

const memTable = "interrupts"

type memRecord struct {
	ID        string
	Record    []byte
	ExpiresAt time.Time
}

// MemoryStore keeps records in an in-process go-memdb table. It suits tests
// and single-process deployments; records do not survive a restart.
type MemoryStore struct {
	db   *memdb.MemDB
	opts options
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...Option) (*MemoryStore, error) {
	schema := &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			memTable: {
				Name: memTable,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "ID"},
					},
				},
			},
		},
	}
	db, err := memdb.NewMemDB(schema)
	if err != nil {
		return nil, fmt.Errorf("create memdb: %w", err)
	}
	return &MemoryStore{db: db, opts: buildOptions(opts)}, nil
}

// Save implements Store.
func (s *MemoryStore) Save(_ context.Context, id string, record []byte, ttl time.Duration) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	rec := &memRecord{
		ID:        id,
		Record:    append([]byte(nil), record...),
		ExpiresAt: s.opts.now().Add(effectiveTTL(ttl)),
	}
	if err := txn.Insert(memTable, rec); err != nil {
		return fmt.Errorf("save interrupt: %w", err)
	}
	txn.Commit()
	return nil
}

// Load implements Store.
func (s *MemoryStore) Load(_ context.Context, id string) ([]byte, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	rec, err := s.live(txn, id)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), rec.Record...), nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	rec, err := s.live(txn, id)
	if err != nil {
		return err
	}
	if err := txn.Delete(memTable, rec); err != nil {
		return fmt.Errorf("delete interrupt: %w", err)
	}
	txn.Commit()
	return nil
}

func (s *MemoryStore) live(txn *memdb.Txn, id string) (*memRecord, error) {
	raw, err := txn.First(memTable, "id", id)
	if err != nil {
		return nil, fmt.Errorf("load interrupt: %w", err)
	}
	if raw == nil {
		return nil, ErrNotFound
	}
	rec := raw.(*memRecord)
	if !s.opts.now().Before(rec.ExpiresAt) {
		return nil, ErrNotFound
	}
	return rec, nil
}

// Sweep drops expired records and returns how many were removed.
func (s *MemoryStore) Sweep(_ context.Context) (int64, error) {
	txn := s.db.Txn(true)
	defer txn.Abort()

	it, err := txn.Get(memTable, "id")
	if err != nil {
		return 0, fmt.Errorf("scan interrupts: %w", err)
	}
	now := s.opts.now()
	var expired []*memRecord
	for raw := it.Next(); raw != nil; raw = it.Next() {
		rec := raw.(*memRecord)
		if !now.Before(rec.ExpiresAt) {
			expired = append(expired, rec)
		}
	}
	for _, rec := range expired {
		if err := txn.Delete(memTable, rec); err != nil {
			return 0, fmt.Errorf("sweep interrupt: %w", err)
		}
	}
	txn.Commit()
	return int64(len(expired)), nil
}
