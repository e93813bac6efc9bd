package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitlflow/hitlflow/internal/domain"
)

// InterruptRepo persists serialized interrupt records with an expiry.
type InterruptRepo struct{}

// Put writes a record, replacing any prior record with the same id.
func (r *InterruptRepo) Put(ctx context.Context, q Querier, id string, record []byte, expiresAt int64) error {
	const stmt = `INSERT INTO interrupts (id, record, expires_at) VALUES (?, ?, ?)
ON CONFLICT(id) DO UPDATE SET record = excluded.record, expires_at = excluded.expires_at`
	if _, err := q.ExecContext(ctx, stmt, id, record, expiresAt); err != nil {
		return fmt.Errorf("put interrupt: %w", err)
	}
	return nil
}

// Get returns a record that has not expired at now.
func (r *InterruptRepo) Get(ctx context.Context, q Querier, id string, now int64) ([]byte, error) {
	var record []byte
	err := q.QueryRowContext(ctx, `SELECT record FROM interrupts WHERE id = ? AND expires_at > ?`, id, now).Scan(&record)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrInterruptNotFound
		}
		return nil, fmt.Errorf("get interrupt: %w", err)
	}
	return record, nil
}

// Delete removes a live record. It returns ErrInterruptNotFound when nothing
// was removed, which is how a losing concurrent resume learns it lost.
func (r *InterruptRepo) Delete(ctx context.Context, q Querier, id string, now int64) error {
	res, err := q.ExecContext(ctx, `DELETE FROM interrupts WHERE id = ? AND expires_at > ?`, id, now)
	if err != nil {
		return fmt.Errorf("delete interrupt: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrInterruptNotFound
	}
	return nil
}

// Sweep removes expired records and returns how many were removed.
func (r *InterruptRepo) Sweep(ctx context.Context, q Querier, now int64) (int64, error) {
	res, err := q.ExecContext(ctx, `DELETE FROM interrupts WHERE expires_at <= ?`, now)
	if err != nil {
		return 0, fmt.Errorf("sweep interrupts: %w", err)
	}
	return res.RowsAffected()
}
